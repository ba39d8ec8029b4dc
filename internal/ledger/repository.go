package ledger

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Repository persists notification records.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// mapError rewrites postgres constraint violations into domain errors so
// callers never branch on driver codes.
func mapError(err error, tenantID string) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch pqErr.Code {
	case "23505":
		return &DuplicateRecordError{Constraint: pqErr.Constraint}
	case "23503":
		return &TenantNotFoundError{TenantID: tenantID}
	}
	return err
}

// Create inserts a notification. The record id is assigned here when empty.
func (r *Repository) Create(ctx context.Context, n *Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO notifications
			(id, tenant_id, user_id, user_email, user_name, channel, event_type,
			 status, subject, body, provider_response, external_id, failure_reason,
			 is_read, sent_at, created_at)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), $6, $7,
			 $8, $9, $10, $11, NULLIF($12, ''), NULLIF($13, ''), $14, $15, $16)
	`
	_, err := r.db.ExecContext(ctx, query,
		n.ID, n.TenantID, n.UserID, n.UserEmail, n.UserName, n.Channel, n.EventType,
		n.Status, n.Subject, n.Body, nullRaw(n.ProviderResponse), n.ExternalID,
		n.FailureReason, n.IsRead, n.SentAt, n.CreatedAt,
	)
	if err != nil {
		return mapError(err, n.TenantID)
	}
	return nil
}

// UpdateStatus records the delivery outcome for an existing row. Sent sets
// sent_at; failed records the reason.
func (r *Repository) UpdateStatus(ctx context.Context, id string, status Status, providerResponse []byte, externalID, failureReason string) error {
	query := `
		UPDATE notifications
		SET status = $2,
		    provider_response = COALESCE($3, provider_response),
		    external_id = COALESCE(NULLIF($4, ''), external_id),
		    failure_reason = NULLIF($5, ''),
		    sent_at = CASE WHEN $2 = 'sent' THEN now() ELSE sent_at END
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query, id, status, nullRaw(providerResponse), externalID, failureReason)
	if err != nil {
		return mapError(err, "")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// MarkRead flags one notification as read for the given user. The user
// scope prevents cross-user reads; tenant scope applies when provided.
func (r *Repository) MarkRead(ctx context.Context, tenantID, userID, id string) (bool, error) {
	query := `
		UPDATE notifications SET is_read = true, read_at = now()
		WHERE id = $1 AND ($2 = '' OR tenant_id = $2) AND user_id = $3 AND NOT is_read
	`
	res, err := r.db.ExecContext(ctx, query, id, tenantID, userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// MarkAllRead flags every unread notification for the user, returning how
// many rows changed.
func (r *Repository) MarkAllRead(ctx context.Context, tenantID, userID string) (int64, error) {
	query := `
		UPDATE notifications SET is_read = true, read_at = now()
		WHERE tenant_id = $1 AND user_id = $2 AND NOT is_read
	`
	res, err := r.db.ExecContext(ctx, query, tenantID, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *Repository) UnreadCount(ctx context.Context, tenantID, userID string) (int64, error) {
	query := `
		SELECT COUNT(*) FROM notifications
		WHERE tenant_id = $1 AND user_id = $2 AND NOT is_read
	`
	var count int64
	err := r.db.QueryRowContext(ctx, query, tenantID, userID).Scan(&count)
	return count, err
}

// ListForUser returns the user's notifications, newest first. An empty
// channel matches all channels.
func (r *Repository) ListForUser(ctx context.Context, tenantID, userID, channel string, limit, offset int) ([]*Notification, error) {
	query := selectColumns + `
		WHERE tenant_id = $1 AND user_id = $2 AND ($3 = '' OR channel = $3)
		ORDER BY created_at DESC
		LIMIT $4 OFFSET $5
	`
	rows, err := r.db.QueryContext(ctx, query, tenantID, userID, channel, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanNotifications(rows)
}

// ListForTenant returns recent notifications across all of a tenant's users.
func (r *Repository) ListForTenant(ctx context.Context, tenantID, channel string, limit, offset int) ([]*Notification, error) {
	query := selectColumns + `
		WHERE tenant_id = $1 AND ($2 = '' OR channel = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`
	rows, err := r.db.QueryContext(ctx, query, tenantID, channel, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanNotifications(rows)
}

const selectColumns = `
	SELECT id, tenant_id, COALESCE(user_id, ''), COALESCE(user_email, ''),
	       COALESCE(user_name, ''), channel, event_type, status,
	       COALESCE(subject, ''), COALESCE(body, ''), provider_response,
	       COALESCE(external_id, ''), COALESCE(failure_reason, ''),
	       is_read, read_at, sent_at, created_at
	FROM notifications
`

func scanNotifications(rows *sql.Rows) ([]*Notification, error) {
	var out []*Notification
	for rows.Next() {
		var n Notification
		var providerResponse []byte
		err := rows.Scan(
			&n.ID, &n.TenantID, &n.UserID, &n.UserEmail,
			&n.UserName, &n.Channel, &n.EventType, &n.Status,
			&n.Subject, &n.Body, &providerResponse,
			&n.ExternalID, &n.FailureReason,
			&n.IsRead, &n.ReadAt, &n.SentAt, &n.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		n.ProviderResponse = providerResponse
		out = append(out, &n)
	}
	return out, rows.Err()
}

func nullRaw(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
