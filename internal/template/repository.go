package template

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Repository handles database operations for templates.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts a template, normalizing placeholder syntax and plain-text
// bodies before storage.
func (r *Repository) Create(ctx context.Context, t *Template) error {
	t.ID = uuid.New().String()
	t.Body = Normalize(t.Body)
	t.CreatedAt = time.Now()
	if t.Language == "" {
		t.Language = "en"
	}

	query := `
		INSERT INTO templates (id, tenant_id, name, language, type, subject, body, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.db.ExecContext(ctx, query,
		t.ID, t.TenantID, t.Name, t.Language, t.Type, t.Subject, t.Body, t.IsActive, t.CreatedAt,
	)
	return err
}

// Find returns the active template for (tenantID, name, type), or nil when
// none exists. Fallback across tenants is the Resolver's concern.
func (r *Repository) Find(ctx context.Context, tenantID, name, typ string) (*Template, error) {
	query := `
		SELECT id, tenant_id, name, language, type, subject, body, is_active, created_at
		FROM templates
		WHERE tenant_id = $1 AND name = $2 AND type = $3 AND is_active
		ORDER BY created_at DESC
		LIMIT 1
	`
	row := r.db.QueryRowContext(ctx, query, tenantID, name, typ)

	var t Template
	err := row.Scan(&t.ID, &t.TenantID, &t.Name, &t.Language, &t.Type, &t.Subject, &t.Body, &t.IsActive, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}
