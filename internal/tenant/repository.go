package tenant

import (
	"context"
	"database/sql"
)

// Repository handles database operations for tenants and their settings.
// Lookup methods return (nil, nil) when no row exists; absence handling is
// the caller's concern.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Get(ctx context.Context, id string) (*Tenant, error) {
	query := `SELECT id, name, COALESCE(external_id, ''), created_at FROM tenants WHERE id = $1`
	row := r.db.QueryRowContext(ctx, query, id)

	var t Tenant
	err := row.Scan(&t.ID, &t.Name, &t.ExternalID, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// DefaultProvider returns the tenant's default email provider, or nil when
// the tenant has no config or no default provider.
func (r *Repository) DefaultProvider(ctx context.Context, tenantID string) (*EmailProvider, error) {
	query := `
		SELECT p.id, p.tenant_config_id, p.host, p.port, p.secure, p.username, p.password, p.from_email, p.is_default
		FROM email_providers p
		JOIN tenant_configs c ON c.id = p.tenant_config_id
		WHERE c.tenant_id = $1 AND p.is_default
	`
	row := r.db.QueryRowContext(ctx, query, tenantID)

	var p EmailProvider
	err := row.Scan(&p.ID, &p.TenantConfigID, &p.Host, &p.Port, &p.Secure, &p.Username, &p.Password, &p.FromEmail, &p.IsDefault)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Branding returns the tenant's branding, or the system default when the
// tenant has none.
func (r *Repository) Branding(ctx context.Context, tenantID string) (*Branding, error) {
	query := `
		SELECT tenant_id, company_name, support_email, logo_url, primary_color
		FROM brandings WHERE tenant_id = $1
	`
	row := r.db.QueryRowContext(ctx, query, tenantID)

	var b Branding
	err := row.Scan(&b.TenantID, &b.CompanyName, &b.SupportEmail, &b.LogoURL, &b.PrimaryColor)
	if err == sql.ErrNoRows {
		def := DefaultBranding
		def.TenantID = tenantID
		return &def, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *Repository) Preference(ctx context.Context, tenantID, userID string) (*UserPreference, error) {
	query := `
		SELECT tenant_id, user_id, email, sms, push
		FROM user_preferences WHERE tenant_id = $1 AND user_id = $2
	`
	row := r.db.QueryRowContext(ctx, query, tenantID, userID)

	var p UserPreference
	err := row.Scan(&p.TenantID, &p.UserID, &p.Email, &p.SMS, &p.Push)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}
