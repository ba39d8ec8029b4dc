package tenant

import "time"

// GlobalID is the reserved tenant holding shared defaults. It is seeded by
// the schema migration and never deleted.
const GlobalID = "global"

type Tenant struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	ExternalID string    `json:"external_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// EmailProvider is a tenant's SMTP configuration. At most one provider per
// tenant carries IsDefault, enforced by a partial unique index.
type EmailProvider struct {
	ID             string `json:"id"`
	TenantConfigID string `json:"tenant_config_id"`
	Host           string `json:"host"`
	Port           int    `json:"port"`
	Secure         bool   `json:"secure"`
	Username       string `json:"username"`
	Password       string `json:"-"`
	FromEmail      string `json:"from_email"`
	IsDefault      bool   `json:"is_default"`
}

type Branding struct {
	TenantID     string  `json:"tenant_id"`
	CompanyName  string  `json:"company_name"`
	SupportEmail string  `json:"support_email"`
	LogoURL      *string `json:"logo_url,omitempty"`
	PrimaryColor string  `json:"primary_color"`
}

// DefaultBranding is returned when a tenant has no branding row. Branding
// absence is never an error.
var DefaultBranding = Branding{
	CompanyName:  "Our Company",
	SupportEmail: "support@company.com",
	PrimaryColor: "#000000",
}

// UserPreference holds per-channel opt-ins. A missing row means the user is
// opted in on every channel.
type UserPreference struct {
	TenantID string `json:"tenant_id"`
	UserID   string `json:"user_id"`
	Email    bool   `json:"email"`
	SMS      bool   `json:"sms"`
	Push     bool   `json:"push"`
}

// Allows reports whether the preference permits the named channel. Channels
// without an opt-out flag (such as in_app) are always allowed.
func (p *UserPreference) Allows(channel string) bool {
	if p == nil {
		return true
	}
	switch channel {
	case "email":
		return p.Email
	case "sms":
		return p.SMS
	case "push":
		return p.Push
	default:
		return true
	}
}
