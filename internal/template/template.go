package template

import (
	"fmt"
	"time"
)

// Type distinguishes templates by delivery channel.
const (
	TypeEmail = "email"
	TypeInApp = "in_app"
)

type Template struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Name      string    `json:"name"`
	Language  string    `json:"language"`
	Type      string    `json:"type"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// NotFoundError is returned when neither the tenant nor the global tenant
// has an active template under the requested key. It is fatal for a job:
// retrying cannot fix a missing template.
type NotFoundError struct {
	TenantID string
	Name     string
	Type     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("template not found: %s (tenant %s, type %s)", e.Name, e.TenantID, e.Type)
}
