package event

import (
	"fmt"
	"strings"
)

// Metadata identifies and scopes an inbound event.
type Metadata struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	CreatedAt string `json:"created_at"`
	Source    string `json:"source"`
	TenantID  string `json:"tenant_id"`
}

// Event is the wire envelope accepted on the ingestion endpoints. Data is an
// opaque map; which keys are required depends on the event type.
type Event struct {
	Metadata Metadata       `json:"metadata"`
	Data     map[string]any `json:"data"`
}

// ValidationError reports a malformed envelope or missing required data key.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid event: %s %s", e.Field, e.Reason)
}

// TenantResolutionError is fatal: neither the event's tenant nor the global
// tenant exists, so the event cannot be processed.
type TenantResolutionError struct {
	TenantID string
}

func (e *TenantResolutionError) Error() string {
	return fmt.Sprintf("cannot resolve tenant %q and global tenant is absent", e.TenantID)
}

// Validate checks the envelope's metadata. tenant_id may be empty; tenant
// resolution fills it in.
func (e *Event) Validate() error {
	md := e.Metadata
	for _, f := range []struct{ name, value string }{
		{"metadata.event_id", md.EventID},
		{"metadata.event_type", md.EventType},
		{"metadata.created_at", md.CreatedAt},
		{"metadata.source", md.Source},
	} {
		if strings.TrimSpace(f.value) == "" {
			return &ValidationError{Field: f.name, Reason: "is required"}
		}
	}
	return nil
}

// str returns a string-valued data key, or "" when absent or not a string.
func (e *Event) str(key string) string {
	v, _ := e.Data[key].(string)
	return v
}
