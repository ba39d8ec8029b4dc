package ledger

import (
	"encoding/json"
	"fmt"
	"time"
)

type Status string

const (
	StatusQueued Status = "queued"
	StatusSent   Status = "sent"
	StatusFailed Status = "failed"
)

// Notification is one delivery attempt record. Email notifications are
// created as queued before the send and promoted to sent or failed after it;
// in-app notifications are created directly as sent.
type Notification struct {
	ID               string          `json:"id"`
	TenantID         string          `json:"tenantId"`
	UserID           string          `json:"userId,omitempty"`
	UserEmail        string          `json:"userEmail,omitempty"`
	UserName         string          `json:"userName,omitempty"`
	Channel          string          `json:"channel"`
	EventType        string          `json:"eventType"`
	Subject          string          `json:"subject"`
	Body             string          `json:"body,omitempty"`
	Status           Status          `json:"status"`
	IsRead           bool            `json:"isRead"`
	ReadAt           *time.Time      `json:"readAt,omitempty"`
	ProviderResponse json.RawMessage `json:"providerResponse,omitempty"`
	ExternalID       string          `json:"externalId,omitempty"`
	FailureReason    string          `json:"failureReason,omitempty"`
	SentAt           *time.Time      `json:"sentAt,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
}

// DuplicateRecordError is raised when a unique constraint rejects an insert.
type DuplicateRecordError struct {
	Constraint string
}

func (e *DuplicateRecordError) Error() string {
	return fmt.Sprintf("duplicate record: constraint %s", e.Constraint)
}

// TenantNotFoundError is raised when a write references a tenant id with no
// tenants row behind it.
type TenantNotFoundError struct {
	TenantID string
}

func (e *TenantNotFoundError) Error() string {
	return fmt.Sprintf("tenant not found: %s", e.TenantID)
}

// CreatedEvent is published when an in-app notification row lands, so the
// realtime gateway can push it to the recipient's open connections.
type CreatedEvent struct {
	Notification *Notification
}
