package ledger

import (
	"context"

	"github.com/sapliy/notification-hub/pkg/observability"
)

// Service wraps the repository and announces in-app creations to interested
// consumers. Event delivery is best effort: a slow or absent consumer never
// fails or delays the write.
type Service struct {
	repo    *Repository
	logger  *observability.Logger
	created chan CreatedEvent
}

func NewService(repo *Repository, logger *observability.Logger) *Service {
	return &Service{
		repo:    repo,
		logger:  logger,
		created: make(chan CreatedEvent, 256),
	}
}

// Created exposes the stream of in-app notification creations.
func (s *Service) Created() <-chan CreatedEvent {
	return s.created
}

// Create persists the notification and, for delivered in-app records with a
// known recipient, publishes a CreatedEvent. Failed records are never pushed.
func (s *Service) Create(ctx context.Context, n *Notification) error {
	if err := s.repo.Create(ctx, n); err != nil {
		return err
	}

	if n.Channel == "in_app" && n.UserID != "" && n.Status == StatusSent {
		select {
		case s.created <- CreatedEvent{Notification: n}:
		default:
			s.logger.Warn("created event dropped, consumer lagging",
				"notification_id", n.ID,
				"tenant_id", n.TenantID,
			)
		}
	}
	return nil
}

func (s *Service) UpdateStatus(ctx context.Context, id string, status Status, providerResponse []byte, externalID, failureReason string) error {
	return s.repo.UpdateStatus(ctx, id, status, providerResponse, externalID, failureReason)
}

func (s *Service) MarkRead(ctx context.Context, tenantID, userID, id string) (bool, error) {
	return s.repo.MarkRead(ctx, tenantID, userID, id)
}

func (s *Service) MarkAllRead(ctx context.Context, tenantID, userID string) (int64, error) {
	return s.repo.MarkAllRead(ctx, tenantID, userID)
}

func (s *Service) UnreadCount(ctx context.Context, tenantID, userID string) (int64, error) {
	return s.repo.UnreadCount(ctx, tenantID, userID)
}

func (s *Service) ListForUser(ctx context.Context, tenantID, userID, channel string, limit, offset int) ([]*Notification, error) {
	return s.repo.ListForUser(ctx, tenantID, userID, channel, limit, offset)
}

func (s *Service) ListForTenant(ctx context.Context, tenantID, channel string, limit, offset int) ([]*Notification, error) {
	return s.repo.ListForTenant(ctx, tenantID, channel, limit, offset)
}
