package event

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sapliy/notification-hub/internal/job"
	"github.com/sapliy/notification-hub/internal/metrics"
	"github.com/sapliy/notification-hub/internal/tenant"
	"github.com/sapliy/notification-hub/pkg/observability"
)

// Publisher enqueues a job body on a named durable queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, body []byte) error
}

// TenantSource checks tenant existence during resolution.
type TenantSource interface {
	Get(ctx context.Context, id string) (*tenant.Tenant, error)
}

// Tracker registers enqueued jobs in the status store.
type Tracker interface {
	TrackQueued(ctx context.Context, j *job.Job) error
}

// Router validates inbound events, resolves their tenant and fans them out
// into channel jobs on the durable queues.
type Router struct {
	tenants     TenantSource
	publisher   Publisher
	tracker     Tracker
	maxAttempts int
	logger      *observability.Logger
}

func NewRouter(tenants TenantSource, publisher Publisher, tracker Tracker, maxAttempts int, logger *observability.Logger) *Router {
	return &Router{
		tenants:     tenants,
		publisher:   publisher,
		tracker:     tracker,
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

// Route processes one event: validate, resolve the tenant (falling back to
// the global tenant and rewriting the envelope), look up the routing table
// and enqueue one job per channel. Unknown event types yield zero jobs and
// no error. The returned ids identify the enqueued jobs.
func (r *Router) Route(ctx context.Context, e *Event) ([]string, error) {
	if err := e.Validate(); err != nil {
		metrics.EventsReceived.WithLabelValues(e.Metadata.EventType, "invalid").Inc()
		return nil, err
	}

	if err := r.resolveTenant(ctx, e); err != nil {
		metrics.EventsReceived.WithLabelValues(e.Metadata.EventType, "tenant_error").Inc()
		return nil, err
	}

	rt, ok := routes[Type(e.Metadata.EventType)]
	if !ok {
		r.logger.Warn("unhandled event type",
			"event_type", e.Metadata.EventType,
			"event_id", e.Metadata.EventID,
		)
		metrics.EventsReceived.WithLabelValues(e.Metadata.EventType, "unhandled").Inc()
		return []string{}, nil
	}

	p := rt.Build(e)
	if p.To == "" {
		metrics.EventsReceived.WithLabelValues(e.Metadata.EventType, "invalid").Inc()
		return nil, &ValidationError{Field: "data", Reason: "has no recipient address for " + e.Metadata.EventType}
	}

	jobIDs := make([]string, 0, len(rt.Channels))
	for _, ch := range rt.Channels {
		j := job.New(ch, r.maxAttempts)
		j.EventType = e.Metadata.EventType
		j.To = p.To
		j.Subject = p.Subject
		j.Template = p.Template
		j.Context = p.Context
		j.TenantID = e.Metadata.TenantID
		j.UserID = p.UserID
		j.UserName = p.UserName

		body, err := json.Marshal(j)
		if err != nil {
			return jobIDs, fmt.Errorf("marshal job: %w", err)
		}
		if err := r.publisher.Publish(ctx, ch.Queue(), body); err != nil {
			return jobIDs, fmt.Errorf("enqueue %s job: %w", ch, err)
		}
		if err := r.tracker.TrackQueued(ctx, j); err != nil {
			r.logger.Warn("job status tracking failed", "job_id", j.ID, "error", err)
		}

		r.logger.Info("job enqueued",
			"job_id", j.ID,
			"channel", string(ch),
			"event_type", j.EventType,
			"tenant_id", j.TenantID,
		)
		jobIDs = append(jobIDs, j.ID)
	}

	metrics.EventsReceived.WithLabelValues(e.Metadata.EventType, "routed").Inc()
	return jobIDs, nil
}

// resolveTenant verifies the event's tenant exists, falling back to the
// global tenant when it does not. On fallback the envelope's tenant_id is
// rewritten so every downstream component sees a consistent tenant.
func (r *Router) resolveTenant(ctx context.Context, e *Event) error {
	id := e.Metadata.TenantID
	if id != "" {
		t, err := r.tenants.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("tenant lookup: %w", err)
		}
		if t != nil {
			return nil
		}
		r.logger.Warn("tenant not found, falling back to global",
			"tenant_id", id,
			"event_id", e.Metadata.EventID,
		)
	}

	g, err := r.tenants.Get(ctx, tenant.GlobalID)
	if err != nil {
		return fmt.Errorf("global tenant lookup: %w", err)
	}
	if g == nil {
		return &TenantResolutionError{TenantID: id}
	}
	e.Metadata.TenantID = tenant.GlobalID
	return nil
}
