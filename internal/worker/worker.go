package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sapliy/notification-hub/internal/job"
	"github.com/sapliy/notification-hub/internal/ledger"
	"github.com/sapliy/notification-hub/internal/metrics"
	"github.com/sapliy/notification-hub/internal/provider"
	"github.com/sapliy/notification-hub/internal/ratelimit"
	"github.com/sapliy/notification-hub/internal/template"
	"github.com/sapliy/notification-hub/internal/tenant"
	"github.com/sapliy/notification-hub/pkg/observability"
)

// DelayPublisher re-enqueues a job body after a delay.
type DelayPublisher interface {
	PublishWithDelay(ctx context.Context, queue string, body []byte, delay time.Duration) error
}

// TenantStore is the tenant data the workers need.
type TenantStore interface {
	Branding(ctx context.Context, tenantID string) (*tenant.Branding, error)
	Preference(ctx context.Context, tenantID, userID string) (*tenant.UserPreference, error)
}

// TemplateResolver resolves a template with tenant fallback.
type TemplateResolver interface {
	Resolve(ctx context.Context, tenantID, name, typ string) (*template.Template, error)
}

// MailerResolver resolves an outbound transport for a tenant. Invalidate
// drops the cached transport so the next Resolve re-reads provider
// configuration.
type MailerResolver interface {
	Resolve(ctx context.Context, tenantID string) *provider.Resolved
	Invalidate(tenantID string)
}

// Ledger records delivery attempts and outcomes.
type Ledger interface {
	Create(ctx context.Context, n *ledger.Notification) error
	UpdateStatus(ctx context.Context, id string, status ledger.Status, providerResponse []byte, externalID, failureReason string) error
}

// Limiters gate outbound sends globally and per tenant.
type Limiters struct {
	Global interface {
		Take(ctx context.Context) error
	}
	Tenant interface {
		Take(ctx context.Context, tenantID string) error
	}
}

// OutcomePublisher receives terminal delivery outcomes. Nil disables the
// stream.
type OutcomePublisher interface {
	Publish(ctx context.Context, key string, value []byte) error
}

// Outcome is the terminal delivery record published to the outcome stream.
type Outcome struct {
	JobID     string    `json:"jobId"`
	Channel   string    `json:"channel"`
	EventType string    `json:"eventType"`
	TenantID  string    `json:"tenantId"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	Attempts  int       `json:"attempts"`
	Timestamp time.Time `json:"timestamp"`
}

// base carries the dependencies shared by the channel workers.
type base struct {
	tenants   TenantStore
	templates TemplateResolver
	ledger    Ledger
	status    *job.Store
	queue     DelayPublisher
	limits    Limiters
	outcomes  OutcomePublisher
	backoff   time.Duration
	logger    *observability.Logger
}

// requeue schedules the job for another attempt after its backoff delay and
// records the delayed state. The attempt counter is advanced only when
// consume is true; rate-limit deferrals retry on the same schedule without
// spending an attempt.
func (b *base) requeue(ctx context.Context, j *job.Job, cause string, consume bool) error {
	delay := job.Backoff(j.Attempts, b.backoff)
	if consume {
		j.Attempts++
	}

	body, err := json.Marshal(j)
	if err != nil {
		return err
	}
	if err := b.queue.PublishWithDelay(ctx, j.Channel.Queue(), body, delay); err != nil {
		return err
	}
	if err := b.status.MarkDelayed(ctx, j.ID, j.Attempts, cause); err != nil {
		b.logger.Warn("job status update failed", "job_id", j.ID, "error", err)
	}

	b.logger.Info("job requeued",
		"job_id", j.ID,
		"channel", string(j.Channel),
		"delay", delay.String(),
		"attempts", j.Attempts,
		"cause", cause,
	)
	metrics.JobsProcessed.WithLabelValues(string(j.Channel), "delayed").Inc()
	return nil
}

// rateLimited handles a limiter rejection: requeue without consuming an
// attempt, so throttling is never terminal.
func (b *base) rateLimited(ctx context.Context, j *job.Job, exceeded *ratelimit.ExceededError) error {
	b.logger.Warn("send rate limited",
		"job_id", j.ID,
		"scope", exceeded.Scope,
		"retry_after", exceeded.RetryAfter.String(),
	)
	return b.requeue(ctx, j, "rate_limited:"+exceeded.Scope, false)
}

// completed records a successful job.
func (b *base) completed(ctx context.Context, j *job.Job) {
	if err := b.status.MarkCompleted(ctx, j.ID); err != nil {
		b.logger.Warn("job status update failed", "job_id", j.ID, "error", err)
	}
	metrics.JobsProcessed.WithLabelValues(string(j.Channel), "completed").Inc()
	b.publishOutcome(ctx, j, "sent", "")
}

// failed records a terminal failure.
func (b *base) failed(ctx context.Context, j *job.Job, cause string) {
	if err := b.status.MarkFailed(ctx, j.ID, j.TenantID, cause); err != nil {
		b.logger.Warn("job status update failed", "job_id", j.ID, "error", err)
	}
	metrics.JobsProcessed.WithLabelValues(string(j.Channel), "failed").Inc()
	b.publishOutcome(ctx, j, "failed", cause)
}

// publishOutcome emits a terminal delivery record. Best effort; stream
// failures are logged and ignored.
func (b *base) publishOutcome(ctx context.Context, j *job.Job, status, cause string) {
	if b.outcomes == nil {
		return
	}
	body, err := json.Marshal(Outcome{
		JobID:     j.ID,
		Channel:   string(j.Channel),
		EventType: j.EventType,
		TenantID:  j.TenantID,
		Status:    status,
		Error:     cause,
		Attempts:  j.Attempts,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return
	}
	if err := b.outcomes.Publish(ctx, j.TenantID, body); err != nil {
		b.logger.Warn("outcome publish failed", "job_id", j.ID, "error", err)
	}
}
