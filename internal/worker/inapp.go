package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/sapliy/notification-hub/internal/job"
	"github.com/sapliy/notification-hub/internal/ledger"
	"github.com/sapliy/notification-hub/internal/template"
	"github.com/sapliy/notification-hub/internal/tenant"
	"github.com/sapliy/notification-hub/pkg/observability"
)

// InAppWorker consumes in-app jobs. Delivery is the ledger write itself: the
// worker renders the in-app template and creates a sent record, and the
// ledger's creation event drives the realtime push. Preferences do not gate
// this channel.
type InAppWorker struct {
	base
}

func NewInAppWorker(
	tenants TenantStore,
	templates TemplateResolver,
	svc Ledger,
	status *job.Store,
	queue DelayPublisher,
	outcomes OutcomePublisher,
	backoff time.Duration,
	logger *observability.Logger,
) *InAppWorker {
	return &InAppWorker{
		base: base{
			tenants:   tenants,
			templates: templates,
			ledger:    svc,
			status:    status,
			queue:     queue,
			outcomes:  outcomes,
			backoff:   backoff,
			logger:    logger,
		},
	}
}

func (w *InAppWorker) Process(ctx context.Context, body []byte) error {
	var j job.Job
	if err := json.Unmarshal(body, &j); err != nil {
		w.logger.Error("undecodable in-app job", "error", err)
		return err
	}

	if err := w.status.MarkActive(ctx, j.ID, j.Attempts); err != nil {
		w.logger.Warn("job status update failed", "job_id", j.ID, "error", err)
	}

	return w.deliver(ctx, &j, false)
}

func (w *InAppWorker) deliver(ctx context.Context, j *job.Job, fallback bool) error {
	subject := j.Subject
	bodyText := j.Subject

	tpl, err := w.templates.Resolve(ctx, j.TenantID, j.Template, template.TypeInApp)
	switch {
	case err == nil:
		branding, berr := w.tenants.Branding(ctx, j.TenantID)
		if berr != nil {
			return w.retryOrFail(ctx, j, berr)
		}
		renderCtx := template.RenderContext(j.Context, branding)
		if rendered, rerr := template.RenderBody(tpl, renderCtx); rerr == nil {
			bodyText = rendered
		}
		if rendered, rerr := template.RenderSubject(tpl, j.Subject, renderCtx); rerr == nil {
			subject = rendered
		}
	default:
		var notFound *template.NotFoundError
		if !errors.As(err, &notFound) {
			return w.retryOrFail(ctx, j, err)
		}
		// no in-app template is fine; the subject line is the notification
		w.logger.Info("no in-app template, using subject",
			"job_id", j.ID,
			"template", j.Template,
		)
	}

	entry := &ledger.Notification{
		TenantID:  j.TenantID,
		UserID:    j.UserID,
		UserEmail: j.To,
		UserName:  j.UserName,
		Channel:   string(job.ChannelInApp),
		EventType: j.EventType,
		Status:    ledger.StatusSent,
		Subject:   subject,
		Body:      bodyText,
	}
	now := time.Now().UTC()
	entry.SentAt = &now

	if err := w.ledger.Create(ctx, entry); err != nil {
		var notFound *ledger.TenantNotFoundError
		if errors.As(err, &notFound) && !fallback && j.TenantID != tenant.GlobalID {
			w.logger.Warn("ledger tenant missing, retrying under global",
				"job_id", j.ID,
				"tenant_id", j.TenantID,
			)
			j.TenantID = tenant.GlobalID
			return w.deliver(ctx, j, true)
		}
		var dup *ledger.DuplicateRecordError
		if errors.As(err, &dup) {
			w.logger.Info("duplicate delivery record, acknowledging", "job_id", j.ID)
			if err := w.status.MarkCompleted(ctx, j.ID); err != nil {
				w.logger.Warn("job status update failed", "job_id", j.ID, "error", err)
			}
			return nil
		}
		return w.retryOrFail(ctx, j, err)
	}

	w.logger.Info("in-app notification created",
		"job_id", j.ID,
		"notification_id", entry.ID,
		"tenant_id", j.TenantID,
		"user_id", j.UserID,
	)
	w.completed(ctx, j)
	return nil
}

func (w *InAppWorker) retryOrFail(ctx context.Context, j *job.Job, cause error) error {
	w.recordFailure(ctx, j, cause)
	next := *j
	next.Attempts++
	if next.Exhausted() {
		w.logger.Error("in-app job exhausted retries",
			"job_id", j.ID,
			"attempts", next.Attempts,
			"error", cause,
		)
		j.Attempts = next.Attempts
		w.failed(ctx, j, cause.Error())
		return nil
	}
	return w.requeue(ctx, j, cause.Error(), true)
}

// recordFailure keeps the ledger honest about failed passes. In-app jobs
// never create an entry before failing, so each failed pass inserts its own
// failed record. These never reach the realtime stream.
func (w *InAppWorker) recordFailure(ctx context.Context, j *job.Job, cause error) {
	entry := &ledger.Notification{
		TenantID:      j.TenantID,
		UserID:        j.UserID,
		UserEmail:     j.To,
		UserName:      j.UserName,
		Channel:       string(job.ChannelInApp),
		EventType:     j.EventType,
		Status:        ledger.StatusFailed,
		Subject:       j.Subject,
		FailureReason: cause.Error(),
	}
	if err := w.ledger.Create(ctx, entry); err != nil {
		w.logger.Warn("failed pass not recorded", "job_id", j.ID, "error", err)
	}
}
