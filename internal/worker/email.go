package worker

import (
	"context"
	"encoding/json"
	"errors"
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

// EmailWorker consumes email jobs: rate limiting, preference checks,
// template rendering, provider resolution and the actual send, with the
// delivery recorded in the ledger either side of the attempt.
type EmailWorker struct {
	base
	providers   MailerResolver
	sendTimeout time.Duration
}

func NewEmailWorker(
	tenants TenantStore,
	templates TemplateResolver,
	providers MailerResolver,
	svc Ledger,
	status *job.Store,
	queue DelayPublisher,
	limits Limiters,
	outcomes OutcomePublisher,
	backoff, sendTimeout time.Duration,
	logger *observability.Logger,
) *EmailWorker {
	return &EmailWorker{
		base: base{
			tenants:   tenants,
			templates: templates,
			ledger:    svc,
			status:    status,
			queue:     queue,
			limits:    limits,
			outcomes:  outcomes,
			backoff:   backoff,
			logger:    logger,
		},
		providers:   providers,
		sendTimeout: sendTimeout,
	}
}

// Process handles one queue delivery. A nil return acknowledges the message;
// an error sends it to the dead letter queue, which is reserved for
// undecodable payloads. Every decodable job reaches a recorded outcome.
func (w *EmailWorker) Process(ctx context.Context, body []byte) error {
	var j job.Job
	if err := json.Unmarshal(body, &j); err != nil {
		w.logger.Error("undecodable email job", "error", err)
		return err
	}

	if err := w.status.MarkActive(ctx, j.ID, j.Attempts); err != nil {
		w.logger.Warn("job status update failed", "job_id", j.ID, "error", err)
	}

	var exceeded *ratelimit.ExceededError
	if err := w.limits.Global.Take(ctx); errors.As(err, &exceeded) {
		return w.rateLimited(ctx, &j, exceeded)
	}
	if err := w.limits.Tenant.Take(ctx, j.TenantID); errors.As(err, &exceeded) {
		return w.rateLimited(ctx, &j, exceeded)
	}

	if j.UserID != "" {
		pref, err := w.tenants.Preference(ctx, j.TenantID, j.UserID)
		if err != nil {
			return w.retryOrFail(ctx, &j, "", err)
		}
		if !pref.Allows(string(job.ChannelEmail)) {
			w.logger.Info("user opted out of email",
				"job_id", j.ID,
				"tenant_id", j.TenantID,
				"user_id", j.UserID,
			)
			if err := w.status.MarkCompleted(ctx, j.ID); err != nil {
				w.logger.Warn("job status update failed", "job_id", j.ID, "error", err)
			}
			metrics.JobsProcessed.WithLabelValues(string(job.ChannelEmail), "skipped").Inc()
			return nil
		}
	}

	return w.deliver(ctx, &j, false)
}

// deliver runs the template/ledger/send portion of the pipeline. fallback
// marks the second pass after a TenantNotFoundError rewrote the job to the
// global tenant; at most one such pass happens.
func (w *EmailWorker) deliver(ctx context.Context, j *job.Job, fallback bool) error {
	tpl, err := w.templates.Resolve(ctx, j.TenantID, j.Template, template.TypeEmail)
	if err != nil {
		var notFound *template.NotFoundError
		if errors.As(err, &notFound) {
			w.logger.Error("no template for job",
				"job_id", j.ID,
				"template", j.Template,
				"tenant_id", j.TenantID,
			)
			w.recordFailure(ctx, j, "", err)
			w.failed(ctx, j, err.Error())
			return nil
		}
		return w.retryOrFail(ctx, j, "", err)
	}

	branding, err := w.tenants.Branding(ctx, j.TenantID)
	if err != nil {
		return w.retryOrFail(ctx, j, "", err)
	}

	renderCtx := template.RenderContext(j.Context, branding)
	html, err := template.RenderBody(tpl, renderCtx)
	if err != nil {
		w.recordFailure(ctx, j, "", errors.New("template render: "+err.Error()))
		w.failed(ctx, j, "template render: "+err.Error())
		return nil
	}
	subject, err := template.RenderSubject(tpl, j.Subject, renderCtx)
	if err != nil {
		subject = j.Subject
	}

	entry := &ledger.Notification{
		TenantID:  j.TenantID,
		UserID:    j.UserID,
		UserEmail: j.To,
		UserName:  j.UserName,
		Channel:   string(job.ChannelEmail),
		EventType: j.EventType,
		Status:    ledger.StatusQueued,
		Subject:   subject,
		Body:      html,
	}
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
		return w.retryOrFail(ctx, j, "", err)
	}

	resolved := w.providers.Resolve(ctx, j.TenantID)
	from := resolved.From
	if from == "" {
		from = branding.SupportEmail
	}

	sendCtx, cancel := context.WithTimeout(ctx, w.sendTimeout)
	defer cancel()

	start := time.Now()
	providerResponse, messageID, err := resolved.Mailer.Send(sendCtx, provider.Message{
		From:    from,
		To:      j.To,
		Subject: subject,
		HTML:    html,
	})
	metrics.SendLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		// drop the cached transport so the retry pass re-resolves
		w.providers.Invalidate(j.TenantID)
		return w.retryOrFail(ctx, j, entry.ID, err)
	}

	raw, _ := json.Marshal(map[string]string{
		"provider": resolved.Mailer.Name(),
		"tier":     string(resolved.Tier),
		"response": providerResponse,
	})
	if err := w.ledger.UpdateStatus(ctx, entry.ID, ledger.StatusSent, raw, messageID, ""); err != nil {
		w.logger.Warn("ledger update failed after send", "job_id", j.ID, "error", err)
	}

	w.logger.Info("email sent",
		"job_id", j.ID,
		"to", j.To,
		"tenant_id", j.TenantID,
		"transport", resolved.Mailer.Name(),
		"tier", string(resolved.Tier),
	)
	w.completed(ctx, j)
	return nil
}

// retryOrFail classifies a transient failure: requeue while the attempt
// budget lasts, terminal failure once it is spent. Either way the failed pass
// lands in the ledger first, so every attempt leaves a record.
func (w *EmailWorker) retryOrFail(ctx context.Context, j *job.Job, ledgerID string, cause error) error {
	w.recordFailure(ctx, j, ledgerID, cause)
	next := *j
	next.Attempts++
	if next.Exhausted() {
		w.logger.Error("email job exhausted retries",
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

// recordFailure writes the failed pass to the ledger. When the pass already
// created a queued entry that entry is marked failed; passes that broke
// before the insert get a fresh failed record.
func (w *EmailWorker) recordFailure(ctx context.Context, j *job.Job, ledgerID string, cause error) {
	if ledgerID != "" {
		if err := w.ledger.UpdateStatus(ctx, ledgerID, ledger.StatusFailed, nil, "", cause.Error()); err != nil {
			w.logger.Warn("ledger update failed", "job_id", j.ID, "error", err)
		}
		return
	}
	entry := &ledger.Notification{
		TenantID:      j.TenantID,
		UserID:        j.UserID,
		UserEmail:     j.To,
		UserName:      j.UserName,
		Channel:       string(job.ChannelEmail),
		EventType:     j.EventType,
		Status:        ledger.StatusFailed,
		Subject:       j.Subject,
		FailureReason: cause.Error(),
	}
	if err := w.ledger.Create(ctx, entry); err != nil {
		w.logger.Warn("failed pass not recorded", "job_id", j.ID, "error", err)
	}
}
