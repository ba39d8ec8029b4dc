package event

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sapliy/notification-hub/internal/job"
	"github.com/sapliy/notification-hub/internal/tenant"
	"github.com/sapliy/notification-hub/pkg/observability"
)

type fakeTenants struct {
	existing map[string]bool
}

func (f *fakeTenants) Get(ctx context.Context, id string) (*tenant.Tenant, error) {
	if f.existing[id] {
		return &tenant.Tenant{ID: id}, nil
	}
	return nil, nil
}

type published struct {
	queue string
	job   job.Job
}

type fakePublisher struct {
	messages []published
}

func (f *fakePublisher) Publish(ctx context.Context, queue string, body []byte) error {
	var j job.Job
	if err := json.Unmarshal(body, &j); err != nil {
		return err
	}
	f.messages = append(f.messages, published{queue: queue, job: j})
	return nil
}

type fakeTracker struct {
	queued []string
}

func (f *fakeTracker) TrackQueued(ctx context.Context, j *job.Job) error {
	f.queued = append(f.queued, j.ID)
	return nil
}

func newTestRouter(tenants map[string]bool) (*Router, *fakePublisher, *fakeTracker) {
	pub := &fakePublisher{}
	tracker := &fakeTracker{}
	r := NewRouter(&fakeTenants{existing: tenants}, pub, tracker, 3, observability.NewLogger("test"))
	return r, pub, tracker
}

func validEvent(eventType, tenantID string, data map[string]any) *Event {
	return &Event{
		Metadata: Metadata{
			EventID:   "evt-1",
			EventType: eventType,
			CreatedAt: "2026-08-31T10:00:00Z",
			Source:    "ats",
			TenantID:  tenantID,
		},
		Data: data,
	}
}

func TestRouteEmailOnlyEvent(t *testing.T) {
	r, pub, tracker := newTestRouter(map[string]bool{"t1": true})

	jobIDs, err := r.Route(context.Background(), validEvent("user.registration.completed", "t1", map[string]any{
		"user_email": "ada@x.com",
		"user_name":  "Ada",
	}))
	require.NoError(t, err)
	require.Len(t, jobIDs, 1)
	require.Len(t, pub.messages, 1)

	msg := pub.messages[0]
	assert.Equal(t, "notifications.email", msg.queue)
	assert.Equal(t, jobIDs[0], msg.job.ID)
	assert.Equal(t, "ada@x.com", msg.job.To)
	assert.Equal(t, "welcome-email", msg.job.Template)
	assert.Equal(t, "t1", msg.job.TenantID)
	assert.Equal(t, 3, msg.job.MaxAttempts)
	assert.Equal(t, jobIDs, tracker.queued)
}

func TestRouteFansOutToBothChannels(t *testing.T) {
	r, pub, _ := newTestRouter(map[string]bool{"t1": true})

	jobIDs, err := r.Route(context.Background(), validEvent("interview.scheduled", "t1", map[string]any{
		"email":          "a@x.com",
		"full_name":      "A",
		"application_id": "app1",
	}))
	require.NoError(t, err)
	require.Len(t, jobIDs, 2)
	require.Len(t, pub.messages, 2)

	assert.Equal(t, "notifications.email", pub.messages[0].queue)
	assert.Equal(t, "notifications.in_app", pub.messages[1].queue)
	// independent jobs, distinct ids
	assert.NotEqual(t, jobIDs[0], jobIDs[1])
	for _, msg := range pub.messages {
		assert.Equal(t, "interview-scheduled", msg.job.Template)
		assert.Equal(t, "app1", msg.job.UserID)
	}
}

func TestRouteCoversEveryKnownType(t *testing.T) {
	cases := []struct {
		eventType string
		data      map[string]any
		template  string
		jobs      int
	}{
		{"user.email.verified", map[string]any{"user_email": "a@x.com", "user_id": "u1"}, "user-email-verified", 1},
		{"content.liked", map[string]any{"user_email": "a@x.com", "user_id": "u1", "liker_name": "B"}, "content-liked", 2},
		{"status.changed", map[string]any{"user_email": "a@x.com", "user_id": "u1", "status": "approved"}, "status-changed", 2},
		{"deadline.approaching", map[string]any{"user_email": "a@x.com", "user_id": "u1", "task_name": "Ship"}, "deadline-approaching", 2},
		{"access.granted", map[string]any{"user_email": "a@x.com", "user_id": "u1", "resource_name": "repo"}, "access-granted", 2},
		{"auth.2fa.code.requested", map[string]any{"user_email": "a@x.com", "user_id": "u1", "2fa_code": "123456"}, "2fa-code-requested", 1},
		{"auth.2fa.attempt.failed", map[string]any{"user_email": "a@x.com", "user_id": "u1"}, "2fa-attempt-failed", 1},
		{"auth.2fa.method.changed", map[string]any{"user_email": "a@x.com", "user_id": "u1", "new_method": "totp"}, "2fa-method-changed", 1},
		{"auth.2fa.backup_code.used", map[string]any{"user_email": "a@x.com", "user_id": "u1"}, "2fa-backup-code-used", 1},
		{"candidate.shortlisted.gaps", map[string]any{"email": "a@x.com", "full_name": "A", "application_id": "app1"}, "candidate-shortlisted-gaps", 2},
	}

	for _, tc := range cases {
		t.Run(tc.eventType, func(t *testing.T) {
			r, pub, _ := newTestRouter(map[string]bool{"t1": true})

			jobIDs, err := r.Route(context.Background(), validEvent(tc.eventType, "t1", tc.data))
			require.NoError(t, err)
			assert.Len(t, jobIDs, tc.jobs)
			require.NotEmpty(t, pub.messages)
			assert.Equal(t, tc.template, pub.messages[0].job.Template)
			assert.Equal(t, "a@x.com", pub.messages[0].job.To)
		})
	}
}

func TestRouteStatusChangedSubjectCarriesStatus(t *testing.T) {
	r, pub, _ := newTestRouter(map[string]bool{"t1": true})

	_, err := r.Route(context.Background(), validEvent("status.changed", "t1", map[string]any{
		"user_email": "a@x.com",
		"status":     "rejected",
	}))
	require.NoError(t, err)
	require.NotEmpty(t, pub.messages)
	assert.Equal(t, "Status changed: rejected", pub.messages[0].job.Subject)
}

func TestTotalGapDuration(t *testing.T) {
	gap := func(d string) any { return map[string]any{"duration": d} }

	assert.Equal(t, "0 months", totalGapDuration(nil))
	assert.Equal(t, "6 months", totalGapDuration([]any{gap("6 months")}))
	assert.Equal(t, "1 years 6 months", totalGapDuration([]any{gap("1.5 years")}))
	assert.Equal(t, "2 years", totalGapDuration([]any{gap("1 year"), gap("12 months")}))
	assert.Equal(t, "7.5 months", totalGapDuration([]any{gap("6 months"), gap("1.5 months")}))
}

func TestRouteUnknownTypeYieldsZeroJobs(t *testing.T) {
	r, pub, _ := newTestRouter(map[string]bool{"t1": true})

	jobIDs, err := r.Route(context.Background(), validEvent("something.unknown", "t1", nil))
	require.NoError(t, err)
	assert.Empty(t, jobIDs)
	assert.Empty(t, pub.messages)
}

func TestRouteRewritesMissingTenantToGlobal(t *testing.T) {
	r, pub, _ := newTestRouter(map[string]bool{tenant.GlobalID: true})

	e := validEvent("user.registration.completed", "ghost", map[string]any{
		"user_email": "a@x.com",
	})
	jobIDs, err := r.Route(context.Background(), e)
	require.NoError(t, err)
	require.Len(t, jobIDs, 1)

	assert.Equal(t, tenant.GlobalID, e.Metadata.TenantID)
	assert.Equal(t, tenant.GlobalID, pub.messages[0].job.TenantID)
}

func TestRouteFailsWithoutGlobalTenant(t *testing.T) {
	r, pub, _ := newTestRouter(map[string]bool{})

	_, err := r.Route(context.Background(), validEvent("user.registration.completed", "ghost", nil))
	var resolution *TenantResolutionError
	require.ErrorAs(t, err, &resolution)
	assert.Empty(t, pub.messages)
}

func TestRouteValidatesMetadata(t *testing.T) {
	r, pub, _ := newTestRouter(map[string]bool{"t1": true})

	e := validEvent("user.registration.completed", "t1", nil)
	e.Metadata.EventID = ""

	_, err := r.Route(context.Background(), e)
	var validation *ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "metadata.event_id", validation.Field)
	assert.Empty(t, pub.messages)
}

func TestRouteRequiresRecipient(t *testing.T) {
	r, pub, _ := newTestRouter(map[string]bool{"t1": true})

	_, err := r.Route(context.Background(), validEvent("user.registration.completed", "t1", map[string]any{}))
	var validation *ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Empty(t, pub.messages)
}
