package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sapliy/notification-hub/internal/job"
	"github.com/sapliy/notification-hub/internal/ledger"
	"github.com/sapliy/notification-hub/internal/template"
	"github.com/sapliy/notification-hub/internal/tenant"
	"github.com/sapliy/notification-hub/pkg/observability"
)

type inAppHarness struct {
	worker    *InAppWorker
	tenants   *fakeTenantStore
	templates *fakeTemplates
	ledger    *fakeLedger
	queue     *fakeQueue
	status    *job.Store
}

func newInAppHarness(t *testing.T) *inAppHarness {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	h := &inAppHarness{
		tenants: &fakeTenantStore{},
		templates: &fakeTemplates{templates: map[string]*template.Template{
			"task-assigned|in_app": {
				Name:    "task-assigned",
				Subject: "Task for {{.user_name}}",
				Body:    "{{.assigner_name}} assigned you {{.task_name}}",
			},
		}},
		ledger: &fakeLedger{},
		queue:  &fakeQueue{},
		status: job.NewStore(rdb),
	}
	h.worker = NewInAppWorker(
		h.tenants, h.templates, h.ledger, h.status, h.queue, nil,
		5*time.Second, observability.NewLogger("test"),
	)
	return h
}

func inAppJobBody(t *testing.T, mutate func(*job.Job)) []byte {
	t.Helper()
	j := job.New(job.ChannelInApp, 3)
	j.EventType = "task.assigned"
	j.To = "ada@x.com"
	j.Subject = "New Task Assigned"
	j.Template = "task-assigned"
	j.Context = map[string]any{
		"user_name":     "Ada",
		"assigner_name": "Grace",
		"task_name":     "Ship it",
	}
	j.TenantID = "t1"
	j.UserID = "u1"
	j.UserName = "Ada"
	if mutate != nil {
		mutate(j)
	}
	body, err := json.Marshal(j)
	require.NoError(t, err)
	return body
}

func TestInAppWorkerCreatesSentEntry(t *testing.T) {
	h := newInAppHarness(t)

	require.NoError(t, h.worker.Process(context.Background(), inAppJobBody(t, nil)))

	require.Len(t, h.ledger.created, 1)
	n := h.ledger.created[0]
	assert.Equal(t, "in_app", n.Channel)
	assert.Equal(t, ledger.StatusSent, n.Status)
	assert.Equal(t, "task.assigned", n.EventType)
	assert.Equal(t, "Task for Ada", n.Subject)
	assert.Contains(t, n.Body, "Grace assigned you Ship it")
	assert.False(t, n.IsRead)
	assert.NotNil(t, n.SentAt)
}

func TestInAppWorkerIgnoresEmailOptOut(t *testing.T) {
	h := newInAppHarness(t)
	h.tenants.pref = &tenant.UserPreference{Email: false}

	require.NoError(t, h.worker.Process(context.Background(), inAppJobBody(t, nil)))
	assert.Len(t, h.ledger.created, 1)
}

func TestInAppWorkerFallsBackToSubjectWithoutTemplate(t *testing.T) {
	h := newInAppHarness(t)

	require.NoError(t, h.worker.Process(context.Background(), inAppJobBody(t, func(j *job.Job) {
		j.EventType = "comment.mentioned"
		j.Subject = "You were mentioned in a comment"
		j.Template = "comment-mentioned"
	})))

	require.Len(t, h.ledger.created, 1)
	n := h.ledger.created[0]
	assert.Equal(t, "You were mentioned in a comment", n.Subject)
	assert.Equal(t, "You were mentioned in a comment", n.Body)
	assert.Empty(t, h.queue.delays)
}

func TestInAppWorkerFallsBackToGlobalTenant(t *testing.T) {
	h := newInAppHarness(t)
	h.ledger.createErrs = []error{&ledger.TenantNotFoundError{TenantID: "t1"}}

	require.NoError(t, h.worker.Process(context.Background(), inAppJobBody(t, nil)))

	require.Len(t, h.ledger.created, 1)
	assert.Equal(t, tenant.GlobalID, h.ledger.created[0].TenantID)
}

func TestInAppWorkerRecordsFailedPassOnRetry(t *testing.T) {
	h := newInAppHarness(t)
	h.ledger.createErrs = []error{errors.New("db down")}

	require.NoError(t, h.worker.Process(context.Background(), inAppJobBody(t, nil)))

	require.Len(t, h.queue.delays, 1)
	assert.Equal(t, 5*time.Second, h.queue.delays[0])

	require.Len(t, h.ledger.created, 1)
	assert.Equal(t, ledger.StatusFailed, h.ledger.created[0].Status)
	assert.Contains(t, h.ledger.created[0].FailureReason, "db down")
}

func TestInAppWorkerAcksDuplicate(t *testing.T) {
	h := newInAppHarness(t)
	h.ledger.createErrs = []error{&ledger.DuplicateRecordError{Constraint: "notifications_pkey"}}

	require.NoError(t, h.worker.Process(context.Background(), inAppJobBody(t, nil)))
	assert.Empty(t, h.ledger.created)
	assert.Empty(t, h.queue.delays)
}
