package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sapliy/notification-hub/internal/event"
	"github.com/sapliy/notification-hub/internal/gateway"
	"github.com/sapliy/notification-hub/internal/job"
	"github.com/sapliy/notification-hub/internal/ledger"
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

type fakePublisher struct {
	published int
}

func (f *fakePublisher) Publish(ctx context.Context, queue string, body []byte) error {
	f.published++
	return nil
}

type testServer struct {
	server *Server
	srv    *httptest.Server
	jobs   *job.Store
	mock   sqlmock.Sqlmock
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := observability.NewLogger("test")

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	jobs := job.NewStore(rdb)

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	svc := ledger.NewService(ledger.NewRepository(db), logger)

	tenants := &fakeTenants{existing: map[string]bool{"t1": true, tenant.GlobalID: true}}
	router := event.NewRouter(tenants, &fakePublisher{}, jobs, 3, logger)

	hub := gateway.NewHub(logger)
	server := NewServer(":0", router, svc, jobs, hub, nil, logger)
	srv := httptest.NewServer(server.httpServer.Handler)
	t.Cleanup(srv.Close)

	return &testServer{server: server, srv: srv, jobs: jobs, mock: mock}
}

func (ts *testServer) postJSON(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(ts.srv.URL+path, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func eventBody(eventType, tenantID string) map[string]any {
	return map[string]any{
		"metadata": map[string]any{
			"event_id":   "evt-1",
			"event_type": eventType,
			"created_at": "2026-08-31T10:00:00Z",
			"source":     "ats",
			"tenant_id":  tenantID,
		},
		"data": map[string]any{
			"email":          "a@x.com",
			"full_name":      "A",
			"application_id": "app1",
			"user_email":     "a@x.com",
		},
	}
}

func TestPostEvent(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.postJSON(t, "/events", eventBody("interview.scheduled", "t1"))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Success bool     `json:"success"`
		JobIDs  []string `json:"jobIds"`
	}
	decode(t, resp, &body)
	assert.True(t, body.Success)
	// interview.scheduled fans out to email and in-app
	assert.Len(t, body.JobIDs, 2)

	// each job id is queryable
	for _, id := range body.JobIDs {
		st, err := ts.jobs.Get(context.Background(), id)
		require.NoError(t, err)
		require.NotNil(t, st)
		assert.Equal(t, job.StatusQueued, st.Status)
	}
}

func TestPostEventInvalidMetadata(t *testing.T) {
	ts := newTestServer(t)

	body := eventBody("interview.scheduled", "t1")
	delete(body["metadata"].(map[string]any), "event_id")

	resp := ts.postJSON(t, "/events", body)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPostEventUnresolvableTenant(t *testing.T) {
	ts := newTestServer(t)
	// remove the global tenant so fallback fails too
	logger := observability.NewLogger("test")
	router := event.NewRouter(&fakeTenants{existing: map[string]bool{}}, &fakePublisher{}, ts.jobs, 3, logger)
	ts.server.router = router

	resp := ts.postJSON(t, "/events", eventBody("interview.scheduled", "ghost"))
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPostEventBatchIndependence(t *testing.T) {
	ts := newTestServer(t)

	bad := eventBody("interview.scheduled", "t1")
	delete(bad["metadata"].(map[string]any), "source")

	resp := ts.postJSON(t, "/events/batch", []any{
		eventBody("user.registration.completed", "t1"),
		bad,
		eventBody("task.assigned", "t1"),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Results []struct {
			Success bool     `json:"success"`
			Event   string   `json:"event"`
			JobIDs  []string `json:"jobIds"`
			Error   string   `json:"error"`
		} `json:"results"`
	}
	decode(t, resp, &body)
	require.Len(t, body.Results, 3)

	assert.True(t, body.Results[0].Success)
	assert.False(t, body.Results[1].Success)
	assert.NotEmpty(t, body.Results[1].Error)
	assert.False(t, body.Results[2].Success) // task.assigned needs assigned_to_email
}

func TestJobStatusNotFound(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.srv.URL + "/jobs/no-such-job/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestJobStatusFound(t *testing.T) {
	ts := newTestServer(t)

	j := job.New(job.ChannelEmail, 3)
	j.EventType = "task.assigned"
	j.TenantID = "t1"
	require.NoError(t, ts.jobs.TrackQueued(context.Background(), j))

	resp, err := http.Get(ts.srv.URL + "/jobs/" + j.ID + "/status")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var st job.Status
	decode(t, resp, &st)
	assert.Equal(t, j.ID, st.JobID)
	assert.Equal(t, job.StatusQueued, st.Status)
	assert.Equal(t, 3, st.Attempts.Remaining)
}

func TestFailedJobsRequiresTenant(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.srv.URL + "/jobs/failed")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUnreadCount(t *testing.T) {
	ts := newTestServer(t)
	ts.mock.ExpectQuery(`SELECT COUNT`).WithArgs("t1", "u1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	resp, err := http.Get(ts.srv.URL + "/notifications/unread-count?tenantId=t1&userId=u1")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Unread int `json:"unread"`
	}
	decode(t, resp, &body)
	assert.Equal(t, 2, body.Unread)
}

func TestListNotificationsRequiresIdentity(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.srv.URL + "/notifications?tenantId=t1")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
