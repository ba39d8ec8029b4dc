package job

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Job status values, driven by the router (queued) and the workers.
const (
	StatusQueued    = "queued"
	StatusActive    = "active"
	StatusDelayed   = "delayed"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

const (
	statusTTL      = 7 * 24 * time.Hour
	failedListMax  = 100
	keyPrefix      = "job:"
	failedListKey  = "jobs:failed"
	failedTenantNS = "jobs:failed:"
)

// Status is the queryable view of a job's lifecycle. The queue substrate
// has no job query API, so this lives in Redis alongside the queues.
type Status struct {
	JobID      string         `json:"jobId"`
	Status     string         `json:"status"`
	Progress   int            `json:"progress"`
	Data       StatusData     `json:"data"`
	Timestamps StatusTimes    `json:"timestamps"`
	Attempts   StatusAttempts `json:"attempts"`
	Error      string         `json:"error,omitempty"`
}

type StatusData struct {
	EventType string `json:"eventType"`
	TenantID  string `json:"tenantId"`
	To        string `json:"to,omitempty"`
	Subject   string `json:"subject,omitempty"`
	Template  string `json:"template"`
	Channel   string `json:"channel"`
}

type StatusTimes struct {
	CreatedAt   time.Time  `json:"createdAt"`
	ProcessedAt *time.Time `json:"processedAt"`
	FinishedAt  *time.Time `json:"finishedAt"`
}

type StatusAttempts struct {
	Made      int `json:"made"`
	Max       int `json:"max"`
	Remaining int `json:"remaining"`
}

// Store tracks job status in Redis hashes, one per job, with a capped
// per-tenant index of recent failures.
type Store struct {
	rdb redis.UniversalClient
}

func NewStore(rdb redis.UniversalClient) *Store {
	return &Store{rdb: rdb}
}

// TrackQueued registers a freshly enqueued job.
func (s *Store) TrackQueued(ctx context.Context, j *Job) error {
	key := keyPrefix + j.ID
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key, map[string]any{
		"status":       StatusQueued,
		"progress":     0,
		"event_type":   j.EventType,
		"tenant_id":    j.TenantID,
		"to":           j.To,
		"subject":      j.Subject,
		"template":     j.Template,
		"channel":      string(j.Channel),
		"created_at":   j.CreatedAt.Format(time.RFC3339Nano),
		"attempts_max": j.MaxAttempts,
	})
	pipe.Expire(ctx, key, statusTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// MarkActive records the start of a processing pass.
func (s *Store) MarkActive(ctx context.Context, jobID string, attemptsMade int) error {
	return s.rdb.HSet(ctx, keyPrefix+jobID, map[string]any{
		"status":        StatusActive,
		"attempts_made": attemptsMade,
		"processed_at":  time.Now().UTC().Format(time.RFC3339Nano),
	}).Err()
}

// MarkDelayed records a scheduled retry.
func (s *Store) MarkDelayed(ctx context.Context, jobID string, attemptsMade int, cause string) error {
	return s.rdb.HSet(ctx, keyPrefix+jobID, map[string]any{
		"status":        StatusDelayed,
		"attempts_made": attemptsMade,
		"error":         cause,
	}).Err()
}

// MarkCompleted records a successful terminal outcome.
func (s *Store) MarkCompleted(ctx context.Context, jobID string) error {
	return s.rdb.HSet(ctx, keyPrefix+jobID, map[string]any{
		"status":      StatusCompleted,
		"progress":    100,
		"finished_at": time.Now().UTC().Format(time.RFC3339Nano),
		"error":       "",
	}).Err()
}

// MarkFailed records a terminal failure and indexes it for the failed-jobs
// listing, globally and per tenant.
func (s *Store) MarkFailed(ctx context.Context, jobID, tenantID, cause string) error {
	key := keyPrefix + jobID
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key, map[string]any{
		"status":      StatusFailed,
		"finished_at": time.Now().UTC().Format(time.RFC3339Nano),
		"error":       cause,
	})
	for _, list := range []string{failedListKey, failedTenantNS + tenantID} {
		pipe.LPush(ctx, list, jobID)
		pipe.LTrim(ctx, list, 0, failedListMax-1)
		pipe.Expire(ctx, list, statusTTL)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Get returns the status of a job, or nil when the job is unknown.
func (s *Store) Get(ctx context.Context, jobID string) (*Status, error) {
	fields, err := s.rdb.HGetAll(ctx, keyPrefix+jobID).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return statusFromFields(jobID, fields), nil
}

// RecentFailed lists recently failed jobs, optionally filtered by tenant.
func (s *Store) RecentFailed(ctx context.Context, tenantID string, limit int) ([]*Status, error) {
	if limit <= 0 || limit > failedListMax {
		limit = 10
	}
	list := failedListKey
	if tenantID != "" {
		list = failedTenantNS + tenantID
	}

	ids, err := s.rdb.LRange(ctx, list, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}

	out := make([]*Status, 0, len(ids))
	for _, id := range ids {
		st, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if st != nil {
			out = append(out, st)
		}
	}
	return out, nil
}

func statusFromFields(jobID string, f map[string]string) *Status {
	made, _ := strconv.Atoi(f["attempts_made"])
	max, _ := strconv.Atoi(f["attempts_max"])
	progress, _ := strconv.Atoi(f["progress"])

	remaining := max - made
	if remaining < 0 {
		remaining = 0
	}

	st := &Status{
		JobID:    jobID,
		Status:   f["status"],
		Progress: progress,
		Data: StatusData{
			EventType: f["event_type"],
			TenantID:  f["tenant_id"],
			To:        f["to"],
			Subject:   f["subject"],
			Template:  f["template"],
			Channel:   f["channel"],
		},
		Attempts: StatusAttempts{Made: made, Max: max, Remaining: remaining},
		Error:    f["error"],
	}

	if t, err := time.Parse(time.RFC3339Nano, f["created_at"]); err == nil {
		st.Timestamps.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, f["processed_at"]); err == nil {
		st.Timestamps.ProcessedAt = &t
	}
	if t, err := time.Parse(time.RFC3339Nano, f["finished_at"]); err == nil {
		st.Timestamps.FinishedAt = &t
	}
	return st
}
