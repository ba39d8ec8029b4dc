package job

import (
	"time"

	"github.com/google/uuid"
)

// Channel is a delivery medium. Email and in-app are implemented; sms and
// push are routed but have no worker yet.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelInApp Channel = "in_app"
	ChannelSMS   Channel = "sms"
	ChannelPush  Channel = "push"
)

// Queue returns the durable queue name carrying jobs for this channel.
func (c Channel) Queue() string {
	return "notifications." + string(c)
}

// Job is the durable unit of work representing "deliver this content via
// this channel". It is created by the event router and consumed, and on
// transient failure re-enqueued, by the channel workers. The attempts
// counter travels with the payload; the queue substrate only provides a
// requeue-with-delay primitive.
type Job struct {
	ID          string         `json:"id"`
	Channel     Channel        `json:"channel"`
	EventType   string         `json:"event_type"`
	To          string         `json:"to"`
	Subject     string         `json:"subject"`
	Template    string         `json:"template"`
	Context     map[string]any `json:"context"`
	TenantID    string         `json:"tenant_id"`
	UserID      string         `json:"user_id,omitempty"`
	UserName    string         `json:"user_name,omitempty"`
	Attempts    int            `json:"attempts"`
	MaxAttempts int            `json:"max_attempts"`
	CreatedAt   time.Time      `json:"created_at"`
}

// New builds a job for the given channel with a fresh id.
func New(channel Channel, maxAttempts int) *Job {
	return &Job{
		ID:          uuid.New().String(),
		Channel:     channel,
		MaxAttempts: maxAttempts,
		CreatedAt:   time.Now().UTC(),
	}
}

// Backoff returns the requeue delay for a job that has already made the
// given number of attempts: (attempts+1)^2 * base, so with the default 5s
// base the schedule is 5s, 20s, 45s.
func Backoff(attempts int, base time.Duration) time.Duration {
	n := attempts + 1
	return time.Duration(n*n) * base
}

// Exhausted reports whether the job has used up its retry budget.
func (j *Job) Exhausted() bool {
	return j.Attempts >= j.MaxAttempts
}
