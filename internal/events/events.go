// Package events publishes job status changes to interested consumers.
package events

import (
	"context"
	"time"

	"github.com/sells-group/lead-mailer/internal/model"
)

// Event is emitted after a job changes status.
type Event struct {
	JobID      string          `json:"job_id"`
	Kind       model.JobKind   `json:"kind"`
	Status     model.JobStatus `json:"status"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// RoutingKey is the topic key for the event, e.g. "job.completed".
func (e Event) RoutingKey() string {
	return "job." + string(e.Status)
}

// Publisher delivers events. Publishing is best-effort; callers log errors
// and carry on.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Nop discards events.
type Nop struct{}

// Publish does nothing.
func (Nop) Publish(context.Context, Event) error { return nil }

// Close does nothing.
func (Nop) Close() error { return nil }
