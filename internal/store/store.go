// Package store persists jobs, the suppression list, and delivery failures.
package store

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-mailer/internal/model"
)

var (
	// ErrJobNotFound is returned when no job has the requested id.
	ErrJobNotFound = eris.New("job not found")
	// ErrInvalidTransition is returned when a status change would move a job
	// backward, sideways, or out of a terminal state.
	ErrInvalidTransition = eris.New("invalid job status transition")
	// ErrEmptyEmail is returned when a suppression address is blank.
	ErrEmptyEmail = eris.New("email is required")
)

const defaultListLimit = 50

// Store defines the persistence interface for campaigns.
type Store interface {
	// Jobs
	CreateJob(ctx context.Context, kind model.JobKind, payload json.RawMessage) (*model.Job, error)
	GetJob(ctx context.Context, id string) (*model.Job, error)
	// UpdateJobStatus moves a job forward. A nil result keeps the stored one.
	UpdateJobStatus(ctx context.Context, id string, status model.JobStatus, result json.RawMessage) error
	ListJobs(ctx context.Context, filter model.JobFilter) ([]model.Job, error)

	// Suppressions
	AddSuppression(ctx context.Context, email string) (bool, error)
	AddSuppressions(ctx context.Context, emails []string) (int64, error)
	IsSuppressed(ctx context.Context, email string) (bool, error)
	ListSuppressions(ctx context.Context, limit, offset int) ([]model.Suppression, error)

	// Delivery failures
	RecordDeliveryFailure(ctx context.Context, f model.DeliveryFailure) error
	ListDeliveryFailures(ctx context.Context, jobID string) ([]model.DeliveryFailure, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// NormalizeEmail is the suppression key for an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// normalizeAll lowercases, drops blanks, and dedupes.
func normalizeAll(emails []string) []string {
	seen := make(map[string]bool, len(emails))
	out := make([]string, 0, len(emails))
	for _, e := range emails {
		n := NormalizeEmail(e)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

func statusStrings(statuses []model.JobStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func listLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	return limit
}
