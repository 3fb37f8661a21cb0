package model

import (
	"encoding/json"
	"time"
)

// JobKind distinguishes the operation a job records.
type JobKind string

const (
	JobKindPrepare JobKind = "prepare"
	JobKindSend    JobKind = "send"
	JobKindDirect  JobKind = "direct"
)

// JobStatus is the lifecycle state of a job. The string values are part of
// the external contract and must not change.
type JobStatus string

const (
	StatusPending             JobStatus = "pending"
	StatusPrepared            JobStatus = "prepared"
	StatusQueued              JobStatus = "queued"
	StatusDryRun              JobStatus = "dry_run"
	StatusCompleted           JobStatus = "completed"
	StatusCompletedWithErrors JobStatus = "completed_with_errors"
)

// statusRank orders states along the lifecycle. Terminal states share the
// highest rank so no terminal state can move to another.
var statusRank = map[JobStatus]int{
	StatusPending:             0,
	StatusPrepared:            1,
	StatusQueued:              2,
	StatusDryRun:              3,
	StatusCompleted:           3,
	StatusCompletedWithErrors: 3,
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// Terminal reports whether s accepts no further transitions.
func (s JobStatus) Terminal() bool {
	switch s {
	case StatusDryRun, StatusCompleted, StatusCompletedWithErrors:
		return true
	}
	return false
}

// CanTransition reports whether a job in state from may move to state to.
// Transitions only move forward; same-state and backward moves are rejected.
func CanTransition(from, to JobStatus) bool {
	fr, ok := statusRank[from]
	if !ok {
		return false
	}
	tr, ok := statusRank[to]
	if !ok {
		return false
	}
	return !from.Terminal() && tr > fr
}

// Predecessors returns every status from which a job may move to to.
// Stores use it to build conditional updates.
func Predecessors(to JobStatus) []JobStatus {
	var out []JobStatus
	for _, s := range AllStatuses() {
		if CanTransition(s, to) {
			out = append(out, s)
		}
	}
	return out
}

// AllStatuses lists the statuses in lifecycle order.
func AllStatuses() []JobStatus {
	return []JobStatus{
		StatusPending,
		StatusPrepared,
		StatusQueued,
		StatusDryRun,
		StatusCompleted,
		StatusCompletedWithErrors,
	}
}

// Job is a persisted record of a prepare, send, or direct-send operation.
type Job struct {
	ID        string          `json:"id"`
	Kind      JobKind         `json:"kind"`
	Status    JobStatus       `json:"status"`
	Payload   json.RawMessage `json:"payload"`
	Result    json.RawMessage `json:"result,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// JobFilter restricts job listings.
type JobFilter struct {
	Kind   JobKind   `json:"kind,omitempty"`
	Status JobStatus `json:"status,omitempty"`
	Limit  int       `json:"limit,omitempty"`
	Offset int       `json:"offset,omitempty"`
}

// PreparePayload is the payload of a prepare job.
type PreparePayload struct {
	Tone    string  `json:"tone"`
	Metrics Metrics `json:"metrics"`
	Leads   []Lead  `json:"leads"`
}

// SendPayload is the payload of a send job.
type SendPayload struct {
	PrepareID string `json:"prepare_id"`
	Tone      string `json:"tone"`
	DryRun    bool   `json:"dry_run"`
}

// DirectPayload is the payload of a direct-send job.
type DirectPayload struct {
	Recipients []string `json:"recipients"`
	Subject    string   `json:"subject"`
	DryRun     bool     `json:"dry_run"`
}
