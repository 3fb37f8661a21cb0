package model

import "time"

// Outcome classifies what happened to a single recipient.
type Outcome string

const (
	OutcomeSent       Outcome = "sent"
	OutcomeSuppressed Outcome = "suppressed"
	OutcomeFailed     Outcome = "failed"
	OutcomeSimulated  Outcome = "simulated"
)

// DispatchResult reports the delivery of one message. Sent is true only when
// the transport accepted the message.
type DispatchResult struct {
	Email   string  `json:"email"`
	Sent    bool    `json:"sent"`
	Outcome Outcome `json:"outcome"`
	Reason  string  `json:"reason,omitempty"`

	// ErrorType is "transient" or "permanent" for failed outcomes.
	ErrorType string `json:"-"`
}

// CampaignSummary is the result of a non-dry-run send.
type CampaignSummary struct {
	Sent                  int      `json:"sent"`
	SkippedMissingContact int      `json:"skipped_missing_contact"`
	Suppressed            int      `json:"suppressed"`
	Failures              []string `json:"failures"`
}

// DryRunSummary is the result of a dry-run send.
type DryRunSummary struct {
	Message    string `json:"message"`
	Recipients int    `json:"recipients"`
}

// DirectSendResult is the result of a direct send.
type DirectSendResult struct {
	ID      string           `json:"id"`
	Sent    bool             `json:"sent"`
	Reason  string           `json:"reason,omitempty"`
	Results []DispatchResult `json:"results"`
}

// DeliveryFailure is a dead-letter record for a recipient whose delivery
// failed after retries.
type DeliveryFailure struct {
	ID        string    `json:"id"`
	JobID     string    `json:"job_id"`
	Email     string    `json:"email"`
	Reason    string    `json:"reason"`
	ErrorType string    `json:"error_type"`
	CreatedAt time.Time `json:"created_at"`
}

// Suppression is an address that must never be emailed.
type Suppression struct {
	Email   string    `json:"email"`
	AddedAt time.Time `json:"added_at"`
}
