package campaign

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-mailer/internal/mail"
	"github.com/sells-group/lead-mailer/internal/model"
	"github.com/sells-group/lead-mailer/internal/render"
	"github.com/sells-group/lead-mailer/internal/resilience"
	"github.com/sells-group/lead-mailer/internal/store"
)

// SendRequest confirms a prepared campaign.
type SendRequest struct {
	PrepareID string `json:"prepare_id"`
	DryRun    bool   `json:"dry_run"`
	Tone      string `json:"tone,omitempty"`
}

// SendResult is returned by Send. Summary is a *model.DryRunSummary for dry
// runs and a *model.CampaignSummary otherwise.
type SendResult struct {
	JobID   string          `json:"job_id"`
	Status  model.JobStatus `json:"status"`
	Queued  bool            `json:"queued"`
	Summary any             `json:"summary"`
}

// Send dispatches every lead of a prepared job. Once the send job is queued
// the loop runs to completion even if ctx is canceled; per-recipient
// failures only show up in the summary.
func (s *Service) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	prep, err := s.loadPrepared(ctx, req.PrepareID)
	if err != nil {
		return nil, err
	}
	if len(prep.Leads) == 0 {
		return nil, ErrEmptyRecipientSet
	}

	tone := s.resolveTone(req.Tone, prep.Tone)

	job, err := s.startJob(ctx, model.JobKindSend, model.SendPayload{
		PrepareID: req.PrepareID,
		Tone:      tone.Name,
		DryRun:    req.DryRun,
	}, model.StatusQueued)
	if err != nil {
		return nil, err
	}

	ctx = context.WithoutCancel(ctx)
	log := zap.L().With(zap.String("job_id", job.ID), zap.String("prepare_id", req.PrepareID))

	if req.DryRun {
		summary := &model.DryRunSummary{Message: DryRunMessage, Recipients: len(prep.Leads)}
		s.finish(ctx, job, model.StatusDryRun, summary)
		log.Info("campaign: dry run", zap.Int("recipients", summary.Recipients))
		return &SendResult{JobID: job.ID, Status: job.Status, Queued: false, Summary: summary}, nil
	}

	summary := s.sendLeads(ctx, job.ID, prep, tone)

	status := model.StatusCompleted
	if len(summary.Failures) > 0 {
		status = model.StatusCompletedWithErrors
	}
	s.finish(ctx, job, status, summary)

	log.Info("campaign: send finished",
		zap.String("status", string(status)),
		zap.Int("sent", summary.Sent),
		zap.Int("skipped", summary.SkippedMissingContact),
		zap.Int("suppressed", summary.Suppressed),
		zap.Int("failed", len(summary.Failures)),
	)
	return &SendResult{JobID: job.ID, Status: job.Status, Queued: true, Summary: summary}, nil
}

// loadPrepared fetches and decodes a prepare job. Jobs of other kinds are
// reported as not found.
func (s *Service) loadPrepared(ctx context.Context, id string) (*model.PreparePayload, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Kind != model.JobKindPrepare {
		return nil, eris.Wrapf(store.ErrJobNotFound, "prepare job %s", id)
	}
	var p model.PreparePayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return nil, eris.Wrapf(err, "campaign: decode prepare job %s", id)
	}
	return &p, nil
}

// sendLeads runs every lead through the dispatcher in order.
func (s *Service) sendLeads(ctx context.Context, jobID string, prep *model.PreparePayload, tone render.Tone) *model.CampaignSummary {
	summary := &model.CampaignSummary{Failures: []string{}}

	for _, lead := range prep.Leads {
		email := strings.TrimSpace(lead.Email)
		if email == "" {
			summary.SkippedMissingContact++
			continue
		}

		var res model.DispatchResult
		html, err := s.renderer.Render(tone.Template, render.BuildContext(lead, prep.Metrics, s.branding))
		if err != nil {
			res = model.DispatchResult{Email: email, Outcome: model.OutcomeFailed, Reason: err.Error(), ErrorType: resilience.ErrorTypePermanent}
		} else {
			res = s.dispatcher.Dispatch(ctx, mail.Message{To: email, Subject: tone.Subject, HTML: html}, false)
		}

		switch res.Outcome {
		case model.OutcomeSent:
			summary.Sent++
		case model.OutcomeSuppressed:
			summary.Suppressed++
		default:
			summary.Failures = append(summary.Failures, email)
			s.recordFailure(ctx, jobID, res)
		}
	}
	return summary
}

// finish writes the terminal status. The send already happened, so a store
// error is logged rather than returned.
func (s *Service) finish(ctx context.Context, job *model.Job, status model.JobStatus, result any) {
	if err := s.transition(ctx, job, status, result); err != nil {
		level := zap.ErrorLevel
		if errors.Is(err, store.ErrInvalidTransition) {
			level = zap.WarnLevel
		}
		zap.L().Log(level, "campaign: write terminal status",
			zap.String("job_id", job.ID),
			zap.String("status", string(status)),
			zap.Error(err),
		)
	}
}
