package campaign

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/lead-mailer/internal/mail"
	"github.com/sells-group/lead-mailer/internal/model"
)

// DirectRequest sends caller-supplied HTML to explicit recipients.
type DirectRequest struct {
	Recipients []string
	Subject    string
	HTML       string
	DryRun     bool
}

// DirectSend dispatches req.HTML to every recipient and records a direct job.
// Sent is true only when every recipient was delivered by the transport;
// Reason is the first non-delivery reason.
func (s *Service) DirectSend(ctx context.Context, req DirectRequest) (*model.DirectSendResult, error) {
	if strings.TrimSpace(req.HTML) == "" {
		return nil, ErrEmptyBody
	}
	recipients := make([]string, 0, len(req.Recipients))
	for _, r := range req.Recipients {
		if r = strings.TrimSpace(r); r != "" {
			recipients = append(recipients, r)
		}
	}
	if len(recipients) == 0 {
		return nil, ErrEmptyRecipientSet
	}
	subject := req.Subject
	if strings.TrimSpace(subject) == "" {
		subject = s.defaultTone.Subject
	}

	job, err := s.startJob(ctx, model.JobKindDirect, model.DirectPayload{
		Recipients: recipients,
		Subject:    subject,
		DryRun:     req.DryRun,
	}, model.StatusQueued)
	if err != nil {
		return nil, err
	}
	ctx = context.WithoutCancel(ctx)

	out := &model.DirectSendResult{ID: job.ID, Sent: true, Results: make([]model.DispatchResult, 0, len(recipients))}
	failed := false
	for _, to := range recipients {
		res := s.dispatcher.Dispatch(ctx, mail.Message{To: to, Subject: subject, HTML: req.HTML}, req.DryRun)
		out.Results = append(out.Results, res)
		if res.Sent {
			continue
		}
		out.Sent = false
		if out.Reason == "" {
			out.Reason = res.Reason
		}
		if res.Outcome == model.OutcomeFailed {
			failed = true
			s.recordFailure(ctx, job.ID, res)
		}
	}

	status := model.StatusCompleted
	switch {
	case req.DryRun:
		status = model.StatusDryRun
	case failed:
		status = model.StatusCompletedWithErrors
	}
	s.finish(ctx, job, status, out)

	zap.L().Info("campaign: direct send finished",
		zap.String("job_id", job.ID),
		zap.Int("recipients", len(recipients)),
		zap.Bool("sent", out.Sent),
		zap.String("status", string(status)),
	)
	return out, nil
}
