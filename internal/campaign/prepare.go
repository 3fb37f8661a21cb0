package campaign

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/lead-mailer/internal/model"
	"github.com/sells-group/lead-mailer/internal/parser"
	"github.com/sells-group/lead-mailer/internal/redact"
	"github.com/sells-group/lead-mailer/internal/render"
)

// PreviewEntry is one masked lead and the email it would receive.
type PreviewEntry struct {
	Lead      model.Lead `json:"lead"`
	EmailHTML string     `json:"email_html"`
}

// PrepareResult is returned by Prepare.
type PrepareResult struct {
	JobID     string            `json:"job_id"`
	LeadCount int               `json:"lead_count"`
	Tone      string            `json:"tone"`
	Preview   []PreviewEntry    `json:"preview"`
	Metrics   model.Metrics     `json:"metrics"`
	Documents []parser.Document `json:"documents,omitempty"`
}

// Prepare parses uploads, renders a masked preview of the first leads, and
// records a prepared job holding the full lead list.
func (s *Service) Prepare(ctx context.Context, uploads []parser.Upload, tone string) (*PrepareResult, error) {
	if len(uploads) == 0 {
		return nil, ErrNoFiles
	}

	t := s.resolveTone(tone)

	parsed, err := s.parser.Parse(ctx, uploads)
	if err != nil {
		return nil, err
	}

	preview, err := s.buildPreview(parsed.Leads, parsed.Metrics, t)
	if err != nil {
		return nil, err
	}

	payload := model.PreparePayload{Tone: t.Name, Metrics: parsed.Metrics, Leads: parsed.Leads}
	if payload.Leads == nil {
		payload.Leads = []model.Lead{}
	}
	job, err := s.startJob(ctx, model.JobKindPrepare, payload, model.StatusPrepared)
	if err != nil {
		return nil, err
	}

	zap.L().Info("campaign: prepared",
		zap.String("job_id", job.ID),
		zap.Int("leads", len(parsed.Leads)),
		zap.String("tone", t.Name),
	)

	return &PrepareResult{
		JobID:     job.ID,
		LeadCount: len(parsed.Leads),
		Tone:      t.Name,
		Preview:   preview,
		Metrics:   parsed.Metrics,
		Documents: parsed.Documents,
	}, nil
}

// buildPreview renders with the unmasked lead and masks only the echoed copy.
func (s *Service) buildPreview(leads []model.Lead, metrics model.Metrics, tone render.Tone) ([]PreviewEntry, error) {
	n := min(len(leads), s.previewLimit)
	out := make([]PreviewEntry, 0, n)
	for _, lead := range leads[:n] {
		html, err := s.renderer.Render(tone.Template, render.BuildContext(lead, metrics, s.branding))
		if err != nil {
			return nil, err
		}
		out = append(out, PreviewEntry{Lead: maskLead(lead), EmailHTML: html})
	}
	return out, nil
}

func maskLead(l model.Lead) model.Lead {
	if l.Email != "" {
		l.Email = redact.Email(l.Email)
	}
	if l.Phone != "" {
		l.Phone = redact.Phone(l.Phone)
	}
	return l
}
