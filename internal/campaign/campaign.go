// Package campaign turns uploads into a reviewable prepare job and a
// confirmed prepare job into per-recipient dispatches.
package campaign

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-mailer/internal/events"
	"github.com/sells-group/lead-mailer/internal/mail"
	"github.com/sells-group/lead-mailer/internal/model"
	"github.com/sells-group/lead-mailer/internal/parser"
	"github.com/sells-group/lead-mailer/internal/render"
	"github.com/sells-group/lead-mailer/internal/store"
)

var (
	// ErrNoFiles is returned when Prepare receives no uploads.
	ErrNoFiles = eris.New("no files uploaded")
	// ErrEmptyRecipientSet is returned when there is nobody to send to.
	ErrEmptyRecipientSet = eris.New("no leads available to send")
	// ErrEmptyBody is returned when a direct send has a blank HTML body.
	ErrEmptyBody = eris.New("body_html must not be blank")
)

// DefaultPreviewLimit caps the number of leads rendered by Prepare.
const DefaultPreviewLimit = 10

// DryRunMessage is reported in dry-run summaries.
const DryRunMessage = "Dry run completed; no emails sent"

// DefaultPublishTimeout bounds each job event publish.
const DefaultPublishTimeout = 5 * time.Second

// Parser parses upload batches.
type Parser interface {
	Parse(ctx context.Context, uploads []parser.Upload) (*parser.Result, error)
}

// Dispatcher delivers one message and reports the outcome.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg mail.Message, dryRun bool) model.DispatchResult
}

// TransitionObserver is notified after every job status change.
type TransitionObserver interface {
	ObserveTransition(kind model.JobKind, status model.JobStatus)
}

// Options configures a Service.
type Options struct {
	Branding     render.Branding
	DefaultTone  string
	PreviewLimit int
	Observer     TransitionObserver
	// PublishTimeout bounds each event publish. Zero uses DefaultPublishTimeout.
	PublishTimeout time.Duration
}

// Service orchestrates prepare, send, and direct send.
type Service struct {
	store        store.Store
	parser       Parser
	renderer     *render.Renderer
	dispatcher   Dispatcher
	events       events.Publisher
	observer     TransitionObserver
	branding     render.Branding
	defaultTone  render.Tone
	previewLimit int

	publishTimeout time.Duration
}

// New creates a Service. A nil publisher disables events.
func New(st store.Store, p Parser, r *render.Renderer, d Dispatcher, pub events.Publisher, opts Options) *Service {
	if pub == nil {
		pub = events.Nop{}
	}
	if opts.PreviewLimit <= 0 {
		opts.PreviewLimit = DefaultPreviewLimit
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = DefaultPublishTimeout
	}
	tone, _ := r.ResolveTone(opts.DefaultTone)
	return &Service{
		store:        st,
		parser:       p,
		renderer:     r,
		dispatcher:   d,
		events:       pub,
		observer:     opts.Observer,
		branding:     opts.Branding,
		defaultTone:  tone,
		previewLimit: opts.PreviewLimit,

		publishTimeout: opts.PublishTimeout,
	}
}

// resolveTone picks the first non-blank candidate and falls back to the
// default tone when it is unknown.
func (s *Service) resolveTone(candidates ...string) render.Tone {
	for _, name := range candidates {
		if name == "" {
			continue
		}
		if t, ok := s.renderer.Tone(name); ok {
			return t
		}
		zap.L().Warn("campaign: unknown tone, using default",
			zap.String("tone", name),
			zap.String("default", s.defaultTone.Name),
		)
		return s.defaultTone
	}
	return s.defaultTone
}

// Job returns a stored job.
func (s *Service) Job(ctx context.Context, id string) (*model.Job, error) {
	return s.store.GetJob(ctx, id)
}

// Unsubscribe adds email to the suppression list. It reports false when the
// address was already suppressed.
func (s *Service) Unsubscribe(ctx context.Context, email string) (bool, error) {
	added, err := s.store.AddSuppression(ctx, email)
	if err != nil {
		return false, err
	}
	zap.L().Info("campaign: unsubscribe", zap.Bool("added", added))
	return added, nil
}

// startJob creates a job and moves it to status.
func (s *Service) startJob(ctx context.Context, kind model.JobKind, payload any, status model.JobStatus) (*model.Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, eris.Wrapf(err, "campaign: marshal %s payload", kind)
	}
	job, err := s.store.CreateJob(ctx, kind, raw)
	if err != nil {
		return nil, err
	}
	if err := s.transition(ctx, job, status, nil); err != nil {
		return nil, err
	}
	return job, nil
}

// transition updates the stored status and publishes an event.
func (s *Service) transition(ctx context.Context, job *model.Job, status model.JobStatus, result any) error {
	var raw json.RawMessage
	if result != nil {
		b, err := json.Marshal(result)
		if err != nil {
			return eris.Wrap(err, "campaign: marshal job result")
		}
		raw = b
	}

	if err := s.store.UpdateJobStatus(ctx, job.ID, status, raw); err != nil {
		return err
	}
	job.Status = status
	if raw != nil {
		job.Result = raw
	}

	if s.observer != nil {
		s.observer.ObserveTransition(job.Kind, status)
	}

	ev := events.Event{JobID: job.ID, Kind: job.Kind, Status: status, OccurredAt: time.Now().UTC()}
	pubCtx, cancel := context.WithTimeout(ctx, s.publishTimeout)
	defer cancel()
	if err := s.events.Publish(pubCtx, ev); err != nil {
		zap.L().Warn("campaign: publish job event", zap.String("job_id", job.ID), zap.Error(err))
	}
	return nil
}

// recordFailure stores a dead-letter record; errors are logged only.
func (s *Service) recordFailure(ctx context.Context, jobID string, res model.DispatchResult) {
	err := s.store.RecordDeliveryFailure(ctx, model.DeliveryFailure{
		JobID:     jobID,
		Email:     res.Email,
		Reason:    res.Reason,
		ErrorType: res.ErrorType,
	})
	if err != nil {
		zap.L().Error("campaign: record delivery failure", zap.String("job_id", jobID), zap.Error(err))
	}
}
