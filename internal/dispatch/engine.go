// Package dispatch delivers one rendered email per recipient under a shared
// rate limit, retrying transient transport failures.
package dispatch

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/lead-mailer/internal/mail"
	"github.com/sells-group/lead-mailer/internal/model"
	"github.com/sells-group/lead-mailer/internal/resilience"
)

// Reasons reported on non-delivered results.
const (
	ReasonSuppressed = "suppressed"
	ReasonDryRun     = "dry_run"
)

// SuppressionChecker answers whether an address has opted out.
type SuppressionChecker interface {
	IsSuppressed(ctx context.Context, email string) (bool, error)
}

// Observer is notified of every dispatch result.
type Observer interface {
	ObserveDispatch(res model.DispatchResult)
}

// Option configures an Engine.
type Option func(*Engine)

// WithObserver registers an observer for dispatch results.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		e.observer = o
	}
}

// Engine dispatches messages. It is safe for concurrent use; all callers
// share the policy's limiter.
type Engine struct {
	policy       Policy
	transport    mail.Transport
	suppressions SuppressionChecker
	observer     Observer
}

// NewEngine creates a dispatch engine.
func NewEngine(policy Policy, transport mail.Transport, suppressions SuppressionChecker, opts ...Option) *Engine {
	if policy.Limiter == nil {
		policy.Limiter = NewLimiter(0, 0)
	}
	e := &Engine{policy: policy, transport: transport, suppressions: suppressions}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Dispatch delivers msg and reports the outcome. It never returns an error:
// suppression, dry runs, and exhausted retries are all outcomes.
func (e *Engine) Dispatch(ctx context.Context, msg mail.Message, dryRun bool) model.DispatchResult {
	res := e.dispatch(ctx, msg, dryRun)
	if e.observer != nil {
		e.observer.ObserveDispatch(res)
	}
	return res
}

func (e *Engine) dispatch(ctx context.Context, msg mail.Message, dryRun bool) model.DispatchResult {
	res := model.DispatchResult{Email: msg.To}
	log := zap.L().With(zap.String("email", msg.To))

	suppressed, err := e.suppressions.IsSuppressed(ctx, msg.To)
	if err != nil {
		log.Error("dispatch: suppression lookup failed", zap.Error(err))
		return failed(res, err)
	}
	if suppressed {
		res.Outcome = model.OutcomeSuppressed
		res.Reason = ReasonSuppressed
		return res
	}

	if dryRun {
		res.Outcome = model.OutcomeSimulated
		res.Reason = ReasonDryRun
		return res
	}

	if err := e.policy.Limiter.Wait(ctx); err != nil {
		log.Warn("dispatch: rate limiter wait aborted", zap.Error(err))
		return failed(res, err)
	}

	err = resilience.Do(ctx, e.policy.Retry, func(ctx context.Context) error {
		return e.transport.Deliver(ctx, msg)
	})
	if err != nil {
		log.Warn("dispatch: delivery failed", zap.Error(err))
		return failed(res, err)
	}

	res.Sent = true
	res.Outcome = model.OutcomeSent
	log.Debug("dispatch: delivered")
	return res
}

func failed(res model.DispatchResult, err error) model.DispatchResult {
	res.Outcome = model.OutcomeFailed
	res.Reason = err.Error()
	res.ErrorType = resilience.ClassifyError(err)
	return res
}
