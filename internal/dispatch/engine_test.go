package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/sells-group/lead-mailer/internal/config"
	"github.com/sells-group/lead-mailer/internal/mail"
	"github.com/sells-group/lead-mailer/internal/model"
	"github.com/sells-group/lead-mailer/internal/resilience"
)

type fakeTransport struct {
	mu    sync.Mutex
	calls []string
	errs  []error // returned in order; nil when exhausted
}

func (f *fakeTransport) Deliver(_ context.Context, msg mail.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, msg.To)
	if len(f.errs) == 0 {
		return nil
	}
	err := f.errs[0]
	f.errs = f.errs[1:]
	return err
}

func (f *fakeTransport) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeSuppressions struct {
	emails map[string]bool
	err    error
}

func (f fakeSuppressions) IsSuppressed(_ context.Context, email string) (bool, error) {
	return f.emails[email], f.err
}

func fastPolicy() Policy {
	return Policy{
		Retry: resilience.RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     2 * time.Millisecond,
			Multiplier:     2,
			ShouldRetry:    resilience.IsRetryable,
		},
		Limiter: rate.NewLimiter(rate.Inf, 1),
	}
}

func msg(to string) mail.Message {
	return mail.Message{To: to, Subject: "Funding", HTML: "<p>hi</p>"}
}

func TestDispatch_Sent(t *testing.T) {
	tr := &fakeTransport{}
	e := NewEngine(fastPolicy(), tr, fakeSuppressions{})

	res := e.Dispatch(context.Background(), msg("a@x.com"), false)
	assert.True(t, res.Sent)
	assert.Equal(t, model.OutcomeSent, res.Outcome)
	assert.Empty(t, res.Reason)
	assert.Equal(t, 1, tr.count())
}

func TestDispatch_SuppressedNeverReachesLimiterOrTransport(t *testing.T) {
	tr := &fakeTransport{}
	p := fastPolicy()
	p.Limiter = rate.NewLimiter(rate.Every(time.Hour), 1)
	require.True(t, p.Limiter.Allow()) // drain the only token

	e := NewEngine(p, tr, fakeSuppressions{emails: map[string]bool{"b@x.com": true}})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	res := e.Dispatch(ctx, msg("b@x.com"), false)

	assert.False(t, res.Sent)
	assert.Equal(t, model.OutcomeSuppressed, res.Outcome)
	assert.Equal(t, ReasonSuppressed, res.Reason)
	assert.Zero(t, tr.count())
}

func TestDispatch_DryRunSkipsTransportAndLimiter(t *testing.T) {
	tr := &fakeTransport{}
	p := fastPolicy()
	p.Limiter = rate.NewLimiter(rate.Every(time.Hour), 1)
	require.True(t, p.Limiter.Allow())

	e := NewEngine(p, tr, fakeSuppressions{})
	res := e.Dispatch(context.Background(), msg("a@x.com"), true)

	assert.False(t, res.Sent)
	assert.Equal(t, model.OutcomeSimulated, res.Outcome)
	assert.Equal(t, ReasonDryRun, res.Reason)
	assert.Zero(t, tr.count())
}

func TestDispatch_RetriesTransientThenSucceeds(t *testing.T) {
	tr := &fakeTransport{errs: []error{
		resilience.NewTransientError(errors.New("busy"), 503),
		errors.New("connection dropped"),
	}}
	e := NewEngine(fastPolicy(), tr, fakeSuppressions{})

	res := e.Dispatch(context.Background(), msg("a@x.com"), false)
	assert.True(t, res.Sent)
	assert.Equal(t, 3, tr.count())
}

func TestDispatch_ExhaustedRetriesReportFailure(t *testing.T) {
	fail := errors.New("smtp unavailable")
	tr := &fakeTransport{errs: []error{fail, fail, fail, fail}}
	e := NewEngine(fastPolicy(), tr, fakeSuppressions{})

	res := e.Dispatch(context.Background(), msg("c@x.com"), false)
	assert.False(t, res.Sent)
	assert.Equal(t, model.OutcomeFailed, res.Outcome)
	assert.Equal(t, "smtp unavailable", res.Reason)
	assert.Equal(t, resilience.ErrorTypeTransient, res.ErrorType)
	assert.Equal(t, 3, tr.count())
}

func TestDispatch_PermanentErrorNotRetried(t *testing.T) {
	tr := &fakeTransport{errs: []error{resilience.NewPermanentError(errors.New("550 no such user"), 550)}}
	e := NewEngine(fastPolicy(), tr, fakeSuppressions{})

	res := e.Dispatch(context.Background(), msg("c@x.com"), false)
	assert.Equal(t, model.OutcomeFailed, res.Outcome)
	assert.Equal(t, resilience.ErrorTypePermanent, res.ErrorType)
	assert.Equal(t, 1, tr.count())
}

func TestDispatch_SuppressionLookupErrorFails(t *testing.T) {
	tr := &fakeTransport{}
	e := NewEngine(fastPolicy(), tr, fakeSuppressions{err: errors.New("database is locked")})

	res := e.Dispatch(context.Background(), msg("a@x.com"), false)
	assert.Equal(t, model.OutcomeFailed, res.Outcome)
	assert.Contains(t, res.Reason, "database is locked")
	assert.Zero(t, tr.count())
}

func TestDispatch_CanceledWhileWaitingForLimiter(t *testing.T) {
	tr := &fakeTransport{}
	p := fastPolicy()
	p.Limiter = rate.NewLimiter(rate.Every(time.Hour), 1)
	require.True(t, p.Limiter.Allow())
	e := NewEngine(p, tr, fakeSuppressions{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	res := e.Dispatch(ctx, msg("a@x.com"), false)

	assert.Equal(t, model.OutcomeFailed, res.Outcome)
	assert.Zero(t, tr.count())
}

func TestDispatch_SharedLimiterBlocks(t *testing.T) {
	tr := &fakeTransport{}
	p := fastPolicy()
	p.Limiter = NewLimiter(2, 200*time.Millisecond) // burst 2, then one per 100ms
	e := NewEngine(p, tr, fakeSuppressions{})

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := e.Dispatch(context.Background(), msg("a@x.com"), false)
			assert.True(t, res.Sent)
		}()
	}
	wg.Wait()

	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
	assert.Equal(t, 3, tr.count())
}

func TestNewPolicy(t *testing.T) {
	p := NewPolicy(config.DispatchConfig{
		RateLimit:        60,
		WindowSecs:       60,
		MaxAttempts:      3,
		InitialBackoffMs: 2000,
		MaxBackoffMs:     10000,
		Multiplier:       2,
	})

	assert.Equal(t, 3, p.Retry.MaxAttempts)
	assert.Equal(t, 2*time.Second, p.Retry.InitialBackoff)
	assert.Equal(t, 10*time.Second, p.Retry.MaxBackoff)
	assert.Zero(t, p.Retry.JitterFraction)
	require.NotNil(t, p.Retry.ShouldRetry)
	assert.False(t, p.Retry.ShouldRetry(resilience.NewPermanentError(errors.New("x"), 0)))
	require.NotNil(t, p.Limiter)
	assert.Equal(t, 60, p.Limiter.Burst())
	assert.InDelta(t, 1.0, float64(p.Limiter.Limit()), 0.0001)
}

func TestNewEngine_NilLimiter(t *testing.T) {
	e := NewEngine(Policy{Retry: fastPolicy().Retry}, &fakeTransport{}, fakeSuppressions{})
	require.NotNil(t, e.policy.Limiter)
	assert.True(t, e.Dispatch(context.Background(), msg("a@x.com"), false).Sent)
}

type countingObserver struct {
	mu       sync.Mutex
	outcomes []model.Outcome
}

func (c *countingObserver) ObserveDispatch(res model.DispatchResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outcomes = append(c.outcomes, res.Outcome)
}

func TestDispatch_Observer(t *testing.T) {
	obs := &countingObserver{}
	e := NewEngine(fastPolicy(), &fakeTransport{}, fakeSuppressions{emails: map[string]bool{"s@x.com": true}}, WithObserver(obs))

	e.Dispatch(context.Background(), msg("a@x.com"), false)
	e.Dispatch(context.Background(), msg("s@x.com"), false)
	e.Dispatch(context.Background(), msg("a@x.com"), true)

	assert.Equal(t, []model.Outcome{model.OutcomeSent, model.OutcomeSuppressed, model.OutcomeSimulated}, obs.outcomes)
}
