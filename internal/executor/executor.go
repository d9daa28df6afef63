// Package executor drives concurrent model invocations with per-call
// timeouts, early-return cancellation, and per-model failure containment.
package executor

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/modelmesh/internal/model"
	"github.com/sells-group/modelmesh/internal/resilience"
)

// ErrAllModelsFailed reports that every non-cancelled invocation failed.
// Callers branch on this to distinguish total failure from partial success.
var ErrAllModelsFailed = eris.New("executor: all model invocations failed")

// ErrNoInvokeFunc is a hard configuration error: the caller supplied no
// invocation function.
var ErrNoInvokeFunc = eris.New("executor: no invocation function supplied")

// Config tunes execution.
type Config struct {
	// PerModelTimeout bounds each individual invocation, not the request.
	PerModelTimeout time.Duration
	// MinResponses is the default early-return success threshold.
	MinResponses int
	// RateLimits maps model names to requests/sec; zero means unlimited.
	RateLimits map[string]float64
	// Retry applies to transient invocation errors within the call timeout.
	Retry resilience.RetryConfig
	// Breaker configures the per-model circuit breakers.
	Breaker resilience.BreakerConfig
}

// DefaultConfig returns standard execution tuning.
func DefaultConfig() Config {
	return Config{
		PerModelTimeout: 30 * time.Second,
		MinResponses:    2,
		Retry:           resilience.DefaultRetryConfig(),
		Breaker:         resilience.DefaultBreakerConfig(),
	}
}

// Executor runs one concurrent task per selected model.
type Executor struct {
	cfg      Config
	breakers *resilience.ModelBreakers

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New creates an executor.
func New(cfg Config) *Executor {
	if cfg.PerModelTimeout <= 0 {
		cfg.PerModelTimeout = 30 * time.Second
	}
	return &Executor{
		cfg:      cfg,
		breakers: resilience.NewModelBreakers(cfg.Breaker),
		limiters: make(map[string]*rate.Limiter),
	}
}

// BreakerStates snapshots the per-model circuit breaker states.
func (e *Executor) BreakerStates() map[string]resilience.CircuitState {
	return e.breakers.States()
}

// outcome is the tri-state result of one invocation: success, failure, or
// cancelled. Cancelled work is discarded and counts toward neither tally.
type outcome struct {
	resp      model.Response
	cancelled bool
}

// Execute invokes every model concurrently and collects all outcomes.
// Returns ErrAllModelsFailed alongside the response map when nothing
// succeeded.
func (e *Executor) Execute(ctx context.Context, req model.Request, models []model.Model, invoke model.InvokeFunc) (map[string]model.Response, error) {
	return e.run(ctx, req, models, invoke, 0)
}

// ExecuteWithEarlyReturn cancels still-pending invocations as soon as
// minResponses successful responses have arrived.
func (e *Executor) ExecuteWithEarlyReturn(ctx context.Context, req model.Request, models []model.Model, invoke model.InvokeFunc, minResponses int) (map[string]model.Response, error) {
	if minResponses <= 0 {
		minResponses = e.cfg.MinResponses
	}
	return e.run(ctx, req, models, invoke, minResponses)
}

// ExecuteWithFallback runs the primary set; with fewer than two successes it
// additionally runs the fallback set and merges the response maps.
func (e *Executor) ExecuteWithFallback(ctx context.Context, req model.Request, primary, fallback []model.Model, invoke model.InvokeFunc) (map[string]model.Response, error) {
	responses, err := e.Execute(ctx, req, primary, invoke)
	if err != nil && !eris.Is(err, ErrAllModelsFailed) {
		// Primary failed outright (e.g. missing invoke): run fallback alone.
		return e.Execute(ctx, req, fallback, invoke)
	}

	successes := countSuccesses(responses)
	if successes >= 2 {
		return responses, nil
	}

	remaining := fallback[:0:0]
	for _, m := range fallback {
		if _, done := responses[m.Name]; !done {
			remaining = append(remaining, m)
		}
	}
	if len(remaining) > 0 {
		zap.L().Info("executor: primary set insufficient, running fallback",
			zap.Int("primary_successes", successes),
			zap.Int("fallback_models", len(remaining)),
		)
		fbResponses, _ := e.Execute(ctx, req, remaining, invoke)
		for name, resp := range fbResponses {
			responses[name] = resp
		}
	}

	if countSuccesses(responses) == 0 {
		return responses, ErrAllModelsFailed
	}
	return responses, nil
}

func (e *Executor) run(ctx context.Context, req model.Request, models []model.Model, invoke model.InvokeFunc, minResponses int) (map[string]model.Response, error) {
	if invoke == nil {
		return nil, ErrNoInvokeFunc
	}
	if len(models) == 0 {
		return map[string]model.Response{}, ErrAllModelsFailed
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	outcomes := make(chan outcome, len(models))
	for _, m := range models {
		go func(m model.Model) {
			outcomes <- e.invokeOne(runCtx, m, req, invoke)
		}(m)
	}

	responses := make(map[string]model.Response, len(models))
	successes := 0
	earlyReturned := false
	for i := 0; i < len(models); i++ {
		o := <-outcomes
		if o.cancelled {
			continue
		}
		responses[o.resp.ModelName] = o.resp
		if o.resp.Success {
			successes++
			if minResponses > 0 && successes >= minResponses && !earlyReturned {
				earlyReturned = true
				cancel()
			}
		}
	}

	if earlyReturned {
		zap.L().Debug("executor: early return",
			zap.String("request_id", req.ID),
			zap.Int("successes", successes),
			zap.Int("collected", len(responses)),
		)
	}

	if successes == 0 {
		return responses, ErrAllModelsFailed
	}
	return responses, nil
}

// invokeOne wraps one invocation with the model's breaker, rate limiter,
// retry policy, and per-call timeout.
func (e *Executor) invokeOne(parentCtx context.Context, m model.Model, req model.Request, invoke model.InvokeFunc) outcome {
	start := time.Now()

	breaker := e.breakers.Get(m.Name)
	if err := breaker.Allow(); err != nil {
		return outcome{resp: model.FailedResponse(m.Name, "circuit open", 0)}
	}

	callCtx, cancel := context.WithTimeout(parentCtx, e.cfg.PerModelTimeout)
	defer cancel()

	if lim := e.limiter(m.Name); lim != nil {
		if err := lim.Wait(callCtx); err != nil {
			return e.classifyFailure(parentCtx, callCtx, breaker, m.Name, err, time.Since(start))
		}
	}

	resp, err := resilience.DoVal(callCtx, e.cfg.Retry, m.Name, func(ctx context.Context) (model.Response, error) {
		return invoke(ctx, m, req)
	})
	elapsed := time.Since(start)

	if err != nil {
		return e.classifyFailure(parentCtx, callCtx, breaker, m.Name, err, elapsed)
	}

	// An empty result from the invocation boundary is itself a failure.
	if resp.Content == "" && resp.Error == "" {
		breaker.Record(false)
		return outcome{resp: model.FailedResponse(m.Name, "empty response", elapsed)}
	}

	if resp.ModelName == "" {
		resp.ModelName = m.Name
	}
	if resp.ResponseTime == 0 {
		resp.ResponseTime = elapsed
	}
	if resp.Timestamp.IsZero() {
		resp.Timestamp = time.Now().UTC()
	}
	if verr := resp.Validate(); verr != nil {
		breaker.Record(false)
		return outcome{resp: model.FailedResponse(m.Name, verr.Error(), elapsed)}
	}

	breaker.Record(resp.Success)
	return outcome{resp: resp}
}

// classifyFailure sorts an invocation error into cancelled, timeout, or
// plain failure. Cancelled work never feeds the breaker.
func (e *Executor) classifyFailure(parentCtx, callCtx context.Context, breaker *resilience.Breaker, modelName string, err error, elapsed time.Duration) outcome {
	if parentCtx.Err() != nil {
		return outcome{cancelled: true}
	}
	if callCtx.Err() == context.DeadlineExceeded {
		breaker.Record(false)
		return outcome{resp: model.FailedResponse(modelName, "timeout", elapsed)}
	}
	breaker.Record(false)
	return outcome{resp: model.FailedResponse(modelName, err.Error(), elapsed)}
}

func (e *Executor) limiter(modelName string) *rate.Limiter {
	rps, ok := e.cfg.RateLimits[modelName]
	if !ok || rps <= 0 {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	lim, ok := e.limiters[modelName]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(rps), 1)
		e.limiters[modelName] = lim
	}
	return lim
}

func countSuccesses(responses map[string]model.Response) int {
	n := 0
	for _, r := range responses {
		if r.Success {
			n++
		}
	}
	return n
}
