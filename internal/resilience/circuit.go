package resilience

import (
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// CircuitState is the state of one model's breaker.
type CircuitState int

const (
	// CircuitClosed lets calls through.
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects calls until the reset timeout passes.
	CircuitOpen
	// CircuitHalfOpen lets a single probe call test recovery.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when a model's breaker rejects a call.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// BreakerConfig tunes the per-model circuit breakers.
type BreakerConfig struct {
	// FailureThreshold is the consecutive-failure count that opens the
	// breaker. Default: 5.
	FailureThreshold int
	// ResetTimeout is how long the breaker stays open before allowing a
	// probe. Default: 30s.
	ResetTimeout time.Duration
}

// DefaultBreakerConfig returns sensible defaults for model calls.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{FailureThreshold: 5, ResetTimeout: 30 * time.Second}
}

// Breaker is a circuit breaker for one model.
type Breaker struct {
	cfg BreakerConfig

	mu          sync.Mutex
	state       CircuitState
	failures    int
	lastFailure time.Time

	nowFunc func() time.Time // injectable for testing
}

// NewBreaker creates a breaker with the given config.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	return &Breaker{cfg: cfg, state: CircuitClosed, nowFunc: time.Now}
}

// Allow reports whether a call may proceed, transitioning open breakers to
// half-open once the reset timeout has elapsed.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitOpen:
		if b.nowFunc().Sub(b.lastFailure) >= b.cfg.ResetTimeout {
			b.state = CircuitHalfOpen
			return nil
		}
		return ErrCircuitOpen
	default:
		return nil
	}
}

// Record feeds one call outcome into the breaker.
func (b *Breaker) Record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if success {
		b.state = CircuitClosed
		b.failures = 0
		return
	}

	b.failures++
	b.lastFailure = b.nowFunc()
	if b.state == CircuitHalfOpen || b.failures >= b.cfg.FailureThreshold {
		b.state = CircuitOpen
	}
}

// State returns the current state, accounting for reset-timeout expiry.
func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == CircuitOpen && b.nowFunc().Sub(b.lastFailure) >= b.cfg.ResetTimeout {
		return CircuitHalfOpen
	}
	return b.state
}

// ModelBreakers manages one breaker per model name.
type ModelBreakers struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	cfg      BreakerConfig
}

// NewModelBreakers creates the per-model breaker registry.
func NewModelBreakers(cfg BreakerConfig) *ModelBreakers {
	return &ModelBreakers{breakers: make(map[string]*Breaker), cfg: cfg}
}

// Get returns the breaker for a model, creating it on first use.
func (mb *ModelBreakers) Get(modelName string) *Breaker {
	mb.mu.RLock()
	b, ok := mb.breakers[modelName]
	mb.mu.RUnlock()
	if ok {
		return b
	}

	mb.mu.Lock()
	defer mb.mu.Unlock()
	if b, ok = mb.breakers[modelName]; ok {
		return b
	}
	b = NewBreaker(mb.cfg)
	mb.breakers[modelName] = b
	return b
}

// States snapshots every model's breaker state.
func (mb *ModelBreakers) States() map[string]CircuitState {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	out := make(map[string]CircuitState, len(mb.breakers))
	for name, b := range mb.breakers {
		out[name] = b.State()
	}
	return out
}
