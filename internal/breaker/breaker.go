package breaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned without invoking the wrapped operation while the
// breaker is open (or a half-open probe is already in flight).
var ErrOpen = errors.New("circuit breaker open")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	}
	return "UNKNOWN"
}

type Config struct {
	FailureThreshold int           // consecutive infra failures before tripping; default 5
	CoolDown         time.Duration // open duration before a probe is allowed; default 30s
	CallTimeout      time.Duration // per-call deadline; 0 = caller's context only
	WindowSize       int           // rolling outcome window for the health score; default 50

	// Expected filters business-logic errors (insufficient stock, bad input)
	// that must not count toward the failure threshold.
	Expected func(error) bool
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.CoolDown <= 0 {
		c.CoolDown = 30 * time.Second
	}
	if c.WindowSize <= 0 {
		c.WindowSize = 50
	}
	return c
}

type Status struct {
	Name        string    `json:"name"`
	State       string    `json:"state"`
	Failures    int       `json:"failures"`
	HealthScore float64   `json:"health_score"`
	NextRetryAt time.Time `json:"next_retry_at,omitempty"`
}

// Breaker protects one operation class. All state sits behind the mutex;
// there are no package-level instances.
type Breaker struct {
	name string
	cfg  Config

	mu        sync.Mutex
	state     State
	failures  int
	nextRetry time.Time
	probing   bool

	window []bool // true = success
	widx   int
	wlen   int

	now func() time.Time
}

func New(name string, cfg Config) *Breaker {
	cfg = cfg.withDefaults()
	return &Breaker{
		name:   name,
		cfg:    cfg,
		window: make([]bool, cfg.WindowSize),
		now:    time.Now,
	}
}

// Execute runs op through the breaker. While open it fails fast with ErrOpen;
// in half-open exactly one probe call is let through. A nil receiver is a
// pass-through, so Manager.Get results can be called without a nil check.
func (b *Breaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	if b == nil {
		return op(ctx)
	}
	if err := b.allow(); err != nil {
		return err
	}

	if b.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.cfg.CallTimeout)
		defer cancel()
	}

	err := op(ctx)
	b.record(err)
	return err
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if b.now().Before(b.nextRetry) {
			return ErrOpen
		}
		b.state = StateHalfOpen
		b.probing = true
		return nil
	case StateHalfOpen:
		if b.probing {
			return ErrOpen
		}
		b.probing = true
		return nil
	}
	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	failure := err != nil && !(b.cfg.Expected != nil && b.cfg.Expected(err))
	b.observe(!failure)

	if b.state == StateHalfOpen {
		b.probing = false
		if failure {
			b.trip()
		} else {
			b.state = StateClosed
			b.failures = 0
		}
		return
	}

	if failure {
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.trip()
		}
		return
	}
	b.failures = 0
}

// trip must be called with the mutex held.
func (b *Breaker) trip() {
	b.state = StateOpen
	b.nextRetry = b.now().Add(b.cfg.CoolDown)
}

func (b *Breaker) observe(success bool) {
	b.window[b.widx] = success
	b.widx = (b.widx + 1) % len(b.window)
	if b.wlen < len(b.window) {
		b.wlen++
	}
}

// Status reports the breaker for health surfaces. The health score is the
// rolling success rate, penalized while not closed; it never feeds back into
// the transition logic.
func (b *Breaker) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	score := 1.0
	if b.wlen > 0 {
		ok := 0
		for i := 0; i < b.wlen; i++ {
			if b.window[i] {
				ok++
			}
		}
		score = float64(ok) / float64(b.wlen)
	}
	switch b.state {
	case StateOpen:
		score *= 0.5
	case StateHalfOpen:
		score *= 0.8
	}

	st := Status{
		Name:        b.name,
		State:       b.state.String(),
		Failures:    b.failures,
		HealthScore: score,
	}
	if b.state == StateOpen {
		st.NextRetryAt = b.nextRetry
	}
	return st
}

func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.probing = false
	b.widx, b.wlen = 0, 0
}

func (b *Breaker) ForceOpen() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trip()
}
