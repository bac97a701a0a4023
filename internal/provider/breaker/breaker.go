package breaker

import (
	"math/rand"
	"sync"
	"time"

	"marketdash/internal/provider"
)

// State of the breaker state machine.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	}
	return "closed"
}

// Config tunes backoff behavior. Zero values fall back to defaults.
type Config struct {
	BaseBackoff time.Duration // first failure backoff, default 2s
	MaxBackoff  time.Duration // exponential cap, default 5m
	AuthBackoff time.Duration // applied on auth failures, default 1h
}

// Breaker is a per-provider circuit breaker.
//
// closed: calls pass, failures counted, rateLimit/server/network failures
// open the breaker with capped exponential backoff plus bounded jitter.
// open: calls are refused until the backoff deadline, then one probe is
// allowed (half-open). A successful probe closes the breaker; a failed
// probe re-opens it with extended backoff.
//
// Auth failures disable the provider: the breaker opens with the long
// auth backoff and reports the disabled state.
type Breaker struct {
	cfg Config

	mu           sync.Mutex
	state        State
	failures     int
	backoffUntil time.Time
	lastErr      string
	lastSuccess  time.Time
	disabled     bool
	probing      bool

	now    func() time.Time
	jitter func() float64 // in [-1,1), scaled to ±10%
}

func New(cfg Config) *Breaker {
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 2 * time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 5 * time.Minute
	}
	if cfg.AuthBackoff < time.Hour {
		cfg.AuthBackoff = time.Hour
	}
	return &Breaker{
		cfg:    cfg,
		now:    time.Now,
		jitter: func() float64 { return rand.Float64()*2 - 1 },
	}
}

// Allow reports whether a call may proceed. In the open state it flips
// to half-open once the backoff deadline passes and admits exactly one
// probe; concurrent callers during the probe are refused.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case Closed:
		return true
	case Open:
		if b.now().Before(b.backoffUntil) {
			return false
		}
		b.state = HalfOpen
		b.probing = true
		return true
	case HalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	}
	return false
}

// Success records a successful call: failures reset, breaker closes.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.failures = 0
	b.probing = false
	b.disabled = false
	b.lastErr = ""
	b.lastSuccess = b.now()
}

// Failure records a failed call and opens the breaker when warranted.
// Schema failures are item-level and do not trip the breaker.
func (b *Breaker) Failure(kind provider.ErrorKind, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.lastErr = err.Error()
	}
	b.probing = false
	switch kind {
	case provider.KindSchema:
		return
	case provider.KindAuth:
		b.disabled = true
		b.state = Open
		b.backoffUntil = b.now().Add(b.cfg.AuthBackoff)
		return
	}
	b.failures++
	b.state = Open
	b.backoffUntil = b.now().Add(b.backoffLocked())
}

// backoffLocked computes min(cap, base*2^(failures-1)) with ±10% jitter.
func (b *Breaker) backoffLocked() time.Duration {
	d := b.cfg.BaseBackoff
	for i := 1; i < b.failures; i++ {
		d *= 2
		if d >= b.cfg.MaxBackoff {
			d = b.cfg.MaxBackoff
			break
		}
	}
	j := time.Duration(float64(d) * 0.1 * b.jitter())
	return d + j
}

// Snapshot fills the breaker-owned fields of a health report.
func (b *Breaker) Snapshot() provider.Health {
	b.mu.Lock()
	defer b.mu.Unlock()
	h := provider.Health{
		ConsecutiveFailures: b.failures,
		LastError:           b.lastErr,
		BackoffUntil:        b.backoffUntil,
		LastSuccess:         b.lastSuccess,
	}
	switch {
	case b.disabled:
		h.State = provider.StateDisabled
	case b.state == Open && b.now().Before(b.backoffUntil):
		h.State = provider.StateOpen
	case b.state != Closed:
		h.State = provider.StateBackoff
	default:
		h.State = provider.StateHealthy
	}
	return h
}
