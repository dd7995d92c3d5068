package instantly

import (
	"context"
	"sync"
	"time"
)

const limiterWindow = 10

// LimiterConfig tunes the adaptive limiter. Zero values fall back to the
// production defaults.
type LimiterConfig struct {
	Floor    time.Duration // minimum inter-call delay
	Ceiling  time.Duration // maximum inter-call delay
	Cooldown time.Duration // breaker open duration
}

// opState tracks pacing and health for a single operation kind.
type opState struct {
	delay    time.Duration
	lastCall time.Time

	results  [limiterWindow]bool
	idx      int
	filled   int
	failures int

	openUntil time.Time
}

// AdaptiveLimiter paces calls per operation kind. The delay doubles toward
// the ceiling on failure and decays toward the floor on success, so a
// rate-limited or degraded remote slows the engine down instead of
// triggering retry storms. A rolling window of the last ten outcomes feeds
// a circuit breaker: at 80% failures the operation is paused for a
// cooldown before probing again.
//
// The limiter is owned by the client that uses it; sharing one across
// unrelated clients would couple their pacing.
type AdaptiveLimiter struct {
	mu       sync.Mutex
	floor    time.Duration
	ceiling  time.Duration
	cooldown time.Duration
	ops      map[string]*opState

	now func() time.Time
}

// NewAdaptiveLimiter creates a limiter with the given tuning. Defaults:
// 500ms floor, 10s ceiling, 30s breaker cooldown.
func NewAdaptiveLimiter(cfg LimiterConfig) *AdaptiveLimiter {
	if cfg.Floor <= 0 {
		cfg.Floor = 500 * time.Millisecond
	}
	if cfg.Ceiling <= 0 {
		cfg.Ceiling = 10 * time.Second
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	return &AdaptiveLimiter{
		floor:    cfg.Floor,
		ceiling:  cfg.Ceiling,
		cooldown: cfg.Cooldown,
		ops:      make(map[string]*opState),
		now:      time.Now,
	}
}

func (l *AdaptiveLimiter) state(op string) *opState {
	s, ok := l.ops[op]
	if !ok {
		s = &opState{delay: l.floor}
		l.ops[op] = s
	}
	return s
}

// Wait blocks until the operation may proceed. It returns ErrCircuitOpen
// while the operation's breaker is cooling down, and the context error if
// the caller is cancelled mid-wait.
func (l *AdaptiveLimiter) Wait(ctx context.Context, op string) error {
	l.mu.Lock()
	s := l.state(op)
	now := l.now()

	if now.Before(s.openUntil) {
		l.mu.Unlock()
		return ErrCircuitOpen
	}

	var sleep time.Duration
	if !s.lastCall.IsZero() {
		if elapsed := now.Sub(s.lastCall); elapsed < s.delay {
			sleep = s.delay - elapsed
		}
	}
	s.lastCall = now.Add(sleep)
	l.mu.Unlock()

	if sleep <= 0 {
		return nil
	}
	timer := time.NewTimer(sleep)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Record feeds a call outcome back into the limiter.
func (l *AdaptiveLimiter) Record(op string, success bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := l.state(op)

	// Rolling window bookkeeping.
	if s.filled == limiterWindow {
		if !s.results[s.idx] {
			s.failures--
		}
	} else {
		s.filled++
	}
	s.results[s.idx] = success
	if !success {
		s.failures++
	}
	s.idx = (s.idx + 1) % limiterWindow

	if success {
		s.delay = time.Duration(float64(s.delay) * 0.75)
		if s.delay < l.floor {
			s.delay = l.floor
		}
		return
	}

	s.delay *= 2
	if s.delay > l.ceiling {
		s.delay = l.ceiling
	}

	// Breaker only trips on a full window so a single early failure
	// cannot open it.
	if s.filled == limiterWindow && s.failures*10 >= limiterWindow*8 {
		s.openUntil = l.now().Add(l.cooldown)
		s.results = [limiterWindow]bool{}
		s.idx, s.filled, s.failures = 0, 0, 0
	}
}

// Delay reports the current inter-call delay for an operation.
func (l *AdaptiveLimiter) Delay(op string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state(op).delay
}
