package ratelimit

import (
	"context"
	"sync"
	"time"
)

const sweepInterval = 5 * time.Minute

// Decision is the outcome of a Consume call
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Limiter consumes points from a fixed window keyed by an arbitrary string.
// A limit <= 0 never limits.
type Limiter interface {
	Consume(ctx context.Context, key string, points, limit int, window time.Duration) Decision
	Close() error
}

type memoryLimiter struct {
	mu      sync.Mutex
	entries map[string]windowState
	stopCh  chan struct{}
	once    sync.Once
}

type windowState struct {
	count     int
	windowEnd time.Time
}

// NewMemory returns a process-local limiter
func NewMemory() Limiter {
	rl := &memoryLimiter{
		entries: make(map[string]windowState),
		stopCh:  make(chan struct{}),
	}
	go rl.sweepLoop()
	return rl
}

func (rl *memoryLimiter) Consume(_ context.Context, key string, points, limit int, window time.Duration) Decision {
	if limit <= 0 {
		return Decision{Allowed: true, Limit: limit}
	}
	if window <= 0 {
		window = time.Second
	}
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	state, ok := rl.entries[key]
	if !ok || now.After(state.windowEnd) {
		state = windowState{windowEnd: now.Add(window)}
	}
	if state.count+points > limit {
		rl.entries[key] = state
		return Decision{Allowed: false, Limit: limit, Remaining: max(limit-state.count, 0), ResetAt: state.windowEnd}
	}
	state.count += points
	rl.entries[key] = state
	return Decision{Allowed: true, Limit: limit, Remaining: limit - state.count, ResetAt: state.windowEnd}
}

func (rl *memoryLimiter) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.cleanup(time.Now())
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *memoryLimiter) cleanup(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, state := range rl.entries {
		if now.After(state.windowEnd) {
			delete(rl.entries, key)
		}
	}
}

func (rl *memoryLimiter) Close() error {
	rl.once.Do(func() {
		close(rl.stopCh)
	})
	return nil
}
