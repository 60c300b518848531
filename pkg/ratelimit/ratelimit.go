package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter gates outbound requests against a venue quota.
type Limiter interface {
	Wait(ctx context.Context) error
	Allow() bool
	Remaining() int
	ResetAt() time.Time
}

// TokenBucket refills at a fixed per-second rate up to capacity.
type TokenBucket struct {
	capacity   int
	tokens     int
	refillRate int
	windowSize time.Duration
	lastRefill time.Time
	mu         sync.Mutex
}

func NewTokenBucket(capacity, refillRate int, windowSize time.Duration) *TokenBucket {
	return &TokenBucket{
		capacity:   capacity,
		tokens:     capacity,
		refillRate: refillRate,
		windowSize: windowSize,
		lastRefill: time.Now(),
	}
}

func (tb *TokenBucket) refill() {
	now := time.Now()
	elapsed := now.Sub(tb.lastRefill)

	tokensToAdd := int(elapsed.Seconds()) * tb.refillRate
	if tokensToAdd > 0 {
		tb.tokens = min(tb.capacity, tb.tokens+tokensToAdd)
		tb.lastRefill = now
	}
}

func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()

	if tb.tokens > 0 {
		tb.tokens--
		return true
	}
	return false
}

func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		if tb.Allow() {
			return nil
		}

		tb.mu.Lock()
		tb.refill()
		waitTime := time.Duration(0)
		if tb.tokens == 0 && tb.refillRate > 0 {
			waitTime = time.Second / time.Duration(tb.refillRate)
		}
		tb.mu.Unlock()

		if waitTime == 0 {
			waitTime = tb.windowSize
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(waitTime):
		}
	}
}

func (tb *TokenBucket) Remaining() int {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refill()
	return tb.tokens
}

func (tb *TokenBucket) ResetAt() time.Time {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refill()
	if tb.tokens < tb.capacity && tb.refillRate > 0 {
		needed := tb.capacity - tb.tokens
		seconds := float64(needed) / float64(tb.refillRate)
		return time.Now().Add(time.Duration(seconds * float64(time.Second)))
	}
	return time.Now()
}

// SlidingWindow counts requests inside a moving window.
type SlidingWindow struct {
	limit      int
	windowSize time.Duration
	requests   []time.Time
	mu         sync.Mutex
}

func NewSlidingWindow(limit int, windowSize time.Duration) *SlidingWindow {
	return &SlidingWindow{
		limit:      limit,
		windowSize: windowSize,
		requests:   make([]time.Time, 0),
	}
}

func (sw *SlidingWindow) Allow() bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-sw.windowSize)

	valid := sw.requests[:0]
	for _, req := range sw.requests {
		if req.After(cutoff) {
			valid = append(valid, req)
		}
	}
	sw.requests = valid

	if len(sw.requests) >= sw.limit {
		return false
	}

	sw.requests = append(sw.requests, now)
	return true
}

func (sw *SlidingWindow) Wait(ctx context.Context) error {
	for {
		if sw.Allow() {
			return nil
		}

		sw.mu.Lock()
		oldest := time.Now()
		if len(sw.requests) > 0 {
			oldest = sw.requests[0]
		}
		waitTime := sw.windowSize - time.Since(oldest)
		sw.mu.Unlock()

		if waitTime <= 0 {
			waitTime = 100 * time.Millisecond
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(waitTime):
		}
	}
}

func (sw *SlidingWindow) Remaining() int {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	cutoff := time.Now().Add(-sw.windowSize)
	valid := 0
	for _, req := range sw.requests {
		if req.After(cutoff) {
			valid++
		}
	}
	return max(0, sw.limit-valid)
}

func (sw *SlidingWindow) ResetAt() time.Time {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if len(sw.requests) == 0 {
		return time.Now()
	}
	return sw.requests[0].Add(sw.windowSize)
}

// Manager holds one limiter per venue surface.
type Manager struct {
	limiters map[string]Limiter
	mu       sync.RWMutex
}

func NewManager() *Manager {
	m := &Manager{limiters: make(map[string]Limiter)}
	m.initDefaultLimiters()
	return m
}

// initDefaultLimiters seeds the published per-minute request weights:
// 6000/min on the spot REST surface, 1200/min on futures and the unified
// papi surface, 400/min on the options surface, and a 100/10s order burst
// bucket shared by all order endpoints.
func (m *Manager) initDefaultLimiters() {
	m.limiters["spot"] = NewSlidingWindow(6000, time.Minute)
	m.limiters["futures"] = NewSlidingWindow(1200, time.Minute)
	m.limiters["papi"] = NewSlidingWindow(1200, time.Minute)
	m.limiters["eapi"] = NewSlidingWindow(400, time.Minute)
	m.limiters["order"] = NewTokenBucket(100, 10, 10*time.Second)
}

func (m *Manager) Limiter(surface string) Limiter {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if l, ok := m.limiters[surface]; ok {
		return l
	}
	return m.limiters["futures"]
}

// Set replaces the limiter for a surface.
func (m *Manager) Set(surface string, l Limiter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limiters[surface] = l
}

func (m *Manager) Wait(ctx context.Context, surface string) error {
	return m.Limiter(surface).Wait(ctx)
}

func (m *Manager) Allow(surface string) bool {
	return m.Limiter(surface).Allow()
}

func (m *Manager) Remaining(surface string) int {
	return m.Limiter(surface).Remaining()
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
