// Package ratelimit implements windowed quota admission control for
// rate-limited external endpoints.
package ratelimit

import (
	"sync"
	"time"

	"github.com/mentionwatch/mentionwatch/internal/monitor"
)

// DefaultSafetyMargin is the fixed request buffer kept below every declared
// limit so the pipeline never runs an endpoint to its hard cap.
const DefaultSafetyMargin = 10

// Quota declares one endpoint class's advertised limit.
type Quota struct {
	Requests int
	Window   time.Duration
}

type bucket struct {
	quota       Quota
	count       int
	windowStart time.Time
}

// Guard tracks per-endpoint-class usage and admits or denies requests.
// Safe for concurrent use; the check-then-act sequence across CanAdmit and
// RecordUsage still requires callers to check before they act.
type Guard struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	margin  int
	clock   monitor.Clock
}

// Config controls guard behavior.
type Config struct {
	SafetyMargin int
	Clock        monitor.Clock
}

// New creates a Guard. A nil clock falls back to the system clock.
func New(cfg Config) *Guard {
	margin := cfg.SafetyMargin
	if margin <= 0 {
		margin = DefaultSafetyMargin
	}
	clk := cfg.Clock
	if clk == nil {
		clk = systemClock{}
	}
	return &Guard{
		buckets: make(map[string]*bucket),
		margin:  margin,
		clock:   clk,
	}
}

// Register declares the quota for an endpoint class. Re-registering resets
// the class's window.
func (g *Guard) Register(class string, quota Quota) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.buckets[class] = &bucket{
		quota:       quota,
		windowStart: g.clock.Now(),
	}
}

// CanAdmit reports whether n more requests fit under the class limit minus
// the safety margin. An expired window is reset before evaluating. Unknown
// classes are admitted; only declared quotas constrain.
func (g *Guard) CanAdmit(class string, n int) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	b, ok := g.buckets[class]
	if !ok {
		return true
	}
	g.rollover(b)
	return b.count+n <= b.quota.Requests-g.margin
}

// RecordUsage adds n requests to the class counter. The counter never
// decrements except on window reset.
func (g *Guard) RecordUsage(class string, n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	b, ok := g.buckets[class]
	if !ok {
		return
	}
	g.rollover(b)
	b.count += n
}

// SuggestedBackoff returns a staged congestion-avoidance delay: usage above
// 80% of the limit with time remaining in the window yields a large delay,
// above 50% a moderate one, otherwise none.
func (g *Guard) SuggestedBackoff(class string) time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	b, ok := g.buckets[class]
	if !ok || b.quota.Requests <= 0 {
		return 0
	}
	g.rollover(b)

	usage := float64(b.count) / float64(b.quota.Requests)
	remaining := b.quota.Window - g.clock.Now().Sub(b.windowStart)
	switch {
	case usage > 0.8 && remaining > 0:
		return remaining
	case usage > 0.5:
		return b.quota.Window / 4
	default:
		return 0
	}
}

// Reset clears the class counter and restarts its window.
func (g *Guard) Reset(class string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	b, ok := g.buckets[class]
	if !ok {
		return
	}
	b.count = 0
	b.windowStart = g.clock.Now()
}

// Usage returns the current count for a class, after rollover.
func (g *Guard) Usage(class string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	b, ok := g.buckets[class]
	if !ok {
		return 0
	}
	g.rollover(b)
	return b.count
}

func (g *Guard) rollover(b *bucket) {
	now := g.clock.Now()
	if b.quota.Window > 0 && now.Sub(b.windowStart) >= b.quota.Window {
		b.count = 0
		b.windowStart = now
	}
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}
