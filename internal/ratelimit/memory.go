package ratelimit

import (
	"context"
	"sync"
	"time"
)

const sweepInterval = time.Minute

// Memory is a per-key fixed-window counter with the same windows as Redis:
// at most Limit requests per key in each Window-aligned slot.
type Memory struct {
	rule Rule
	now  func() time.Time

	mu        sync.Mutex
	windows   map[string]*window
	lastSweep time.Time
}

type window struct {
	slot  int64
	count int
}

// NewMemory builds an in-process limiter for rule.
func NewMemory(rule Rule) *Memory {
	return &Memory{
		rule:    rule,
		now:     time.Now,
		windows: make(map[string]*window),
	}
}

// WithClock overrides the time source.
func (m *Memory) WithClock(fn func() time.Time) *Memory {
	m.now = fn
	return m
}

func (m *Memory) Allow(_ context.Context, key string) (Decision, error) {
	if m.rule.Limit <= 0 {
		return Decision{Allowed: true}, nil
	}
	if key == "" {
		key = "unknown"
	}
	now := m.now()
	size := windowSize(m.rule.Window)
	slot := now.Unix() / int64(size/time.Second)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweep(now, slot)

	w, ok := m.windows[key]
	if !ok || w.slot != slot {
		w = &window{slot: slot}
		m.windows[key] = w
	}
	if w.count >= m.rule.Limit {
		return Decision{RetryAfter: slotEnd(slot, size).Sub(now)}, nil
	}
	w.count++
	return Decision{Allowed: true}, nil
}

// sweep drops counters from past slots.
func (m *Memory) sweep(now time.Time, slot int64) {
	if now.Sub(m.lastSweep) < sweepInterval {
		return
	}
	m.lastSweep = now
	for k, w := range m.windows {
		if w.slot != slot {
			delete(m.windows, k)
		}
	}
}

// windowSize truncates w to whole seconds, with a one second floor.
func windowSize(w time.Duration) time.Duration {
	w = w.Truncate(time.Second)
	if w <= 0 {
		return time.Second
	}
	return w
}

func slotEnd(slot int64, size time.Duration) time.Time {
	return time.Unix((slot+1)*int64(size/time.Second), 0)
}
