// Package ratelimit implements fixed-window request limiting per session.
package ratelimit

import (
	"sync"
	"time"
)

// FixedWindow allows up to limit calls per window. The window restarts on
// the first call after it expires.
type FixedWindow struct {
	mu          sync.Mutex
	limit       int
	window      time.Duration
	count       int
	windowStart time.Time
	now         func() time.Time
}

// NewFixedWindow creates a limiter. window <= 0 means one second.
func NewFixedWindow(limit int, window time.Duration) *FixedWindow {
	return newFixedWindow(limit, window, time.Now)
}

func newFixedWindow(limit int, window time.Duration, now func() time.Time) *FixedWindow {
	if window <= 0 {
		window = time.Second
	}
	return &FixedWindow{
		limit:       limit,
		window:      window,
		windowStart: now(),
		now:         now,
	}
}

func (f *FixedWindow) roll(now time.Time) {
	if now.Sub(f.windowStart) >= f.window {
		f.count = 0
		f.windowStart = now
	}
}

// Allow consumes one slot and reports whether the call may proceed.
func (f *FixedWindow) Allow() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.roll(f.now())
	if f.count >= f.limit {
		return false
	}
	f.count++
	return true
}

// Remaining returns the slots left in the current window.
func (f *FixedWindow) Remaining() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.roll(f.now())
	return max(f.limit-f.count, 0)
}

// RetryAfter returns how long until the current window ends.
func (f *FixedWindow) RetryAfter() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	f.roll(now)
	return max(f.window-now.Sub(f.windowStart), 0)
}

// Manager keeps one FixedWindow per session id.
type Manager struct {
	mu       sync.Mutex
	limit    int
	window   time.Duration
	limiters map[string]*FixedWindow
	now      func() time.Time
}

func NewManager(limit int, window time.Duration) *Manager {
	return &Manager{
		limit:    limit,
		window:   window,
		limiters: make(map[string]*FixedWindow),
		now:      time.Now,
	}
}

// Limiter returns the limiter of id, creating it on first use.
func (m *Manager) Limiter(id string) *FixedWindow {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.limiters[id]
	if !ok {
		l = newFixedWindow(m.limit, m.window, m.now)
		m.limiters[id] = l
	}
	return l
}

// Allow consumes one slot of id's limiter.
func (m *Manager) Allow(id string) bool {
	return m.Limiter(id).Allow()
}

// Remove forgets id, typically when its session closes.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.limiters, id)
}

// ActiveSessions returns how many ids have a limiter.
func (m *Manager) ActiveSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.limiters)
}
