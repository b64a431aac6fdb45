package playback

import (
	"sync"
	"time"
)

// Clock abstracts wall time so tests can pin the anchor arithmetic to exact
// instants.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the actual server system time.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// MockClock implements Clock for testing specific scenarios.
type MockClock struct {
	mu sync.Mutex
	t  time.Time
}

func NewMockClock(t time.Time) *MockClock {
	return &MockClock{t: t}
}

func (m *MockClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t
}

func (m *MockClock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.t = m.t.Add(d)
}

// unix converts a time to fractional unix seconds, the wire representation of
// every anchor.
func unix(t time.Time) float64 {
	return float64(t.UnixMilli()) / 1000.0
}
