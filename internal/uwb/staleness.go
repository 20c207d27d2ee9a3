package uwb

import (
	"sync"
	"time"

	"github.com/banshee-data/uwb.follow/internal/timeutil"
)

// DefaultStaleAfter is how long without a decoded sample before the data is
// reported stale.
const DefaultStaleAfter = 500 * time.Millisecond

// Staleness tracks the time since the last successfully decoded sample.
// Stale data is informational: nothing is reset when it goes stale, the last
// good sample simply keeps being reported.
type Staleness struct {
	clock   timeutil.Clock
	timeout time.Duration

	mu   sync.Mutex
	last time.Time
}

// NewStaleness starts the timer from now, as if a sample had just arrived.
func NewStaleness(clock timeutil.Clock, timeout time.Duration) *Staleness {
	if timeout <= 0 {
		timeout = DefaultStaleAfter
	}
	return &Staleness{clock: clock, timeout: timeout, last: clock.Now()}
}

// MarkFresh records a successful decode.
func (s *Staleness) MarkFresh() {
	s.mu.Lock()
	s.last = s.clock.Now()
	s.mu.Unlock()
}

// Age returns the time since the last successful decode.
func (s *Staleness) Age() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock.Since(s.last)
}

// Stale reports whether Age exceeds the timeout.
func (s *Staleness) Stale() bool {
	return s.Age() > s.timeout
}

// Timeout returns the configured staleness threshold.
func (s *Staleness) Timeout() time.Duration {
	return s.timeout
}
