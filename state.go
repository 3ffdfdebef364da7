package autostep

import (
	"sync"
	"time"
)

// sharedState holds the flags and tracking-loop scratch shared by the
// command router, the motion executor and the tracking controller. Every
// field is guarded by mu; critical sections stay short and never perform
// actuator I/O, except the tracking enable/disable transitions which must
// switch the actuator and flip trackingEnabled as one step relative to a
// concurrent sample.
type sharedState struct {
	mu sync.Mutex

	enabled         bool
	trackingEnabled bool
	runningMotion   bool

	// Tracking-loop scratch.
	isFirst       bool
	position      float64
	velocity      float64
	positionStart float64
	firstUpdate   time.Time
	lastUpdate    time.Time
}

// snapshot returns the three public flags for status reporting.
func (s *sharedState) snapshot() (enabled, tracking, running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled, s.trackingEnabled, s.runningMotion
}
