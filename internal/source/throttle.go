// Package source holds the position-source side of ingestion: the update
// interval policy a device connection applies before a fix reaches the
// sampler, and the provider permission state that gates sampling.
package source

import (
	"sync"
	"time"

	"github.com/smukkama/trace-server/internal/location"
)

// Policy is the update-interval configuration of a position source. A fix is
// delivered once MinInterval has elapsed or the position has moved at least
// MinDistance meters since the last delivered fix, whichever comes first.
type Policy struct {
	MinInterval time.Duration
	MinDistance float64
}

// DefaultPolicy delivers at most one fix per 5 seconds or per 10 meters
var DefaultPolicy = Policy{MinInterval: 5 * time.Second, MinDistance: 10}

// Throttle applies a Policy to one device's fix stream
type Throttle struct {
	policy Policy

	mu   sync.Mutex
	last *location.Fix
}

// NewThrottle creates a throttle for one stream
func NewThrottle(policy Policy) *Throttle {
	return &Throttle{policy: policy}
}

// Allow reports whether fix should be forwarded and, if so, remembers it
func (t *Throttle) Allow(fix location.Fix) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.last == nil || t.due(fix) {
		t.last = &fix
		return true
	}
	return false
}

// Reset forgets the last delivered fix
func (t *Throttle) Reset() {
	t.mu.Lock()
	t.last = nil
	t.mu.Unlock()
}

func (t *Throttle) due(fix location.Fix) bool {
	if fix.CapturedAt.Sub(t.last.CapturedAt) >= t.policy.MinInterval {
		return true
	}
	moved := location.Distance(t.last.Latitude, t.last.Longitude, fix.Latitude, fix.Longitude)
	return moved >= t.policy.MinDistance
}
