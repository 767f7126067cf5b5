package source

import (
	"fmt"
	"sync"

	"github.com/smukkama/trace-server/internal/location"
)

// Status is the provider permission reported by a device
type Status string

const (
	StatusGranted Status = "granted"
	StatusDenied  Status = "denied"
)

// ParseStatus validates a reported status
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusGranted, StatusDenied:
		return Status(s), nil
	}
	return "", fmt.Errorf("unknown provider status: %q", s)
}

// Gate tracks whether a source may currently deliver fixes. Sampling does
// not happen while access is denied and resumes once it is granted again.
type Gate struct {
	mu     sync.RWMutex
	status Status
}

// NewGate creates a gate in the granted state
func NewGate() *Gate {
	return &Gate{status: StatusGranted}
}

// Set records a new provider status
func (g *Gate) Set(status Status) {
	g.mu.Lock()
	g.status = status
	g.mu.Unlock()
}

// Status returns the current provider status
func (g *Gate) Status() Status {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.status
}

// Check returns location.ErrPermissionDenied while access is denied
func (g *Gate) Check() error {
	if g.Status() == StatusDenied {
		return location.ErrPermissionDenied
	}
	return nil
}
