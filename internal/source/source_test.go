package source

import (
	"errors"
	"testing"
	"time"

	"github.com/smukkama/trace-server/internal/location"
)

var start = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

func fix(lat, lon float64, offset time.Duration) location.Fix {
	return location.Fix{Latitude: lat, Longitude: lon, CapturedAt: start.Add(offset)}
}

func TestThrottle_Allow(t *testing.T) {
	th := NewThrottle(DefaultPolicy)

	steps := []struct {
		name string
		fix  location.Fix
		want bool
	}{
		{"first fix", fix(52.5, 13.4, 0), true},
		{"too soon and too close", fix(52.5, 13.40001, time.Second), false},
		{"interval elapsed", fix(52.5, 13.40001, 5*time.Second), true},
		{"moved far enough", fix(52.5002, 13.40001, 6*time.Second), true},
		{"just under both", fix(52.50025, 13.40001, 10*time.Second), false},
	}

	for _, s := range steps {
		if got := th.Allow(s.fix); got != s.want {
			t.Errorf("%s: Allow = %v, want %v", s.name, got, s.want)
		}
	}
}

func TestThrottle_RejectedFixDoesNotMoveReference(t *testing.T) {
	th := NewThrottle(Policy{MinInterval: 10 * time.Second, MinDistance: 1000})

	th.Allow(fix(0, 0, 0))
	for i := 1; i < 10; i++ {
		if th.Allow(fix(0, 0, time.Duration(i)*time.Second)) {
			t.Fatalf("Fix at %ds should be throttled", i)
		}
	}
	if !th.Allow(fix(0, 0, 10*time.Second)) {
		t.Fatal("Expected fix 10s after the last delivered one to pass")
	}
}

func TestThrottle_Reset(t *testing.T) {
	th := NewThrottle(DefaultPolicy)
	th.Allow(fix(1, 1, 0))
	th.Reset()

	if !th.Allow(fix(1, 1, time.Second)) {
		t.Fatal("Expected first fix after reset to pass")
	}
}

func TestGate(t *testing.T) {
	g := NewGate()
	if err := g.Check(); err != nil {
		t.Fatalf("Expected new gate to be granted, got %v", err)
	}

	g.Set(StatusDenied)
	if err := g.Check(); !errors.Is(err, location.ErrPermissionDenied) {
		t.Fatalf("Expected ErrPermissionDenied, got %v", err)
	}

	g.Set(StatusGranted)
	if err := g.Check(); err != nil {
		t.Fatalf("Expected access after re-grant, got %v", err)
	}
}

func TestParseStatus(t *testing.T) {
	if s, err := ParseStatus("denied"); err != nil || s != StatusDenied {
		t.Errorf("ParseStatus(denied) = %v, %v", s, err)
	}
	if _, err := ParseStatus("maybe"); err == nil {
		t.Error("Expected error for unknown status")
	}
}
