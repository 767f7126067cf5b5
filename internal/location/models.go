package location

import (
	"fmt"
	"math"
	"time"
)

// Fix is a single raw position reading delivered by a position source
type Fix struct {
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Altitude   float64   `json:"altitude"`
	CapturedAt time.Time `json:"captured_at"`
}

// Validate checks that the fix carries finite, in-range coordinates and a capture time
func (f Fix) Validate() error {
	if math.IsNaN(f.Latitude) || math.IsInf(f.Latitude, 0) || f.Latitude < -90 || f.Latitude > 90 {
		return fmt.Errorf("%w: latitude %v out of range", ErrMalformedFix, f.Latitude)
	}
	if math.IsNaN(f.Longitude) || math.IsInf(f.Longitude, 0) || f.Longitude < -180 || f.Longitude > 180 {
		return fmt.Errorf("%w: longitude %v out of range", ErrMalformedFix, f.Longitude)
	}
	if math.IsNaN(f.Altitude) || math.IsInf(f.Altitude, 0) {
		return fmt.Errorf("%w: altitude %v is not finite", ErrMalformedFix, f.Altitude)
	}
	if f.CapturedAt.IsZero() {
		return fmt.Errorf("%w: missing capture time", ErrMalformedFix)
	}
	return nil
}

// Record is a persisted, accepted fix
type Record struct {
	ID         int64     `json:"id"`
	TraceID    string    `json:"trace_id"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Altitude   float64   `json:"altitude"`
	CapturedAt time.Time `json:"captured_at"`
}

// NewRecord builds an unsaved record for a trace from a fix. Capture times
// are kept to the millisecond, the precision every store persists.
func NewRecord(traceID string, fix Fix) Record {
	return Record{
		TraceID:    traceID,
		Latitude:   fix.Latitude,
		Longitude:  fix.Longitude,
		Altitude:   fix.Altitude,
		CapturedAt: fix.CapturedAt.Truncate(time.Millisecond),
	}
}

// CheckOrdered reports ErrPreconditionViolation when records are not in
// non-decreasing capture order.
func CheckOrdered(records []Record) error {
	for i := 1; i < len(records); i++ {
		if records[i].CapturedAt.Before(records[i-1].CapturedAt) {
			return fmt.Errorf("%w: record %d captured at %s precedes record %d at %s",
				ErrPreconditionViolation, i, records[i].CapturedAt.Format(time.RFC3339),
				i-1, records[i-1].CapturedAt.Format(time.RFC3339))
		}
	}
	return nil
}
