// Package segment splits an ordered trace into path segments separated by
// pauses, so a route can be drawn as disjoint polylines.
package segment

import (
	"time"

	"github.com/smukkama/trace-server/internal/location"
)

// DefaultGap is the pause length that breaks a path
const DefaultGap = 30 * time.Second

// Segment is a temporally contiguous run of records
type Segment struct {
	Records []location.Record `json:"records"`
}

// Start returns the capture time of the first record
func (s Segment) Start() time.Time {
	if len(s.Records) == 0 {
		return time.Time{}
	}
	return s.Records[0].CapturedAt
}

// End returns the capture time of the last record
func (s Segment) End() time.Time {
	if len(s.Records) == 0 {
		return time.Time{}
	}
	return s.Records[len(s.Records)-1].CapturedAt
}

// Duration returns the time covered by the segment
func (s Segment) Duration() time.Duration {
	return s.End().Sub(s.Start())
}

// Distance returns the path length of the segment in meters
func (s Segment) Distance() float64 {
	total := 0.0
	for i := 1; i < len(s.Records); i++ {
		total += location.DistanceBetween(s.Records[i-1], s.Records[i])
	}
	return total
}

// Split partitions records into segments. A new segment starts whenever the
// time between two consecutive records is at least gap. Records must already
// be ordered by capture time; unordered input is rejected with
// location.ErrPreconditionViolation rather than sorted.
//
// Concatenating the returned segments yields the input in order. A gap <= 0
// falls back to DefaultGap.
func Split(records []location.Record, gap time.Duration) ([]Segment, error) {
	if err := location.CheckOrdered(records); err != nil {
		return nil, err
	}
	if gap <= 0 {
		gap = DefaultGap
	}
	if len(records) == 0 {
		return nil, nil
	}

	var segments []Segment
	current := []location.Record{records[0]}
	for i := 1; i < len(records); i++ {
		if records[i].CapturedAt.Sub(records[i-1].CapturedAt) >= gap {
			segments = append(segments, Segment{Records: current})
			current = nil
		}
		current = append(current, records[i])
	}
	segments = append(segments, Segment{Records: current})

	return segments, nil
}

// Flatten concatenates segments back into one ordered record slice
func Flatten(segments []Segment) []location.Record {
	n := 0
	for _, s := range segments {
		n += len(s.Records)
	}
	out := make([]location.Record, 0, n)
	for _, s := range segments {
		out = append(out, s.Records...)
	}
	return out
}
