package aggregation

import (
	"context"
	"fmt"
	"time"

	"github.com/smukkama/trace-server/internal/location"
)

// HoursPerDay is the number of hour-of-day buckets
const HoursPerDay = 24

// cancelCheckEvery is how many record pairs are reduced between context checks
const cancelCheckEvery = 1024

// HourlyStat maps hour-of-day (0-23) to a value in meters. It always has 24 entries.
type HourlyStat [HoursPerDay]float64

// Total sums all buckets
func (h HourlyStat) Total() float64 {
	total := 0.0
	for _, v := range h {
		total += v
	}
	return total
}

// RangeReader is the part of the record store the aggregators read from
type RangeReader interface {
	RangeByDay(ctx context.Context, traceID string, day time.Time) ([]location.Record, error)
}

// HourlyAggregator reduces one calendar day of a trace into hour-of-day statistics
type HourlyAggregator struct {
	store RangeReader
	loc   *time.Location
}

// NewHourlyAggregator creates a new hourly aggregator. Calendar days and hour
// buckets are evaluated in loc (time.Local when nil).
func NewHourlyAggregator(store RangeReader, loc *time.Location) *HourlyAggregator {
	if loc == nil {
		loc = time.Local
	}
	return &HourlyAggregator{store: store, loc: loc}
}

// Location returns the zone used for day boundaries and hour buckets
func (h *HourlyAggregator) Location() *time.Location {
	return h.loc
}

// Day returns midnight of day's calendar date in the aggregator's zone.
// The year, month and day of the argument are taken as given.
func (h *HourlyAggregator) Day(day time.Time) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, h.loc)
}

// Records fetches the ordered records of a trace for one calendar day
func (h *HourlyAggregator) Records(ctx context.Context, traceID string, day time.Time) ([]location.Record, error) {
	records, err := h.store.RangeByDay(ctx, traceID, h.Day(day))
	if err != nil {
		return nil, fmt.Errorf("failed to load records for %s: %w", traceID, err)
	}
	return records, nil
}

// HourlyDistances returns the horizontal distance traveled in each hour of
// the day. Each consecutive pair of records contributes its great-circle
// distance to the hour of the later record.
func (h *HourlyAggregator) HourlyDistances(ctx context.Context, traceID string, day time.Time) (HourlyStat, error) {
	records, err := h.Records(ctx, traceID, day)
	if err != nil {
		return HourlyStat{}, err
	}
	return DistancesByHour(ctx, records, h.loc)
}

// HourlyElevation returns the net elevation change in each hour of the day.
//
// Contributions are signed: a climb and a descent within the same hour cancel
// out. This is net change per hour, not total ascent.
func (h *HourlyAggregator) HourlyElevation(ctx context.Context, traceID string, day time.Time) (HourlyStat, error) {
	records, err := h.Records(ctx, traceID, day)
	if err != nil {
		return HourlyStat{}, err
	}
	return ElevationByHour(ctx, records, h.loc)
}

// DistancesByHour buckets consecutive-pair distances of ordered records by the
// hour (in loc) of the later record of each pair.
func DistancesByHour(ctx context.Context, records []location.Record, loc *time.Location) (HourlyStat, error) {
	return reducePairs(ctx, records, loc, location.DistanceBetween)
}

// ElevationByHour buckets signed consecutive-pair altitude deltas of ordered
// records by the hour (in loc) of the later record of each pair.
func ElevationByHour(ctx context.Context, records []location.Record, loc *time.Location) (HourlyStat, error) {
	return reducePairs(ctx, records, loc, func(prev, cur location.Record) float64 {
		return cur.Altitude - prev.Altitude
	})
}

func reducePairs(ctx context.Context, records []location.Record, loc *time.Location, delta func(prev, cur location.Record) float64) (HourlyStat, error) {
	var stat HourlyStat
	if err := location.CheckOrdered(records); err != nil {
		return stat, err
	}
	if loc == nil {
		loc = time.Local
	}

	for i := 1; i < len(records); i++ {
		if i%cancelCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return HourlyStat{}, err
			}
		}
		hour := records[i].CapturedAt.In(loc).Hour()
		stat[hour] += delta(records[i-1], records[i])
	}

	return stat, nil
}
