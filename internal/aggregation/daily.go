package aggregation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/smukkama/trace-server/internal/location"
	"github.com/smukkama/trace-server/internal/segment"
)

// TraceLister finds traces with activity in a time window
type TraceLister interface {
	TracesBetween(ctx context.Context, from, to time.Time) ([]string, error)
}

// Publisher delivers encoded summaries, keyed by trace id
type Publisher interface {
	Publish(ctx context.Context, key string, value []byte) error
}

// DaySummary is the derived view of one trace over one calendar day
type DaySummary struct {
	TraceID          string           `json:"trace_id"`
	Date             string           `json:"date"`
	RecordCount      int              `json:"record_count"`
	SegmentCount     int              `json:"segment_count"`
	FirstCapturedAt  *time.Time       `json:"first_captured_at,omitempty"`
	LastCapturedAt   *time.Time       `json:"last_captured_at,omitempty"`
	TotalDistanceM   float64          `json:"total_distance_m"`
	NetElevationM    float64          `json:"net_elevation_m"`
	HourlyDistanceM  HourlyStat       `json:"hourly_distance_m"`
	HourlyElevationM HourlyStat       `json:"hourly_elevation_m"`
	Bounds           *location.Bounds `json:"bounds,omitempty"`
	Centroid         *location.Point  `json:"centroid,omitempty"`
}

// DailyAggregator builds day summaries for traces and publishes them
type DailyAggregator struct {
	hourly    *HourlyAggregator
	traces    TraceLister
	publisher Publisher
	gap       time.Duration
}

// NewDailyAggregator creates a new daily aggregator. publisher may be nil
// when summaries are only computed on demand.
func NewDailyAggregator(hourly *HourlyAggregator, traces TraceLister, publisher Publisher, gap time.Duration) *DailyAggregator {
	return &DailyAggregator{
		hourly:    hourly,
		traces:    traces,
		publisher: publisher,
		gap:       gap,
	}
}

// Summarize computes the summary of one trace for one calendar day from a single read
func (d *DailyAggregator) Summarize(ctx context.Context, traceID string, day time.Time) (*DaySummary, error) {
	day = d.hourly.Day(day)

	records, err := d.hourly.Records(ctx, traceID, day)
	if err != nil {
		return nil, err
	}
	return d.summarizeRecords(ctx, traceID, day, records)
}

func (d *DailyAggregator) summarizeRecords(ctx context.Context, traceID string, day time.Time, records []location.Record) (*DaySummary, error) {
	loc := d.hourly.Location()

	distances, err := DistancesByHour(ctx, records, loc)
	if err != nil {
		return nil, err
	}
	elevation, err := ElevationByHour(ctx, records, loc)
	if err != nil {
		return nil, err
	}
	segments, err := segment.Split(records, d.gap)
	if err != nil {
		return nil, err
	}

	summary := &DaySummary{
		TraceID:          traceID,
		Date:             day.Format("2006-01-02"),
		RecordCount:      len(records),
		SegmentCount:     len(segments),
		TotalDistanceM:   distances.Total(),
		NetElevationM:    elevation.Total(),
		HourlyDistanceM:  distances,
		HourlyElevationM: elevation,
	}

	if len(records) > 0 {
		first := records[0].CapturedAt
		last := records[len(records)-1].CapturedAt
		summary.FirstCapturedAt = &first
		summary.LastCapturedAt = &last
	}
	if b, ok := location.BoundsOf(records); ok {
		summary.Bounds = &b
	}
	if c, ok := location.Centroid(records); ok {
		summary.Centroid = &c
	}

	return summary, nil
}

// Aggregate summarizes every trace with records on the given day and
// publishes each summary. It returns the number of summaries published.
func (d *DailyAggregator) Aggregate(ctx context.Context, targetDate time.Time) (int, error) {
	start, end := location.DayBounds(d.hourly.Day(targetDate))

	fmt.Printf("Running daily aggregation for %s\n", start.Format("2006-01-02"))

	traceIDs, err := d.traces.TracesBetween(ctx, start, end)
	if err != nil {
		return 0, fmt.Errorf("failed to list traces: %w", err)
	}

	published := 0
	for _, traceID := range traceIDs {
		if err := ctx.Err(); err != nil {
			return published, err
		}

		summary, err := d.Summarize(ctx, traceID, start)
		if err != nil {
			fmt.Printf("Failed to summarize trace %s: %v\n", traceID, err)
			continue
		}

		if d.publisher == nil {
			continue
		}
		data, err := json.Marshal(summary)
		if err != nil {
			return published, fmt.Errorf("failed to encode summary: %w", err)
		}
		if err := d.publisher.Publish(ctx, traceID, data); err != nil {
			fmt.Printf("Failed to publish summary for %s: %v\n", traceID, err)
			continue
		}
		published++
	}

	fmt.Printf("Daily aggregation completed: %d traces, %d summaries published\n", len(traceIDs), published)
	return published, nil
}

// AggregatePreviousDay aggregates the previous full day
func (d *DailyAggregator) AggregatePreviousDay(ctx context.Context) (int, error) {
	now := time.Now().In(d.hourly.Location())
	return d.Aggregate(ctx, now.AddDate(0, 0, -1))
}

// CalculateNextRunTime calculates when the daily aggregation should next run
// It runs at a specific time each day (e.g., 00:05:00)
func (d *DailyAggregator) CalculateNextRunTime(timeOfDay string) (time.Time, error) {
	return nextRunAfter(time.Now().In(d.hourly.Location()), timeOfDay)
}

func nextRunAfter(now time.Time, timeOfDay string) (time.Time, error) {
	// Parse time of day (format: "HH:MM")
	var hour, minute int
	if _, err := fmt.Sscanf(timeOfDay, "%d:%d", &hour, &minute); err != nil {
		return time.Time{}, fmt.Errorf("invalid time format: %s (expected HH:MM)", timeOfDay)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return time.Time{}, fmt.Errorf("invalid time of day: %s", timeOfDay)
	}

	// Today's run time
	todayRun := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())

	// If we're past today's run time, schedule for tomorrow
	if now.After(todayRun) {
		return todayRun.AddDate(0, 0, 1), nil
	}

	return todayRun, nil
}
