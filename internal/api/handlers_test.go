package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/smukkama/trace-server/internal/aggregation"
	"github.com/smukkama/trace-server/internal/database"
	"github.com/smukkama/trace-server/internal/location"
	"github.com/smukkama/trace-server/internal/sampler"
	"github.com/smukkama/trace-server/internal/segment"
)

func newTestApp(t *testing.T) (*fiber.App, *database.MemoryStore, *sampler.Sampler) {
	t.Helper()
	store := database.NewMemoryStore()
	s := sampler.New(store, sampler.Config{QueueSize: 16, Workers: 1})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("sampler start: %v", err)
	}
	t.Cleanup(s.Stop)

	hourly := aggregation.NewHourlyAggregator(store, time.UTC)
	svc := &Service{
		Traces:  store,
		Records: store,
		Fixes:   s,
		Hourly:  hourly,
		Daily:   aggregation.NewDailyAggregator(hourly, store, nil, segment.DefaultGap),
		Gap:     segment.DefaultGap,
		Stats:   func() interface{} { return s.Stats() },
	}
	return NewServer(svc).App, store, s
}

func seedRecords(t *testing.T, store *database.MemoryStore) {
	t.Helper()
	base := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	records := []location.Record{
		{TraceID: "trace-1", Latitude: 52.50, Longitude: 13.40, Altitude: 10, CapturedAt: base},
		{TraceID: "trace-1", Latitude: 52.50, Longitude: 13.41, Altitude: 12, CapturedAt: base.Add(10 * time.Second)},
		{TraceID: "trace-1", Latitude: 52.50, Longitude: 13.42, Altitude: 15, CapturedAt: base.Add(60 * time.Second)},
	}
	for i := range records {
		if _, err := store.InsertRecord(context.Background(), &records[i]); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
}

func getJSON(t *testing.T, app *fiber.App, path string, out interface{}) int {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil))
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		if err := json.Unmarshal(body, out); err != nil {
			t.Fatalf("decode %s: %v (%s)", path, err, body)
		}
	}
	return resp.StatusCode
}

func postFix(t *testing.T, app *fiber.App, traceID string, body string) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/traces/"+traceID+"/fixes", bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("POST fix: %v", err)
	}
	resp.Body.Close()
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	app, _, _ := newTestApp(t)

	var body map[string]interface{}
	if code := getJSON(t, app, "/health", &body); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if body["status"] != "ok" || body["stats"] == nil {
		t.Fatalf("unexpected health body: %v", body)
	}
}

func TestPostFixRecordsThroughSampler(t *testing.T) {
	app, store, _ := newTestApp(t)

	code := postFix(t, app, "trace-9", `{"timestamp":"2026-06-01T08:00:00Z","latitude":48.1,"longitude":11.5,"altitude":520}`)
	if code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", code)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		rec, _ := store.MostRecent(context.Background(), "trace-9")
		if rec != nil {
			if rec.Altitude != 520 {
				t.Fatalf("unexpected record: %+v", rec)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("fix was not recorded")
		}
		time.Sleep(10 * time.Millisecond)
	}

	var traces []database.Trace
	getJSON(t, app, "/traces", &traces)
	if len(traces) != 1 || traces[0].ID != "trace-9" {
		t.Fatalf("expected trace-9 to be listed, got %+v", traces)
	}
}

func TestPostFixValidation(t *testing.T) {
	app, _, _ := newTestApp(t)

	bad := []string{
		`{`,
		`{"latitude":1,"longitude":1}`,
		`{"timestamp":"2026-06-01T08:00:00Z","latitude":91,"longitude":1}`,
	}
	for _, body := range bad {
		if code := postFix(t, app, "trace-1", body); code != http.StatusBadRequest {
			t.Errorf("expected 400 for %s, got %d", body, code)
		}
	}
}

func TestPostFixAfterSamplerStopped(t *testing.T) {
	app, _, s := newTestApp(t)
	s.Stop()

	code := postFix(t, app, "trace-1", `{"timestamp":"2026-06-01T08:00:00Z","latitude":1,"longitude":1}`)
	if code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", code)
	}
}

func TestDayRecordsAndSegments(t *testing.T) {
	app, store, _ := newTestApp(t)
	seedRecords(t, store)

	var records []location.Record
	if code := getJSON(t, app, "/traces/trace-1/days/2026-06-01/records", &records); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}

	var segments []segmentView
	getJSON(t, app, "/traces/trace-1/days/2026-06-01/segments", &segments)
	if len(segments) != 2 || len(segments[0].Records) != 2 || len(segments[1].Records) != 1 {
		t.Fatalf("expected [[r1 r2] [r3]], got %+v", segments)
	}

	getJSON(t, app, "/traces/trace-1/days/2026-06-01/segments?gap=2m", &segments)
	if len(segments) != 1 {
		t.Fatalf("expected a single segment with a 2m gap, got %d", len(segments))
	}

	var empty []location.Record
	getJSON(t, app, "/traces/trace-1/days/2026-06-02/records", &empty)
	if empty == nil || len(empty) != 0 {
		t.Fatalf("expected empty list for a day without data, got %v", empty)
	}
}

func TestHourlyEndpoints(t *testing.T) {
	app, store, _ := newTestApp(t)
	seedRecords(t, store)

	var body struct {
		Hours []float64 `json:"hours"`
		Total float64   `json:"total"`
	}
	getJSON(t, app, "/traces/trace-1/days/2026-06-01/hourly/elevation", &body)
	if len(body.Hours) != 24 || body.Hours[10] != 5 || body.Total != 5 {
		t.Fatalf("unexpected elevation: %+v", body)
	}

	getJSON(t, app, "/traces/trace-1/days/2026-06-01/hourly/distance", &body)
	if body.Hours[10] < 1300 || body.Hours[10] > 1450 {
		t.Fatalf("unexpected distance for hour 10: %v", body.Hours[10])
	}

	getJSON(t, app, "/traces/other/days/2026-06-01/hourly/distance", &body)
	if len(body.Hours) != 24 || body.Total != 0 {
		t.Fatalf("expected 24 zeros for an empty day, got %+v", body)
	}
}

func TestSummaryEndpoint(t *testing.T) {
	app, store, _ := newTestApp(t)
	seedRecords(t, store)

	var summary aggregation.DaySummary
	if code := getJSON(t, app, "/traces/trace-1/days/2026-06-01/summary", &summary); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if summary.RecordCount != 3 || summary.SegmentCount != 2 || summary.NetElevationM != 5 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}

func TestBadRequests(t *testing.T) {
	app, _, _ := newTestApp(t)

	paths := []string{
		"/traces/trace-1/days/June-1st/records",
		"/traces/trace-1/days/2026-06-01/segments?gap=soon",
		"/traces/trace-1/days/2026-06-01/segments?gap=-5s",
	}
	for _, p := range paths {
		if code := getJSON(t, app, p, nil); code != http.StatusBadRequest {
			t.Errorf("expected 400 for %s, got %d", p, code)
		}
	}
}
