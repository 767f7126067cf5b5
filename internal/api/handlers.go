package api

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/smukkama/trace-server/internal/aggregation"
	"github.com/smukkama/trace-server/internal/database"
	"github.com/smukkama/trace-server/internal/location"
	"github.com/smukkama/trace-server/internal/protocol"
	"github.com/smukkama/trace-server/internal/sampler"
	"github.com/smukkama/trace-server/internal/segment"
)

type segmentView struct {
	Start     time.Time         `json:"start"`
	End       time.Time         `json:"end"`
	DistanceM float64           `json:"distance_m"`
	Records   []location.Record `json:"records"`
}

func RegisterRoutes(r fiber.Router, svc *Service) {
	r.Get("/", func(c *fiber.Ctx) error {
		traces, err := svc.Traces.ListTraces(c.Context())
		if err != nil {
			return statusFor(err)
		}
		if traces == nil {
			traces = []database.Trace{}
		}
		return c.JSON(traces)
	})

	r.Post("/:id/fixes", func(c *fiber.Ctx) error {
		var req protocol.FixData
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		fix, err := req.Parse()
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		traceID := c.Params("id")
		trace := &database.Trace{ID: traceID, LastSeenAt: fix.CapturedAt}
		if err := svc.Traces.UpsertTrace(c.Context(), trace); err != nil {
			return statusFor(err)
		}

		if err := svc.Fixes.OnFix(traceID, fix); err != nil {
			return statusFor(err)
		}
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "queued"})
	})

	day := r.Group("/:id/days/:date")

	day.Get("/records", func(c *fiber.Ctx) error {
		date, err := parseDay(c, svc)
		if err != nil {
			return err
		}
		records, err := svc.Records.RangeByDay(c.Context(), c.Params("id"), date)
		if err != nil {
			return statusFor(err)
		}
		if records == nil {
			records = []location.Record{}
		}
		return c.JSON(records)
	})

	day.Get("/segments", func(c *fiber.Ctx) error {
		date, err := parseDay(c, svc)
		if err != nil {
			return err
		}
		gap := svc.Gap
		if q := c.Query("gap"); q != "" {
			gap, err = time.ParseDuration(q)
			if err != nil || gap <= 0 {
				return fiber.NewError(fiber.StatusBadRequest, "gap must be a positive duration")
			}
		}

		records, err := svc.Records.RangeByDay(c.Context(), c.Params("id"), date)
		if err != nil {
			return statusFor(err)
		}
		segments, err := segment.Split(records, gap)
		if err != nil {
			return statusFor(err)
		}

		views := make([]segmentView, 0, len(segments))
		for _, s := range segments {
			views = append(views, segmentView{
				Start:     s.Start(),
				End:       s.End(),
				DistanceM: s.Distance(),
				Records:   s.Records,
			})
		}
		return c.JSON(views)
	})

	day.Get("/hourly/distance", func(c *fiber.Ctx) error {
		date, err := parseDay(c, svc)
		if err != nil {
			return err
		}
		stat, err := svc.Hourly.HourlyDistances(c.Context(), c.Params("id"), date)
		if err != nil {
			return statusFor(err)
		}
		return c.JSON(hourlyBody(c, date, stat))
	})

	day.Get("/hourly/elevation", func(c *fiber.Ctx) error {
		date, err := parseDay(c, svc)
		if err != nil {
			return err
		}
		stat, err := svc.Hourly.HourlyElevation(c.Context(), c.Params("id"), date)
		if err != nil {
			return statusFor(err)
		}
		return c.JSON(hourlyBody(c, date, stat))
	})

	day.Get("/summary", func(c *fiber.Ctx) error {
		date, err := parseDay(c, svc)
		if err != nil {
			return err
		}
		summary, err := svc.Daily.Summarize(c.Context(), c.Params("id"), date)
		if err != nil {
			return statusFor(err)
		}
		return c.JSON(summary)
	})
}

func parseDay(c *fiber.Ctx, svc *Service) (time.Time, error) {
	date, err := time.ParseInLocation("2006-01-02", c.Params("date"), svc.Hourly.Location())
	if err != nil {
		return time.Time{}, fiber.NewError(fiber.StatusBadRequest, "date must be YYYY-MM-DD")
	}
	return date, nil
}

func hourlyBody(c *fiber.Ctx, date time.Time, stat aggregation.HourlyStat) fiber.Map {
	return fiber.Map{
		"trace_id": c.Params("id"),
		"date":     date.Format("2006-01-02"),
		"total":    stat.Total(),
		"hours":    stat,
	}
}

// statusFor maps domain errors to HTTP errors
func statusFor(err error) error {
	var storageErr *location.StorageError
	switch {
	case errors.Is(err, location.ErrMalformedFix):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, location.ErrPermissionDenied):
		return fiber.NewError(fiber.StatusForbidden, err.Error())
	case errors.Is(err, sampler.ErrQueueFull), errors.Is(err, sampler.ErrStopped):
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	case errors.As(err, &storageErr):
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	default:
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
}
