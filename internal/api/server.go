package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/smukkama/trace-server/internal/aggregation"
	"github.com/smukkama/trace-server/internal/database"
	"github.com/smukkama/trace-server/internal/location"
)

// FixSink accepts fixes for background recording
type FixSink interface {
	OnFix(traceID string, fix location.Fix) error
}

// Service bundles what the HTTP handlers read from and write to
type Service struct {
	Traces  database.TraceStore
	Records aggregation.RangeReader
	Fixes   FixSink
	Hourly  *aggregation.HourlyAggregator
	Daily   *aggregation.DailyAggregator
	Gap     time.Duration

	// Stats, when set, is reported by the health endpoint
	Stats func() interface{}
}

type Server struct {
	App *fiber.App
	svc *Service
}

func NewServer(svc *Service) *Server {
	app := fiber.New(fiber.Config{
		ErrorHandler: errorHandler,
	})
	app.Use(recover.New())
	app.Use(logger.New())

	s := &Server{App: app, svc: svc}
	registerRoutes(s)
	return s
}

// Listen serves HTTP on addr until Shutdown
func (s *Server) Listen(addr string) error {
	return s.App.Listen(addr)
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown() error {
	return s.App.Shutdown()
}

func registerRoutes(s *Server) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		body := fiber.Map{"status": "ok"}
		if s.svc.Stats != nil {
			body["stats"] = s.svc.Stats()
		}
		return c.JSON(body)
	})

	RegisterRoutes(s.App.Group("/traces"), s.svc)
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}
