package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-exam-api/internal/config"
	"github.com/noah-isme/gema-exam-api/internal/handler"
	"github.com/noah-isme/gema-exam-api/internal/middleware"
	"github.com/noah-isme/gema-exam-api/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	ExamSubmissionHandler *handler.ExamSubmissionHandler
	CorrectionHandler     *handler.CorrectionHandler
	NotificationHandler   *handler.NotificationHandler
	SeedHandler           *handler.SeedHandler
	JWTMiddleware         fiber.Handler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	// Common v1 group for health & headers
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg))
	app.Get("/metrics", observability.MetricsHandler())

	// Use provided JWT middleware, or a no-op if nil
	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	v2 := app.Group("/api/v2")

	// Learner exams
	if deps.ExamSubmissionHandler != nil {
		deps.ExamSubmissionHandler.Register(v2.Group("/exams", jwtMiddleware))
	}

	// Grader corrections
	if deps.CorrectionHandler != nil {
		admin := v2.Group("/admin/exams", jwtMiddleware, middleware.RequireRole(middleware.AuthRoleGrader))
		deps.CorrectionHandler.Register(admin)
	}

	// Notifications (REST, SSE and websocket)
	if deps.NotificationHandler != nil {
		deps.NotificationHandler.Register(v2.Group("/notifications", jwtMiddleware))
	}

	// Fixture tooling, guarded by its own token
	if deps.SeedHandler != nil {
		deps.SeedHandler.Register(v2.Group("/seed"))
	}
}
