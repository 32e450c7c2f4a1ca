package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-autotest/internal/config"
	"github.com/noah-isme/gema-autotest/internal/handler"
	"github.com/noah-isme/gema-autotest/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	AutoTestHandler *handler.AutoTestHandler
	RubricHandler   *handler.RubricHandler
	JWTMiddleware   fiber.Handler
	HealthProbes    map[string]handler.HealthProbe
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg, deps.HealthProbes))
	app.Get("/metrics", observability.MetricsHandler())

	// Use provided JWT middleware, or a no-op if nil
	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	if deps.AutoTestHandler != nil {
		deps.AutoTestHandler.Register(app.Group("/api/v2/autotest", jwtMiddleware))
	}

	if deps.RubricHandler != nil {
		deps.RubricHandler.Register(app.Group("/api/v2/rubric", jwtMiddleware))
	}
}
