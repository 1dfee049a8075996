package api

import (
	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/datallboy/rangedl/internal/api/controllers"
	"github.com/datallboy/rangedl/internal/app"
)

func RegisterRoutes(e *echo.Echo, app *app.Context, scheduler controllers.Scheduler) {

	// Middleware: Request Logger
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c *echo.Context, v middleware.RequestLoggerValues) error {
			app.Logger.Info("%s %s | %d | %s", v.Method, v.URI, v.Status, v.Latency)
			return nil
		},
	}))

	jobs := &controllers.JobsController{App: app, Scheduler: scheduler}

	g := e.Group("/api/jobs")
	g.POST("", jobs.Create)
	g.GET("", jobs.List)
	g.GET("/:id", jobs.Get)
	g.POST("/:id/pause", jobs.Pause)
	g.POST("/:id/resume", jobs.Resume)
	g.DELETE("/:id", jobs.Delete)
}
