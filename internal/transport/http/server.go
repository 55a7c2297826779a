// Package http provides the HTTP servers of the annotator.
package http

import (
	"context"
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/xiaot623/annotator/internal/config"
	"github.com/xiaot623/annotator/internal/metrics"
	"github.com/xiaot623/annotator/internal/service"
	"github.com/xiaot623/annotator/internal/transport/http/api"
	"github.com/xiaot623/annotator/internal/transport/http/workbench"
	"github.com/xiaot623/annotator/internal/transport/ws"
)

// NewAPIServer creates the backend REST server. wsServer may be nil.
func NewAPIServer(svc *service.Service, wsServer *ws.Server, cfg *config.Config) *echo.Echo {
	e := newEcho("api")
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{cfg.CORSOrigin},
	}))

	api.NewHandler(svc).RegisterRoutes(e)
	if wsServer != nil {
		wsServer.RegisterRoutes(e)
	}

	return e
}

// NewWorkbenchServer creates the server hosting the annotation workbench pages.
func NewWorkbenchServer(h *workbench.Handler) *echo.Echo {
	e := newEcho("workbench")
	h.RegisterRoutes(e)
	return e
}

func newEcho(name string) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:   true,
		LogURI:      true,
		LogMethod:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			level := slog.LevelInfo
			if v.Error != nil || v.Status >= 500 {
				level = slog.LevelError
			}
			slog.LogAttrs(context.Background(), level, "request",
				slog.String("server", name),
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
			)
			return nil
		},
	}))
	e.Use(middleware.Recover())

	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	return e
}
