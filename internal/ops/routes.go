package ops

import (
	"log/slog"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	apperrors "github.com/mikeisflux/streamlick-sub000/internal/errors"
	"github.com/mikeisflux/streamlick-sub000/internal/platform/correlation"
)

// promMiddleware is created once: NewMiddleware registers its collectors in
// the default registry, which tolerates only a single registration.
var promMiddleware = echoprometheus.NewMiddleware("studio")

func (s *Server) registerRoutes() {
	s.echo.Use(correlationMiddleware)
	s.echo.Use(s.setupRequestLoggerMiddleware())
	s.echo.Use(middleware.Recover())
	s.echo.Use(apperrors.Middleware())
	s.echo.Use(promMiddleware)

	s.registerHealthRoutes()
	s.echo.GET("/metrics", echoprometheus.NewHandler())

	s.registerControlRoutes()
}

func (s *Server) registerControlRoutes() {
	api := s.echo.Group("/api")

	api.GET("/status", s.handleStatus)

	api.POST("/layout", s.handleSetLayout)

	api.POST("/overlays", s.handleAddOverlay)
	api.DELETE("/overlays/:id", s.handleRemoveOverlay)

	api.POST("/lower-third", s.handleShowLowerThird)
	api.DELETE("/lower-third", s.handleHideLowerThird)

	api.POST("/chat", s.handleChatMessage)
	api.PUT("/chat/visibility", s.handleChatVisibility)
	api.PUT("/caption", s.handleSetCaption)

	api.PUT("/volume", s.handleSetVolume)
	api.PUT("/gain/:id", s.handleSetGain)

	api.POST("/countdown", s.handleStartCountdown)
	api.POST("/clips/intro", s.handlePlayIntroClip)

	api.POST("/failover/:id", s.handleForceFailover)
}

// correlationMiddleware tags every request context with a fresh correlation
// ID so handler logs from the same request line up.
func correlationMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := correlation.WithID(c.Request().Context(), correlation.NewID())
		c.SetRequest(c.Request().WithContext(ctx))
		return next(c)
	}
}

func (s *Server) setupRequestLoggerMiddleware() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
			}
			if v.Error != nil {
				attrs = append(attrs, "error", v.Error)
			}
			slog.InfoContext(c.Request().Context(), "Request", attrs...)
			return nil
		},
	})
}
