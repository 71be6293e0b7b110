// Package httpapi serves the JSON status API: health, totals, and
// per-project processing stats.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/counterdata-network/story-processor/internal/db"
	"github.com/counterdata-network/story-processor/internal/globaltime"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

// StatsSource is the slice of db.StoryStore the API reads from.
type StatsSource interface {
	Totals(ctx context.Context) (db.Totals, error)
	ProjectStats(ctx context.Context, projectID int64) (db.ProjectStats, error)
	ProcessedByDay(ctx context.Context, projectID int64, days int) ([]db.DayCount, error)
}

type Options struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type Server struct {
	stats  StatsSource
	logger zerolog.Logger
	opts   Options
}

func NewServer(stats StatsSource, logger zerolog.Logger, opts Options) *Server {
	host := strings.TrimSpace(opts.Host)
	if host == "" {
		host = "0.0.0.0"
	}
	port := opts.Port
	if port <= 0 {
		port = 8001
	}
	readTimeout := opts.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 10 * time.Second
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 30 * time.Second
	}
	shutdownTimeout := opts.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}

	return &Server{
		stats:  stats,
		logger: logger,
		opts: Options{
			Host:            host,
			Port:            port,
			ReadTimeout:     readTimeout,
			WriteTimeout:    writeTimeout,
			ShutdownTimeout: shutdownTimeout,
		},
	}
}

// Start serves until the context is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	if s == nil || s.stats == nil {
		return fmt.Errorf("server is not initialized")
	}

	e := s.router()

	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      e,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if shutdownErr := e.Shutdown(shutdownCtx); shutdownErr != nil {
			s.logger.Error().Err(shutdownErr).Msg("server shutdown failed")
		}
	}()

	s.logger.Info().Str("addr", addr).Msg("status server started")

	if err := e.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start server: %w", err)
	}
	s.logger.Info().Msg("status server stopped")
	return nil
}

func (s *Server) router() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.httpErrorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				s.logger.Error().
					Err(v.Error).
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Str("remote_ip", v.RemoteIP).
					Str("request_id", v.RequestID).
					Msg("http request failed")
				return nil
			}

			s.logger.Info().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("remote_ip", v.RemoteIP).
				Str("request_id", v.RequestID).
				Msg("http request")
			return nil
		},
	}))

	e.GET("/healthz", s.handleHealth)

	api := e.Group("/api")
	api.GET("/version", s.handleVersion)
	api.GET("/stats", s.handleStats)
	api.GET("/projects/:project_id/stats", s.handleProjectStats)
	api.GET("/projects/:project_id/processed-by-day", s.handleProcessedByDay)

	return e
}

func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	message := "Internal server error"
	if he, ok := err.(*echo.HTTPError); ok {
		status = he.Code
		switch v := he.Message.(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				message = v
			}
		default:
			if text := strings.TrimSpace(http.StatusText(status)); text != "" {
				message = text
			}
		}
	} else if err != nil {
		message = err.Error()
	}

	if status >= 500 {
		_ = internalError(c, "Internal server error")
		return
	}
	_ = fail(c, status, message, nil)
}

func (s *Server) handleHealth(c echo.Context) error {
	return success(c, map[string]any{
		"service": "story-processor",
		"time":    globaltime.UTC(),
	})
}

func (s *Server) handleVersion(c echo.Context) error {
	return success(c, map[string]any{
		"version": Version,
	})
}

func (s *Server) handleStats(c echo.Context) error {
	totals, err := s.stats.Totals(c.Request().Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("query totals failed")
		return internalError(c, "Failed to load stats")
	}
	return success(c, totals)
}

func (s *Server) handleProjectStats(c echo.Context) error {
	projectID, err := parseProjectID(c.Param("project_id"))
	if err != nil {
		return failValidation(c, map[string]string{"project_id": err.Error()})
	}

	stats, err := s.stats.ProjectStats(c.Request().Context(), projectID)
	if err != nil {
		s.logger.Error().Err(err).Int64("project_id", projectID).Msg("query project stats failed")
		return internalError(c, "Failed to load project stats")
	}
	return success(c, stats)
}

func (s *Server) handleProcessedByDay(c echo.Context) error {
	projectID, err := parseProjectID(c.Param("project_id"))
	if err != nil {
		return failValidation(c, map[string]string{"project_id": err.Error()})
	}

	days, err := parsePositiveInt(c.QueryParam("days"), 30, 1, 180)
	if err != nil {
		return failValidation(c, map[string]string{"days": err.Error()})
	}

	buckets, err := s.stats.ProcessedByDay(c.Request().Context(), projectID, days)
	if err != nil {
		s.logger.Error().Err(err).Int64("project_id", projectID).Msg("query processed-by-day failed")
		return internalError(c, "Failed to load processed-by-day buckets")
	}
	return success(c, map[string]any{
		"items": buckets,
		"days":  days,
	})
}

func parseProjectID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("must be a positive integer")
	}
	return id, nil
}

func parsePositiveInt(raw string, defaultValue, minValue, maxValue int) (int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, fmt.Errorf("must be an integer")
	}
	if value < minValue || value > maxValue {
		return 0, fmt.Errorf("must be between %d and %d", minValue, maxValue)
	}
	return value, nil
}
