// Package opsapi implements the ops side-channel from SPEC_FULL.md §4.M: a
// small HTTP surface, separate from the control/file TCP ports, serving
// /healthz, /readyz and /stats as JSON.
//
// Grounded on the teacher's server/api.go (echo.Echo + middleware, a single
// JSON error handler, Run(ctx, addr) blocking until shutdown).
package opsapi

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"ppgram/server/internal/dbpool"
	"ppgram/server/internal/metrics"
	"ppgram/server/internal/session"
)

// Server serves the ops HTTP endpoints on their own port.
type Server struct {
	registry *session.Registry
	pool     *dbpool.Pool
	counters *metrics.Counters
	echo     *echo.Echo
}

// New constructs a Server and registers its routes.
func New(registry *session.Registry, pool *dbpool.Pool, counters *metrics.Counters) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = jsonErrorHandler

	s := &Server{registry: registry, pool: pool, counters: counters, echo: e}
	e.GET("/healthz", s.handleHealthz)
	e.GET("/readyz", s.handleReadyz)
	e.GET("/stats", s.handleStats)
	return s
}

// Run starts the HTTP server on addr and blocks until ctx is canceled.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.echo.Shutdown(shutCtx)
	case err := <-errCh:
		return err
	}
}

// HealthzResponse is the payload for GET /healthz: a liveness probe that
// only reports the process is up and serving.
type HealthzResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealthz(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthzResponse{Status: "ok"})
}

// ReadyzResponse is the payload for GET /readyz: a readiness probe that also
// checks the database bucket pool has at least one bucket available.
type ReadyzResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleReadyz(c echo.Context) error {
	if s.pool.Size() == 0 {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "no database buckets available")
	}
	return c.JSON(http.StatusOK, ReadyzResponse{Status: "ok"})
}

// StatsResponse is the payload for GET /stats.
type StatsResponse struct {
	metrics.Snapshot
	AuthenticatedSessions int `json:"authenticated_sessions"`
	AnonymousSessions     int `json:"anonymous_sessions"`
	BucketPoolCapacity    int `json:"bucket_pool_capacity"`
}

func (s *Server) handleStats(c echo.Context) error {
	authed, anon := s.registry.Snapshot()
	return c.JSON(http.StatusOK, StatsResponse{
		Snapshot:              s.counters.Snapshot(),
		AuthenticatedSessions: authed,
		AnonymousSessions:     anon,
		BucketPoolCapacity:    s.pool.Size(),
	})
}

// jsonErrorHandler ensures every error response is {"error": msg}, the same
// shape the teacher's API uses.
func jsonErrorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	msg := err.Error()
	if he, ok := err.(*echo.HTTPError); ok {
		code = he.Code
		if m, ok := he.Message.(string); ok {
			msg = m
		}
	}
	if !c.Response().Committed {
		c.JSON(code, map[string]string{"error": msg}) //nolint:errcheck
	}
}
