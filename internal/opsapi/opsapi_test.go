package opsapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"ppgram/server/internal/dbpool"
	"ppgram/server/internal/metrics"
	"ppgram/server/internal/session"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	return New(session.NewRegistry(), dbpool.New(dbpool.Config{}), &metrics.Counters{})
}

func TestHealthzAlwaysOK(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	c := s.echo.NewContext(req, rec)

	if err := s.handleHealthz(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("status: got %d, want %d", rec.Code, http.StatusOK)
	}
	var resp HealthzResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("status field: got %q, want %q", resp.Status, "ok")
	}
}

func TestReadyzUnavailableWithNoBuckets(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	c := s.echo.NewContext(req, rec)

	err := s.handleReadyz(c)
	if err == nil {
		t.Fatalf("expected an error with an empty bucket pool")
	}
	he, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected *echo.HTTPError, got %T", err)
	}
	if he.Code != http.StatusServiceUnavailable {
		t.Errorf("status: got %d, want %d", he.Code, http.StatusServiceUnavailable)
	}
}

func TestStatsReportsRegistryAndCounterState(t *testing.T) {
	registry := session.NewRegistry()
	conn := session.NewConnection()
	registry.Authenticate(conn, session.Credentials{UserID: 1, SessionID: "tok"})

	counters := &metrics.Counters{}
	counters.MessagesSent.Add(5)

	s := New(registry, dbpool.New(dbpool.Config{}), counters)

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	c := s.echo.NewContext(req, rec)

	if err := s.handleStats(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}

	var resp StatsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.AuthenticatedSessions != 1 {
		t.Errorf("authenticated_sessions: got %d, want 1", resp.AuthenticatedSessions)
	}
	if resp.MessagesSent != 5 {
		t.Errorf("messages_sent: got %d, want 5", resp.MessagesSent)
	}
}
