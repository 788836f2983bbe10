package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"postmesh/config"
	"postmesh/internal/metrics"
	"postmesh/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

func newTestServer(t *testing.T) (*Server, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	cfg := &config.Config{ServiceName: "post-service", AppPort: "0", AppMode: TestMode}
	return New(cfg, logger.NewNop(), reg), reg
}

func get(s *Server, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestServer_Routes(t *testing.T) {
	s, reg := newTestServer(t)
	m := metrics.New(reg)
	m.Published("post:created", "ok")

	healthy := true
	s.AddHealthCheck("database", func(ctx context.Context) error {
		if !healthy {
			return errors.New("connection refused")
		}
		return nil
	})
	s.SetupRoutes(func(api *gin.RouterGroup) {
		api.GET("/echo", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	})

	t.Run("Ping", func(t *testing.T) {
		rec := get(s, "/ping")
		if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "post-service") {
			t.Errorf("unexpected response %d %s", rec.Code, rec.Body.String())
		}
		if rec.Header().Get("X-Request-Id") == "" {
			t.Error("expected a request id header")
		}
	})

	t.Run("Health", func(t *testing.T) {
		if rec := get(s, "/health"); rec.Code != http.StatusOK {
			t.Errorf("expected 200, got %d", rec.Code)
		}
		healthy = false
		rec := get(s, "/health")
		if rec.Code != http.StatusServiceUnavailable || !strings.Contains(rec.Body.String(), "database") {
			t.Errorf("expected 503 naming the database, got %d %s", rec.Code, rec.Body.String())
		}
		healthy = true
	})

	t.Run("Metrics", func(t *testing.T) {
		rec := get(s, "/metrics")
		if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "postmesh_events_published_total") {
			t.Errorf("expected exported counters, got %d", rec.Code)
		}
	})

	t.Run("API Group", func(t *testing.T) {
		if rec := get(s, "/api/echo"); rec.Code != http.StatusOK {
			t.Errorf("expected 200, got %d", rec.Code)
		}
	})
}

func TestServer_ShutdownRunsHooksInOrder(t *testing.T) {
	s, _ := newTestServer(t)
	var order []string
	s.OnShutdown(func(ctx context.Context) { order = append(order, "subscriber") })
	s.OnShutdown(func(ctx context.Context) { order = append(order, "broker") })

	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if strings.Join(order, ",") != "subscriber,broker" {
		t.Errorf("unexpected hook order %v", order)
	}
}
