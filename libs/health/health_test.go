package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func newRouter(m *Manager) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/healthz", LivenessHandler)
	r.GET("/readyz", ReadinessHandler(m))
	return r
}

func get(r *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestReadinessFollowsManager(t *testing.T) {
	m := NewManager(false)
	r := newRouter(m)

	if w := get(r, "/readyz"); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before ready, got %d", w.Code)
	}

	m.SetReady(true)
	if w := get(r, "/readyz"); w.Code != http.StatusOK {
		t.Fatalf("expected 200 when ready, got %d", w.Code)
	}

	if w := get(r, "/healthz"); w.Code != http.StatusOK {
		t.Fatalf("expected liveness 200, got %d", w.Code)
	}
}

func TestReadinessReportsFailingChecks(t *testing.T) {
	m := NewManager(true)
	storeErr := errors.New("connection refused")
	m.AddCheck("store", func(ctx context.Context) error { return storeErr })
	m.AddCheck("noop", func(ctx context.Context) error { return nil })
	r := newRouter(m)

	w := get(r, "/readyz")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 with failing store, got %d", w.Code)
	}
	var body struct {
		Failing []string `json:"failing"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Failing) != 1 || body.Failing[0] != "store" {
		t.Fatalf("expected store failing, got %v", body.Failing)
	}

	storeErr = nil
	if w := get(r, "/readyz"); w.Code != http.StatusOK {
		t.Fatalf("expected 200 once store recovers, got %d", w.Code)
	}
	if w := get(r, "/healthz"); w.Code != http.StatusOK {
		t.Fatalf("liveness must ignore checks, got %d", w.Code)
	}
}

func TestCheckTimeoutCancelsSlowCheck(t *testing.T) {
	m := NewManager(true)
	m.SetCheckTimeout(10 * time.Millisecond)
	m.AddCheck("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if failed := m.Failing(context.Background()); len(failed) != 1 {
		t.Fatalf("expected slow check to fail on timeout, got %v", failed)
	}
}
