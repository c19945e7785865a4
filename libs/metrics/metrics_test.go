package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandlerExposesRequestMetrics(t *testing.T) {
	registry := NewRegistry()
	RequestCount.WithLabelValues(http.MethodGet, "/wallet/dashboard", "OK").Inc()

	w := httptest.NewRecorder()
	Handler(registry).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "http_requests_total") {
		t.Fatalf("expected request counter in output")
	}
	if !strings.Contains(body, "go_goroutines") {
		t.Fatalf("expected runtime collectors in output")
	}
}
