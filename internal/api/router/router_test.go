package router

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sehatline/triage-ai/internal/chatgateway"
)

func TestHealthEndpoint(t *testing.T) {
	h := New(&Config{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("health = %d", rr.Code)
	}
}

func TestMetricsMounted(t *testing.T) {
	mh := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := New(&Config{MetricsHandler: mh})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("metrics = %d", rr.Code)
	}
}

func TestChatRoutesRequireGateway(t *testing.T) {
	h := New(&Config{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/chat/history", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without gateway, got %d", rr.Code)
	}
}

func TestChatHistoryMounted(t *testing.T) {
	gw := chatgateway.NewHandler(func() chatgateway.Conversation { return nil }, nil, nil)
	h := New(&Config{Gateway: gw})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/chat/history?session=s1", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("chat history = %d", rr.Code)
	}
}

func TestCORSHeadersApplied(t *testing.T) {
	h := New(&Config{CORSAllowedOrigins: []string{"https://app.sehatline.id"}})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://app.sehatline.id")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://app.sehatline.id" {
		t.Fatalf("cors origin = %q", got)
	}
}
