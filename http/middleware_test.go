package http

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestChainOrder(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := Chain(mark("a"), mark("b"), mark("c"))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if strings.Join(order, "") != "abc" {
		t.Fatalf("unexpected order %v", order)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	h := RecoveryMiddleware(zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "internal_error") {
		t.Errorf("unexpected body %s", w.Body.String())
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	h := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if seen != "abc-123" || w.Header().Get(requestIDHeader) != "abc-123" {
		t.Errorf("caller request id not propagated: %q", seen)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if len(seen) != 36 {
		t.Errorf("expected generated uuid, got %q", seen)
	}
}

func TestCORSMiddleware(t *testing.T) {
	h := CORSMiddleware([]string{"https://app.example"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	tests := []struct {
		name    string
		method  string
		origin  string
		status  int
		allowed bool
	}{
		{name: "preflight", method: http.MethodOptions, origin: "https://app.example", status: http.StatusNoContent, allowed: true},
		{name: "allowed origin", method: http.MethodPost, origin: "https://app.example", status: http.StatusTeapot, allowed: true},
		{name: "foreign origin", method: http.MethodPost, origin: "https://other.example", status: http.StatusTeapot},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/predict", nil)
			req.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			if w.Code != tt.status {
				t.Errorf("expected %d, got %d", tt.status, w.Code)
			}
			got := w.Header().Get("Access-Control-Allow-Origin") == tt.origin
			if got != tt.allowed {
				t.Errorf("allow origin header = %q", w.Header().Get("Access-Control-Allow-Origin"))
			}
		})
	}
}

func TestTimeoutMiddleware(t *testing.T) {
	var deadline bool
	h := TimeoutMiddleware(time.Second)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, deadline = r.Context().Deadline()
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if !deadline {
		t.Error("expected a deadline on plain requests")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/ws/predictions", nil)
	req.Header.Set("Upgrade", "websocket")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if deadline {
		t.Error("websocket upgrades must not get a deadline")
	}
}

func TestLoggerMiddlewareRecordsStatus(t *testing.T) {
	var recorded *responseWriter
	h := LoggerMiddleware(zap.NewNop(), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorded = w.(*responseWriter)
		w.WriteHeader(http.StatusAccepted)
		w.WriteHeader(http.StatusTeapot)
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if recorded.statusCode != http.StatusAccepted || w.Code != http.StatusAccepted {
		t.Errorf("expected first status to win, got %d / %d", recorded.statusCode, w.Code)
	}
}
