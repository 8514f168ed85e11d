package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sunrin-today/cli-domain-backend/internal/metrics"
)

// newTestRouter はサーバーと同じ順序でミドルウェアを積んだルーターを生成する。
// Recovery -> SecurityHeaders -> CORS -> Logging -> (Auth -> RateLimit)
func newTestRouter(t *testing.T, logBuf *bytes.Buffer) http.Handler {
	t.Helper()

	rl := NewRateLimiter(RateLimiterConfig{
		GeneralRate:     1,
		GeneralBurst:    2,
		RegisterRate:    1,
		RegisterBurst:   1,
		CleanupInterval: time.Minute,
	})
	t.Cleanup(rl.Stop)

	logger := slog.New(slog.NewJSONHandler(logBuf, nil))

	r := chi.NewRouter()
	r.Use(NewRecoveryMiddleware(logger))
	r.Use(NewSecurityHeadersMiddleware())
	r.Use(NewCORSMiddleware("http://localhost:3000"))
	r.Use(NewLoggingMiddleware(logger, metrics.Nop{}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/panic", func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	r.Group(func(r chi.Router) {
		r.Use(NewAuthMiddleware(newMockAuthenticator()))
		r.Use(rl.GeneralMiddleware())
		r.Get("/auth/me", userEcho)
		r.With(rl.RegisterMiddleware()).Post("/domain/register", userEcho)
	})
	return r
}

func TestMiddlewareChain_PublicRoute(t *testing.T) {
	var buf bytes.Buffer
	router := newTestRouter(t, &buf)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestMiddlewareChain_AuthenticatedRequestLogsUserID(t *testing.T) {
	var buf bytes.Buffer
	router := newTestRouter(t, &buf)

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.Header.Set("Authorization", "Bearer valid-token")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var entry map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("failed to parse JSON log: %v\nraw: %s", err, buf.String())
	}
	if entry["user_id"] != "user-1" {
		t.Errorf("user_id = %v, want user-1", entry["user_id"])
	}
}

func TestMiddlewareChain_NoToken_Returns401(t *testing.T) {
	var buf bytes.Buffer
	router := newTestRouter(t, &buf)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/me", nil))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if !strings.Contains(buf.String(), `"level":"WARN"`) {
		t.Errorf("4xx should be logged at WARN: %s", buf.String())
	}
}

func TestMiddlewareChain_RegisterLimitedSeparately(t *testing.T) {
	var buf bytes.Buffer
	router := newTestRouter(t, &buf)

	send := func() int {
		req := httptest.NewRequest(http.MethodPost, "/domain/register", nil)
		req.Header.Set("Authorization", "Bearer valid-token")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w.Code
	}

	if code := send(); code != http.StatusOK {
		t.Fatalf("first register: status = %d, want 200", code)
	}
	if code := send(); code != http.StatusTooManyRequests {
		t.Errorf("second register: status = %d, want 429", code)
	}
}

func TestMiddlewareChain_PanicRecovered(t *testing.T) {
	var buf bytes.Buffer
	router := newTestRouter(t, &buf)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("panic response is not JSON: %v", err)
	}
	if body.Code != "INTERNAL_ERROR" {
		t.Errorf("code = %q, want INTERNAL_ERROR", body.Code)
	}
	if !strings.Contains(buf.String(), `"msg":"panic recovered"`) {
		t.Errorf("panic should be logged through the injected logger, got %s", buf.String())
	}
}

func TestRecoveryMiddleware_PropagatesAbortHandler(t *testing.T) {
	h := NewRecoveryMiddleware(slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil)))(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic(http.ErrAbortHandler)
		}),
	)

	defer func() {
		if rec := recover(); rec != http.ErrAbortHandler {
			t.Errorf("recovered %v, want http.ErrAbortHandler", rec)
		}
	}()
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	t.Error("ErrAbortHandler must not be swallowed")
}

func TestSecurityHeaders(t *testing.T) {
	var buf bytes.Buffer
	router := newTestRouter(t, &buf)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	want := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Referrer-Policy":        "no-referrer",
		"Cache-Control":          "no-store",
	}
	for k, v := range want {
		if got := w.Header().Get(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
	if csp := w.Header().Get("Content-Security-Policy"); !strings.Contains(csp, "default-src 'none'") {
		t.Errorf("Content-Security-Policy = %q", csp)
	}
}
