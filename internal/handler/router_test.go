package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sunrin-today/cli-domain-backend/internal/metrics"
	"github.com/sunrin-today/cli-domain-backend/internal/middleware"
	"github.com/sunrin-today/cli-domain-backend/internal/model"
	"github.com/sunrin-today/cli-domain-backend/internal/push"
	"github.com/sunrin-today/cli-domain-backend/internal/security"
)

// tokenAuthenticator は固定トークンのみ受け付けるAuthenticator。
type tokenAuthenticator struct{}

func (tokenAuthenticator) Authenticate(ctx context.Context, token string) (*model.User, error) {
	if token == "valid-token" {
		return testUser, nil
	}
	return nil, model.NewInvalidCredentialError()
}

// noVerify は常に署名検証に失敗するSignatureVerifier。
type noVerify struct{}

func (noVerify) Verify(signature, timestamp string, body []byte) bool { return false }

// createTestRouter はテスト用の完全なルーターを構築するヘルパー。
func createTestRouter(t *testing.T) http.Handler {
	t.Helper()

	rl := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		GeneralRate:     100,
		GeneralBurst:    100,
		RegisterRate:    1,
		RegisterBurst:   1,
		CleanupInterval: time.Minute,
	})
	t.Cleanup(rl.Stop)

	tickets := &mockTicketService{
		roots: []string{"sunrin.app"},
		submitFn: func(ctx context.Context, user *model.User, rec model.Record) (*model.DomainTicket, error) {
			return &model.DomainTicket{ID: "ticket-1", UserID: user.ID, Record: rec, Status: model.TicketStatusPending}, nil
		},
	}

	return NewRouter(&RouterDeps{
		Metrics:           metrics.Nop{},
		MetricsHandler:    http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("# metrics")) }),
		Authenticator:     tokenAuthenticator{},
		CORSAllowedOrigin: "http://localhost:3000",
		RateLimiter:       rl,
		HealthChecker:     &mockHealthChecker{},
		AuthService:       &mockAuthService{},
		ProfileService: &mockProfileService{
			profileFn: func(ctx context.Context, userID string) (*model.UserProfile, error) {
				return &model.UserProfile{User: testUser}, nil
			},
		},
		Sessions: &mockSessions{
			registry: push.NewRegistry(nil, nil),
			existsFn: func(ctx context.Context, sessionID string) (bool, error) { return false, nil },
		},
		Deliverer:       &mockDeliverer{},
		TicketService:   tickets,
		DomainService:   &mockDomainService{},
		TransferService: &mockTransferService{},
		Verifier:        noVerify{},
		DecisionService: tickets,
		Queue:           &mockQueue{},
		Discord:         DiscordConfig{VerifyChannelID: "c", VerifyRoleID: "r"},
		Pages:           security.NewPageRenderer(),
	})
}

func TestRouter_PublicRoutes(t *testing.T) {
	router := createTestRouter(t)

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/", http.StatusOK},
		{http.MethodGet, "/health", http.StatusOK},
		{http.MethodGet, "/metrics", http.StatusOK},
		{http.MethodGet, "/domain/available", http.StatusOK},
		{http.MethodGet, "/auth/login/session", http.StatusBadRequest},
		{http.MethodGet, "/transfer/accept?code=abc", http.StatusOK},
		{http.MethodPost, "/discord/interaction", http.StatusUnauthorized},
		{http.MethodGet, "/nope", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(tt.method, tt.path, nil))
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestRouter_ProtectedRoutesRequireBearer(t *testing.T) {
	router := createTestRouter(t)

	routes := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/auth/me"},
		{http.MethodPost, "/auth/logout"},
		{http.MethodGet, "/domain"},
		{http.MethodGet, "/domain/exist?name=foo.sunrin.io"},
		{http.MethodGet, "/domain/tickets"},
		{http.MethodGet, "/domain/ticket/t1/status"},
		{http.MethodPost, "/domain/ticket/t1/close"},
		{http.MethodPost, "/domain/register"},
		{http.MethodPost, "/domain/update"},
		{http.MethodPost, "/domain/delete"},
		{http.MethodPost, "/transfer/create"},
		{http.MethodPost, "/transfer/reject"},
	}

	for _, rt := range routes {
		t.Run(rt.method+" "+rt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(rt.method, rt.path, nil))
			if w.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
			}
		})
	}
}

func TestRouter_AuthenticatedMe(t *testing.T) {
	router := createTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.Header.Set("Authorization", "Bearer valid-token")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("security headers missing: X-Content-Type-Options = %q", got)
	}
}

func TestRouter_RegisterHasOwnRateLimit(t *testing.T) {
	router := createTestRouter(t)

	send := func() int {
		body := `{"name":"blog.sunrin.app","type":"A","content":"203.0.113.10"}`
		req := httptest.NewRequest(http.MethodPost, "/domain/register", strings.NewReader(body))
		req.Header.Set("Authorization", "Bearer valid-token")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w.Code
	}

	if code := send(); code != http.StatusCreated {
		t.Fatalf("first register: status = %d, want %d", code, http.StatusCreated)
	}
	if code := send(); code != http.StatusTooManyRequests {
		t.Errorf("second register: status = %d, want %d", code, http.StatusTooManyRequests)
	}
}

func TestRouter_DiscordPingNeedsValidSignature(t *testing.T) {
	router := createTestRouter(t)

	body := `{"type":1}`
	req := httptest.NewRequest(http.MethodPost, "/discord/interaction", strings.NewReader(body))
	req.Header.Set("X-Signature-Ed25519", "00")
	req.Header.Set("X-Signature-Timestamp", "1")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if body := parseAPIErrorResponse(t, w); body.Code != model.ErrCodeInvalidCredential {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeInvalidCredential)
	}
}
