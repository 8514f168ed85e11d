package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sunrin-today/cli-domain-backend/internal/model"
	"github.com/sunrin-today/cli-domain-backend/internal/security"
)

func newTestTransferHandler(svc *mockTransferService) *TransferHandler {
	return NewTransferHandler(svc, security.NewPageRenderer())
}

func testInvite() *model.TransferInvite {
	return &model.TransferInvite{
		ID:          "9b2f7a52-3f0e-4e0b-9a51-1f6d2f7f1a10",
		DomainID:    "d1",
		DomainName:  "blog.sunrin.app",
		UserID:      testUser.ID,
		TargetEmail: "friend@sunrint.hs.kr",
		ExpiresAt:   time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC),
	}
}

// --- POST /transfer/create ---

func TestTransferHandler_Create(t *testing.T) {
	svc := &mockTransferService{
		createFn: func(ctx context.Context, user *model.User, domainName, targetEmail string) (*model.TransferInvite, error) {
			if domainName != "blog.sunrin.app" || targetEmail != "friend@sunrint.hs.kr" {
				t.Errorf("args = %q, %q", domainName, targetEmail)
			}
			return testInvite(), nil
		},
	}
	h := newTestTransferHandler(svc)

	body := `{"name":"blog.sunrin.app","user_email":"friend@sunrint.hs.kr"}`
	w := httptest.NewRecorder()
	h.Create(w, withUser(httptest.NewRequest(http.MethodPost, "/transfer/create", strings.NewReader(body)), testUser))

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusCreated)
	}
	if strings.Contains(w.Body.String(), testInvite().ID) {
		t.Error("invite code must only be sent by mail")
	}
	var got inviteResponse
	decodeEnvelope(t, w, &got)
	if got.Domain != "blog.sunrin.app" || got.TargetEmail != "friend@sunrint.hs.kr" {
		t.Errorf("invite = %+v", got)
	}
}

func TestTransferHandler_Create_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		svcErr     error
		wantStatus int
	}{
		{"missing email", `{"name":"blog.sunrin.app"}`, nil, http.StatusBadRequest},
		{"not owned", `{"name":"x.sunrin.app","user_email":"a@b.kr"}`, model.NewDomainNotFoundError("x.sunrin.app"), http.StatusNotFound},
		{"bad email", `{"name":"blog.sunrin.app","user_email":"nope"}`, model.NewInvalidRequestError("email"), http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockTransferService{
				createFn: func(ctx context.Context, user *model.User, domainName, targetEmail string) (*model.TransferInvite, error) {
					return nil, tt.svcErr
				},
			}
			h := newTestTransferHandler(svc)

			w := httptest.NewRecorder()
			h.Create(w, withUser(httptest.NewRequest(http.MethodPost, "/transfer/create", strings.NewReader(tt.body)), testUser))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

// --- GET /transfer/accept ---

func TestTransferHandler_Accept_Authenticated(t *testing.T) {
	recipient := &model.User{ID: "user-2", Email: "friend@sunrint.hs.kr"}
	svc := &mockTransferService{
		acceptFn: func(ctx context.Context, inviteID string, user *model.User) (*model.TransferInvite, error) {
			if inviteID != testInvite().ID || user.ID != recipient.ID {
				t.Errorf("args = %q, %q", inviteID, user.ID)
			}
			return testInvite(), nil
		},
	}
	h := newTestTransferHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/transfer/accept?code="+testInvite().ID, nil)
	w := httptest.NewRecorder()
	h.Accept(w, withUser(req, recipient))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	env := decodeEnvelope(t, w, nil)
	if !strings.Contains(env.Message, "blog.sunrin.app") {
		t.Errorf("message = %q", env.Message)
	}
}

func TestTransferHandler_Accept_Errors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"wrong recipient", model.NewInvalidInviteError(), http.StatusForbidden},
		{"expired", model.NewInviteExpiredError(), http.StatusGone},
		{"unknown", model.NewInviteNotFoundError(), http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockTransferService{
				acceptFn: func(ctx context.Context, inviteID string, user *model.User) (*model.TransferInvite, error) {
					return nil, tt.err
				},
			}
			h := newTestTransferHandler(svc)

			w := httptest.NewRecorder()
			h.Accept(w, withUser(httptest.NewRequest(http.MethodGet, "/transfer/accept?code=abc", nil), testUser))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestTransferHandler_Accept_BrowserLanding(t *testing.T) {
	called := false
	svc := &mockTransferService{
		acceptFn: func(ctx context.Context, inviteID string, user *model.User) (*model.TransferInvite, error) {
			called = true
			return nil, nil
		},
	}
	h := newTestTransferHandler(svc)

	t.Run("with code", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.Accept(w, httptest.NewRequest(http.MethodGet, "/transfer/accept?code=%3Cscript%3Ex%3C%2Fscript%3E", nil))

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
		}
		if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
			t.Errorf("Content-Type = %q", ct)
		}
		if strings.Contains(w.Body.String(), "<script>") {
			t.Errorf("code must be sanitised: %s", w.Body.String())
		}
	})

	t.Run("without code", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.Accept(w, httptest.NewRequest(http.MethodGet, "/transfer/accept", nil))

		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
		}
		if !strings.Contains(w.Body.String(), "도메인 초대 코드가 유효하지 않습니다") {
			t.Errorf("body = %s", w.Body.String())
		}
	})

	if called {
		t.Error("accept must not run without an authenticated user")
	}
}

// --- POST /transfer/reject ---

func TestTransferHandler_Reject(t *testing.T) {
	var rejected string
	svc := &mockTransferService{
		rejectFn: func(ctx context.Context, inviteID string, user *model.User) error {
			rejected = inviteID
			return nil
		},
	}
	h := newTestTransferHandler(svc)

	w := httptest.NewRecorder()
	h.Reject(w, withUser(httptest.NewRequest(http.MethodPost, "/transfer/reject", strings.NewReader(`{"code":" abc "}`)), testUser))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if rejected != "abc" {
		t.Errorf("rejected = %q, want abc", rejected)
	}

	w = httptest.NewRecorder()
	h.Reject(w, withUser(httptest.NewRequest(http.MethodPost, "/transfer/reject", strings.NewReader(`{}`)), testUser))
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing code: status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}
