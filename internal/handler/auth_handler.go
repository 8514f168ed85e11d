package handler

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/sunrin-today/cli-domain-backend/internal/auth"
	"github.com/sunrin-today/cli-domain-backend/internal/middleware"
	"github.com/sunrin-today/cli-domain-backend/internal/model"
	"github.com/sunrin-today/cli-domain-backend/internal/security"
	"github.com/sunrin-today/cli-domain-backend/internal/user"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	StartLogin(ctx context.Context, kind model.SessionKind, applicationURL string) (*model.LoginSession, error)
	AuthorizationURL(ctx context.Context, sessionID string) (string, error)
	HandleCallback(ctx context.Context, code, state string) (*auth.CallbackResult, error)
	PollToken(ctx context.Context, sessionID string) (string, error)
	Logout(ctx context.Context, token string) error
}

// ProfileServiceInterface はユーザー情報の取得に必要なサービスインターフェース。
type ProfileServiceInterface interface {
	Profile(ctx context.Context, userID string) (*model.UserProfile, error)
}

// AuthHandler はログインセッションとOAuthコールバックのHTTPハンドラー。
type AuthHandler struct {
	service  AuthServiceInterface
	profiles ProfileServiceInterface
	pages    *security.PageRenderer
	logger   *slog.Logger
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, profiles ProfileServiceInterface, pages *security.PageRenderer, logger *slog.Logger) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{
		service:  service,
		profiles: profiles,
		pages:    pages,
		logger:   logger,
	}
}

// createSessionRequest はログインセッション作成リクエストのボディ。
// ボディ省略時はCLIログインとして扱う。
type createSessionRequest struct {
	Kind           model.SessionKind `json:"kind"`
	ApplicationURL string            `json:"application_url"`
}

type sessionResponse struct {
	SessionID string    `json:"session_id"`
	Kind      string    `json:"kind"`
	ExpiresAt time.Time `json:"expires_at"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
}

type meResponse struct {
	ID             string `json:"id"`
	Email          string `json:"email"`
	Nickname       string `json:"nickname"`
	Avatar         string `json:"avatar,omitempty"`
	DomainLimit    int    `json:"domain_limit"`
	DomainCount    int    `json:"domain_count"`
	PendingTickets int    `json:"pending_tickets"`
	Remaining      int    `json:"remaining"`
}

// CreateSession はログインセッションを作成する。
// POST /auth/login/session
func (h *AuthHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}

	session, err := h.service.StartLogin(r.Context(), req.Kind, req.ApplicationURL)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, sessionResponse{
		SessionID: session.ID,
		Kind:      string(session.Kind),
		ExpiresAt: session.ExpiresAt,
	}, "로그인 세션이 생성되었습니다.")
}

// PollToken は本人確認済みのセッションに対してトークンを発行する。
// ライブ配信の待受を張れなかったクライアント向け。
// GET /auth/login/session?session_id=xxx
func (h *AuthHandler) PollToken(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		handleServiceError(w, r, model.NewInvalidRequestError("session_id がありません"))
		return
	}

	token, err := h.service.PollToken(r.Context(), sessionID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{AccessToken: token}, "토큰이 발급되었습니다.")
}

// AuthorizationURL はGoogleの認証URLを返す。
// GET /auth/authorization-url?session_id=xxx
func (h *AuthHandler) AuthorizationURL(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		handleServiceError(w, r, model.NewInvalidRequestError("session_id がありません"))
		return
	}

	authURL, err := h.service.AuthorizationURL(r.Context(), sessionID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"authorization_url": authURL}, "Authorization URL generated")
}

// Callback はOAuthコールバックを処理し、結果をブラウザ向けのHTMLで返す。
// 連携ログインの場合はアプリケーションへリダイレクトする。
// GET /auth/callback?code=xxx&state=yyy
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	result, err := h.service.HandleCallback(r.Context(), q.Get("code"), q.Get("state"))
	if err != nil {
		status := http.StatusInternalServerError
		message := "로그인 처리 중 오류가 발생했습니다. 잠시 후 다시 시도해주세요."
		if apiErr, ok := model.AsAPIError(err); ok {
			status = middleware.StatusForCode(apiErr.Code)
			if status < http.StatusInternalServerError {
				message = "로그인 요청이 만료되었거나 유효하지 않습니다. CLI에서 다시 로그인해주세요."
			}
		}
		h.logger.Warn("OAuthコールバックの処理に失敗しました", slog.String("error", err.Error()))
		writeHTML(w, status, h.pages.Render("로그인 실패", message))
		return
	}

	if result.Session.Kind == model.SessionKindApplication && result.Session.ApplicationURL != "" {
		target, err := url.Parse(result.Session.ApplicationURL)
		if err == nil {
			values := target.Query()
			values.Set("session_id", result.Session.ID)
			target.RawQuery = values.Encode()
			http.Redirect(w, r, target.String(), http.StatusFound)
			return
		}
	}

	body := result.User.Nickname + "님, 로그인되었습니다. 이 창을 닫고 터미널로 돌아가세요."
	writeHTML(w, http.StatusOK, h.pages.Render("로그인 완료", body))
}

// Logout はベアラートークンを失効させる。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token, _ := middleware.BearerToken(r)
	if err := h.service.Logout(r.Context(), token); err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nil, "로그아웃되었습니다.")
}

// Me は現在のログインユーザー情報と保有状況を返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	u, ok := requireUser(w, r)
	if !ok {
		return
	}

	profile, err := h.profiles.Profile(r.Context(), u.ID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, meResponse{
		ID:             profile.User.ID,
		Email:          profile.User.Email,
		Nickname:       profile.User.Nickname,
		Avatar:         profile.User.Avatar,
		DomainLimit:    profile.User.DomainLimit,
		DomainCount:    profile.DomainCount,
		PendingTickets: profile.PendingTickets,
		Remaining:      user.Remaining(profile),
	}, "")
}
