// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/sunrin-today/cli-domain-backend/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	userContextKey        = contextKey("user")
	requestInfoContextKey = contextKey("request_info")
)

// Authenticator はベアラートークンからユーザーを解決する。
// auth.Serviceが満たす。
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*model.User, error)
}

// requestInfo はハンドラ内部で判明したリクエスト情報を外側のミドルウェアへ伝える。
// コンテキストは内向きにしか伝わらないため、ポインタで共有する。
type requestInfo struct {
	userID string
}

// NewAuthMiddleware はAuthorizationヘッダーのベアラートークンを検証し、
// ユーザーをリクエストコンテキストに注入するミドルウェアを返す。
// トークンが無い、または無効な場合は401を返す。
func NewAuthMiddleware(a Authenticator) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := BearerToken(r)
			if !ok {
				WriteError(w, r, model.NewInvalidCredentialError())
				return
			}
			user, err := a.Authenticate(r.Context(), token)
			if err != nil {
				WriteError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), user)))
		})
	}
}

// NewOptionalAuthMiddleware はトークンがあれば検証してユーザーを注入する。
// トークンが無いリクエストはそのまま通す。無効なトークンは401とする。
func NewOptionalAuthMiddleware(a Authenticator) func(next http.Handler) http.Handler {
	required := NewAuthMiddleware(a)
	return func(next http.Handler) http.Handler {
		withAuth := required(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := BearerToken(r); !ok {
				next.ServeHTTP(w, r)
				return
			}
			withAuth.ServeHTTP(w, r)
		})
	}
}

// BearerToken はAuthorizationヘッダーからベアラートークンを取り出す。
func BearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// UserFromContext はリクエストコンテキストから認証済みユーザーを取得する。
// 認証ミドルウェアを通過したリクエストでのみ有効。
func UserFromContext(ctx context.Context) (*model.User, bool) {
	user, ok := ctx.Value(userContextKey).(*model.User)
	return user, ok && user != nil
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
func UserIDFromContext(ctx context.Context) (string, error) {
	user, ok := UserFromContext(ctx)
	if !ok || user.ID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return user.ID, nil
}

// ContextWithUser はコンテキストにユーザーを注入する。
// ロギングミドルウェアの内側であれば、ログのuser_idにも反映される。
func ContextWithUser(ctx context.Context, user *model.User) context.Context {
	if info, ok := ctx.Value(requestInfoContextKey).(*requestInfo); ok {
		info.userID = user.ID
	}
	return context.WithValue(ctx, userContextKey, user)
}
