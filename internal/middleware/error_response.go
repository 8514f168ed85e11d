package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/sunrin-today/cli-domain-backend/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法を含む。
type ErrorResponseBody struct {
	Code     string            `json:"code"`
	Message  string            `json:"message"`
	Category string            `json:"category"`
	Action   string            `json:"action"`
	Context  map[string]string `json:"context,omitempty"`
}

// StatusForCode はエラーコードに対応するHTTPステータスを返す。
func StatusForCode(code string) int {
	switch code {
	case model.ErrCodeSessionNotFound, model.ErrCodeTicketNotFound, model.ErrCodeDomainNotFound,
		model.ErrCodeInviteNotFound, model.ErrCodeUserNotFound:
		return http.StatusNotFound
	case model.ErrCodeInvalidCredential:
		return http.StatusUnauthorized
	case model.ErrCodeInvalidInvite:
		return http.StatusForbidden
	case model.ErrCodeSessionExpired, model.ErrCodeInviteExpired:
		return http.StatusGone
	case model.ErrCodeDuplicateRequest, model.ErrCodeSessionPending:
		return http.StatusConflict
	case model.ErrCodeDomainNotAllowed, model.ErrCodeDomainUnavailable, model.ErrCodeQuotaExceeded,
		model.ErrCodeInvalidRecord, model.ErrCodeInvalidRequest, model.ErrCodeInvalidURL:
		return http.StatusBadRequest
	case model.ErrCodeUpstreamUnavailable:
		return http.StatusBadGateway
	case model.ErrCodeStoreUnavailable, model.ErrCodeBusy:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
// すべてのAPIエンドポイントで一貫したエラーレスポンスを提供する。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
		Context:  apiErr.Context,
	})
}

// WriteError はエラーをHTTPレスポンスに変換する。
// APIErrorはコードに応じたステータスで返し、それ以外は500とする。
// 5xxの原因エラーはログのみに記録する。
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr, ok := model.AsAPIError(err)
	if !ok {
		slog.Error("unhandled error",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		WriteInternalServerError(w)
		return
	}

	status := StatusForCode(apiErr.Code)
	if status >= http.StatusInternalServerError && apiErr.Err != nil {
		slog.Error("request failed",
			slog.String("code", apiErr.Code),
			slog.String("path", r.URL.Path),
			slog.String("error", apiErr.Err.Error()),
		)
	}
	WriteErrorResponse(w, status, apiErr)
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}
