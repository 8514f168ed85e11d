// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/sunrin-today/cli-domain-backend/internal/middleware"
	"github.com/sunrin-today/cli-domain-backend/internal/model"
)

// maxBodyBytes はJSONリクエストボディの上限。
const maxBodyBytes = 64 << 10

// envelope は成功レスポンスの共通形式。
type envelope struct {
	Data    any    `json:"data"`
	Message string `json:"message"`
}

// writeJSON は成功レスポンスを {data, message} 形式で書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, data any, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(envelope{Data: data, Message: message})
}

// decodeJSON はリクエストボディをvに読み込む。
// 不正な形式の場合はINVALID_REQUESTを返す。
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return model.NewInvalidRequestError("リクエストボディの解析に失敗しました")
	}
	return nil
}

// decodeOptionalJSON はdecodeJSONと同じだが、空のボディを許容する。
func decodeOptionalJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return model.NewInvalidRequestError("リクエストボディの解析に失敗しました")
	}
	return nil
}

// handleServiceError はサービス層から返されたエラーをHTTPレスポンスに変換する。
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	middleware.WriteError(w, r, err)
}

// requireUser は認証済みユーザーを取り出す。
// 認証ミドルウェアの内側でのみ呼ぶ。
func requireUser(w http.ResponseWriter, r *http.Request) (*model.User, bool) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		handleServiceError(w, r, model.NewInvalidCredentialError())
		return nil, false
	}
	return user, true
}

// writeHTML はHTMLページを書き込む。
func writeHTML(w http.ResponseWriter, statusCode int, page string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(statusCode)
	io.WriteString(w, page)
}
