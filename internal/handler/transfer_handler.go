package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/sunrin-today/cli-domain-backend/internal/middleware"
	"github.com/sunrin-today/cli-domain-backend/internal/model"
	"github.com/sunrin-today/cli-domain-backend/internal/security"
)

// TransferServiceInterface はドメイン移管ハンドラーが必要とするサービスインターフェース。
type TransferServiceInterface interface {
	CreateInvite(ctx context.Context, user *model.User, domainName, targetEmail string) (*model.TransferInvite, error)
	Accept(ctx context.Context, inviteID string, user *model.User) (*model.TransferInvite, error)
	Reject(ctx context.Context, inviteID string, user *model.User) error
}

// TransferHandler はドメイン移管のHTTPハンドラー。
type TransferHandler struct {
	service TransferServiceInterface
	pages   *security.PageRenderer
}

// NewTransferHandler はTransferHandlerを生成する。
func NewTransferHandler(service TransferServiceInterface, pages *security.PageRenderer) *TransferHandler {
	return &TransferHandler{service: service, pages: pages}
}

type createInviteRequest struct {
	Name      string `json:"name"`
	UserEmail string `json:"user_email"`
}

type inviteCodeRequest struct {
	Code string `json:"code"`
}

type inviteResponse struct {
	Domain      string    `json:"domain"`
	TargetEmail string    `json:"target_email"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Create は保有ドメインの移管招待を作成し、招待先にメールを送る。
// 招待コードは招待先のメールにのみ記載し、レスポンスには含めない。
// POST /transfer/create
func (h *TransferHandler) Create(w http.ResponseWriter, r *http.Request) {
	u, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req createInviteRequest
	if err := decodeJSON(r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.UserEmail) == "" {
		handleServiceError(w, r, model.NewInvalidRequestError("name と user_email は必須です"))
		return
	}

	invite, err := h.service.CreateInvite(r.Context(), u, req.Name, req.UserEmail)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, inviteResponse{
		Domain:      invite.DomainName,
		TargetEmail: invite.TargetEmail,
		ExpiresAt:   invite.ExpiresAt,
	}, "도메인 이전 초대 메일을 보냈습니다.")
}

// Accept は移管招待を受諾する。
// ベアラートークン付きならJSONで結果を返す。メールのリンクをブラウザで開いた場合は
// トークンがないため、CLIでの受諾方法を案内するHTMLを返す。
// GET /transfer/accept?code=xxx
func (h *TransferHandler) Accept(w http.ResponseWriter, r *http.Request) {
	code := strings.TrimSpace(r.URL.Query().Get("code"))

	u, authenticated := middleware.UserFromContext(r.Context())
	if !authenticated {
		if code == "" {
			writeHTML(w, http.StatusBadRequest, h.pages.Render("Sunrin Today Domain", "도메인 초대 코드가 유효하지 않습니다"))
			return
		}
		writeHTML(w, http.StatusOK, h.pages.Render("Sunrin Today Domain",
			"CLI에서 로그인한 뒤 다음 코드로 도메인 이전을 수락하세요: "+code))
		return
	}

	if code == "" {
		handleServiceError(w, r, model.NewInvalidRequestError("code がありません"))
		return
	}

	invite, err := h.service.Accept(r.Context(), code, u)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, inviteResponse{
		Domain:      invite.DomainName,
		TargetEmail: invite.TargetEmail,
		ExpiresAt:   invite.ExpiresAt,
	}, h.pages.Text(invite.DomainName)+" 도메인을 성공적으로 이전했습니다.")
}

// Reject は移管招待を辞退する。
// POST /transfer/reject
func (h *TransferHandler) Reject(w http.ResponseWriter, r *http.Request) {
	u, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req inviteCodeRequest
	if err := decodeJSON(r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		handleServiceError(w, r, model.NewInvalidRequestError("code がありません"))
		return
	}

	if err := h.service.Reject(r.Context(), strings.TrimSpace(req.Code), u); err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nil, "도메인 이전 초대를 거절했습니다.")
}
