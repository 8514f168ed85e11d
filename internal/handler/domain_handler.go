package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sunrin-today/cli-domain-backend/internal/dns"
	"github.com/sunrin-today/cli-domain-backend/internal/model"
)

// TicketServiceInterface はチケット関連のハンドラーが必要とするサービスインターフェース。
type TicketServiceInterface interface {
	AvailableRoots() []string
	Exist(ctx context.Context, name string) (*dns.Target, bool, error)
	Submit(ctx context.Context, user *model.User, rec model.Record) (*model.DomainTicket, error)
	Status(ctx context.Context, user *model.User, ticketID string) (*model.DomainTicket, error)
	Close(ctx context.Context, user *model.User, ticketID string) (*model.DomainTicket, error)
	List(ctx context.Context, user *model.User, filter model.TicketFilter) ([]*model.DomainTicket, error)
}

// DomainServiceInterface は保有ドメインの操作に必要なサービスインターフェース。
type DomainServiceInterface interface {
	List(ctx context.Context, user *model.User) ([]*model.Domain, error)
	Update(ctx context.Context, user *model.User, rec model.Record) (*model.Domain, error)
	Delete(ctx context.Context, user *model.User, name string) (*model.Domain, error)
}

// DomainHandler はドメイン申請と保有ドメインのHTTPハンドラー。
type DomainHandler struct {
	tickets TicketServiceInterface
	domains DomainServiceInterface
}

// NewDomainHandler はDomainHandlerを生成する。
func NewDomainHandler(tickets TicketServiceInterface, domains DomainServiceInterface) *DomainHandler {
	return &DomainHandler{tickets: tickets, domains: domains}
}

type ticketResponse struct {
	ID        string             `json:"id"`
	Record    model.RecordOutput `json:"record"`
	Status    model.TicketStatus `json:"status"`
	DecidedBy string             `json:"decided_by,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

func newTicketResponse(t *model.DomainTicket) ticketResponse {
	return ticketResponse{
		ID:        t.ID,
		Record:    t.Record.Output(),
		Status:    t.Status,
		DecidedBy: t.DecidedBy,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
}

type domainResponse struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Record      model.RecordOutput `json:"record"`
	Provisioned bool               `json:"provisioned"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

func newDomainResponse(d *model.Domain) domainResponse {
	return domainResponse{
		ID:          d.ID,
		Name:        d.Name(),
		Record:      d.Record.Output(),
		Provisioned: d.Provisioned(),
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

type existResponse struct {
	Name      string `json:"name"`
	Available bool   `json:"available"`
}

type deleteRequest struct {
	Name string `json:"name"`
}

// List は保有ドメインの一覧を返す。
// GET /domain
func (h *DomainHandler) List(w http.ResponseWriter, r *http.Request) {
	u, ok := requireUser(w, r)
	if !ok {
		return
	}

	domains, err := h.domains.List(r.Context(), u)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := make([]domainResponse, 0, len(domains))
	for _, d := range domains {
		resp = append(resp, newDomainResponse(d))
	}
	writeJSON(w, http.StatusOK, resp, "")
}

// Available は申請可能なルートドメインを返す。
// GET /domain/available
func (h *DomainHandler) Available(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.tickets.AvailableRoots(), "")
}

// Exist はドメイン名が申請可能かどうかを返す。
// GET /domain/exist?name=xxx
func (h *DomainHandler) Exist(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		handleServiceError(w, r, model.NewInvalidRequestError("name がありません"))
		return
	}

	target, available, err := h.tickets.Exist(r.Context(), name)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	message := "사용 가능한 도메인입니다."
	if !available {
		message = "이미 사용 중인 도메인입니다."
	}
	writeJSON(w, http.StatusOK, existResponse{Name: target.Name, Available: available}, message)
}

// Tickets はユーザーの申請チケット一覧を返す。
// GET /domain/tickets?filter=pending|approved|rejected|closed|all
func (h *DomainHandler) Tickets(w http.ResponseWriter, r *http.Request) {
	u, ok := requireUser(w, r)
	if !ok {
		return
	}

	filter := parseTicketFilter(r.URL.Query().Get("filter"))
	tickets, err := h.tickets.List(r.Context(), u, filter)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := make([]ticketResponse, 0, len(tickets))
	for _, t := range tickets {
		resp = append(resp, newTicketResponse(t))
	}
	writeJSON(w, http.StatusOK, resp, "")
}

// parseTicketFilter はクエリ値をフィルタに変換する。
// 未知の値はそのまま渡し、サービス側でINVALID_REQUESTにする。
func parseTicketFilter(raw string) model.TicketFilter {
	raw = strings.ToUpper(strings.TrimSpace(raw))
	if raw == "" || raw == "ALL" {
		return model.TicketFilterAll
	}
	return model.TicketFilter(raw)
}

// TicketStatus は申請チケットの状態を返す。
// GET /domain/ticket/{id}/status
func (h *DomainHandler) TicketStatus(w http.ResponseWriter, r *http.Request) {
	u, ok := requireUser(w, r)
	if !ok {
		return
	}

	ticket, err := h.tickets.Status(r.Context(), u, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newTicketResponse(ticket), "")
}

// CloseTicket は審査待ちのチケットを取り下げる。
// POST /domain/ticket/{id}/close
func (h *DomainHandler) CloseTicket(w http.ResponseWriter, r *http.Request) {
	u, ok := requireUser(w, r)
	if !ok {
		return
	}

	ticket, err := h.tickets.Close(r.Context(), u, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newTicketResponse(ticket), "신청이 취소되었습니다.")
}

// Register はドメイン申請を受け付ける。
// POST /domain/register
func (h *DomainHandler) Register(w http.ResponseWriter, r *http.Request) {
	u, ok := requireUser(w, r)
	if !ok {
		return
	}

	rec, ok := decodeRecord(w, r)
	if !ok {
		return
	}

	ticket, err := h.tickets.Submit(r.Context(), u, rec)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newTicketResponse(ticket), "도메인 신청이 접수되었습니다. 관리자 승인 후 이메일로 안내됩니다.")
}

// Update は保有ドメインのレコードを書き換える。
// POST /domain/update
func (h *DomainHandler) Update(w http.ResponseWriter, r *http.Request) {
	u, ok := requireUser(w, r)
	if !ok {
		return
	}

	rec, ok := decodeRecord(w, r)
	if !ok {
		return
	}

	domain, err := h.domains.Update(r.Context(), u, rec)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newDomainResponse(domain), "도메인 레코드가 수정되었습니다.")
}

// Delete は保有ドメインを削除する。
// POST /domain/delete
func (h *DomainHandler) Delete(w http.ResponseWriter, r *http.Request) {
	u, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req deleteRequest
	if err := decodeJSON(r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		handleServiceError(w, r, model.NewInvalidRequestError("name がありません"))
		return
	}

	domain, err := h.domains.Delete(r.Context(), u, req.Name)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newDomainResponse(domain), "도메인이 삭제되었습니다.")
}

// decodeRecord はリクエストボディをレコードとして読み込み、種別ごとの形状を検証する。
func decodeRecord(w http.ResponseWriter, r *http.Request) (model.Record, bool) {
	var in model.RecordInput
	if err := decodeJSON(r, &in); err != nil {
		handleServiceError(w, r, err)
		return model.Record{}, false
	}
	rec, err := in.ToRecord()
	if err != nil {
		handleServiceError(w, r, err)
		return model.Record{}, false
	}
	return rec, true
}
