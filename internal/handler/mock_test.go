package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/sunrin-today/cli-domain-backend/internal/auth"
	"github.com/sunrin-today/cli-domain-backend/internal/dns"
	"github.com/sunrin-today/cli-domain-backend/internal/middleware"
	"github.com/sunrin-today/cli-domain-backend/internal/model"
	"github.com/sunrin-today/cli-domain-backend/internal/push"
)

// --- モック定義 ---

type mockAuthService struct {
	startLoginFn       func(ctx context.Context, kind model.SessionKind, applicationURL string) (*model.LoginSession, error)
	authorizationURLFn func(ctx context.Context, sessionID string) (string, error)
	handleCallbackFn   func(ctx context.Context, code, state string) (*auth.CallbackResult, error)
	pollTokenFn        func(ctx context.Context, sessionID string) (string, error)
	logoutFn           func(ctx context.Context, token string) error
}

func (m *mockAuthService) StartLogin(ctx context.Context, kind model.SessionKind, applicationURL string) (*model.LoginSession, error) {
	if m.startLoginFn != nil {
		return m.startLoginFn(ctx, kind, applicationURL)
	}
	return nil, nil
}

func (m *mockAuthService) AuthorizationURL(ctx context.Context, sessionID string) (string, error) {
	if m.authorizationURLFn != nil {
		return m.authorizationURLFn(ctx, sessionID)
	}
	return "", nil
}

func (m *mockAuthService) HandleCallback(ctx context.Context, code, state string) (*auth.CallbackResult, error) {
	if m.handleCallbackFn != nil {
		return m.handleCallbackFn(ctx, code, state)
	}
	return nil, nil
}

func (m *mockAuthService) PollToken(ctx context.Context, sessionID string) (string, error) {
	if m.pollTokenFn != nil {
		return m.pollTokenFn(ctx, sessionID)
	}
	return "", nil
}

func (m *mockAuthService) Logout(ctx context.Context, token string) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, token)
	}
	return nil
}

type mockProfileService struct {
	profileFn func(ctx context.Context, userID string) (*model.UserProfile, error)
}

func (m *mockProfileService) Profile(ctx context.Context, userID string) (*model.UserProfile, error) {
	if m.profileFn != nil {
		return m.profileFn(ctx, userID)
	}
	return nil, nil
}

type mockTicketService struct {
	roots    []string
	existFn  func(ctx context.Context, name string) (*dns.Target, bool, error)
	submitFn func(ctx context.Context, user *model.User, rec model.Record) (*model.DomainTicket, error)
	statusFn func(ctx context.Context, user *model.User, ticketID string) (*model.DomainTicket, error)
	closeFn  func(ctx context.Context, user *model.User, ticketID string) (*model.DomainTicket, error)
	listFn   func(ctx context.Context, user *model.User, filter model.TicketFilter) ([]*model.DomainTicket, error)
	findFn   func(ctx context.Context, ticketID string) (*model.DomainTicket, error)
	decideFn func(ctx context.Context, ticketID string, action model.DecisionAction, moderator string) (model.DecisionOutcome, error)
}

func (m *mockTicketService) AvailableRoots() []string {
	return m.roots
}

func (m *mockTicketService) Exist(ctx context.Context, name string) (*dns.Target, bool, error) {
	if m.existFn != nil {
		return m.existFn(ctx, name)
	}
	return nil, false, nil
}

func (m *mockTicketService) Submit(ctx context.Context, user *model.User, rec model.Record) (*model.DomainTicket, error) {
	if m.submitFn != nil {
		return m.submitFn(ctx, user, rec)
	}
	return nil, nil
}

func (m *mockTicketService) Status(ctx context.Context, user *model.User, ticketID string) (*model.DomainTicket, error) {
	if m.statusFn != nil {
		return m.statusFn(ctx, user, ticketID)
	}
	return nil, nil
}

func (m *mockTicketService) Close(ctx context.Context, user *model.User, ticketID string) (*model.DomainTicket, error) {
	if m.closeFn != nil {
		return m.closeFn(ctx, user, ticketID)
	}
	return nil, nil
}

func (m *mockTicketService) List(ctx context.Context, user *model.User, filter model.TicketFilter) ([]*model.DomainTicket, error) {
	if m.listFn != nil {
		return m.listFn(ctx, user, filter)
	}
	return nil, nil
}

func (m *mockTicketService) Find(ctx context.Context, ticketID string) (*model.DomainTicket, error) {
	if m.findFn != nil {
		return m.findFn(ctx, ticketID)
	}
	return nil, nil
}

func (m *mockTicketService) Decide(ctx context.Context, ticketID string, action model.DecisionAction, moderator string) (model.DecisionOutcome, error) {
	if m.decideFn != nil {
		return m.decideFn(ctx, ticketID, action, moderator)
	}
	return model.DecisionApplied, nil
}

type mockDomainService struct {
	listFn   func(ctx context.Context, user *model.User) ([]*model.Domain, error)
	updateFn func(ctx context.Context, user *model.User, rec model.Record) (*model.Domain, error)
	deleteFn func(ctx context.Context, user *model.User, name string) (*model.Domain, error)
}

func (m *mockDomainService) List(ctx context.Context, user *model.User) ([]*model.Domain, error) {
	if m.listFn != nil {
		return m.listFn(ctx, user)
	}
	return nil, nil
}

func (m *mockDomainService) Update(ctx context.Context, user *model.User, rec model.Record) (*model.Domain, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, user, rec)
	}
	return nil, nil
}

func (m *mockDomainService) Delete(ctx context.Context, user *model.User, name string) (*model.Domain, error) {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, user, name)
	}
	return nil, nil
}

type mockTransferService struct {
	createFn func(ctx context.Context, user *model.User, domainName, targetEmail string) (*model.TransferInvite, error)
	acceptFn func(ctx context.Context, inviteID string, user *model.User) (*model.TransferInvite, error)
	rejectFn func(ctx context.Context, inviteID string, user *model.User) error
}

func (m *mockTransferService) CreateInvite(ctx context.Context, user *model.User, domainName, targetEmail string) (*model.TransferInvite, error) {
	if m.createFn != nil {
		return m.createFn(ctx, user, domainName, targetEmail)
	}
	return nil, nil
}

func (m *mockTransferService) Accept(ctx context.Context, inviteID string, user *model.User) (*model.TransferInvite, error) {
	if m.acceptFn != nil {
		return m.acceptFn(ctx, inviteID, user)
	}
	return nil, nil
}

func (m *mockTransferService) Reject(ctx context.Context, inviteID string, user *model.User) error {
	if m.rejectFn != nil {
		return m.rejectFn(ctx, inviteID, user)
	}
	return nil
}

// mockQueue は投入されたタスクを記録し、runがtrueなら即座に実行する。
type mockQueue struct {
	names []string
	err   error
	run   bool
}

func (m *mockQueue) Enqueue(name string, fn func(ctx context.Context) error) error {
	if m.err != nil {
		return m.err
	}
	m.names = append(m.names, name)
	if m.run {
		return fn(context.Background())
	}
	return nil
}

// mockSessions はpush.Registryを使うLoginSessionSubscriberのモック。
type mockSessions struct {
	registry *push.Registry
	existsFn func(ctx context.Context, sessionID string) (bool, error)
}

func (m *mockSessions) Exists(ctx context.Context, sessionID string) (bool, error) {
	return m.existsFn(ctx, sessionID)
}

func (m *mockSessions) Subscribe(sessionID string, c push.Conn) {
	m.registry.Subscribe(sessionID, c)
}

func (m *mockSessions) Unsubscribe(sessionID string, c push.Conn) {
	m.registry.Unsubscribe(sessionID, c)
}

type mockDeliverer struct {
	deliverFn func(ctx context.Context, sessionID string) (bool, error)
}

func (m *mockDeliverer) DeliverIfResolved(ctx context.Context, sessionID string) (bool, error) {
	if m.deliverFn != nil {
		return m.deliverFn(ctx, sessionID)
	}
	return false, nil
}

type mockHealthChecker struct {
	err error
}

func (m *mockHealthChecker) PingContext(ctx context.Context) error {
	return m.err
}

// --- テストヘルパー ---

var testUser = &model.User{ID: "user-1", Email: "student@sunrint.hs.kr", Nickname: "선린", DomainLimit: 5}

// withUser はテスト用にリクエストコンテキストへユーザーを注入する。
func withUser(r *http.Request, u *model.User) *http.Request {
	return r.WithContext(middleware.ContextWithUser(r.Context(), u))
}

// withChiURLParam はテスト用にchiのURLパラメータを注入する。
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	ctx := context.WithValue(r.Context(), chi.RouteCtxKey, rctx)
	return r.WithContext(ctx)
}

// testEnvelope は成功レスポンスのデコード先。
type testEnvelope struct {
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

// decodeEnvelope は成功レスポンスをデコードし、dataをvに読み込む。
func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder, v any) testEnvelope {
	t.Helper()
	var env testEnvelope
	if err := json.NewDecoder(w.Body).Decode(&env); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if v != nil {
		if err := json.Unmarshal(env.Data, v); err != nil {
			t.Fatalf("failed to decode data: %v (raw: %s)", err, env.Data)
		}
	}
	return env
}

// parseAPIErrorResponse はエラーレスポンスをデコードする。
func parseAPIErrorResponse(t *testing.T, w *httptest.ResponseRecorder) middleware.ErrorResponseBody {
	t.Helper()
	var body middleware.ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return body
}

func mustARecord(t *testing.T, name, addr string) model.Record {
	t.Helper()
	rec, err := model.RecordInput{Name: name, Type: model.RecordTypeA, Content: addr}.ToRecord()
	if err != nil {
		t.Fatalf("ToRecord: %v", err)
	}
	return rec
}
