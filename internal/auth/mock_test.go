package auth

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sunrin-today/cli-domain-backend/internal/mail"
	"github.com/sunrin-today/cli-domain-backend/internal/model"
	"github.com/sunrin-today/cli-domain-backend/internal/repository"
)

// --- モック定義 ---

// fakeClock はテストから進められる時計。
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// memSessionRepo はLoginSessionRepositoryのインメモリ実装。
type memSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]model.LoginSession
	err      error
}

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{sessions: make(map[string]model.LoginSession)}
}

func (m *memSessionRepo) Create(ctx context.Context, session *model.LoginSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sessions[session.ID] = *session
	return nil
}

func (m *memSessionRepo) FindByID(ctx context.Context, id string, now time.Time) (*model.LoginSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	s, ok := m.sessions[id]
	if !ok || !now.Before(s.ExpiresAt) {
		return nil, nil
	}
	return &s, nil
}

func (m *memSessionRepo) Resolve(ctx context.Context, id, userID string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || !now.Before(s.ExpiresAt) {
		return false, nil
	}
	s.UserID = userID
	m.sessions[id] = s
	return true, nil
}

func (m *memSessionRepo) DeleteByID(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *memSessionRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

func (m *memSessionRepo) has(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[id]
	return ok
}

// memTokenRepo はAccessTokenRepositoryのインメモリ実装。
type memTokenRepo struct {
	mu     sync.Mutex
	tokens map[string]model.AccessToken
}

func newMemTokenRepo() *memTokenRepo {
	return &memTokenRepo{tokens: make(map[string]model.AccessToken)}
}

func (m *memTokenRepo) Create(ctx context.Context, token *model.AccessToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[token.Token] = *token
	return nil
}

func (m *memTokenRepo) FindByToken(ctx context.Context, token string, now time.Time) (*model.AccessToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[token]
	if !ok || !now.Before(t.ExpiresAt) {
		return nil, nil
	}
	return &t, nil
}

func (m *memTokenRepo) Touch(ctx context.Context, token string, now, expiresAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[token]
	if !ok || !now.Before(t.ExpiresAt) {
		return false, nil
	}
	t.ExpiresAt = expiresAt
	m.tokens[token] = t
	return true, nil
}

func (m *memTokenRepo) DeleteByToken(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, token)
	return nil
}

func (m *memTokenRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

func (m *memTokenRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tokens)
}

// mockUserRepo はUserRepositoryのテスト用モック。
type mockUserRepo struct {
	findByIDFn    func(ctx context.Context, id string) (*model.User, error)
	findByEmailFn func(ctx context.Context, email string) (*model.User, error)
	createFn      func(ctx context.Context, user *model.User) error
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	if m.findByEmailFn != nil {
		return m.findByEmailFn(ctx, email)
	}
	return nil, nil
}

func (m *mockUserRepo) Create(ctx context.Context, user *model.User) error {
	if m.createFn != nil {
		return m.createFn(ctx, user)
	}
	return nil
}

// mockIdentityProvider はIdentityProviderのテスト用モック。
type mockIdentityProvider struct {
	exchangeCodeFn func(ctx context.Context, code string) (*Identity, error)
}

func (m *mockIdentityProvider) AuthorizationURL(state string) string {
	return "https://accounts.example.com/auth?state=" + state
}

func (m *mockIdentityProvider) ExchangeCode(ctx context.Context, code string) (*Identity, error) {
	if m.exchangeCodeFn != nil {
		return m.exchangeCodeFn(ctx, code)
	}
	return nil, errors.New("not configured")
}

// recordingNotifier は通知を記録する。
type recordingNotifier struct {
	mu     sync.Mutex
	audits []model.AuditEvent
	mails  []mail.Message
}

func (n *recordingNotifier) Audit(ev model.AuditEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.audits = append(n.audits, ev)
}

func (n *recordingNotifier) Mail(msg mail.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.mails = append(n.mails, msg)
}

// fakeConn はpush.Connのテスト用実装。
type fakeConn struct {
	mu      sync.Mutex
	sent    []any
	closed  bool
	code    int
	sendErr error
}

func (c *fakeConn) Send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, v)
	return nil
}

func (c *fakeConn) Close(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.code = code
	return nil
}

func newTestLogger() *slog.Logger {
	var buf bytes.Buffer
	return slog.New(slog.NewJSONHandler(&buf, nil))
}

// compile-time interface check
var (
	_ repository.LoginSessionRepository = (*memSessionRepo)(nil)
	_ repository.AccessTokenRepository  = (*memTokenRepo)(nil)
	_ repository.UserRepository         = (*mockUserRepo)(nil)
)
