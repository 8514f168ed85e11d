package ticket

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/sunrin-today/cli-domain-backend/internal/mail"
	"github.com/sunrin-today/cli-domain-backend/internal/model"
	"github.com/sunrin-today/cli-domain-backend/internal/repository"
)

// --- モック定義 ---

// memStore はチケットとドメインを保持するインメモリ実装。
// Approveは永続化層と同じく、審査中の場合に限りドメイン作成と状態遷移をまとめて行う。
type memStore struct {
	mu      sync.Mutex
	tickets map[string]*model.DomainTicket
	domains map[string]*model.Domain
	err     error
}

func newMemStore() *memStore {
	return &memStore{
		tickets: make(map[string]*model.DomainTicket),
		domains: make(map[string]*model.Domain),
	}
}

func (m *memStore) CreateWithinQuota(ctx context.Context, ticket *model.DomainTicket, limit int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	used := 0
	for _, t := range m.tickets {
		if t.UserID == ticket.UserID && t.Status == model.TicketStatusPending {
			used++
		}
	}
	for _, d := range m.domains {
		if d.UserID == ticket.UserID {
			used++
		}
	}
	if used >= limit {
		return repository.ErrQuotaExceeded
	}
	for _, t := range m.tickets {
		if t.UserID == ticket.UserID && t.Record.Name == ticket.Record.Name && t.Status == model.TicketStatusPending {
			return repository.ErrDuplicate
		}
	}
	cp := *ticket
	m.tickets[ticket.ID] = &cp
	return nil
}

func (m *memStore) FindByID(ctx context.Context, id string) (*model.DomainTicket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[id]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (m *memStore) ListByUser(ctx context.Context, userID string, filter model.TicketFilter) ([]*model.DomainTicket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.DomainTicket
	for _, t := range m.tickets {
		if t.UserID != userID {
			continue
		}
		if filter == model.TicketFilterAll && t.Status == model.TicketStatusClosed {
			continue
		}
		if filter != model.TicketFilterAll && string(t.Status) != string(filter) {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memStore) CountPendingByUser(ctx context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.tickets {
		if t.UserID == userID && t.Status == model.TicketStatusPending {
			n++
		}
	}
	return n, nil
}

func (m *memStore) ExistsPending(ctx context.Context, userID, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tickets {
		if t.UserID == userID && t.Record.Name == name && t.Status == model.TicketStatusPending {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) TransitionStatus(ctx context.Context, id string, from, to model.TicketStatus, decidedBy string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[id]
	if !ok || t.Status != from {
		return false, nil
	}
	t.Status = to
	t.DecidedBy = decidedBy
	return true, nil
}

func (m *memStore) Approve(ctx context.Context, ticketID, decidedBy string, domain *model.Domain) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[ticketID]
	if !ok || t.Status != model.TicketStatusPending {
		return false, nil
	}
	for _, d := range m.domains {
		if d.Name() == domain.Name() {
			return false, repository.ErrDuplicate
		}
	}
	t.Status = model.TicketStatusApproved
	t.DecidedBy = decidedBy
	cp := *domain
	m.domains[domain.ID] = &cp
	return true, nil
}

func (m *memStore) CountByUser(ctx context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, d := range m.domains {
		if d.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (m *memStore) SetRecordID(ctx context.Context, id, recordID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.domains[id]; ok {
		d.RecordID = recordID
	}
	return nil
}

func (m *memStore) domainByName(name string) *model.Domain {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.domains {
		if d.Name() == name {
			cp := *d
			return &cp
		}
	}
	return nil
}

// mockProvider はRecordProvisionerのテスト用モック。
type mockProvider struct {
	mu            sync.Mutex
	isAvailableFn func(ctx context.Context, zoneID, name string) (bool, error)
	createFn      func(ctx context.Context, zoneID string, rec model.Record) (string, error)
	availCalls    int
	createCalls   int
}

func (m *mockProvider) IsAvailable(ctx context.Context, zoneID, name string) (bool, error) {
	m.mu.Lock()
	m.availCalls++
	m.mu.Unlock()
	if m.isAvailableFn != nil {
		return m.isAvailableFn(ctx, zoneID, name)
	}
	return true, nil
}

func (m *mockProvider) CreateRecord(ctx context.Context, zoneID string, rec model.Record) (string, error) {
	m.mu.Lock()
	m.createCalls++
	m.mu.Unlock()
	if m.createFn != nil {
		return m.createFn(ctx, zoneID, rec)
	}
	return "cf-record-1", nil
}

// mockReviewer はReviewerのテスト用モック。
type mockReviewer struct {
	mu       sync.Mutex
	err      error
	reviewed []*model.DomainTicket
}

func (m *mockReviewer) RequestReview(ctx context.Context, ticket *model.DomainTicket, owner *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reviewed = append(m.reviewed, ticket)
	return m.err
}

// mockUsers はUserFinderのテスト用モック。
type mockUsers map[string]*model.User

func (m mockUsers) FindByID(ctx context.Context, id string) (*model.User, error) {
	return m[id], nil
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

func (n *recordingNotifier) auditKinds() []model.AuditKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	kinds := make([]model.AuditKind, len(n.audits))
	for i, ev := range n.audits {
		kinds[i] = ev.Kind
	}
	return kinds
}

func newTestLogger() *slog.Logger {
	var buf bytes.Buffer
	return slog.New(slog.NewJSONHandler(&buf, nil))
}

var errUpstream = errors.New("cloudflare: 503 service unavailable")

// compile-time interface check
var (
	_ repository.TicketRepository = (*memStore)(nil)
	_ DomainStore                 = (*memStore)(nil)
	_ RecordProvisioner           = (*mockProvider)(nil)
)
