package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sunrin-today/cli-domain-backend/internal/model"
)

// PostgresTicketRepo はPostgreSQLを使用したドメイン申請チケットリポジトリ。
type PostgresTicketRepo struct {
	db *sql.DB
}

// NewPostgresTicketRepo はPostgresTicketRepoを生成する。
func NewPostgresTicketRepo(db *sql.DB) *PostgresTicketRepo {
	return &PostgresTicketRepo{db: db}
}

const ticketColumns = `id, user_id, name, record_type, content, data, ttl, proxied, status, decided_by, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTicket(row rowScanner) (*model.DomainTicket, error) {
	t := &model.DomainTicket{}
	var cols recordColumns
	var status string
	dest := []any{&t.ID, &t.UserID}
	dest = append(dest, cols.dest()...)
	dest = append(dest, &status, &t.DecidedBy, &t.CreatedAt, &t.UpdatedAt)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	rec, err := cols.toRecord()
	if err != nil {
		return nil, err
	}
	t.Record = rec
	t.Status = model.TicketStatus(status)
	return t, nil
}

// CreateWithinQuota はユーザー行をロックした上で審査中チケット数と保有ドメイン数を数え、
// 合計がlimit未満の場合に限りチケットを作成する。
func (r *PostgresTicketRepo) CreateWithinQuota(ctx context.Context, ticket *model.DomainTicket, limit int) error {
	cols, err := columnsOf(ticket.Record)
	if err != nil {
		return fmt.Errorf("failed to encode ticket record: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// 同一ユーザーの申請はこのロックで直列化される
	var userID string
	err = tx.QueryRowContext(ctx, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, ticket.UserID).Scan(&userID)
	if err != nil {
		return fmt.Errorf("failed to lock user %s: %w", ticket.UserID, err)
	}

	var used int
	err = tx.QueryRowContext(ctx,
		`SELECT (SELECT count(*) FROM domain_tickets WHERE user_id = $1 AND status = 'PENDING')
		      + (SELECT count(*) FROM domains WHERE user_id = $1)`,
		ticket.UserID,
	).Scan(&used)
	if err != nil {
		return fmt.Errorf("failed to count quota usage: %w", err)
	}
	if used >= limit {
		return ErrQuotaExceeded
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO domain_tickets (id, user_id, name, record_type, content, data, ttl, proxied, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		ticket.ID, ticket.UserID, cols.Name, cols.RecordType, cols.Content, jsonbArg(cols.Data),
		cols.TTL, cols.Proxied, string(ticket.Status), ticket.CreatedAt, ticket.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to insert ticket: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// FindByID は指定IDのチケットを取得する。見つからない場合はnilを返す。
func (r *PostgresTicketRepo) FindByID(ctx context.Context, id string) (*model.DomainTicket, error) {
	t, err := scanTicket(r.db.QueryRowContext(ctx,
		`SELECT `+ticketColumns+` FROM domain_tickets WHERE id = $1`, id))
	if noRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find ticket: %w", err)
	}
	return t, nil
}

// ListByUser はユーザーのチケットを新しい順に返す。
func (r *PostgresTicketRepo) ListByUser(ctx context.Context, userID string, filter model.TicketFilter) ([]*model.DomainTicket, error) {
	query := `SELECT ` + ticketColumns + ` FROM domain_tickets WHERE user_id = $1`
	args := []any{userID}
	if filter == model.TicketFilterAll {
		// 取り下げ済みは明示的に指定した場合のみ返す
		query += ` AND status <> 'CLOSED'`
	} else {
		query += ` AND status = $2`
		args = append(args, string(filter))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tickets: %w", err)
	}
	defer rows.Close()

	var tickets []*model.DomainTicket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ticket: %w", err)
		}
		tickets = append(tickets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tickets: %w", err)
	}
	return tickets, nil
}

// CountPendingByUser はユーザーの審査中チケット数を返す。
func (r *PostgresTicketRepo) CountPendingByUser(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM domain_tickets WHERE user_id = $1 AND status = 'PENDING'`, userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending tickets: %w", err)
	}
	return count, nil
}

// ExistsPending はユーザーが同名の審査中チケットを持っているかを返す。
func (r *PostgresTicketRepo) ExistsPending(ctx context.Context, userID, name string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM domain_tickets WHERE user_id = $1 AND name = $2 AND status = 'PENDING')`,
		userID, name,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check pending ticket: %w", err)
	}
	return exists, nil
}

// TransitionStatus はチケットがfromの状態である場合に限りtoへ遷移させる。
func (r *PostgresTicketRepo) TransitionStatus(ctx context.Context, id string, from, to model.TicketStatus, decidedBy string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE domain_tickets SET status = $3, decided_by = $4, updated_at = now()
		 WHERE id = $1 AND status = $2`,
		id, string(from), string(to), decidedBy,
	)
	if err != nil {
		return false, fmt.Errorf("failed to transition ticket: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// Approve は審査中チケットの承認とドメイン作成を同一トランザクションで行う。
func (r *PostgresTicketRepo) Approve(ctx context.Context, ticketID, decidedBy string, domain *model.Domain) (bool, error) {
	cols, err := columnsOf(domain.Record)
	if err != nil {
		return false, fmt.Errorf("failed to encode domain record: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE domain_tickets SET status = 'APPROVED', decided_by = $2, updated_at = now()
		 WHERE id = $1 AND status = 'PENDING'`,
		ticketID, decidedBy,
	)
	if err != nil {
		return false, fmt.Errorf("failed to approve ticket: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO domains (id, user_id, ticket_id, name, record_type, content, data, ttl, proxied, record_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		domain.ID, domain.UserID, ticketID, cols.Name, cols.RecordType, cols.Content, jsonbArg(cols.Data),
		cols.TTL, cols.Proxied, domain.RecordID, domain.CreatedAt, domain.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return false, ErrDuplicate
	}
	if err != nil {
		return false, fmt.Errorf("failed to insert domain: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return true, nil
}

// compile-time interface check
var _ TicketRepository = (*PostgresTicketRepo)(nil)
