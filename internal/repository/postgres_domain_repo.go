package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sunrin-today/cli-domain-backend/internal/model"
)

// PostgresDomainRepo はPostgreSQLを使用したドメインリポジトリ。
type PostgresDomainRepo struct {
	db *sql.DB
}

// NewPostgresDomainRepo はPostgresDomainRepoを生成する。
func NewPostgresDomainRepo(db *sql.DB) *PostgresDomainRepo {
	return &PostgresDomainRepo{db: db}
}

const domainColumns = `id, user_id, COALESCE(ticket_id::text, ''), name, record_type, content, data, ttl, proxied, record_id, created_at, updated_at`

func scanDomain(row rowScanner) (*model.Domain, error) {
	d := &model.Domain{}
	var cols recordColumns
	dest := []any{&d.ID, &d.UserID, &d.TicketID}
	dest = append(dest, cols.dest()...)
	dest = append(dest, &d.RecordID, &d.CreatedAt, &d.UpdatedAt)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	rec, err := cols.toRecord()
	if err != nil {
		return nil, err
	}
	d.Record = rec
	return d, nil
}

func (r *PostgresDomainRepo) findOne(ctx context.Context, query string, args ...any) (*model.Domain, error) {
	d, err := scanDomain(r.db.QueryRowContext(ctx, query, args...))
	if noRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find domain: %w", err)
	}
	return d, nil
}

// FindByName はドメイン名で検索する。見つからない場合はnilを返す。
func (r *PostgresDomainRepo) FindByName(ctx context.Context, name string) (*model.Domain, error) {
	return r.findOne(ctx, `SELECT `+domainColumns+` FROM domains WHERE name = $1`, name)
}

// FindByUserAndName はユーザーが所有する指定名のドメインを返す。見つからない場合はnilを返す。
func (r *PostgresDomainRepo) FindByUserAndName(ctx context.Context, userID, name string) (*model.Domain, error) {
	return r.findOne(ctx, `SELECT `+domainColumns+` FROM domains WHERE user_id = $1 AND name = $2`, userID, name)
}

// ListByUser はユーザーのドメイン一覧を名前順に返す。
func (r *PostgresDomainRepo) ListByUser(ctx context.Context, userID string) ([]*model.Domain, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+domainColumns+` FROM domains WHERE user_id = $1 ORDER BY name`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list domains: %w", err)
	}
	defer rows.Close()

	var domains []*model.Domain
	for rows.Next() {
		d, err := scanDomain(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan domain: %w", err)
		}
		domains = append(domains, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate domains: %w", err)
	}
	return domains, nil
}

// CountByUser はユーザーのドメイン数を返す。
func (r *PostgresDomainRepo) CountByUser(ctx context.Context, userID string) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM domains WHERE user_id = $1`, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count domains: %w", err)
	}
	return count, nil
}

// SetRecordID はDNSプロバイダのレコードハンドルを保存する。
func (r *PostgresDomainRepo) SetRecordID(ctx context.Context, id, recordID string) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE domains SET record_id = $2, updated_at = now() WHERE id = $1`, id, recordID); err != nil {
		return fmt.Errorf("failed to set record id: %w", err)
	}
	return nil
}

// UpdateRecord はレコード内容とハンドルを更新する。
func (r *PostgresDomainRepo) UpdateRecord(ctx context.Context, domain *model.Domain) error {
	cols, err := columnsOf(domain.Record)
	if err != nil {
		return fmt.Errorf("failed to encode domain record: %w", err)
	}
	_, err = r.db.ExecContext(ctx,
		`UPDATE domains
		 SET record_type = $2, content = $3, data = $4, ttl = $5, proxied = $6, record_id = $7, updated_at = now()
		 WHERE id = $1`,
		domain.ID, cols.RecordType, cols.Content, jsonbArg(cols.Data), cols.TTL, cols.Proxied, domain.RecordID,
	)
	if err != nil {
		return fmt.Errorf("failed to update domain: %w", err)
	}
	return nil
}

// Delete は指定IDのドメインを削除する。
func (r *PostgresDomainRepo) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM domains WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete domain: %w", err)
	}
	return nil
}

// compile-time interface check
var _ DomainRepository = (*PostgresDomainRepo)(nil)
