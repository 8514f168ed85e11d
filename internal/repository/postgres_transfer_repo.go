package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sunrin-today/cli-domain-backend/internal/model"
)

// PostgresTransferRepo はPostgreSQLを使用した移管招待リポジトリ。
type PostgresTransferRepo struct {
	db *sql.DB
}

// NewPostgresTransferRepo はPostgresTransferRepoを生成する。
func NewPostgresTransferRepo(db *sql.DB) *PostgresTransferRepo {
	return &PostgresTransferRepo{db: db}
}

// Create は招待を作成する。
func (r *PostgresTransferRepo) Create(ctx context.Context, invite *model.TransferInvite) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO transfer_invites (id, domain_id, user_id, target_email, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		invite.ID, invite.DomainID, invite.UserID, invite.TargetEmail, invite.ExpiresAt, invite.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create transfer invite: %w", err)
	}
	return nil
}

// FindByID は指定IDの招待を取得する。期限切れでも返す。
func (r *PostgresTransferRepo) FindByID(ctx context.Context, id string) (*model.TransferInvite, error) {
	invite := &model.TransferInvite{}
	err := r.db.QueryRowContext(ctx,
		`SELECT t.id, t.domain_id, d.name, t.user_id, t.target_email, t.expires_at, t.created_at
		 FROM transfer_invites t JOIN domains d ON d.id = t.domain_id
		 WHERE t.id = $1`, id,
	).Scan(&invite.ID, &invite.DomainID, &invite.DomainName, &invite.UserID, &invite.TargetEmail, &invite.ExpiresAt, &invite.CreatedAt)

	if noRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find transfer invite: %w", err)
	}
	return invite, nil
}

// DeleteByID は指定IDの招待を削除する。
func (r *PostgresTransferRepo) DeleteByID(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM transfer_invites WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete transfer invite: %w", err)
	}
	return nil
}

// Complete はドメインの所有者を書き換えて招待を削除する。
// ドメイン行はそのまま残すため、DNSレコードハンドルは引き継がれる。
func (r *PostgresTransferRepo) Complete(ctx context.Context, invite *model.TransferInvite, newOwnerID string) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE domains SET user_id = $3, updated_at = now() WHERE id = $1 AND user_id = $2`,
		invite.DomainID, invite.UserID, newOwnerID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to transfer domain: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM transfer_invites WHERE id = $1`, invite.ID); err != nil {
		return false, fmt.Errorf("failed to delete transfer invite: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return n > 0, nil
}

// DeleteExpired は期限切れの招待を削除する。
func (r *PostgresTransferRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM transfer_invites WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired transfer invites: %w", err)
	}
	return result.RowsAffected()
}

// compile-time interface check
var _ TransferRepository = (*PostgresTransferRepo)(nil)
