package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sunrin-today/cli-domain-backend/internal/model"
)

// PostgresAccessTokenRepo はPostgreSQLを使用したアクセストークンリポジトリ。
type PostgresAccessTokenRepo struct {
	db *sql.DB
}

// NewPostgresAccessTokenRepo はPostgresAccessTokenRepoを生成する。
func NewPostgresAccessTokenRepo(db *sql.DB) *PostgresAccessTokenRepo {
	return &PostgresAccessTokenRepo{db: db}
}

// Create はトークンを保存する。
func (r *PostgresAccessTokenRepo) Create(ctx context.Context, token *model.AccessToken) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO access_tokens (token, user_id, expires_at, created_at) VALUES ($1, $2, $3, $4)`,
		token.Token, token.UserID, token.ExpiresAt, token.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create access token: %w", err)
	}
	return nil
}

// FindByToken はトークンを取得する。期限切れの場合はnilを返す。
func (r *PostgresAccessTokenRepo) FindByToken(ctx context.Context, token string, now time.Time) (*model.AccessToken, error) {
	t := &model.AccessToken{}
	err := r.db.QueryRowContext(ctx,
		`SELECT token, user_id, expires_at, created_at
		 FROM access_tokens
		 WHERE token = $1 AND expires_at > $2`,
		token, now,
	).Scan(&t.Token, &t.UserID, &t.ExpiresAt, &t.CreatedAt)

	if noRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find access token: %w", err)
	}
	return t, nil
}

// Touch はnow時点で有効なトークンに限り有効期限をexpiresAtへ延長する。
// 期限切れまたは存在しない場合はfalseを返す。
func (r *PostgresAccessTokenRepo) Touch(ctx context.Context, token string, now, expiresAt time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE access_tokens SET expires_at = $3 WHERE token = $1 AND expires_at > $2`,
		token, now, expiresAt)
	if err != nil {
		return false, fmt.Errorf("failed to touch access token: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// DeleteByToken はトークンを削除する。
func (r *PostgresAccessTokenRepo) DeleteByToken(ctx context.Context, token string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM access_tokens WHERE token = $1`, token); err != nil {
		return fmt.Errorf("failed to delete access token: %w", err)
	}
	return nil
}

// DeleteExpired は期限切れのトークンを削除する。
func (r *PostgresAccessTokenRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM access_tokens WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired access tokens: %w", err)
	}
	return result.RowsAffected()
}

// compile-time interface check
var _ AccessTokenRepository = (*PostgresAccessTokenRepo)(nil)
