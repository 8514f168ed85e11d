package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sunrin-today/cli-domain-backend/internal/model"
)

// PostgresLoginSessionRepo はPostgreSQLを使用したログインセッションリポジトリ。
// expires_atを過ぎた行は読み取り時に無視され、クリーンアップジョブで削除される。
type PostgresLoginSessionRepo struct {
	db *sql.DB
}

// NewPostgresLoginSessionRepo はPostgresLoginSessionRepoを生成する。
func NewPostgresLoginSessionRepo(db *sql.DB) *PostgresLoginSessionRepo {
	return &PostgresLoginSessionRepo{db: db}
}

// Create はセッションを作成する。
func (r *PostgresLoginSessionRepo) Create(ctx context.Context, session *model.LoginSession) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO login_sessions (id, kind, user_id, application_url, expires_at, created_at)
		 VALUES ($1, $2, NULL, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE
		 SET kind = EXCLUDED.kind, user_id = NULL, application_url = EXCLUDED.application_url,
		     expires_at = EXCLUDED.expires_at, created_at = EXCLUDED.created_at`,
		session.ID, string(session.Kind), session.ApplicationURL, session.ExpiresAt, session.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create login session: %w", err)
	}
	return nil
}

// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
func (r *PostgresLoginSessionRepo) FindByID(ctx context.Context, id string, now time.Time) (*model.LoginSession, error) {
	session := &model.LoginSession{}
	var kind string
	var userID sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT id, kind, user_id, application_url, expires_at, created_at
		 FROM login_sessions
		 WHERE id = $1 AND expires_at > $2`,
		id, now,
	).Scan(&session.ID, &kind, &userID, &session.ApplicationURL, &session.ExpiresAt, &session.CreatedAt)

	if noRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find login session: %w", err)
	}

	session.Kind = model.SessionKind(kind)
	session.UserID = userID.String
	return session, nil
}

// Resolve はセッションにユーザーを紐付ける。
func (r *PostgresLoginSessionRepo) Resolve(ctx context.Context, id, userID string, now time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE login_sessions SET user_id = $2 WHERE id = $1 AND expires_at > $3`,
		id, userID, now,
	)
	if err != nil {
		return false, fmt.Errorf("failed to resolve login session: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// DeleteByID は指定IDのセッションを削除する。
func (r *PostgresLoginSessionRepo) DeleteByID(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM login_sessions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete login session: %w", err)
	}
	return nil
}

// DeleteExpired は期限切れのセッションを削除する。
func (r *PostgresLoginSessionRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM login_sessions WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired login sessions: %w", err)
	}
	return result.RowsAffected()
}

// compile-time interface check
var _ LoginSessionRepository = (*PostgresLoginSessionRepo)(nil)
