package auth

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/sunrin-today/cli-domain-backend/internal/metrics"
	"github.com/sunrin-today/cli-domain-backend/internal/model"
	"github.com/sunrin-today/cli-domain-backend/internal/repository"
)

const (
	// DefaultAccessTokenTTL はアクセストークンの有効期間（10週間）。
	DefaultAccessTokenTTL = 10 * 7 * 24 * time.Hour

	tokenLength   = 70
	tokenAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// TokenService はベアラートークンの発行・検証・失効を扱う。
// 検証に成功するたびに有効期限を延長する。
type TokenService struct {
	repo    repository.AccessTokenRepository
	ttl     time.Duration
	metrics metrics.MetricsCollector
	now     func() time.Time
}

// NewTokenService はTokenServiceを生成する。
func NewTokenService(repo repository.AccessTokenRepository, ttl time.Duration, m metrics.MetricsCollector) *TokenService {
	if ttl <= 0 {
		ttl = DefaultAccessTokenTTL
	}
	return &TokenService{
		repo:    repo,
		ttl:     ttl,
		metrics: metrics.OrNop(m),
		now:     time.Now,
	}
}

// Issue はユーザーに新しいトークンを発行する。
func (s *TokenService) Issue(ctx context.Context, userID string) (string, error) {
	token, err := generateToken()
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	now := s.now()
	if err := s.repo.Create(ctx, &model.AccessToken{
		Token:     token,
		UserID:    userID,
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
	}); err != nil {
		return "", model.NewStoreUnavailableError(err)
	}
	s.metrics.RecordTokenIssued()
	return token, nil
}

// Validate はトークンに紐付くユーザーIDを返す。
func (s *TokenService) Validate(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", model.NewInvalidCredentialError()
	}
	found, err := s.repo.FindByToken(ctx, token, s.now())
	if err != nil {
		return "", model.NewStoreUnavailableError(err)
	}
	if found == nil {
		return "", model.NewInvalidCredentialError()
	}
	return found.UserID, nil
}

// Touch はトークンの有効期限を現在時刻から延長する。
// 検証後に期限切れとなったトークンは延長せず、認証失敗として扱う。
func (s *TokenService) Touch(ctx context.Context, token string) error {
	now := s.now()
	ok, err := s.repo.Touch(ctx, token, now, now.Add(s.ttl))
	if err != nil {
		return model.NewStoreUnavailableError(err)
	}
	if !ok {
		return model.NewInvalidCredentialError()
	}
	return nil
}

// Authenticate はトークンを検証し、成功した場合は有効期限を延長する。
func (s *TokenService) Authenticate(ctx context.Context, token string) (string, error) {
	userID, err := s.Validate(ctx, token)
	if err != nil {
		return "", err
	}
	if err := s.Touch(ctx, token); err != nil {
		return "", err
	}
	return userID, nil
}

// Revoke はトークンを即時に失効させる。
func (s *TokenService) Revoke(ctx context.Context, token string) error {
	if err := s.repo.DeleteByToken(ctx, token); err != nil {
		return model.NewStoreUnavailableError(err)
	}
	return nil
}

// generateToken は英数字70文字のトークンを生成する。
func generateToken() (string, error) {
	max := big.NewInt(int64(len(tokenAlphabet)))
	b := make([]byte, tokenLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = tokenAlphabet[n.Int64()]
	}
	return string(b), nil
}
