package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	stateIssuer = "domainbroker"
	// DefaultStateTTL はOAuth stateの有効期間。
	DefaultStateTTL = 10 * time.Minute
)

// ErrInvalidState はOAuth stateの検証失敗を表す。
var ErrInvalidState = errors.New("auth: invalid oauth state")

type stateClaims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// StateSigner はログインセッションIDをOAuthのstateパラメータに署名付きで埋め込む。
// コールバックで別のセッションIDにすり替えられることを防ぐ。
type StateSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewStateSigner はStateSignerを生成する。
func NewStateSigner(secret string, ttl time.Duration) *StateSigner {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	return &StateSigner{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Sign はセッションIDを含むstateを生成する。
func (s *StateSigner) Sign(sessionID string) (string, error) {
	now := s.now()
	claims := stateClaims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    stateIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign state: %w", err)
	}
	return signed, nil
}

// Verify はstateを検証し、埋め込まれたセッションIDを返す。
func (s *StateSigner) Verify(state string) (string, error) {
	var claims stateClaims
	_, err := jwt.ParseWithClaims(state, &claims,
		func(t *jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(stateIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	if claims.SessionID == "" {
		return "", ErrInvalidState
	}
	return claims.SessionID, nil
}
