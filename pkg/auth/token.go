// Package auth issues and verifies the JWT token pair used by the API
// and hashes user passwords.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/gatherly/gatherly/pkg/config"
)

// TokenKind distinguishes the two tokens in a pair.
type TokenKind string

const (
	AccessToken  TokenKind = "access"
	RefreshToken TokenKind = "refresh"
)

// Claims are the registered claims plus the token kind and the session
// the pair belongs to. The session ID equals the refresh token's jti.
type Claims struct {
	Kind      TokenKind `json:"kind"`
	SessionID string    `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

// TokenPair is what login and refresh return to clients.
type TokenPair struct {
	AccessToken    string `json:"accessToken"`
	RefreshToken   string `json:"refreshToken"`
	ExpiresIn      int64  `json:"expiresIn"`
	RefreshTokenID string `json:"-"`
}

// TokenManager signs and verifies token pairs. Access and refresh
// tokens use separate secrets so a leaked access secret cannot mint
// refresh tokens.
type TokenManager struct {
	cfg config.AuthConfig
}

// NewTokenManager builds a TokenManager from auth config.
func NewTokenManager(cfg config.AuthConfig) *TokenManager {
	return &TokenManager{cfg: cfg}
}

// IssuePair mints a fresh access/refresh pair for the user. The
// refresh token's jti is returned so callers can persist it and detect
// reuse of revoked tokens.
func (m *TokenManager) IssuePair(userID int64) (*TokenPair, error) {
	now := time.Now()
	jti := uuid.NewString()

	access, err := m.sign(userID, AccessToken, uuid.NewString(), jti, now, m.cfg.AccessTTL, m.cfg.AccessSecret)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}
	refresh, err := m.sign(userID, RefreshToken, jti, jti, now, m.cfg.RefreshTTL, m.cfg.RefreshSecret)
	if err != nil {
		return nil, fmt.Errorf("sign refresh token: %w", err)
	}

	return &TokenPair{
		AccessToken:    access,
		RefreshToken:   refresh,
		ExpiresIn:      int64(m.cfg.AccessTTL.Seconds()),
		RefreshTokenID: jti,
	}, nil
}

func (m *TokenManager) sign(userID int64, kind TokenKind, jti, sessionID string, now time.Time, ttl time.Duration, secret string) (string, error) {
	claims := Claims{
		Kind:      kind,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.cfg.Issuer,
			Subject:   fmt.Sprintf("%d", userID),
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// VerifyAccess validates an access token and returns its claims.
func (m *TokenManager) VerifyAccess(raw string) (*Claims, error) {
	return m.verify(raw, AccessToken, m.cfg.AccessSecret)
}

// VerifyRefresh validates a refresh token and returns its claims.
func (m *TokenManager) VerifyRefresh(raw string) (*Claims, error) {
	return m.verify(raw, RefreshToken, m.cfg.RefreshSecret)
}

func (m *TokenManager) verify(raw string, kind TokenKind, secret string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithIssuer(m.cfg.Issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	if claims.Kind != kind {
		return nil, fmt.Errorf("token kind %q, want %q", claims.Kind, kind)
	}
	return claims, nil
}

// UserID parses the subject claim as the user's numeric ID.
func (c *Claims) UserID() (int64, error) {
	var id int64
	if _, err := fmt.Sscanf(c.Subject, "%d", &id); err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid subject %q", c.Subject)
	}
	return id, nil
}
