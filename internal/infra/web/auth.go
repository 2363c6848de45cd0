package web

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"ai-chat-pipeline/internal/domain"
)

// AuthManager validates the two accepted credentials: a per-session HS256
// JWT, or the shared fallback token for callers that never minted one.
type AuthManager struct {
	secret        []byte
	fallbackToken string
	ttl           time.Duration
}

func NewAuthManager(secret, fallbackToken string, ttl time.Duration) *AuthManager {
	return &AuthManager{secret: []byte(secret), fallbackToken: fallbackToken, ttl: ttl}
}

type SessionClaims struct {
	SessionID string `json:"session_id"`
	jwt.RegisteredClaims
}

// Mint issues a session JWT bound to sessionID.
func (a *AuthManager) Mint(sessionID string) (string, error) {
	if len(a.secret) == 0 {
		return "", errors.New("auth secret not configured")
	}
	now := time.Now()
	claims := SessionClaims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
			Subject:   sessionID,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Authenticate checks the Authorization header. It returns the session id
// bound to the token, or "" for the shared fallback credential.
func (a *AuthManager) Authenticate(r *http.Request) (string, error) {
	hdr := r.Header.Get("Authorization")
	if hdr == "" {
		return "", domain.E(domain.KindUnauthorized, "missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(hdr), "bearer ") {
		return "", domain.E(domain.KindUnauthorized, "malformed authorization header")
	}
	token := strings.TrimSpace(hdr[7:])

	if a.fallbackToken != "" && subtle.ConstantTimeCompare([]byte(token), []byte(a.fallbackToken)) == 1 {
		return "", nil
	}

	claims := &SessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	})
	if err != nil || !parsed.Valid {
		return "", domain.E(domain.KindUnauthorized, "invalid token")
	}
	return claims.SessionID, nil
}
