package session

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Provider exposes the caller's bearer credential. An empty string means no
// credential is available.
type Provider interface {
	CurrentToken() string
}

// Static holds a fixed token, typically read from flags or the environment.
type Static struct {
	Token string
	Now   func() time.Time
}

// Anonymous is a provider without credential.
var Anonymous Provider = Static{}

// CurrentToken returns the token unless it is a JWT whose exp claim has
// already passed.
func (s Static) CurrentToken() string {
	token := strings.TrimSpace(s.Token)
	if token == "" {
		return ""
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	if expired(token, now()) {
		return ""
	}
	return token
}

// Token returns the provider's current token, treating a nil provider as
// anonymous.
func Token(p Provider) string {
	if p == nil {
		return ""
	}
	return p.CurrentToken()
}

// expired inspects the token without verifying its signature; only the
// issuing service can verify it. Opaque tokens are never considered expired.
func expired(token string, now time.Time) bool {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return !claims.ExpiresAt.Time.After(now)
}
