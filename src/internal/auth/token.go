// FILE: src/internal/auth/token.go
package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"saslwisp/src/internal/config"
	"saslwisp/src/internal/core"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken wraps every token verification failure.
var ErrInvalidToken = errors.New("invalid token")

// Claims is the payload of an issued session token.
type Claims struct {
	jwt.RegisteredClaims
	AuthzID   string `json:"authzid,omitempty"`
	Mechanism string `json:"mech"`
}

// Identity returns the authorization identity, which defaults to the subject.
func (c *Claims) Identity() string {
	if c.AuthzID != "" {
		return c.AuthzID
	}
	return c.Subject
}

// TokenIssuer signs and verifies HS256 session tokens.
type TokenIssuer struct {
	key      []byte
	issuer   string
	audience string
	ttl      time.Duration
	parser   *jwt.Parser
	now      func() time.Time
}

// NewTokenIssuer builds an issuer; an empty secret gets a random per-process key.
func NewTokenIssuer(cfg *config.TokenConfig) (*TokenIssuer, error) {
	key := []byte(cfg.Secret)
	if len(key) == 0 {
		key = make([]byte, core.DefaultTokenBytes)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("failed to generate token key: %w", err)
		}
	}

	ttl := time.Duration(cfg.TTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = core.DefaultTokenTTL
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(5 * time.Second),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	t := &TokenIssuer{
		key:      key,
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		ttl:      ttl,
		now:      time.Now,
	}
	opts = append(opts, jwt.WithTimeFunc(func() time.Time { return t.now() }))
	t.parser = jwt.NewParser(opts...)
	return t, nil
}

// Issue signs a token for an authenticated identity.
func (t *TokenIssuer) Issue(authcid, authzid, mechanism string) (string, time.Time, error) {
	now := t.now()
	expires := now.Add(t.ttl)

	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   authcid,
			Issuer:    t.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		AuthzID:   authzid,
		Mechanism: mechanism,
	}
	if t.audience != "" {
		claims.Audience = jwt.ClaimStrings{t.audience}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expires, nil
}

// Verify parses a token and checks signature, lifetime, issuer and audience.
func (t *TokenIssuer) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := t.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return t.key, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
