package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/identity/backend/internal/credentials"
	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultTokenTTL = 30 * time.Minute
)

var (
	errMissingSigningSecret = errors.New("signing secret must be provided")
	errMissingIssuer        = errors.New("token issuer must be provided")
	errMissingAudience      = errors.New("token audience must be provided")
	errMissingSubjectClaim  = errors.New("subject claim must be provided")
)

// TokenIssuerConfig configures the access-token issuer.
type TokenIssuerConfig struct {
	SigningSecret []byte
	Issuer        string
	Audience      string
	TokenTTL      time.Duration
	Clock         func() time.Time
}

// TokenIssuer issues bearer tokens for users resolved by a successful attempt.
type TokenIssuer struct {
	config TokenIssuerConfig
	clock  func() time.Time
}

// accessClaims carries the user's email alongside the registered claims.
type accessClaims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// NewTokenIssuer validates the configuration and constructs a TokenIssuer. A zero TTL
// selects the default; a negative one is rejected.
func NewTokenIssuer(cfg TokenIssuerConfig) (*TokenIssuer, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, errMissingSigningSecret
	}
	if strings.TrimSpace(cfg.Issuer) == "" {
		return nil, errMissingIssuer
	}
	if strings.TrimSpace(cfg.Audience) == "" {
		return nil, errMissingAudience
	}
	ttl := cfg.TokenTTL
	if ttl < 0 {
		return nil, fmt.Errorf("token ttl must be positive, got %s", ttl)
	}
	if ttl == 0 {
		ttl = defaultTokenTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &TokenIssuer{
		config: TokenIssuerConfig{
			SigningSecret: cfg.SigningSecret,
			Issuer:        strings.TrimSpace(cfg.Issuer),
			Audience:      strings.TrimSpace(cfg.Audience),
			TokenTTL:      ttl,
			Clock:         clock,
		},
		clock: clock,
	}, nil
}

// IssueAccessToken produces a signed JWT and its expiry (seconds) for the user.
func (i *TokenIssuer) IssueAccessToken(_ context.Context, user credentials.User) (string, int64, error) {
	if user.ID == "" {
		return "", 0, errMissingSubjectClaim
	}

	now := i.clock().UTC()
	expiresAt := now.Add(i.config.TokenTTL).UTC()

	claims := accessClaims{
		Email: user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			Issuer:    i.config.Issuer,
			Audience:  []string{i.config.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.config.SigningSecret)
	if err != nil {
		return "", 0, err
	}

	return signed, int64(expiresAt.Sub(now).Seconds()), nil
}

// ValidateToken ensures the access token is well formed and returns the user id.
func (i *TokenIssuer) ValidateToken(tokenString string) (string, error) {
	claims := &accessClaims{}
	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing algorithm: %s", token.Method.Alg())
			}
			return i.config.SigningSecret, nil
		},
		jwt.WithAudience(i.config.Audience),
		jwt.WithIssuer(i.config.Issuer),
		jwt.WithTimeFunc(i.clock),
	)
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", errMissingSubjectClaim
	}
	return claims.Subject, nil
}
