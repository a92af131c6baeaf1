// Package auth issues and validates the operator tokens that guard the status API.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultTokenTTL = 30 * time.Minute
	DefaultIssuer   = "wpsync"
	DefaultAudience = "wpsync-status"
	bearerPrefix    = "Bearer "
)

var (
	ErrMissingSigningSecret = errors.New("auth: signing secret must be provided")
	ErrMissingIssuer        = errors.New("auth: issuer must be provided")
	ErrMissingAudience      = errors.New("auth: audience must be provided")
	ErrMissingSubject       = errors.New("auth: subject must be provided")
	ErrMissingToken         = errors.New("auth: token required")
	ErrInvalidToken         = errors.New("auth: invalid token")
	ErrExpiredToken         = errors.New("auth: token expired")
)

// TokenIssuerConfig configures operator token issuance.
type TokenIssuerConfig struct {
	SigningSecret []byte
	Issuer        string
	Audience      string
	TokenTTL      time.Duration
	Clock         func() time.Time
}

// TokenIssuer signs and checks HS256 operator tokens.
type TokenIssuer struct {
	signingSecret []byte
	issuer        string
	audience      string
	ttl           time.Duration
	clock         func() time.Time
}

// NewTokenIssuer validates the configuration. A zero TTL falls back to thirty minutes.
func NewTokenIssuer(cfg TokenIssuerConfig) (*TokenIssuer, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, ErrMissingSigningSecret
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		return nil, ErrMissingIssuer
	}
	audience := strings.TrimSpace(cfg.Audience)
	if audience == "" {
		return nil, ErrMissingAudience
	}
	ttl := cfg.TokenTTL
	if ttl == 0 {
		ttl = defaultTokenTTL
	}
	if ttl < 0 {
		return nil, fmt.Errorf("auth: token ttl must be positive, got %s", ttl)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &TokenIssuer{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		issuer:        issuer,
		audience:      audience,
		ttl:           ttl,
		clock:         clock,
	}, nil
}

// Issue produces a signed token for the operator and its lifetime in seconds.
func (i *TokenIssuer) Issue(subject string) (string, int64, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", 0, ErrMissingSubject
	}

	now := i.clock().UTC()
	expiresAt := now.Add(i.ttl)
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    i.issuer,
		Audience:  []string{i.audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.signingSecret)
	if err != nil {
		return "", 0, fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, int64(expiresAt.Sub(now).Seconds()), nil
}

// Validate checks signature, issuer, audience and expiry, and returns the subject.
func (i *TokenIssuer) Validate(tokenString string) (string, error) {
	token := strings.TrimSpace(tokenString)
	if token == "" {
		return "", ErrMissingToken
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(
		token,
		claims,
		func(*jwt.Token) (interface{}, error) {
			return i.signingSecret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(i.audience),
		jwt.WithIssuer(i.issuer),
		jwt.WithTimeFunc(i.clock),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", ErrMissingSubject
	}
	return claims.Subject, nil
}

// ValidateRequest reads the bearer token from the Authorization header. A missing or non-bearer
// header yields ErrMissingToken.
func (i *TokenIssuer) ValidateRequest(r *http.Request) (string, error) {
	if r == nil {
		return "", ErrMissingToken
	}
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, bearerPrefix) {
		return "", ErrMissingToken
	}
	return i.Validate(strings.TrimPrefix(header, bearerPrefix))
}
