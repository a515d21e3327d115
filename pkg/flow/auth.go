package flow

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SecurityToken is the narrow access-control value threaded through every
// FlowStore/TaskQueue call, per §6. The core never inspects anything
// beyond Username; it is an opaque credential as far as the state
// machine is concerned.
type SecurityToken struct {
	Username string
}

// Common errors for token codec operations.
var (
	ErrInvalidToken        = errors.New("flow: invalid security token")
	ErrExpiredToken        = errors.New("flow: security token has expired")
	ErrInvalidSecretLength = errors.New("flow: token secret must be at least 32 characters")
)

// TokenClaims is the JWT claim set backing the bearer-token representation
// of a SecurityToken, for callers that need to carry the token over HTTP.
// The status API does not use it; its routes take no token.
type TokenClaims struct {
	jwt.RegisteredClaims
	Username string `json:"username"`
}

// TokenCodec issues and parses bearer-token representations of
// SecurityToken using HMAC-signed JWTs. It is a convenience codec only:
// the flow engine itself never constructs or parses tokens, it only
// carries the SecurityToken value it's handed.
type TokenCodec struct {
	secret   []byte
	issuer   string
	lifetime time.Duration
}

// NewTokenCodec builds a TokenCodec. secret must be at least 32 bytes.
func NewTokenCodec(secret, issuer string, lifetime time.Duration) (*TokenCodec, error) {
	if len(secret) < 32 {
		return nil, ErrInvalidSecretLength
	}
	if issuer == "" {
		issuer = "fleetflow"
	}
	if lifetime <= 0 {
		lifetime = time.Hour
	}
	return &TokenCodec{secret: []byte(secret), issuer: issuer, lifetime: lifetime}, nil
}

// Issue encodes a SecurityToken as a signed bearer token string.
func (c *TokenCodec) Issue(token SecurityToken) (string, error) {
	now := time.Now()
	claims := &TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   token.Username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.lifetime)),
		},
		Username: token.Username,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("flow: sign token: %w", err)
	}
	return signed, nil
}

// Parse decodes a bearer token string back into a SecurityToken.
func (c *TokenCodec) Parse(raw string) (SecurityToken, error) {
	parsed, err := jwt.ParseWithClaims(raw, &TokenClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("flow: unexpected signing method %v", t.Header["alg"])
		}
		return c.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return SecurityToken{}, ErrExpiredToken
		}
		return SecurityToken{}, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*TokenClaims)
	if !ok || !parsed.Valid {
		return SecurityToken{}, ErrInvalidToken
	}
	return SecurityToken{Username: claims.Username}, nil
}
