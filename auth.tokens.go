package main

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var _ TokenManager = (*JWTManager)(nil) // ensure JWTManager implements TokenManager.

// TokenManager issues and verifies identity tokens.
type TokenManager interface {
	Generate(userID string) (string, time.Time, error)
	Verify(token string) (string, error)
}

// Claims represents the identity token claims.
type Claims struct {
	UserID string `json:"userId"`
	jwt.RegisteredClaims
}

// JWTManager handles HMAC signed tokens.
type JWTManager struct {
	secret []byte
	issuer string
	ttl    time.Duration
	clock  Clocker
}

// NewJWTManager creates a token manager from the auth settings.
func NewJWTManager(config *AuthConfig, clock Clocker) *JWTManager {
	return &JWTManager{
		secret: []byte(config.JWTSecret),
		issuer: config.Issuer,
		ttl:    config.TokenTTL,
		clock:  clock,
	}
}

// Generate creates a signed token for userID and returns its expiry time.
func (m *JWTManager) Generate(userID string) (string, time.Time, error) {
	now := m.clock.Now().UTC()
	expires := now.Add(m.ttl)
	claims := &Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := token.SignedString(m.secret)
	if err != nil {
		return "", expires, fmt.Errorf("sign token: %w", err)
	}
	return signedToken, expires, nil
}

// Verify checks the token signature, issuer and expiry then returns the user id it carries.
func (m *JWTManager) Verify(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	},
		jwt.WithIssuer(m.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.clock.Now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" {
		return "", ErrUnauthenticated
	}
	return claims.UserID, nil
}
