package utils

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims identifies an officer. Tokens are issued by the city's identity
// provider; this service only verifies them.
type Claims struct {
	OfficerID string `json:"officer_id"`
	Name      string `json:"name"`
	Role      string `json:"role"`
	jwt.RegisteredClaims
}

// TokenManager signs and verifies HS256 officer tokens.
type TokenManager struct {
	secret []byte
	issuer string
}

func NewTokenManager(secret, issuer string) *TokenManager {
	return &TokenManager{secret: []byte(secret), issuer: issuer}
}

// GenerateToken signs a token valid for the given number of hours. Used by
// the dev token script and tests.
func (m *TokenManager) GenerateToken(officerID, name, role string, hours int) (string, error) {
	now := time.Now()
	claims := Claims{
		OfficerID: officerID,
		Name:      name,
		Role:      role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   officerID,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(hours) * time.Hour)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// ParseToken verifies signature, expiry and, when configured, the issuer.
func (m *TokenManager) ParseToken(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return m.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.OfficerID == "" {
		claims.OfficerID = claims.Subject
	}
	if claims.OfficerID == "" {
		return nil, errors.New("token has no officer id")
	}
	return claims, nil
}
