package crypto

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	ScopeOverride          = "claims:override"
	ScopeEmergencyOverride = "claims:emergency_override"
	ScopeSlash             = "validators:slash"
	ScopeRules             = "rules:write"
)

var ErrInvalidToken = errors.New("invalid admin token")

// Authorizer is the verified identity behind an administrative request.
type Authorizer struct {
	Subject string
	Scopes  []string
}

func (a Authorizer) Can(scope string) bool {
	return slices.Contains(a.Scopes, scope)
}

type adminClaims struct {
	Scopes []string `json:"scopes"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies HS256 admin tokens.
type TokenIssuer struct {
	secret []byte
	issuer string
	now    func() time.Time
}

func NewTokenIssuer(secret, issuer string) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), issuer: issuer, now: time.Now}
}

func (i *TokenIssuer) Issue(subject string, scopes []string, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", errors.New("token subject is required")
	}
	now := i.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, adminClaims{
		Scopes: scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	return token.SignedString(i.secret)
}

func (i *TokenIssuer) Verify(raw string) (Authorizer, error) {
	parsed, err := jwt.ParseWithClaims(raw, &adminClaims{}, func(token *jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithTimeFunc(i.now),
		jwt.WithLeeway(30*time.Second),
	)
	if err != nil {
		return Authorizer{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(*adminClaims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return Authorizer{}, ErrInvalidToken
	}
	return Authorizer{Subject: claims.Subject, Scopes: claims.Scopes}, nil
}
