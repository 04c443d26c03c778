package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token uses carried in the token_use claim.
const (
	TokenUseID        = "id"
	TokenUseAccess    = "access"
	TokenUseChallenge = "challenge"
)

var (
	// ErrInvalidToken indicates a bearer token failed verification.
	ErrInvalidToken = errors.New("invalid token")
	// ErrWeakSecret indicates the signing secret is too short for HS256.
	ErrWeakSecret = errors.New("signing secret must be at least 32 bytes")
)

// Identity is the verified caller behind a bearer token.
type Identity struct {
	Subject  string
	Username string
}

// Claims are the claims of tokens issued by TokenIssuer.
type Claims struct {
	jwt.RegisteredClaims
	Username string `json:"username"`
	TokenUse string `json:"token_use"`
}

// TokenIssuer signs and verifies HS256 tokens for the self-hosted provider.
type TokenIssuer struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewTokenIssuer returns an issuer signing with secret.
func NewTokenIssuer(secret, issuer string) (*TokenIssuer, error) {
	if len(secret) < 32 {
		return nil, ErrWeakSecret
	}
	return &TokenIssuer{secret: []byte(secret), issuer: issuer, now: time.Now}, nil
}

// WithNowFunc allows tests to override the time source.
func (i *TokenIssuer) WithNowFunc(now func() time.Time) {
	i.now = now
}

// Sign issues a token of the given use for the user, expiring after ttl.
func (i *TokenIssuer) Sign(subject, username, use string, ttl time.Duration) (string, time.Time, error) {
	now := i.now()
	expiresAt := now.Add(ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Username: username,
		TokenUse: use,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign %s token: %w", use, err)
	}
	return signed, expiresAt, nil
}

func (i *TokenIssuer) parse(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}

// VerifyToken accepts ID and access tokens issued by this issuer.
func (i *TokenIssuer) VerifyToken(_ context.Context, token string) (Identity, error) {
	claims, err := i.parse(token)
	if err != nil {
		return Identity{}, err
	}
	if claims.TokenUse != TokenUseID && claims.TokenUse != TokenUseAccess {
		return Identity{}, fmt.Errorf("%w: token_use %q", ErrInvalidToken, claims.TokenUse)
	}
	if claims.Username == "" {
		return Identity{}, fmt.Errorf("%w: missing username", ErrInvalidToken)
	}
	return Identity{Subject: claims.Subject, Username: claims.Username}, nil
}

// VerifyChallenge checks a challenge session token issued for username.
func (i *TokenIssuer) VerifyChallenge(token, username string) (Identity, error) {
	claims, err := i.parse(token)
	if err != nil {
		return Identity{}, err
	}
	if claims.TokenUse != TokenUseChallenge || claims.Username != username {
		return Identity{}, fmt.Errorf("%w: challenge does not match", ErrInvalidToken)
	}
	return Identity{Subject: claims.Subject, Username: claims.Username}, nil
}
