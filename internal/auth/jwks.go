package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// CognitoIssuer returns the issuer URL of a Cognito user pool.
func CognitoIssuer(region, userPoolID string) string {
	return fmt.Sprintf("https://cognito-idp.%s.amazonaws.com/%s", region, userPoolID)
}

type jwk struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWKSVerifier verifies Cognito ID tokens against the pool's published keys.
type JWKSVerifier struct {
	issuer   string
	clientID string
	client   *http.Client
	ttl      time.Duration

	mu        sync.Mutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
	now       func() time.Time
}

// NewJWKSVerifier returns a verifier for tokens issued by the user pool to clientID.
func NewJWKSVerifier(region, userPoolID, clientID string) *JWKSVerifier {
	return &JWKSVerifier{
		issuer:   CognitoIssuer(region, userPoolID),
		clientID: clientID,
		client:   &http.Client{Timeout: 10 * time.Second},
		ttl:      time.Hour,
		now:      time.Now,
	}
}

// WithIssuer points the verifier at a different issuer, such as a local test server.
func (v *JWKSVerifier) WithIssuer(issuer string) *JWKSVerifier {
	v.issuer = issuer
	return v
}

// VerifyToken validates an RS256 ID token and returns the caller.
func (v *JWKSVerifier) VerifyToken(ctx context.Context, token string) (Identity, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		return v.key(ctx, kid)
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.clientID),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if use, _ := claims["token_use"].(string); use != TokenUseID {
		return Identity{}, fmt.Errorf("%w: token_use %q", ErrInvalidToken, use)
	}
	username, _ := claims["cognito:username"].(string)
	if username == "" {
		return Identity{}, fmt.Errorf("%w: missing cognito:username", ErrInvalidToken)
	}
	subject, _ := claims.GetSubject()
	return Identity{Subject: subject, Username: username}, nil
}

func (v *JWKSVerifier) key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if key, ok := v.keys[kid]; ok && v.now().Sub(v.fetchedAt) < v.ttl {
		return key, nil
	}
	if err := v.fetchLocked(ctx); err != nil {
		return nil, err
	}
	key, ok := v.keys[kid]
	if !ok {
		return nil, fmt.Errorf("unknown signing key %q", kid)
	}
	return key, nil
}

func (v *JWKSVerifier) fetchLocked(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.issuer+"/.well-known/jwks.json", nil)
	if err != nil {
		return err
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch jwks: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch jwks: unexpected status %d", resp.StatusCode)
	}

	var set struct {
		Keys []jwk `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return fmt.Errorf("decode jwks: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		if k.Kty != "RSA" {
			continue
		}
		key, err := rsaKey(k)
		if err != nil {
			return fmt.Errorf("jwk %s: %w", k.Kid, err)
		}
		keys[k.Kid] = key
	}
	v.keys = keys
	v.fetchedAt = v.now()
	return nil
}

func rsaKey(k jwk) (*rsa.PublicKey, error) {
	n, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, err
	}
	e, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, err
	}
	exponent := new(big.Int).SetBytes(e)
	if !exponent.IsInt64() || exponent.Int64() > 1<<31-1 {
		return nil, errors.New("exponent out of range")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(n), E: int(exponent.Int64())}, nil
}
