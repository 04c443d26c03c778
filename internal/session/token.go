package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// tokenClaims holds the claims read from issued tokens. Signatures are not
// checked here; the API verifies every bearer token it receives.
type tokenClaims struct {
	jwt.RegisteredClaims
	CognitoUsername string `json:"cognito:username,omitempty"`
	Username        string `json:"username,omitempty"`
}

func decodeClaims(token string) (tokenClaims, bool) {
	var claims tokenClaims
	if token == "" {
		return claims, false
	}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return tokenClaims{}, false
	}
	return claims, true
}

// expiry returns the exp claim when present.
func (c tokenClaims) expiry() (time.Time, bool) {
	if c.ExpiresAt == nil {
		return time.Time{}, false
	}
	return c.ExpiresAt.Time, true
}

// username returns the first of cognito:username, username and sub.
func (c tokenClaims) username() string {
	switch {
	case c.CognitoUsername != "":
		return c.CognitoUsername
	case c.Username != "":
		return c.Username
	default:
		return c.Subject
	}
}
