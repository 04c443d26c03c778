// Package identity talks to the OAuth-style identity provider that issues the
// bearer tokens used by the diary API. Two providers are available: Amazon
// Cognito user pools and the diary server's own /auth endpoints. Both speak the
// same InitiateAuth / RespondToAuthChallenge shaped contract.
package identity

import (
	"context"
	"errors"
)

// ChallengeNewPasswordRequired is the challenge returned for accounts that must
// set a new password before a session can be established.
const ChallengeNewPasswordRequired = "NEW_PASSWORD_REQUIRED"

var (
	// ErrNotAuthorized indicates the provider rejected the credentials.
	ErrNotAuthorized = errors.New("identity: not authorized")
	// ErrChallengeRejected indicates the provider refused a challenge response.
	ErrChallengeRejected = errors.New("identity: challenge response rejected")
	// ErrUnexpectedResponse indicates a response carrying neither tokens nor a challenge.
	ErrUnexpectedResponse = errors.New("identity: unexpected response")
)

// AuthResult carries the tokens issued by a successful exchange. RefreshToken
// is empty when the provider did not issue a new one.
type AuthResult struct {
	AccessToken  string `json:"AccessToken"`
	IDToken      string `json:"IdToken,omitempty"`
	RefreshToken string `json:"RefreshToken,omitempty"`
	ExpiresIn    int32  `json:"ExpiresIn,omitempty"`
	TokenType    string `json:"TokenType,omitempty"`
}

// BearerToken returns the credential sent to the API: the ID token when one
// was issued, the access token otherwise.
func (r AuthResult) BearerToken() string {
	if r.IDToken != "" {
		return r.IDToken
	}
	return r.AccessToken
}

// Outcome is the result of a sign-in attempt. Exactly one of Result or
// ChallengeName is set.
type Outcome struct {
	Result        *AuthResult
	ChallengeName string
	Session       string
}

// Provider is the identity provider contract.
type Provider interface {
	InitiateAuth(ctx context.Context, username, password string) (Outcome, error)
	RespondToNewPasswordChallenge(ctx context.Context, username, newPassword, session string) (AuthResult, error)
	Refresh(ctx context.Context, refreshToken string) (AuthResult, error)
}
