package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPProvider signs in against the diary server's own /auth endpoints.
type HTTPProvider struct {
	baseURL string
	client  *http.Client
}

// NewHTTPProvider returns a provider rooted at the API base URL.
func NewHTTPProvider(baseURL string, client *http.Client) *HTTPProvider {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPProvider{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  client,
	}
}

// InitiateAuth starts a USER_PASSWORD_AUTH exchange.
func (p *HTTPProvider) InitiateAuth(ctx context.Context, username, password string) (Outcome, error) {
	var resp AuthResponse
	err := p.post(ctx, "/auth/initiate", InitiateAuthRequest{
		AuthFlow: FlowUserPassword,
		AuthParameters: map[string]string{
			ParamUsername: username,
			ParamPassword: password,
		},
	}, &resp)
	if err != nil {
		return Outcome{}, err
	}

	if resp.ChallengeName != "" {
		return Outcome{ChallengeName: resp.ChallengeName, Session: resp.Session}, nil
	}
	if resp.AuthenticationResult == nil {
		return Outcome{}, ErrUnexpectedResponse
	}
	return Outcome{Result: resp.AuthenticationResult}, nil
}

// RespondToNewPasswordChallenge answers a NEW_PASSWORD_REQUIRED challenge.
func (p *HTTPProvider) RespondToNewPasswordChallenge(ctx context.Context, username, newPassword, session string) (AuthResult, error) {
	var resp AuthResponse
	err := p.post(ctx, "/auth/challenge", RespondToAuthChallengeRequest{
		ChallengeName: ChallengeNewPasswordRequired,
		Session:       session,
		ChallengeResponses: map[string]string{
			ParamUsername:    username,
			ParamNewPassword: newPassword,
		},
	}, &resp)
	if err != nil {
		if errors.Is(err, ErrNotAuthorized) {
			return AuthResult{}, fmt.Errorf("%w: %v", ErrChallengeRejected, err)
		}
		return AuthResult{}, err
	}
	if resp.AuthenticationResult == nil {
		return AuthResult{}, ErrUnexpectedResponse
	}
	return *resp.AuthenticationResult, nil
}

// Refresh exchanges a refresh token for fresh access and ID tokens.
func (p *HTTPProvider) Refresh(ctx context.Context, refreshToken string) (AuthResult, error) {
	var resp AuthResponse
	err := p.post(ctx, "/auth/initiate", InitiateAuthRequest{
		AuthFlow:       FlowRefreshToken,
		AuthParameters: map[string]string{ParamRefreshToken: refreshToken},
	}, &resp)
	if err != nil {
		return AuthResult{}, err
	}
	if resp.AuthenticationResult == nil {
		return AuthResult{}, ErrUnexpectedResponse
	}
	return *resp.AuthenticationResult, nil
}

func (p *HTTPProvider) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", path, err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read %s response: %w", path, err)
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		var apiErr ErrorResponse
		_ = json.Unmarshal(data, &apiErr)
		if res.StatusCode == http.StatusUnauthorized || apiErr.Type == TypeNotAuthorized {
			return fmt.Errorf("%w: %s", ErrNotAuthorized, apiErr.Message)
		}
		msg := apiErr.Message
		if msg == "" {
			msg = strings.TrimSpace(string(data))
		}
		return fmt.Errorf("identity %s: status %d: %s", path, res.StatusCode, msg)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

var _ Provider = (*HTTPProvider)(nil)
