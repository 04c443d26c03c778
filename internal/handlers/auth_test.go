package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/familydiary/diary/internal/auth"
	"github.com/familydiary/diary/internal/identity"
	"github.com/familydiary/diary/internal/middleware"
	"github.com/familydiary/diary/internal/models"
	"github.com/familydiary/diary/internal/repositories"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type inMemoryUserStore struct {
	mu    sync.Mutex
	users map[string]models.User
}

func newInMemoryUserStore() *inMemoryUserStore {
	return &inMemoryUserStore{users: make(map[string]models.User)}
}

func (s *inMemoryUserStore) Create(_ context.Context, user models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[user.Username]; exists {
		return repositories.ErrConflict
	}
	s.users[user.Username] = user
	return nil
}

func (s *inMemoryUserStore) FindByUsername(_ context.Context, username string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[username]
	if !ok {
		return models.User{}, repositories.ErrNotFound
	}
	return user, nil
}

func (s *inMemoryUserStore) UpdatePassword(_ context.Context, id, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, user := range s.users {
		if user.ID == id {
			user.Password = passwordHash
			user.MustChangePassword = false
			s.users[name] = user
			return nil
		}
	}
	return repositories.ErrNotFound
}

func (s *inMemoryUserStore) seed(t *testing.T, username, password string, mustChange bool) models.User {
	t.Helper()
	hashed, err := auth.HashPassword(password)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	user := models.User{ID: "id-" + username, Username: username, Password: hashed, MustChangePassword: mustChange}
	if err := s.Create(context.Background(), user); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return user
}

type denyLimiter struct{}

func (denyLimiter) Allow(string) bool { return false }

func newAuthHandler(t *testing.T) (AuthHandler, *inMemoryUserStore, *auth.TokenIssuer) {
	t.Helper()
	issuer, err := auth.NewTokenIssuer(testSecret, "familydiary-test")
	if err != nil {
		t.Fatalf("issuer: %v", err)
	}
	users := newInMemoryUserStore()
	manager := auth.NewManager(issuer, auth.NewMemorySessionStore(), time.Hour, 24*time.Hour)
	return AuthHandler{Users: users, Sessions: manager}, users, issuer
}

func postJSON(t *testing.T, handler http.HandlerFunc, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func decodeAuthResponse(t *testing.T, rec *httptest.ResponseRecorder) identity.AuthResponse {
	t.Helper()
	var resp identity.AuthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

func decodeAuthError(t *testing.T, rec *httptest.ResponseRecorder) identity.ErrorResponse {
	t.Helper()
	var resp identity.ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	return resp
}

func passwordAuth(username, password string) identity.InitiateAuthRequest {
	return identity.InitiateAuthRequest{
		AuthFlow: identity.FlowUserPassword,
		AuthParameters: map[string]string{
			identity.ParamUsername: username,
			identity.ParamPassword: password,
		},
	}
}

func TestAuthHandlerSignUp(t *testing.T) {
	handler, users, issuer := newAuthHandler(t)

	rec := postJSON(t, handler.SignUp, "/auth/signup", signUpRequest{Username: " Mother ", Password: "diary2024"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status %d got %d: %s", http.StatusCreated, rec.Code, rec.Body.String())
	}

	resp := decodeAuthResponse(t, rec)
	result := resp.AuthenticationResult
	if result == nil || result.IDToken == "" || result.AccessToken == "" || result.RefreshToken == "" {
		t.Fatalf("expected tokens to be issued, got %+v", resp)
	}
	if result.ExpiresIn <= 0 || result.TokenType != "Bearer" {
		t.Fatalf("unexpected token metadata %+v", result)
	}

	identityClaims, err := issuer.VerifyToken(context.Background(), result.IDToken)
	if err != nil || identityClaims.Username != "mother" {
		t.Fatalf("id token does not identify the new user: %+v %v", identityClaims, err)
	}

	stored, err := users.FindByUsername(context.Background(), "mother")
	if err != nil {
		t.Fatalf("expected user to be stored: %v", err)
	}
	if !auth.CheckPassword(stored.Password, "diary2024") {
		t.Fatal("stored password is not hashed")
	}

	rec = postJSON(t, handler.SignUp, "/auth/signup", signUpRequest{Username: "mother", Password: "diary2024"})
	if rec.Code != http.StatusConflict || decodeAuthError(t, rec).Type != identity.TypeUsernameExists {
		t.Fatalf("expected duplicate signup to conflict, got %d", rec.Code)
	}
}

func TestAuthHandlerSignUpValidation(t *testing.T) {
	handler, _, _ := newAuthHandler(t)

	cases := map[string]struct {
		req      signUpRequest
		wantType string
	}{
		"empty username": {req: signUpRequest{Password: "diary2024"}, wantType: identity.TypeInvalidParameter},
		"bad characters": {req: signUpRequest{Username: "mo ther", Password: "diary2024"}, wantType: identity.TypeInvalidParameter},
		"short password": {req: signUpRequest{Username: "father", Password: "a1"}, wantType: identity.TypeInvalidPassword},
		"no digit":       {req: signUpRequest{Username: "father", Password: "passwordonly"}, wantType: identity.TypeInvalidPassword},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			rec := postJSON(t, handler.SignUp, "/auth/signup", tc.req)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rec.Code)
			}
			if got := decodeAuthError(t, rec).Type; got != tc.wantType {
				t.Fatalf("expected %s, got %s", tc.wantType, got)
			}
		})
	}
}

func TestAuthHandlerPasswordFlow(t *testing.T) {
	handler, users, _ := newAuthHandler(t)
	users.seed(t, "father", "garden2024", false)

	rec := postJSON(t, handler.Initiate, "/auth/initiate", passwordAuth("father", "garden2024"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeAuthResponse(t, rec)
	if resp.AuthenticationResult == nil || resp.ChallengeName != "" {
		t.Fatalf("expected tokens, got %+v", resp)
	}

	refresh := identity.InitiateAuthRequest{
		AuthFlow:       identity.FlowRefreshToken,
		AuthParameters: map[string]string{identity.ParamRefreshToken: resp.AuthenticationResult.RefreshToken},
	}
	rec = postJSON(t, handler.Initiate, "/auth/initiate", refresh)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected refresh to succeed, got %d", rec.Code)
	}
	refreshed := decodeAuthResponse(t, rec)
	if refreshed.AuthenticationResult == nil || refreshed.AuthenticationResult.IDToken == "" {
		t.Fatalf("expected new id token, got %+v", refreshed)
	}
	if refreshed.AuthenticationResult.RefreshToken != "" {
		t.Fatal("refresh tokens are not rotated")
	}

	rec = postJSON(t, handler.Revoke, "/auth/revoke", revokeRequest{Token: resp.AuthenticationResult.RefreshToken})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected revoke to succeed, got %d", rec.Code)
	}
	rec = postJSON(t, handler.Initiate, "/auth/initiate", refresh)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected revoked token to be rejected, got %d", rec.Code)
	}
}

func TestAuthHandlerRejectsBadCredentials(t *testing.T) {
	handler, users, _ := newAuthHandler(t)
	users.seed(t, "father", "garden2024", false)

	for name, req := range map[string]identity.InitiateAuthRequest{
		"wrong password": passwordAuth("father", "garden2025"),
		"unknown user":   passwordAuth("uncle", "garden2024"),
	} {
		t.Run(name, func(t *testing.T) {
			rec := postJSON(t, handler.Initiate, "/auth/initiate", req)
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rec.Code)
			}
			if got := decodeAuthError(t, rec); got.Type != identity.TypeNotAuthorized || got.Message != msgBadCredentials {
				t.Fatalf("unexpected error body %+v", got)
			}
		})
	}

	rec := postJSON(t, handler.Initiate, "/auth/initiate", identity.InitiateAuthRequest{AuthFlow: "CUSTOM_AUTH"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected unsupported flow to be rejected, got %d", rec.Code)
	}
}

func TestAuthHandlerNewPasswordChallenge(t *testing.T) {
	handler, users, _ := newAuthHandler(t)
	users.seed(t, "grandma", "Temp0001", true)

	rec := postJSON(t, handler.Initiate, "/auth/initiate", passwordAuth("grandma", "Temp0001"))
	resp := decodeAuthResponse(t, rec)
	if resp.ChallengeName != identity.ChallengeNewPasswordRequired || resp.Session == "" || resp.AuthenticationResult != nil {
		t.Fatalf("expected NEW_PASSWORD_REQUIRED challenge, got %+v", resp)
	}

	answer := func(session, username, password string) *httptest.ResponseRecorder {
		return postJSON(t, handler.Challenge, "/auth/challenge", identity.RespondToAuthChallengeRequest{
			ChallengeName: identity.ChallengeNewPasswordRequired,
			Session:       session,
			ChallengeResponses: map[string]string{
				identity.ParamUsername:    username,
				identity.ParamNewPassword: password,
			},
		})
	}

	if rec := answer(resp.Session, "grandma", "short"); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected weak password to be rejected, got %d", rec.Code)
	}
	if rec := answer(resp.Session, "father", "Roses2024"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected session bound to another user to be rejected, got %d", rec.Code)
	}
	if rec := answer("forged", "grandma", "Roses2024"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected forged session to be rejected, got %d", rec.Code)
	}

	rec = answer(resp.Session, "grandma", "Roses2024")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected challenge to succeed, got %d: %s", rec.Code, rec.Body.String())
	}
	if decodeAuthResponse(t, rec).AuthenticationResult == nil {
		t.Fatal("expected tokens after the password change")
	}

	if rec := answer(resp.Session, "grandma", "Tulips2025"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected a replayed challenge session to be rejected, got %d", rec.Code)
	}

	rec = postJSON(t, handler.Initiate, "/auth/initiate", passwordAuth("grandma", "Roses2024"))
	if resp := decodeAuthResponse(t, rec); resp.AuthenticationResult == nil {
		t.Fatalf("expected direct sign-in with the new password, got %+v", resp)
	}
}

func TestAuthHandlerChallengeExpires(t *testing.T) {
	handler, users, issuer := newAuthHandler(t)
	users.seed(t, "grandpa", "Temp0001", true)
	handler.ChallengeTTL = time.Minute

	rec := postJSON(t, handler.Initiate, "/auth/initiate", passwordAuth("grandpa", "Temp0001"))
	session := decodeAuthResponse(t, rec).Session

	issuer.WithNowFunc(func() time.Time { return time.Now().Add(2 * time.Minute) })
	rec = postJSON(t, handler.Challenge, "/auth/challenge", identity.RespondToAuthChallengeRequest{
		ChallengeName: identity.ChallengeNewPasswordRequired,
		Session:       session,
		ChallengeResponses: map[string]string{
			identity.ParamUsername:    "grandpa",
			identity.ParamNewPassword: "Roses2024",
		},
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected expired challenge to be rejected, got %d", rec.Code)
	}
}

func TestAuthHandlerRateLimited(t *testing.T) {
	handler, users, _ := newAuthHandler(t)
	users.seed(t, "father", "garden2024", false)
	handler.Limiter = denyLimiter{}

	rec := postJSON(t, handler.Initiate, "/auth/initiate", passwordAuth("father", "garden2024"))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if got := decodeAuthError(t, rec).Type; got != identity.TypeTooManyRequests {
		t.Fatalf("unexpected error type %s", got)
	}
}

func TestAuthHandlerForwardedForDoesNotResetLimit(t *testing.T) {
	handler, users, _ := newAuthHandler(t)
	users.seed(t, "father", "garden2024", false)
	handler.Limiter = middleware.NewKeyedLimiter(1, time.Hour, 2, 0)

	send := func(h http.HandlerFunc, path string, body any, forwardedFor string) int {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
		req.RemoteAddr = "203.0.113.7:51000"
		req.Header.Set("X-Forwarded-For", forwardedFor)
		rec := httptest.NewRecorder()
		h(rec, req)
		return rec.Code
	}

	for i, spoofed := range []string{"198.51.100.1", "198.51.100.2"} {
		if code := send(handler.Initiate, "/auth/initiate", passwordAuth("father", "wrong-guess"), spoofed); code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i+1, code)
		}
	}
	if code := send(handler.Initiate, "/auth/initiate", passwordAuth("father", "garden2024"), "198.51.100.3"); code != http.StatusTooManyRequests {
		t.Fatalf("a fresh X-Forwarded-For must not reset the limit, got %d", code)
	}

	if code := send(handler.SignUp, "/auth/signup", signUpRequest{Username: "cousin", Password: "Picnic2024"}, ""); code != http.StatusCreated {
		t.Fatalf("signup has its own budget, got %d", code)
	}
}

func TestClientResolver(t *testing.T) {
	resolver := ClientResolver{TrustedProxies: []netip.Prefix{
		netip.MustParsePrefix("10.0.0.0/8"),
		netip.MustParsePrefix("fd00::/8"),
	}}

	cases := map[string]struct {
		remote    string
		forwarded []string
		want      string
	}{
		"direct client":              {remote: "203.0.113.7:4000", want: "203.0.113.7"},
		"untrusted peer header":      {remote: "203.0.113.7:4000", forwarded: []string{"198.51.100.1"}, want: "203.0.113.7"},
		"trusted proxy":              {remote: "10.0.0.2:80", forwarded: []string{"198.51.100.1"}, want: "198.51.100.1"},
		"spoofed leftmost hop":       {remote: "10.0.0.2:80", forwarded: []string{"1.2.3.4, 198.51.100.1"}, want: "198.51.100.1"},
		"chained proxies":            {remote: "10.0.0.2:80", forwarded: []string{"198.51.100.1, 10.0.0.9"}, want: "198.51.100.1"},
		"repeated headers":           {remote: "10.0.0.2:80", forwarded: []string{"1.2.3.4", "198.51.100.1"}, want: "198.51.100.1"},
		"malformed hop":              {remote: "10.0.0.2:80", forwarded: []string{"198.51.100.1, garbage"}, want: "10.0.0.2"},
		"trusted proxy, no header":   {remote: "[fd00::1]:80", want: "fd00::1"},
		"only trusted hops in chain": {remote: "10.0.0.2:80", forwarded: []string{"10.1.1.1"}, want: "10.1.1.1"},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/auth/initiate", nil)
			req.RemoteAddr = tc.remote
			for _, value := range tc.forwarded {
				req.Header.Add("X-Forwarded-For", value)
			}
			if got := resolver.ClientIP(req); got != tc.want {
				t.Fatalf("ClientIP = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestAuthHandlerUnavailable(t *testing.T) {
	rec := postJSON(t, AuthHandler{}.Initiate, "/auth/initiate", passwordAuth("father", "garden2024"))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 without dependencies, got %d", rec.Code)
	}
}
