package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/familydiary/diary/internal/auth"
	"github.com/familydiary/diary/internal/identity"
	"github.com/familydiary/diary/internal/logging"
	"github.com/familydiary/diary/internal/models"
	"github.com/familydiary/diary/internal/repositories"
)

const (
	defaultChallengeTTL = 5 * time.Minute
	maxUsernameLength   = 32
	msgBadCredentials   = "Incorrect username or password."
)

// AuthHandler implements the self-hosted identity provider endpoints. Requests
// and responses follow the InitiateAuth / RespondToAuthChallenge shape so the
// client can use the same code path as with a managed user pool.
type AuthHandler struct {
	Users        UserStore
	Sessions     SessionManager
	Limiter      RateLimiter
	Clients      ClientResolver
	ChallengeTTL time.Duration
	NowFunc      func() time.Time
}

type signUpRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type revokeRequest struct {
	Token string `json:"Token"`
}

// SignUp handles POST /auth/signup.
func (h AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)

	if !h.ready(ctx, w) || !h.allow(ctx, w, r, flowSignUp) {
		return
	}

	var req signUpRequest
	if err := decodeJSON(w, r, maxBodyBytes, &req); err != nil {
		logger.Warn("invalid signup payload", "error", err)
		respondAuthError(ctx, w, http.StatusBadRequest, identity.TypeInvalidParameter, "invalid request body")
		return
	}

	req.Username = normalizeUsername(req.Username)
	if !validUsername(req.Username) {
		respondAuthError(ctx, w, http.StatusBadRequest, identity.TypeInvalidParameter, "username must be 1-32 characters of a-z, 0-9, '-' or '_'")
		return
	}
	if err := auth.ValidatePassword(req.Password); err != nil {
		respondAuthError(ctx, w, http.StatusBadRequest, identity.TypeInvalidPassword, err.Error())
		return
	}

	hashed, err := auth.HashPassword(req.Password)
	if err != nil {
		logger.Error("signup failed to hash password", "error", err)
		respondAuthError(ctx, w, http.StatusInternalServerError, identity.TypeInternalErrorService, "failed to secure password")
		return
	}

	now := h.now()
	user := models.User{
		ID:        uuid.NewString(),
		Username:  req.Username,
		Password:  hashed,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := h.Users.Create(ctx, user); err != nil {
		if errors.Is(err, repositories.ErrConflict) {
			respondAuthError(ctx, w, http.StatusConflict, identity.TypeUsernameExists, "User already exists")
			return
		}
		logger.Error("signup failed to persist user", "error", err, "username", req.Username)
		respondAuthError(ctx, w, http.StatusInternalServerError, identity.TypeInternalErrorService, "failed to create account")
		return
	}

	h.issue(ctx, w, http.StatusCreated, user)
}

// Initiate handles POST /auth/initiate for the USER_PASSWORD_AUTH and
// REFRESH_TOKEN_AUTH flows.
func (h AuthHandler) Initiate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)

	if !h.ready(ctx, w) || !h.allow(ctx, w, r, flowInitiate) {
		return
	}

	var req identity.InitiateAuthRequest
	if err := decodeJSON(w, r, maxBodyBytes, &req); err != nil {
		logger.Warn("invalid initiate payload", "error", err)
		respondAuthError(ctx, w, http.StatusBadRequest, identity.TypeInvalidParameter, "invalid request body")
		return
	}

	switch req.AuthFlow {
	case identity.FlowUserPassword:
		h.passwordFlow(ctx, w, req.AuthParameters)
	case identity.FlowRefreshToken:
		h.refreshFlow(ctx, w, req.AuthParameters)
	default:
		respondAuthError(ctx, w, http.StatusBadRequest, identity.TypeInvalidParameter, "unsupported AuthFlow "+req.AuthFlow)
	}
}

func (h AuthHandler) passwordFlow(ctx context.Context, w http.ResponseWriter, params map[string]string) {
	logger := logging.FromContext(ctx)

	username := normalizeUsername(params[identity.ParamUsername])
	password := params[identity.ParamPassword]
	if username == "" || password == "" {
		respondAuthError(ctx, w, http.StatusBadRequest, identity.TypeInvalidParameter, "USERNAME and PASSWORD are required")
		return
	}

	user, err := h.Users.FindByUsername(ctx, username)
	if err != nil {
		if !errors.Is(err, repositories.ErrNotFound) {
			logger.Error("sign-in user lookup failed", "error", err, "username", username)
			respondAuthError(ctx, w, http.StatusInternalServerError, identity.TypeInternalErrorService, "unable to sign in")
			return
		}
		logger.Warn("sign-in unknown user", "username", username)
		respondAuthError(ctx, w, http.StatusUnauthorized, identity.TypeNotAuthorized, msgBadCredentials)
		return
	}

	if !auth.CheckPassword(user.Password, password) {
		logger.Warn("sign-in password mismatch", "userId", user.ID)
		respondAuthError(ctx, w, http.StatusUnauthorized, identity.TypeNotAuthorized, msgBadCredentials)
		return
	}

	if user.MustChangePassword {
		session, err := h.Sessions.Challenge(user, h.challengeTTL())
		if err != nil {
			logger.Error("failed to issue challenge", "error", err, "userId", user.ID)
			respondAuthError(ctx, w, http.StatusInternalServerError, identity.TypeInternalErrorService, "unable to sign in")
			return
		}
		logger.Info("new password required", "userId", user.ID)
		respondJSON(ctx, w, http.StatusOK, identity.AuthResponse{
			ChallengeName: identity.ChallengeNewPasswordRequired,
			Session:       session,
		})
		return
	}

	h.issue(ctx, w, http.StatusOK, user)
}

func (h AuthHandler) refreshFlow(ctx context.Context, w http.ResponseWriter, params map[string]string) {
	logger := logging.FromContext(ctx)

	token := strings.TrimSpace(params[identity.ParamRefreshToken])
	if token == "" {
		respondAuthError(ctx, w, http.StatusBadRequest, identity.TypeInvalidParameter, "REFRESH_TOKEN is required")
		return
	}

	tokens, err := h.Sessions.Refresh(ctx, token)
	if err != nil {
		if errors.Is(err, auth.ErrSessionNotFound) || errors.Is(err, auth.ErrRefreshTokenExpired) {
			logger.Warn("refresh rejected", "error", err)
			respondAuthError(ctx, w, http.StatusUnauthorized, identity.TypeNotAuthorized, "Invalid Refresh Token")
			return
		}
		logger.Error("refresh failed", "error", err)
		respondAuthError(ctx, w, http.StatusInternalServerError, identity.TypeInternalErrorService, "unable to refresh session")
		return
	}

	respondJSON(ctx, w, http.StatusOK, identity.AuthResponse{AuthenticationResult: h.result(tokens)})
}

// Challenge handles POST /auth/challenge for NEW_PASSWORD_REQUIRED.
func (h AuthHandler) Challenge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)

	if !h.ready(ctx, w) || !h.allow(ctx, w, r, flowChallenge) {
		return
	}

	var req identity.RespondToAuthChallengeRequest
	if err := decodeJSON(w, r, maxBodyBytes, &req); err != nil {
		logger.Warn("invalid challenge payload", "error", err)
		respondAuthError(ctx, w, http.StatusBadRequest, identity.TypeInvalidParameter, "invalid request body")
		return
	}
	if req.ChallengeName != identity.ChallengeNewPasswordRequired {
		respondAuthError(ctx, w, http.StatusBadRequest, identity.TypeInvalidParameter, "unsupported ChallengeName "+req.ChallengeName)
		return
	}

	username := normalizeUsername(req.ChallengeResponses[identity.ParamUsername])
	newPassword := req.ChallengeResponses[identity.ParamNewPassword]
	if username == "" || newPassword == "" || req.Session == "" {
		respondAuthError(ctx, w, http.StatusBadRequest, identity.TypeInvalidParameter, "USERNAME, NEW_PASSWORD and Session are required")
		return
	}

	if err := h.Sessions.VerifyChallenge(req.Session, username); err != nil {
		logger.Warn("challenge session rejected", "error", err, "username", username)
		respondAuthError(ctx, w, http.StatusUnauthorized, identity.TypeNotAuthorized, "Invalid session for the user, session is expired.")
		return
	}
	if err := auth.ValidatePassword(newPassword); err != nil {
		respondAuthError(ctx, w, http.StatusBadRequest, identity.TypeInvalidPassword, err.Error())
		return
	}

	user, err := h.Users.FindByUsername(ctx, username)
	if err != nil {
		logger.Error("challenge user lookup failed", "error", err, "username", username)
		respondAuthError(ctx, w, http.StatusUnauthorized, identity.TypeNotAuthorized, msgBadCredentials)
		return
	}
	if !user.MustChangePassword {
		logger.Warn("challenge answered for a user without a pending password change", "username", username)
		respondAuthError(ctx, w, http.StatusUnauthorized, identity.TypeNotAuthorized, "Invalid session for the user, session is expired.")
		return
	}

	hashed, err := auth.HashPassword(newPassword)
	if err != nil {
		logger.Error("challenge failed to hash password", "error", err)
		respondAuthError(ctx, w, http.StatusInternalServerError, identity.TypeInternalErrorService, "failed to secure password")
		return
	}
	if err := h.Users.UpdatePassword(ctx, user.ID, hashed); err != nil {
		logger.Error("challenge failed to update password", "error", err, "userId", user.ID)
		respondAuthError(ctx, w, http.StatusInternalServerError, identity.TypeInternalErrorService, "failed to update password")
		return
	}
	user.MustChangePassword = false

	h.issue(ctx, w, http.StatusOK, user)
}

// Revoke handles POST /auth/revoke. Unknown tokens are ignored.
func (h AuthHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if !h.ready(ctx, w) {
		return
	}

	var req revokeRequest
	if err := decodeJSON(w, r, maxBodyBytes, &req); err != nil || strings.TrimSpace(req.Token) == "" {
		respondAuthError(ctx, w, http.StatusBadRequest, identity.TypeInvalidParameter, "Token is required")
		return
	}

	h.Sessions.Revoke(ctx, strings.TrimSpace(req.Token))
	respondJSON(ctx, w, http.StatusOK, struct{}{})
}

func (h AuthHandler) issue(ctx context.Context, w http.ResponseWriter, status int, user models.User) {
	tokens, err := h.Sessions.Issue(ctx, user)
	if err != nil {
		logging.FromContext(ctx).Error("failed to issue session", "error", err, "userId", user.ID)
		respondAuthError(ctx, w, http.StatusInternalServerError, identity.TypeInternalErrorService, "failed to create session")
		return
	}
	respondJSON(ctx, w, status, identity.AuthResponse{AuthenticationResult: h.result(tokens)})
}

func (h AuthHandler) result(tokens models.SessionTokens) *identity.AuthResult {
	expiresIn := int32(tokens.AccessExpiresAt.Sub(h.now()).Seconds())
	if expiresIn < 0 {
		expiresIn = 0
	}
	return &identity.AuthResult{
		AccessToken:  tokens.AccessToken,
		IDToken:      tokens.IDToken,
		RefreshToken: tokens.RefreshToken,
		ExpiresIn:    expiresIn,
		TokenType:    "Bearer",
	}
}

func (h AuthHandler) ready(ctx context.Context, w http.ResponseWriter) bool {
	if h.Users == nil || h.Sessions == nil {
		logging.FromContext(ctx).Error("authentication dependencies unavailable", "hasUsers", h.Users != nil, "hasSessions", h.Sessions != nil)
		respondAuthError(ctx, w, http.StatusInternalServerError, identity.TypeInternalErrorService, "authentication services unavailable")
		return false
	}
	return true
}

func (h AuthHandler) allow(ctx context.Context, w http.ResponseWriter, r *http.Request, flow authFlow) bool {
	if h.Limiter == nil {
		return true
	}
	client := h.Clients.ClientIP(r)
	if h.Limiter.Allow(rateLimitKey(flow, client)) {
		return true
	}
	logging.FromContext(ctx).Warn("auth request rate limited", "client", client, "flow", string(flow))
	respondAuthError(ctx, w, http.StatusTooManyRequests, identity.TypeTooManyRequests, "Rate exceeded")
	return false
}

func (h AuthHandler) challengeTTL() time.Duration {
	if h.ChallengeTTL > 0 {
		return h.ChallengeTTL
	}
	return defaultChallengeTTL
}

func (h AuthHandler) now() time.Time {
	if h.NowFunc != nil {
		return h.NowFunc()
	}
	return time.Now().UTC()
}

func respondAuthError(ctx context.Context, w http.ResponseWriter, status int, errType, message string) {
	respondJSON(ctx, w, status, identity.ErrorResponse{Type: errType, Message: message})
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func validUsername(username string) bool {
	if username == "" || len(username) > maxUsernameLength {
		return false
	}
	for _, r := range username {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}
