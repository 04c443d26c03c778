package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"time"

	"github.com/familydiary/diary/internal/models"
)

var (
	// ErrSessionNotFound indicates the provided refresh token does not map to an active session.
	ErrSessionNotFound = errors.New("session not found")
	// ErrRefreshTokenExpired indicates the refresh token has expired and cannot be used.
	ErrRefreshTokenExpired = errors.New("refresh token expired")
)

// SessionStore persists issued refresh tokens so they can survive process restarts.
type SessionStore interface {
	Save(ctx context.Context, session Session) error
	Find(ctx context.Context, refreshToken string) (Session, error)
	Delete(ctx context.Context, refreshToken string) error
}

// Session represents a refresh token issued to a user.
type Session struct {
	RefreshToken string
	UserID       string
	Username     string
	ExpiresAt    time.Time
}

// Manager manages the lifecycle of issued tokens backed by a persistent store.
type Manager struct {
	accessTTL  time.Duration
	refreshTTL time.Duration

	tokens *TokenIssuer
	store  SessionStore
	now    func() time.Time
}

// NewManager constructs a Manager that issues ID/access tokens and refresh tokens with the provided TTLs.
func NewManager(tokens *TokenIssuer, store SessionStore, accessTTL, refreshTTL time.Duration) *Manager {
	if tokens == nil {
		panic("auth: token issuer must not be nil")
	}
	if store == nil {
		panic("auth: session store must not be nil")
	}
	return &Manager{
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		tokens:     tokens,
		store:      store,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithNowFunc allows tests to override the time source.
func (m *Manager) WithNowFunc(now func() time.Time) {
	m.now = now
}

// Issue creates ID, access and refresh tokens for the user.
func (m *Manager) Issue(ctx context.Context, user models.User) (models.SessionTokens, error) {
	if user.ID == "" || user.Username == "" {
		return models.SessionTokens{}, errors.New("user id and username must be provided")
	}

	tokens, err := m.sign(user.ID, user.Username)
	if err != nil {
		return models.SessionTokens{}, err
	}

	refreshToken, err := randomToken()
	if err != nil {
		return models.SessionTokens{}, err
	}
	tokens.RefreshToken = refreshToken
	tokens.RefreshExpiresAt = m.now().Add(m.refreshTTL)

	if err := m.store.Save(ctx, Session{
		RefreshToken: refreshToken,
		UserID:       user.ID,
		Username:     user.Username,
		ExpiresAt:    tokens.RefreshExpiresAt,
	}); err != nil {
		return models.SessionTokens{}, err
	}

	return tokens, nil
}

// Refresh exchanges a refresh token for new ID and access tokens. The refresh
// token itself is not rotated, so the result carries no RefreshToken.
func (m *Manager) Refresh(ctx context.Context, refreshToken string) (models.SessionTokens, error) {
	if refreshToken == "" {
		return models.SessionTokens{}, ErrSessionNotFound
	}

	session, err := m.store.Find(ctx, refreshToken)
	if err != nil {
		return models.SessionTokens{}, err
	}

	if m.now().After(session.ExpiresAt) {
		_ = m.store.Delete(ctx, refreshToken)
		return models.SessionTokens{}, ErrRefreshTokenExpired
	}

	return m.sign(session.UserID, session.Username)
}

// Challenge issues a short-lived token that must accompany the new password
// of a user who is required to change it.
func (m *Manager) Challenge(user models.User, ttl time.Duration) (string, error) {
	token, _, err := m.tokens.Sign(user.ID, user.Username, TokenUseChallenge, ttl)
	return token, err
}

// VerifyChallenge validates a challenge token for username.
func (m *Manager) VerifyChallenge(token, username string) error {
	_, err := m.tokens.VerifyChallenge(token, username)
	return err
}

// Revoke removes the provided refresh token from the active session store.
func (m *Manager) Revoke(ctx context.Context, refreshToken string) {
	if refreshToken == "" {
		return
	}
	_ = m.store.Delete(ctx, refreshToken)
}

func (m *Manager) sign(userID, username string) (models.SessionTokens, error) {
	idToken, expiresAt, err := m.tokens.Sign(userID, username, TokenUseID, m.accessTTL)
	if err != nil {
		return models.SessionTokens{}, err
	}
	accessToken, _, err := m.tokens.Sign(userID, username, TokenUseAccess, m.accessTTL)
	if err != nil {
		return models.SessionTokens{}, err
	}
	return models.SessionTokens{
		AccessToken:     accessToken,
		IDToken:         idToken,
		AccessExpiresAt: expiresAt,
	}, nil
}

func randomToken() (string, error) {
	const size = 32
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
