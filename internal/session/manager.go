// Package session owns the client's sign-in state: it signs in against the
// identity provider, persists the resulting tokens in a Store, answers whether
// the session is valid and hands out bearer tokens, refreshing them shortly
// before they expire.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/familydiary/diary/internal/entrykey"
	"github.com/familydiary/diary/internal/identity"
)

const (
	// RefreshThreshold is how close to expiry a token must be before
	// UsableToken attempts a refresh.
	RefreshThreshold = 5 * time.Minute
	// DefaultLifetime is assumed when a token carries no readable exp claim.
	DefaultLifetime = time.Hour
)

var (
	// ErrInvalidCredentials indicates the identity provider rejected the sign-in.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrChallengeFailed indicates a password-change challenge could not be completed.
	ErrChallengeFailed = errors.New("challenge failed")
	// ErrSignInFailed indicates the sign-in could not be carried out.
	ErrSignInFailed = errors.New("sign in failed")
)

// ChallengeRequiredError is returned by SignIn when the provider requires a
// new password. Session is the opaque token to pass to CompleteChallenge.
type ChallengeRequiredError struct {
	Name    string
	Session string
}

func (e *ChallengeRequiredError) Error() string {
	return "challenge required: " + e.Name
}

// Session is the authenticated state of this client.
type Session struct {
	AccessToken  string
	RefreshToken string
	UserID       string
	ExpiresAt    time.Time
}

// Valid reports whether the session holds a token that has not expired at now.
func (s Session) Valid(now time.Time) bool {
	return s.AccessToken != "" && !s.ExpiresAt.IsZero() && now.Before(s.ExpiresAt)
}

// State is the coarse sign-in state reported to callers.
type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticated
	StateChallengePending
)

func (s State) String() string {
	switch s {
	case StateAuthenticated:
		return "authenticated"
	case StateChallengePending:
		return "challenge_pending"
	default:
		return "unauthenticated"
	}
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLogger sets the logger used for refresh failures and state changes.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// Manager is the single writer of the Store.
type Manager struct {
	provider identity.Provider
	store    Store
	now      func() time.Time
	logger   *slog.Logger

	// mu guards multi-key reads and writes of the store.
	mu sync.RWMutex
	// refreshMu serializes refresh exchanges.
	refreshMu sync.Mutex

	// generation changes whenever the session is replaced or cleared; a
	// refresh started under an older generation is discarded. Guarded by mu.
	generation       uint64
	pendingChallenge string
}

// NewManager constructs a Manager over the provider and store.
func NewManager(provider identity.Provider, store Store, opts ...Option) *Manager {
	if provider == nil {
		panic("session: identity provider must not be nil")
	}
	if store == nil {
		panic("session: store must not be nil")
	}
	m := &Manager{
		provider: provider,
		store:    store,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SignIn authenticates with a username and password. On success the session
// is persisted. A NEW_PASSWORD_REQUIRED response persists nothing and returns
// a *ChallengeRequiredError.
func (m *Manager) SignIn(ctx context.Context, username, password string) (Session, error) {
	outcome, err := m.provider.InitiateAuth(ctx, username, password)
	if err != nil {
		if errors.Is(err, identity.ErrNotAuthorized) {
			return Session{}, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
		}
		return Session{}, fmt.Errorf("%w: %v", ErrSignInFailed, err)
	}

	if outcome.ChallengeName != "" {
		if outcome.ChallengeName != identity.ChallengeNewPasswordRequired {
			return Session{}, fmt.Errorf("%w: unsupported challenge %s", ErrSignInFailed, outcome.ChallengeName)
		}
		m.mu.Lock()
		m.pendingChallenge = outcome.Session
		m.mu.Unlock()
		m.logger.Info("password change required", "username", username)
		return Session{}, &ChallengeRequiredError{Name: outcome.ChallengeName, Session: outcome.Session}
	}
	if outcome.Result == nil {
		return Session{}, fmt.Errorf("%w: %v", ErrSignInFailed, identity.ErrUnexpectedResponse)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.pendingChallenge = ""
	m.generation++
	s, err := m.persistLocked(*outcome.Result, "", entrykey.OwnerID(username))
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrSignInFailed, err)
	}
	m.logger.Info("signed in", "user_id", s.UserID)
	return s, nil
}

// CompleteChallenge answers a pending password-change challenge and persists
// the resulting session.
func (m *Manager) CompleteChallenge(ctx context.Context, username, newPassword, challengeSession string) (Session, error) {
	if challengeSession == "" {
		return Session{}, fmt.Errorf("%w: missing challenge session", ErrChallengeFailed)
	}

	result, err := m.provider.RespondToNewPasswordChallenge(ctx, username, newPassword, challengeSession)
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrChallengeFailed, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.pendingChallenge = ""
	m.generation++
	s, err := m.persistLocked(result, "", entrykey.OwnerID(username))
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrChallengeFailed, err)
	}
	m.logger.Info("password changed", "user_id", s.UserID)
	return s, nil
}

// SignOut clears every session field. Calling it without a session is a no-op.
func (m *Manager) SignOut() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pendingChallenge = ""
	m.generation++
	var errs []error
	for _, key := range Keys {
		if err := m.store.Remove(key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// IsAuthenticated reports whether a token and an expiry are stored and the
// expiry lies in the future. It never talks to the identity provider.
func (m *Manager) IsAuthenticated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, err := m.loadLocked()
	if err != nil {
		m.logger.Warn("read session", "error", err)
		return false
	}
	return s.Valid(m.now())
}

// State reports the current sign-in state.
func (m *Manager) State() State {
	m.mu.RLock()
	pending := m.pendingChallenge != ""
	m.mu.RUnlock()

	if pending {
		return StateChallengePending
	}
	if m.IsAuthenticated() {
		return StateAuthenticated
	}
	return StateUnauthenticated
}

// UserID returns the persisted owner id, or "" when signed out.
func (m *Manager) UserID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, err := m.store.Get(KeyUserID)
	if err != nil {
		m.logger.Warn("read session user", "error", err)
		return ""
	}
	return id
}

// Current returns the persisted session, valid or not.
func (m *Manager) Current() (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loadLocked()
}

// UsableToken returns a bearer token for the next request. Tokens expiring
// within RefreshThreshold are refreshed first; when the refresh fails the
// stored token is returned as is and the API's 401 decides. A refresh that
// finishes after the session was signed out or replaced is discarded and no
// token is returned.
func (m *Manager) UsableToken(ctx context.Context) (string, bool) {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	m.mu.RLock()
	s, err := m.loadLocked()
	generation := m.generation
	m.mu.RUnlock()
	if err != nil {
		m.logger.Warn("read session", "error", err)
		return "", false
	}
	if s.AccessToken == "" {
		return "", false
	}

	if !s.ExpiresAt.IsZero() && s.ExpiresAt.Sub(m.now()) > RefreshThreshold {
		return s.AccessToken, true
	}

	if s.RefreshToken == "" {
		m.logger.Warn("token near expiry and no refresh token stored", "user_id", s.UserID)
		return s.AccessToken, true
	}

	result, err := m.provider.Refresh(ctx, s.RefreshToken)
	if err != nil {
		m.logger.Warn("token refresh failed, using stored token", "user_id", s.UserID, "error", err)
		return s.AccessToken, true
	}

	m.mu.Lock()
	current, err := m.store.Get(KeyAuthToken)
	if err != nil || m.generation != generation || current != s.AccessToken {
		m.mu.Unlock()
		m.logger.Info("session changed during refresh, discarding refreshed token", "user_id", s.UserID)
		return "", false
	}
	refreshed, err := m.persistLocked(result, s.RefreshToken, s.UserID)
	m.mu.Unlock()
	if err != nil {
		m.logger.Warn("persist refreshed token", "user_id", s.UserID, "error", err)
		return s.AccessToken, true
	}

	m.logger.Debug("token refreshed", "user_id", refreshed.UserID, "expires_at", refreshed.ExpiresAt)
	return refreshed.AccessToken, true
}

func (m *Manager) loadLocked() (Session, error) {
	var s Session
	var err error

	if s.AccessToken, err = m.store.Get(KeyAuthToken); err != nil {
		return Session{}, err
	}
	if s.RefreshToken, err = m.store.Get(KeyRefreshToken); err != nil {
		return Session{}, err
	}
	if s.UserID, err = m.store.Get(KeyUserID); err != nil {
		return Session{}, err
	}
	raw, err := m.store.Get(KeyExpiresAt)
	if err != nil {
		return Session{}, err
	}
	if raw != "" {
		if ms, perr := strconv.ParseInt(raw, 10, 64); perr == nil {
			s.ExpiresAt = time.UnixMilli(ms)
		}
	}
	return s, nil
}

// persistLocked writes the tokens from result. keepRefresh is stored when the
// exchange did not issue a new refresh token; fallbackUserID is used when the
// tokens carry no username claim. Without an exp claim the expiry comes from
// ExpiresIn, then DefaultLifetime. expires_at is written last so a failed
// write never pairs a new token with a stale expiry.
func (m *Manager) persistLocked(result identity.AuthResult, keepRefresh, fallbackUserID string) (Session, error) {
	token := result.BearerToken()
	if token == "" {
		return Session{}, identity.ErrUnexpectedResponse
	}

	s := Session{
		AccessToken:  token,
		RefreshToken: result.RefreshToken,
		UserID:       fallbackUserID,
		ExpiresAt:    m.now().Add(DefaultLifetime),
	}
	if result.ExpiresIn > 0 {
		s.ExpiresAt = m.now().Add(time.Duration(result.ExpiresIn) * time.Second)
	}
	if s.RefreshToken == "" {
		s.RefreshToken = keepRefresh
	}

	if claims, ok := decodeClaims(token); ok {
		if exp, ok := claims.expiry(); ok {
			s.ExpiresAt = exp
		}
		if name := claims.username(); name != "" {
			s.UserID = entrykey.OwnerID(name)
		}
	}
	if err := m.store.Set(KeyAuthToken, s.AccessToken); err != nil {
		return Session{}, fmt.Errorf("persist %s: %w", KeyAuthToken, err)
	}
	if s.RefreshToken != "" {
		if err := m.store.Set(KeyRefreshToken, s.RefreshToken); err != nil {
			return Session{}, fmt.Errorf("persist %s: %w", KeyRefreshToken, err)
		}
	} else if err := m.store.Remove(KeyRefreshToken); err != nil {
		return Session{}, fmt.Errorf("clear %s: %w", KeyRefreshToken, err)
	}
	if err := m.store.Set(KeyUserID, s.UserID); err != nil {
		return Session{}, fmt.Errorf("persist %s: %w", KeyUserID, err)
	}
	if err := m.store.Set(KeyExpiresAt, strconv.FormatInt(s.ExpiresAt.UnixMilli(), 10)); err != nil {
		return Session{}, fmt.Errorf("persist %s: %w", KeyExpiresAt, err)
	}
	return s, nil
}
