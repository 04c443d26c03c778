package session_test

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/familydiary/diary/internal/identity"
	"github.com/familydiary/diary/internal/session"
)

type fakeProvider struct {
	mu sync.Mutex

	initiate  func(username, password string) (identity.Outcome, error)
	challenge func(username, newPassword, sess string) (identity.AuthResult, error)
	refresh   func(refreshToken string) (identity.AuthResult, error)

	refreshCalls  int
	refreshedWith []string
}

func (f *fakeProvider) InitiateAuth(_ context.Context, username, password string) (identity.Outcome, error) {
	return f.initiate(username, password)
}

func (f *fakeProvider) RespondToNewPasswordChallenge(_ context.Context, username, newPassword, sess string) (identity.AuthResult, error) {
	return f.challenge(username, newPassword, sess)
}

func (f *fakeProvider) Refresh(_ context.Context, refreshToken string) (identity.AuthResult, error) {
	f.mu.Lock()
	f.refreshCalls++
	f.refreshedWith = append(f.refreshedWith, refreshToken)
	f.mu.Unlock()
	return f.refresh(refreshToken)
}

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClock() *clock {
	return &clock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func seed(t *testing.T, store session.Store, token, refresh, userID string, expiresAt time.Time) {
	t.Helper()
	require.NoError(t, store.Set(session.KeyAuthToken, token))
	require.NoError(t, store.Set(session.KeyRefreshToken, refresh))
	require.NoError(t, store.Set(session.KeyUserID, userID))
	require.NoError(t, store.Set(session.KeyExpiresAt, strconv.FormatInt(expiresAt.UnixMilli(), 10)))
}

func TestSignInPersistsSession(t *testing.T) {
	clk := newClock()
	exp := clk.Now().Add(time.Hour).Truncate(time.Second)
	idToken := signedToken(t, jwt.MapClaims{"cognito:username": "haru", "sub": "abc", "exp": exp.Unix()})

	provider := &fakeProvider{initiate: func(username, password string) (identity.Outcome, error) {
		return identity.Outcome{Result: &identity.AuthResult{AccessToken: "access", IDToken: idToken, RefreshToken: "r1"}}, nil
	}}
	store := session.NewMemoryStore()
	m := session.NewManager(provider, store, session.WithClock(clk.Now))

	s, err := m.SignIn(context.Background(), "haru", "secret")
	require.NoError(t, err)
	assert.Equal(t, idToken, s.AccessToken)
	assert.Equal(t, "user#haru", s.UserID)
	assert.True(t, s.ExpiresAt.Equal(exp))

	assert.True(t, m.IsAuthenticated())
	assert.Equal(t, session.StateAuthenticated, m.State())
	assert.Equal(t, "user#haru", m.UserID())

	refresh, _ := store.Get(session.KeyRefreshToken)
	assert.Equal(t, "r1", refresh)
	expiresAt, _ := store.Get(session.KeyExpiresAt)
	assert.Equal(t, strconv.FormatInt(exp.UnixMilli(), 10), expiresAt)
}

func TestSignInFallsBackWhenTokenIsOpaque(t *testing.T) {
	clk := newClock()
	provider := &fakeProvider{initiate: func(username, password string) (identity.Outcome, error) {
		return identity.Outcome{Result: &identity.AuthResult{AccessToken: "opaque"}}, nil
	}}
	m := session.NewManager(provider, session.NewMemoryStore(), session.WithClock(clk.Now))

	s, err := m.SignIn(context.Background(), "mika", "secret")
	require.NoError(t, err)
	assert.Equal(t, "opaque", s.AccessToken)
	assert.Equal(t, "user#mika", s.UserID)
	assert.True(t, s.ExpiresAt.Equal(clk.Now().Add(session.DefaultLifetime)))
	assert.Empty(t, s.RefreshToken)
}

func TestSignInErrors(t *testing.T) {
	rejected := &fakeProvider{initiate: func(string, string) (identity.Outcome, error) {
		return identity.Outcome{}, identity.ErrNotAuthorized
	}}
	store := session.NewMemoryStore()
	_, err := session.NewManager(rejected, store).SignIn(context.Background(), "haru", "wrong")
	assert.ErrorIs(t, err, session.ErrInvalidCredentials)
	assert.Zero(t, store.Len())

	broken := &fakeProvider{initiate: func(string, string) (identity.Outcome, error) {
		return identity.Outcome{}, errors.New("dial tcp: connection refused")
	}}
	_, err = session.NewManager(broken, store).SignIn(context.Background(), "haru", "secret")
	assert.ErrorIs(t, err, session.ErrSignInFailed)
	assert.NotErrorIs(t, err, session.ErrInvalidCredentials)
	assert.Zero(t, store.Len())
}

func TestChallengeFlow(t *testing.T) {
	clk := newClock()
	newToken := signedToken(t, jwt.MapClaims{"username": "haru", "exp": clk.Now().Add(time.Hour).Unix()})

	provider := &fakeProvider{
		initiate: func(string, string) (identity.Outcome, error) {
			return identity.Outcome{ChallengeName: identity.ChallengeNewPasswordRequired, Session: "S"}, nil
		},
		challenge: func(username, newPassword, sess string) (identity.AuthResult, error) {
			if sess != "S" {
				return identity.AuthResult{}, identity.ErrChallengeRejected
			}
			return identity.AuthResult{IDToken: newToken, RefreshToken: "r1"}, nil
		},
	}
	store := session.NewMemoryStore()
	m := session.NewManager(provider, store, session.WithClock(clk.Now))

	_, err := m.SignIn(context.Background(), "haru", "temporary")
	var challenge *session.ChallengeRequiredError
	require.ErrorAs(t, err, &challenge)
	assert.Equal(t, "S", challenge.Session)
	assert.Zero(t, store.Len(), "challenge must not persist any session field")
	assert.False(t, m.IsAuthenticated())
	assert.Equal(t, session.StateChallengePending, m.State())

	_, err = m.CompleteChallenge(context.Background(), "haru", "new-secret", "other")
	assert.ErrorIs(t, err, session.ErrChallengeFailed)
	assert.Zero(t, store.Len())

	s, err := m.CompleteChallenge(context.Background(), "haru", "new-secret", challenge.Session)
	require.NoError(t, err)
	assert.Equal(t, newToken, s.AccessToken)
	assert.True(t, m.IsAuthenticated())
	assert.Equal(t, session.StateAuthenticated, m.State())

	token, ok := m.UsableToken(context.Background())
	assert.True(t, ok)
	assert.Equal(t, newToken, token)
}

func TestIsAuthenticatedValidity(t *testing.T) {
	clk := newClock()
	store := session.NewMemoryStore()
	m := session.NewManager(&fakeProvider{}, store, session.WithClock(clk.Now))

	assert.False(t, m.IsAuthenticated())

	seed(t, store, "tok", "r", "user#haru", clk.Now().Add(time.Minute))
	assert.True(t, m.IsAuthenticated())

	clk.Advance(time.Minute)
	assert.False(t, m.IsAuthenticated(), "now == expiresAt is expired")

	seed(t, store, "tok", "r", "user#haru", clk.Now().Add(time.Minute))
	require.NoError(t, store.Remove(session.KeyExpiresAt))
	assert.False(t, m.IsAuthenticated())

	seed(t, store, "tok", "r", "user#haru", clk.Now().Add(time.Minute))
	require.NoError(t, store.Remove(session.KeyAuthToken))
	assert.False(t, m.IsAuthenticated())
}

func TestUsableTokenRefreshThreshold(t *testing.T) {
	tests := []struct {
		name        string
		remaining   time.Duration
		wantRefresh bool
	}{
		{name: "five minutes and one second left", remaining: 5*time.Minute + time.Second, wantRefresh: false},
		{name: "four minutes fifty nine seconds left", remaining: 4*time.Minute + 59*time.Second, wantRefresh: true},
		{name: "already expired", remaining: -time.Minute, wantRefresh: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clk := newClock()
			fresh := signedToken(t, jwt.MapClaims{"sub": "haru", "exp": clk.Now().Add(time.Hour).Unix()})
			provider := &fakeProvider{refresh: func(string) (identity.AuthResult, error) {
				return identity.AuthResult{IDToken: fresh}, nil
			}}
			store := session.NewMemoryStore()
			seed(t, store, "old", "r1", "user#haru", clk.Now().Add(tt.remaining))
			m := session.NewManager(provider, store, session.WithClock(clk.Now))

			token, ok := m.UsableToken(context.Background())
			require.True(t, ok)
			if tt.wantRefresh {
				assert.Equal(t, 1, provider.refreshCalls)
				assert.Equal(t, fresh, token)
			} else {
				assert.Zero(t, provider.refreshCalls)
				assert.Equal(t, "old", token)
			}
		})
	}
}

func TestUsableTokenReusesRefreshToken(t *testing.T) {
	clk := newClock()
	fresh := signedToken(t, jwt.MapClaims{"sub": "haru", "exp": clk.Now().Add(time.Hour).Unix()})
	provider := &fakeProvider{refresh: func(string) (identity.AuthResult, error) {
		return identity.AuthResult{AccessToken: fresh}, nil
	}}
	store := session.NewMemoryStore()
	seed(t, store, "old", "r1", "user#haru", clk.Now().Add(time.Minute))
	m := session.NewManager(provider, store, session.WithClock(clk.Now))

	_, ok := m.UsableToken(context.Background())
	require.True(t, ok)

	refresh, _ := store.Get(session.KeyRefreshToken)
	assert.Equal(t, "r1", refresh)
	assert.Equal(t, []string{"r1"}, provider.refreshedWith)
	assert.Equal(t, "user#haru", m.UserID())
	assert.True(t, m.IsAuthenticated())
}

func TestUsableTokenStoresReissuedRefreshToken(t *testing.T) {
	clk := newClock()
	provider := &fakeProvider{refresh: func(string) (identity.AuthResult, error) {
		return identity.AuthResult{AccessToken: "opaque", RefreshToken: "r2"}, nil
	}}
	store := session.NewMemoryStore()
	seed(t, store, "old", "r1", "user#haru", clk.Now().Add(time.Minute))
	m := session.NewManager(provider, store, session.WithClock(clk.Now))

	token, ok := m.UsableToken(context.Background())
	require.True(t, ok)
	assert.Equal(t, "opaque", token)

	refresh, _ := store.Get(session.KeyRefreshToken)
	assert.Equal(t, "r2", refresh)
	cur, err := m.Current()
	require.NoError(t, err)
	assert.True(t, cur.ExpiresAt.Equal(clk.Now().Add(session.DefaultLifetime)))
}

func TestUsableTokenReturnsStaleTokenOnFailure(t *testing.T) {
	clk := newClock()
	provider := &fakeProvider{refresh: func(string) (identity.AuthResult, error) {
		return identity.AuthResult{}, identity.ErrNotAuthorized
	}}
	store := session.NewMemoryStore()
	seed(t, store, "stale", "r1", "user#haru", clk.Now().Add(-time.Minute))
	m := session.NewManager(provider, store, session.WithClock(clk.Now))

	token, ok := m.UsableToken(context.Background())
	assert.True(t, ok)
	assert.Equal(t, "stale", token)

	stored, _ := store.Get(session.KeyAuthToken)
	assert.Equal(t, "stale", stored)
}

func TestUsableTokenWithoutSession(t *testing.T) {
	m := session.NewManager(&fakeProvider{}, session.NewMemoryStore())
	token, ok := m.UsableToken(context.Background())
	assert.False(t, ok)
	assert.Empty(t, token)
}

func TestSignOutIsIdempotent(t *testing.T) {
	clk := newClock()
	store := session.NewMemoryStore()
	seed(t, store, "tok", "r1", "user#haru", clk.Now().Add(time.Hour))
	m := session.NewManager(&fakeProvider{}, store, session.WithClock(clk.Now))
	require.True(t, m.IsAuthenticated())

	require.NoError(t, m.SignOut())
	assert.Zero(t, store.Len())
	assert.False(t, m.IsAuthenticated())

	require.NoError(t, m.SignOut())
	assert.Zero(t, store.Len())
	assert.Equal(t, session.StateUnauthenticated, m.State())
	assert.Empty(t, m.UserID())
}

func TestUsableTokenDiscardsRefreshAfterSignOut(t *testing.T) {
	clk := newClock()
	started := make(chan struct{})
	release := make(chan struct{})
	provider := &fakeProvider{refresh: func(string) (identity.AuthResult, error) {
		close(started)
		<-release
		return identity.AuthResult{AccessToken: "fresh", ExpiresIn: 3600}, nil
	}}
	store := session.NewMemoryStore()
	seed(t, store, "old", "r1", "user#haru", clk.Now().Add(time.Minute))
	m := session.NewManager(provider, store, session.WithClock(clk.Now))

	type result struct {
		token string
		ok    bool
	}
	done := make(chan result, 1)
	go func() {
		token, ok := m.UsableToken(context.Background())
		done <- result{token: token, ok: ok}
	}()

	<-started
	require.NoError(t, m.SignOut())
	require.False(t, m.IsAuthenticated())
	close(release)

	got := <-done
	assert.False(t, got.ok)
	assert.Empty(t, got.token)
	assert.False(t, m.IsAuthenticated())
	assert.Zero(t, store.Len())
}

func TestUsableTokenDiscardsRefreshAfterNewSignIn(t *testing.T) {
	clk := newClock()
	started := make(chan struct{})
	release := make(chan struct{})
	provider := &fakeProvider{
		refresh: func(string) (identity.AuthResult, error) {
			close(started)
			<-release
			return identity.AuthResult{AccessToken: "refreshed-for-haru", ExpiresIn: 3600}, nil
		},
		initiate: func(string, string) (identity.Outcome, error) {
			return identity.Outcome{Result: &identity.AuthResult{AccessToken: "mika-token", ExpiresIn: 3600}}, nil
		},
	}
	store := session.NewMemoryStore()
	seed(t, store, "old", "r1", "user#haru", clk.Now().Add(time.Minute))
	m := session.NewManager(provider, store, session.WithClock(clk.Now))

	done := make(chan bool, 1)
	go func() {
		_, ok := m.UsableToken(context.Background())
		done <- ok
	}()

	<-started
	_, err := m.SignIn(context.Background(), "mika", "secret")
	require.NoError(t, err)
	close(release)

	assert.False(t, <-done)
	token, _ := store.Get(session.KeyAuthToken)
	assert.Equal(t, "mika-token", token)
	assert.Equal(t, "user#mika", m.UserID())
}

func TestSignInUsesExpiresInForOpaqueToken(t *testing.T) {
	clk := newClock()
	provider := &fakeProvider{initiate: func(string, string) (identity.Outcome, error) {
		return identity.Outcome{Result: &identity.AuthResult{AccessToken: "opaque", ExpiresIn: 900}}, nil
	}}
	m := session.NewManager(provider, session.NewMemoryStore(), session.WithClock(clk.Now))

	s, err := m.SignIn(context.Background(), "mika", "secret")
	require.NoError(t, err)
	assert.True(t, s.ExpiresAt.Equal(clk.Now().Add(15*time.Minute)))
}

type orderedStore struct {
	*session.MemoryStore
	writes []string
	failOn string
}

func (s *orderedStore) Set(key, value string) error {
	if key == s.failOn {
		return errors.New("disk full")
	}
	s.writes = append(s.writes, key)
	return s.MemoryStore.Set(key, value)
}

func TestPersistWritesExpiryLast(t *testing.T) {
	clk := newClock()
	provider := &fakeProvider{initiate: func(string, string) (identity.Outcome, error) {
		return identity.Outcome{Result: &identity.AuthResult{AccessToken: "new", RefreshToken: "r2", ExpiresIn: 3600}}, nil
	}}

	store := &orderedStore{MemoryStore: session.NewMemoryStore()}
	m := session.NewManager(provider, store, session.WithClock(clk.Now))
	_, err := m.SignIn(context.Background(), "haru", "secret")
	require.NoError(t, err)
	require.NotEmpty(t, store.writes)
	assert.Equal(t, session.KeyExpiresAt, store.writes[len(store.writes)-1])

	failing := &orderedStore{MemoryStore: session.NewMemoryStore(), failOn: session.KeyUserID}
	seed(t, failing.MemoryStore, "old", "r1", "user#haru", clk.Now().Add(-time.Minute))
	m = session.NewManager(provider, failing, session.WithClock(clk.Now))
	_, err = m.SignIn(context.Background(), "haru", "secret")
	require.ErrorIs(t, err, session.ErrSignInFailed)

	expiresAt, _ := failing.Get(session.KeyExpiresAt)
	assert.Equal(t, strconv.FormatInt(clk.Now().Add(-time.Minute).UnixMilli(), 10), expiresAt)
	assert.False(t, m.IsAuthenticated())
}
