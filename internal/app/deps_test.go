package app

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/familydiary/diary/internal/auth"
	"github.com/familydiary/diary/internal/config"
	"github.com/familydiary/diary/internal/metrics"
	"github.com/familydiary/diary/internal/models"
	"github.com/familydiary/diary/internal/prompts"
	"github.com/familydiary/diary/internal/repositories"
)

type fakePool struct{}

func (fakePool) Acquire(context.Context) (*pgxpool.Conn, error) {
	return nil, errors.New("not implemented")
}

func (fakePool) Close() {}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func selfHostedConfig() config.Config {
	return config.Config{
		AppPort:        8080,
		MetricsEnabled: true,
		ObjectStore:    config.ObjectStoreConfig{MaxPhotoBytes: 1 << 20},
		Auth: config.AuthConfig{
			Mode:          config.IdentitySelfHosted,
			SigningSecret: "0123456789abcdef0123456789abcdef",
			Issuer:        "familydiary",
			AccessTTL:     time.Hour,
			RefreshTTL:    24 * time.Hour,
		},
		Prompts:   config.PromptConfig{Interval: time.Hour, CacheTTL: time.Minute, HistoryDays: 14, Retention: 720 * time.Hour},
		RateLimit: config.RateLimitConfig{Requests: 10, Window: time.Minute, Burst: 5},
	}
}

func TestBuildDependenciesSelfHosted(t *testing.T) {
	deps, err := buildDependencies(context.Background(), fakePool{}, selfHostedConfig(), discardLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	router := deps.router
	if router.Auth == nil || router.Auth.Users == nil || router.Auth.Sessions == nil {
		t.Fatal("expected self-hosted auth endpoints to be configured")
	}
	if _, ok := router.Verifier.(*auth.TokenIssuer); !ok {
		t.Fatalf("expected token issuer verifier, got %T", router.Verifier)
	}
	if router.AuthRateLimit == nil {
		t.Fatal("expected auth rate limiter")
	}
	if router.Entries == nil || router.Calendar == nil {
		t.Fatal("expected entry repository to be configured")
	}
	if router.Photos != nil {
		t.Fatal("photo uploads must be disabled without a bucket")
	}
	if _, ok := router.Prompts.(*prompts.CachingLookup); !ok {
		t.Fatalf("expected cached prompt lookup, got %T", router.Prompts)
	}
	if _, ok := router.Metrics.(*metrics.Collector); !ok || router.MetricsHandler == nil {
		t.Fatal("expected prometheus metrics")
	}
	if deps.scheduler == nil || deps.sessions == nil {
		t.Fatal("expected scheduler and session store")
	}
}

func TestBuildDependenciesCognito(t *testing.T) {
	cfg := selfHostedConfig()
	cfg.MetricsEnabled = false
	cfg.Auth = config.AuthConfig{
		Mode:              config.IdentityCognito,
		CognitoRegion:     "ap-northeast-1",
		CognitoUserPoolID: "ap-northeast-1_pool",
		CognitoClientID:   "client",
	}

	deps, err := buildDependencies(context.Background(), fakePool{}, cfg, discardLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if deps.router.Auth != nil || deps.sessions != nil {
		t.Fatal("managed identity provider must not mount /auth")
	}
	if _, ok := deps.router.Verifier.(*auth.JWKSVerifier); !ok {
		t.Fatalf("expected JWKS verifier, got %T", deps.router.Verifier)
	}
	if _, ok := deps.router.Metrics.(metrics.Nop); !ok || deps.router.MetricsHandler != nil {
		t.Fatal("metrics must be disabled")
	}
}

func TestBuildDependenciesWithObjectStore(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")

	cfg := selfHostedConfig()
	cfg.ObjectStore = config.ObjectStoreConfig{
		Bucket:        "diary-photos",
		Region:        "us-east-1",
		Endpoint:      "http://localhost:9000",
		PhotoURLTTL:   24 * time.Hour,
		MaxPhotoBytes: 1 << 20,
	}

	deps, err := buildDependencies(context.Background(), fakePool{}, cfg, discardLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if deps.router.Photos == nil {
		t.Fatal("expected photo storage to be configured")
	}
}

func TestBuildDependenciesRejectsWeakSecret(t *testing.T) {
	cfg := selfHostedConfig()
	cfg.Auth.SigningSecret = "short"
	if _, err := buildDependencies(context.Background(), fakePool{}, cfg, discardLogger()); err == nil {
		t.Fatal("expected weak signing secret to be rejected")
	}
}

func TestBuildGenerator(t *testing.T) {
	gen, err := buildGenerator(context.Background(), config.PromptConfig{}, discardLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := gen.(prompts.StaticGenerator); !ok {
		t.Fatalf("expected static generator, got %T", gen)
	}

	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")
	gen, err = buildGenerator(context.Background(), config.PromptConfig{ModelID: "anthropic.claude-3-haiku-20240307-v1:0", Region: "ap-northeast-1"}, discardLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := gen.(*prompts.BedrockGenerator); !ok {
		t.Fatalf("expected bedrock generator, got %T", gen)
	}
}

type recordingUsers struct {
	created []models.User
}

func (r *recordingUsers) Create(_ context.Context, user models.User) error {
	for _, u := range r.created {
		if u.Username == user.Username {
			return repositories.ErrConflict
		}
	}
	r.created = append(r.created, user)
	return nil
}

func TestSeedUsers(t *testing.T) {
	dir := t.TempDir()
	seed := `[{"username": "Mother", "temporary_password": "Temp0001"}, {"username": "father", "temporary_password": "Temp0002"}]`
	if err := os.WriteFile(filepath.Join(dir, "family.json"), []byte(seed), 0o600); err != nil {
		t.Fatalf("write seed: %v", err)
	}

	members, err := loadSeed(dir, "family")
	if err != nil {
		t.Fatalf("load seed: %v", err)
	}

	users := &recordingUsers{created: []models.User{{Username: "father"}}}
	var out bytes.Buffer
	if err := seedUsers(context.Background(), users, members, &out); err != nil {
		t.Fatalf("seed users: %v", err)
	}

	if len(users.created) != 2 {
		t.Fatalf("expected one new user, got %+v", users.created)
	}
	mother := users.created[1]
	if mother.Username != "mother" || !mother.MustChangePassword || !auth.CheckPassword(mother.Password, "Temp0001") {
		t.Fatalf("unexpected seeded user %+v", mother)
	}
	if !strings.Contains(out.String(), "skipped father") {
		t.Fatalf("expected existing user to be skipped, got %q", out.String())
	}
}

func TestLoadSeedValidates(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "bad.json"), []byte(`[{"username": "mother"}]`), 0o600); err != nil {
		t.Fatalf("write seed: %v", err)
	}
	if _, err := loadSeed(dir, "bad.json"); err == nil {
		t.Fatal("expected missing password to be rejected")
	}
	if _, err := loadSeed(dir, "missing"); err == nil {
		t.Fatal("expected missing file to be rejected")
	}
}

func TestMigrationVersion(t *testing.T) {
	if got := migrationVersion("000003_daily_prompts.up.sql"); got != 3 {
		t.Fatalf("got %d", got)
	}
}

func TestRunRejectsUnknownCommands(t *testing.T) {
	if err := Run(context.Background(), nil); err == nil {
		t.Fatal("expected usage error")
	}
	if err := Run(context.Background(), []string{"dance"}); err == nil {
		t.Fatal("expected unknown command error")
	}
}

type countingDeleter struct {
	calls chan struct{}
}

func (c *countingDeleter) DeleteExpired(context.Context, time.Time) (int64, error) {
	select {
	case c.calls <- struct{}{}:
	default:
	}
	return 1, nil
}

func TestSweepSessions(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deleter := &countingDeleter{calls: make(chan struct{}, 4)}
	done := make(chan struct{})
	go func() {
		sweepSessions(ctx, deleter, discardLogger(), 5*time.Millisecond)
		close(done)
	}()

	select {
	case <-deleter.calls:
	case <-time.After(time.Second):
		t.Fatal("sweeper never ran")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestSweepSessionsRemovesExpiredMemorySessions(t *testing.T) {
	store := auth.NewMemorySessionStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := store.Save(ctx, auth.Session{RefreshToken: "old", Username: "grandma", ExpiresAt: time.Now().Add(-time.Hour)}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Save(ctx, auth.Session{RefreshToken: "new", Username: "grandma", ExpiresAt: time.Now().Add(time.Hour)}); err != nil {
		t.Fatalf("save: %v", err)
	}

	go sweepSessions(ctx, store, discardLogger(), 5*time.Millisecond)

	deadline := time.Now().Add(2 * time.Second)
	for len(store.Active("grandma")) != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("expired session was not swept: %v", store.Active("grandma"))
		}
		time.Sleep(5 * time.Millisecond)
	}
	if active := store.Active("grandma"); active[0] != "new" {
		t.Fatalf("unexpected remaining session %v", active)
	}
}
