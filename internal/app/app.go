package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/familydiary/diary/internal/auth"
	"github.com/familydiary/diary/internal/config"
	"github.com/familydiary/diary/internal/db"
	"github.com/familydiary/diary/internal/handlers"
	"github.com/familydiary/diary/internal/httpserver"
	"github.com/familydiary/diary/internal/logging"
	"github.com/familydiary/diary/internal/models"
	"github.com/familydiary/diary/internal/repositories"
)

const usage = "expected command: serve, migrate [up|down|status], seed <name>, or prompt [generate|purge]"

// Run bootstraps the family diary backend.
func Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New(usage)
	}

	switch args[0] {
	case "serve":
		return serve(ctx)
	case "migrate":
		return runMigrations(args[1:], os.Stdout)
	case "seed":
		return runSeed(ctx, args[1:], os.Stdout)
	case "prompt":
		return runPrompt(ctx, args[1:], os.Stdout)
	default:
		return fmt.Errorf("unknown command %q: %s", args[0], usage)
	}
}

func serve(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := logging.NewJSON(os.Stdout, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	deps, err := buildDependencies(ctx, pool, cfg, logger)
	if err != nil {
		return err
	}

	if cfg.Prompts.Scheduler {
		go deps.scheduler.Start(ctx)
	}
	if deps.sessions != nil {
		go sweepSessions(ctx, deps.sessions, logger, time.Hour)
	}

	srv := httpserver.New(cfg.AppPort, handlers.NewRouter(deps.router), logger)
	logger.Info("starting http server", "port", cfg.AppPort, "authMode", cfg.Auth.Mode)

	srvErr := make(chan error, 1)
	go func() {
		srvErr <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down server")
	case err := <-srvErr:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), httpserver.ShutdownTimeout)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

// expiredSessionDeleter is satisfied by repositories.PostgresSessionStore and
// auth.MemorySessionStore.
type expiredSessionDeleter interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// sweepSessions removes expired refresh sessions on every tick until ctx ends.
func sweepSessions(ctx context.Context, store expiredSessionDeleter, logger *slog.Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := store.DeleteExpired(ctx, time.Now().UTC())
			if err != nil {
				logger.Error("session sweep failed", "error", err)
				continue
			}
			if removed > 0 {
				logger.Info("expired sessions removed", "count", removed)
			}
		}
	}
}

func runMigrations(args []string, out io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	command := "up"
	if len(args) > 0 {
		command = args[0]
	}

	switch command {
	case "up":
		if err := db.MigrateUp(cfg.DatabaseURL); err != nil {
			return err
		}
		fmt.Fprintln(out, "migrations applied")
	case "down":
		if err := db.MigrateDown(cfg.DatabaseURL); err != nil {
			return err
		}
		fmt.Fprintln(out, "rolled back one migration")
	case "status":
		status, err := db.Status(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		printMigrationStatus(out, status)
	default:
		return fmt.Errorf("unknown migrate command %q", command)
	}
	return nil
}

func printMigrationStatus(out io.Writer, status db.MigrationStatus) {
	migrations, err := db.UpMigrations()
	if err != nil {
		fmt.Fprintf(out, "version %d (dirty=%t)\n", status.Version, status.Dirty)
		return
	}
	for _, m := range migrations {
		mark := " "
		if status.Applied && migrationVersion(m.Name) <= status.Version {
			mark = "x"
		}
		fmt.Fprintf(out, "[%s] %s\n", mark, strings.TrimSuffix(m.Name, ".up.sql"))
	}
	if status.Dirty {
		fmt.Fprintf(out, "version %d is dirty; fix the schema and force the version\n", status.Version)
	}
}

// migrationVersion parses the numeric prefix of 000001_users.up.sql.
func migrationVersion(name string) uint {
	prefix, _, _ := strings.Cut(name, "_")
	v, err := strconv.ParseUint(prefix, 10, 64)
	if err != nil {
		return 0
	}
	return uint(v)
}

// seedMember is one entry of a seed file.
type seedMember struct {
	Username          string `json:"username"`
	TemporaryPassword string `json:"temporary_password"`
}

// loadSeed reads <dir>/<name>.json, a list of family members.
func loadSeed(dir, name string) ([]seedMember, error) {
	if !strings.HasSuffix(name, ".json") {
		name += ".json"
	}
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return nil, fmt.Errorf("read seed %s: %w", name, err)
	}

	var members []seedMember
	if err := json.Unmarshal(data, &members); err != nil {
		return nil, fmt.Errorf("decode seed %s: %w", name, err)
	}
	for i, m := range members {
		if m.Username == "" || m.TemporaryPassword == "" {
			return nil, fmt.Errorf("seed %s: member %d needs a username and temporary_password", name, i)
		}
	}
	return members, nil
}

type userCreator interface {
	Create(ctx context.Context, user models.User) error
}

// seedUsers creates each member with a temporary password that must be
// changed on first sign-in. Existing usernames are skipped.
func seedUsers(ctx context.Context, users userCreator, members []seedMember, out io.Writer) error {
	now := time.Now().UTC()
	for _, m := range members {
		hashed, err := auth.HashPassword(m.TemporaryPassword)
		if err != nil {
			return fmt.Errorf("hash password for %s: %w", m.Username, err)
		}
		err = users.Create(ctx, models.User{
			ID:                 uuid.NewString(),
			Username:           strings.ToLower(strings.TrimSpace(m.Username)),
			Password:           hashed,
			MustChangePassword: true,
			CreatedAt:          now,
			UpdatedAt:          now,
		})
		switch {
		case errors.Is(err, repositories.ErrConflict):
			fmt.Fprintf(out, "skipped %s: already exists\n", m.Username)
		case err != nil:
			return fmt.Errorf("create %s: %w", m.Username, err)
		default:
			fmt.Fprintf(out, "created %s\n", m.Username)
		}
	}
	return nil
}

func runSeed(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errors.New("expected seed name (e.g. family)")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	seedDir := cfg.SeedDir
	if !filepath.IsAbs(seedDir) {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("determine working directory: %w", err)
		}
		seedDir = filepath.Join(wd, seedDir)
	}

	members, err := loadSeed(seedDir, args[0])
	if err != nil {
		return err
	}

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	return seedUsers(ctx, repositories.NewPostgresUserRepository(pool), members, out)
}

func runPrompt(ctx context.Context, args []string, out io.Writer) error {
	command := "generate"
	if len(args) > 0 {
		command = args[0]
	}
	if command != "generate" && command != "purge" {
		return fmt.Errorf("unknown prompt command %q", command)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.NewJSON(os.Stderr, cfg.LogLevel)

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	generator, err := buildGenerator(ctx, cfg.Prompts, logger)
	if err != nil {
		return err
	}
	service := buildPromptService(repositories.NewPostgresPromptRepository(pool), generator, cfg.Prompts, nil, logger)

	now := time.Now()
	switch command {
	case "generate":
		prompt, created, err := service.Generate(ctx, now)
		if err != nil {
			return err
		}
		state := "existing"
		if created {
			state = "created"
		}
		fmt.Fprintf(out, "%s (%s, %s): %s\n", prompt.Date, prompt.Category, state, prompt.Prompt)
	case "purge":
		removed, err := service.Purge(ctx, now)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "removed %d expired prompts\n", removed)
	}
	return nil
}
