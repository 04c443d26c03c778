package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/familydiary/diary/internal/auth"
	"github.com/familydiary/diary/internal/config"
	"github.com/familydiary/diary/internal/db"
	"github.com/familydiary/diary/internal/handlers"
	"github.com/familydiary/diary/internal/metrics"
	"github.com/familydiary/diary/internal/middleware"
	"github.com/familydiary/diary/internal/prompts"
	"github.com/familydiary/diary/internal/repositories"
	"github.com/familydiary/diary/internal/storage"
)

// dependencies groups what serve needs besides the HTTP server itself.
type dependencies struct {
	router    *handlers.RouterDeps
	scheduler *prompts.Scheduler
	// sessions is nil when a managed identity provider holds the sessions.
	sessions *repositories.PostgresSessionStore
}

// buildDependencies wires together concrete implementations used by the HTTP handlers.
func buildDependencies(ctx context.Context, pool db.Pool, cfg config.Config, logger *slog.Logger) (dependencies, error) {
	router := &handlers.RouterDeps{
		Logger:         logger,
		Metrics:        metrics.Nop{},
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		AllowLocalhost: cfg.CORS.AllowLocalhost,
		DevAuthBypass:  cfg.AllowDevAuthBypass,
		MaxPhotoBytes:  cfg.ObjectStore.MaxPhotoBytes,
	}
	if cfg.AllowDevAuthBypass {
		logger.Warn("development auth bypass enabled; requests without a token run as " + middleware.DevUsername)
	}

	if cfg.MetricsEnabled {
		registry := prometheus.NewRegistry()
		router.Metrics = metrics.NewCollector(registry)
		router.MetricsHandler = metrics.Handler(registry)
	}

	entries := repositories.NewPostgresEntryRepository(pool)
	router.Entries = entries
	router.Calendar = entries

	deps := dependencies{router: router}

	switch cfg.Auth.Mode {
	case config.IdentityCognito:
		router.Verifier = auth.NewJWKSVerifier(cfg.Auth.CognitoRegion, cfg.Auth.CognitoUserPoolID, cfg.Auth.CognitoClientID)
	default:
		issuer, err := auth.NewTokenIssuer(cfg.Auth.SigningSecret, cfg.Auth.Issuer)
		if err != nil {
			return dependencies{}, fmt.Errorf("configure token issuer: %w", err)
		}
		sessions := repositories.NewPostgresSessionStore(pool)
		router.Verifier = issuer
		router.Auth = &handlers.AuthHandler{
			Users:        repositories.NewPostgresUserRepository(pool),
			Sessions:     auth.NewManager(issuer, sessions, cfg.Auth.AccessTTL, cfg.Auth.RefreshTTL),
			Clients:      handlers.ClientResolver{TrustedProxies: cfg.RateLimit.TrustedProxies},
			ChallengeTTL: cfg.Auth.ChallengeTTL,
		}
		router.AuthRateLimit = middleware.NewKeyedLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window, cfg.RateLimit.Burst, 0)
		deps.sessions = sessions
	}

	if cfg.ObjectStore.Bucket != "" {
		photos, err := storage.NewPhotoStorage(ctx, cfg.ObjectStore)
		if err != nil {
			return dependencies{}, fmt.Errorf("configure photo storage: %w", err)
		}
		router.Photos = photos
	} else {
		logger.Warn("DIARY_S3_BUCKET not set; photo uploads are disabled")
	}

	promptRepo := repositories.NewPostgresPromptRepository(pool)
	generator, err := buildGenerator(ctx, cfg.Prompts, logger)
	if err != nil {
		return dependencies{}, err
	}
	service := buildPromptService(promptRepo, generator, cfg.Prompts, router.Metrics, logger)
	deps.scheduler = prompts.NewScheduler(service, logger, cfg.Prompts.Interval)
	router.Prompts = prompts.NewCachingLookup(promptRepo, cfg.Prompts.CacheTTL)

	return deps, nil
}

// buildGenerator returns the Bedrock generator when a model is configured and
// the static theme list otherwise.
func buildGenerator(ctx context.Context, cfg config.PromptConfig, logger *slog.Logger) (prompts.Generator, error) {
	if cfg.ModelID == "" {
		logger.Info("no prompt model configured; using static themes")
		return prompts.StaticGenerator{}, nil
	}
	generator, err := prompts.NewBedrockGenerator(ctx, cfg.Region, cfg.ModelID)
	if err != nil {
		return nil, fmt.Errorf("configure prompt generator: %w", err)
	}
	return generator, nil
}

func buildPromptService(repo repositories.PromptRepository, generator prompts.Generator, cfg config.PromptConfig, recorder prompts.Recorder, logger *slog.Logger) *prompts.Service {
	opts := []prompts.ServiceOption{
		prompts.WithHistoryDays(cfg.HistoryDays),
		prompts.WithLifetime(cfg.Retention),
		prompts.WithLogger(logger),
	}
	if recorder != nil {
		opts = append(opts, prompts.WithRecorder(recorder))
	}
	return prompts.NewService(repo, generator, opts...)
}
