package prompts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/familydiary/diary/internal/entrykey"
	"github.com/familydiary/diary/internal/models"
	"github.com/familydiary/diary/internal/repositories"
)

// DefaultLifetime is how long a stored prompt is kept before purge.
const DefaultLifetime = 30 * 24 * time.Hour

// ErrEmptyPrompt indicates the generator returned no text.
var ErrEmptyPrompt = errors.New("generator returned an empty prompt")

// Generator writes the prompt text for a day given recent prompts, newest first.
type Generator interface {
	Generate(ctx context.Context, day Context, recent []models.DailyPrompt) (string, error)
}

// Recorder observes generated prompts.
type Recorder interface {
	PromptGenerated(category string)
}

// Service generates at most one prompt per JST date.
type Service struct {
	repo        repositories.PromptRepository
	generator   Generator
	logger      *slog.Logger
	recorder    Recorder
	historyDays int
	lifetime    time.Duration
}

// ServiceOption customises a Service.
type ServiceOption func(*Service)

// WithHistoryDays sets how many past days of prompts are given to the generator.
func WithHistoryDays(days int) ServiceOption {
	return func(s *Service) {
		if days > 0 {
			s.historyDays = days
		}
	}
}

// WithLifetime sets how long generated prompts are kept.
func WithLifetime(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.lifetime = d
		}
	}
}

// WithRecorder reports generated prompts to r.
func WithRecorder(r Recorder) ServiceOption {
	return func(s *Service) { s.recorder = r }
}

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService builds a Service.
func NewService(repo repositories.PromptRepository, generator Generator, opts ...ServiceOption) *Service {
	s := &Service{
		repo:        repo,
		generator:   generator,
		logger:      slog.Default(),
		historyDays: 14,
		lifetime:    DefaultLifetime,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Generate returns the prompt of the JST day containing now, creating it when
// none exists yet. The boolean reports whether a new prompt was stored.
func (s *Service) Generate(ctx context.Context, now time.Time) (models.DailyPrompt, bool, error) {
	day := ContextFor(now)

	existing, err := s.repo.Get(ctx, day.Date)
	if err == nil {
		s.logger.InfoContext(ctx, "prompt already exists", "date", day.Date)
		return existing, false, nil
	}
	if !errors.Is(err, repositories.ErrNotFound) {
		return models.DailyPrompt{}, false, fmt.Errorf("load prompt %s: %w", day.Date, err)
	}

	since := now.In(JST).AddDate(0, 0, -s.historyDays).Format(entrykey.DateLayout)
	recent, err := s.repo.ListSince(ctx, since)
	if err != nil {
		s.logger.WarnContext(ctx, "load recent prompts failed", "error", err)
		recent = nil
	}
	reverse(recent)

	text, err := s.generator.Generate(ctx, day, recent)
	if err != nil {
		return models.DailyPrompt{}, false, fmt.Errorf("generate prompt %s: %w", day.Date, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return models.DailyPrompt{}, false, ErrEmptyPrompt
	}

	created := now.UTC()
	prompt := models.DailyPrompt{
		Date:      day.Date,
		Prompt:    text,
		Category:  day.Category(),
		CreatedAt: created,
		ExpireAt:  created.Add(s.lifetime),
	}
	if err := s.repo.Create(ctx, prompt); err != nil {
		if errors.Is(err, repositories.ErrConflict) {
			// Another generator stored the day's prompt first.
			existing, getErr := s.repo.Get(ctx, day.Date)
			if getErr == nil {
				return existing, false, nil
			}
		}
		return models.DailyPrompt{}, false, fmt.Errorf("store prompt %s: %w", day.Date, err)
	}

	if s.recorder != nil {
		s.recorder.PromptGenerated(prompt.Category)
	}
	s.logger.InfoContext(ctx, "prompt generated", "date", prompt.Date, "category", prompt.Category)
	return prompt, true, nil
}

// Purge deletes prompts whose lifetime has ended.
func (s *Service) Purge(ctx context.Context, now time.Time) (int64, error) {
	start := time.Now()
	removed, err := s.repo.DeleteExpired(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("purge prompts: %w", err)
	}
	s.logger.InfoContext(ctx, "prompt purge complete",
		slog.Int64("deleted_count", removed),
		slog.Duration("duration", time.Since(start)),
	)
	return removed, nil
}

func reverse(prompts []models.DailyPrompt) {
	for i, j := 0, len(prompts)-1; i < j; i, j = i+1, j-1 {
		prompts[i], prompts[j] = prompts[j], prompts[i]
	}
}
