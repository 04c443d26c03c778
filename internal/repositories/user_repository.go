package repositories

import (
	"context"
	"time"

	"github.com/familydiary/diary/internal/models"
)

// UserRepository defines the data access contract for users.
type UserRepository interface {
	Create(ctx context.Context, user models.User) error
	FindByUsername(ctx context.Context, username string) (models.User, error)
	FindByID(ctx context.Context, id string) (models.User, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
}

// EntryRepository defines the data access contract for diary entries.
type EntryRepository interface {
	Get(ctx context.Context, ownerID, recordKey string) (models.DiaryEntry, error)
	Upsert(ctx context.Context, entry models.DiaryEntry) (models.DiaryEntry, error)
	Delete(ctx context.Context, ownerID, recordKey string) error
	ListForOwnerMonth(ctx context.Context, ownerID string, year int, month time.Month) ([]models.DiaryEntry, error)
	ListPublicMonth(ctx context.Context, year int, month time.Month) ([]models.DiaryEntry, error)
	ListRecent(ctx context.Context, ownerID string, limit int) ([]models.DiaryEntry, error)
}

// PromptRepository defines the data access contract for daily prompts.
type PromptRepository interface {
	Get(ctx context.Context, date string) (models.DailyPrompt, error)
	Create(ctx context.Context, prompt models.DailyPrompt) error
	ListSince(ctx context.Context, date string) ([]models.DailyPrompt, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
