package handlers

import (
	"context"
	"time"

	"github.com/familydiary/diary/internal/models"
	"github.com/familydiary/diary/internal/storage"
)

// UserStore captures the persistence operations required by the auth handlers.
type UserStore interface {
	Create(ctx context.Context, user models.User) error
	FindByUsername(ctx context.Context, username string) (models.User, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
}

// SessionManager issues and refreshes authentication tokens for users.
type SessionManager interface {
	Issue(ctx context.Context, user models.User) (models.SessionTokens, error)
	Refresh(ctx context.Context, refreshToken string) (models.SessionTokens, error)
	Challenge(user models.User, ttl time.Duration) (string, error)
	VerifyChallenge(token, username string) error
	Revoke(ctx context.Context, refreshToken string)
}

// EntryStore captures the single-entry operations of the diary handlers.
type EntryStore interface {
	Get(ctx context.Context, ownerID, recordKey string) (models.DiaryEntry, error)
	Upsert(ctx context.Context, entry models.DiaryEntry) (models.DiaryEntry, error)
	Delete(ctx context.Context, ownerID, recordKey string) error
	ListRecent(ctx context.Context, ownerID string, limit int) ([]models.DiaryEntry, error)
}

// CalendarStore lists the entries of a month.
type CalendarStore interface {
	ListForOwnerMonth(ctx context.Context, ownerID string, year int, month time.Month) ([]models.DiaryEntry, error)
	ListPublicMonth(ctx context.Context, year int, month time.Month) ([]models.DiaryEntry, error)
}

// PhotoStore persists uploaded photos.
type PhotoStore interface {
	Upload(ctx context.Context, username, recordKey string, data []byte) (storage.StoredPhoto, error)
}

// PromptLookup returns the prompt generated for a date.
type PromptLookup interface {
	Get(ctx context.Context, date string) (models.DailyPrompt, error)
}
