package models

import "time"

// User represents a family member with an account.
type User struct {
	ID                 string
	Username           string
	Password           string
	MustChangePassword bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// DiaryEntry is one journal record. RecordKey combines the calendar date and
// the visibility, e.g. 2024-02-08-public; it is serialized as "date" on the wire.
type DiaryEntry struct {
	OwnerID   string    `json:"user_id"`
	RecordKey string    `json:"date"`
	Text      string    `json:"entry_text"`
	IsPublic  bool      `json:"is_public"`
	PhotoURL  string    `json:"photo_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EntryInput is the upsert body for POST /diary/{recordKey}.
type EntryInput struct {
	Text     string `json:"entry_text"`
	IsPublic *bool  `json:"is_public,omitempty"`
	PhotoURL string `json:"photo_url,omitempty"`
}

// EntryList is returned by GET /.
type EntryList struct {
	Entries []DiaryEntry `json:"entries"`
}

// CalendarPage is returned by the calendar endpoints.
type CalendarPage struct {
	Entries []DiaryEntry `json:"entries"`
	Year    int          `json:"year"`
	Month   int          `json:"month"`
}

// PhotoUpload is the body of POST /diary/{recordKey}/photo.
type PhotoUpload struct {
	Image string `json:"image"`
}

// PhotoUploaded is returned after a photo upload.
type PhotoUploaded struct {
	PhotoURL string `json:"photo_url"`
}

// DailyPrompt is the writing suggestion generated for one calendar date.
type DailyPrompt struct {
	Date      string    `json:"date"`
	Prompt    string    `json:"prompt"`
	Category  string    `json:"category"`
	CreatedAt time.Time `json:"created_at"`
	ExpireAt  time.Time `json:"expire_at"`
}

// Health is returned by GET /health.
type Health struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// SessionTokens groups the credentials issued by the self-hosted identity provider.
type SessionTokens struct {
	AccessToken      string
	IDToken          string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}
