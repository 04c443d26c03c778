package apiclient

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"

	"github.com/familydiary/diary/internal/entrykey"
	"github.com/familydiary/diary/internal/models"
)

// Health calls the liveness endpoint.
func (c *Client) Health(ctx context.Context) (models.Health, error) {
	var out models.Health
	err := c.do(ctx, http.MethodGet, "/health", nil, &out)
	return out, err
}

// Recent returns the caller's most recent entries.
func (c *Client) Recent(ctx context.Context) ([]models.DiaryEntry, error) {
	var out models.EntryList
	if err := c.do(ctx, http.MethodGet, "/", nil, &out); err != nil {
		return nil, err
	}
	return out.Entries, nil
}

// GetEntry fetches the caller's entry stored under key.
func (c *Client) GetEntry(ctx context.Context, key entrykey.Key) (models.DiaryEntry, error) {
	var out models.DiaryEntry
	err := c.do(ctx, http.MethodGet, entryPath(key), nil, &out)
	return out, err
}

// SaveEntry upserts the caller's entry stored under key. The visibility sent
// always matches the key.
func (c *Client) SaveEntry(ctx context.Context, key entrykey.Key, text, photoURL string) (models.DiaryEntry, error) {
	isPublic := key.IsPublic()
	var out models.DiaryEntry
	err := c.do(ctx, http.MethodPost, entryPath(key), models.EntryInput{
		Text:     text,
		IsPublic: &isPublic,
		PhotoURL: photoURL,
	}, &out)
	return out, err
}

// DeleteEntry removes the caller's entry stored under key. The entry of the
// other visibility on the same date is not touched.
func (c *Client) DeleteEntry(ctx context.Context, key entrykey.Key) error {
	return c.do(ctx, http.MethodDelete, entryPath(key), nil, nil)
}

// UploadPhoto uploads image bytes for the entry under key and returns the
// photo URL to store on the entry.
func (c *Client) UploadPhoto(ctx context.Context, key entrykey.Key, image []byte) (string, error) {
	var out models.PhotoUploaded
	err := c.do(ctx, http.MethodPost, entryPath(key)+"/photo", models.PhotoUpload{
		Image: base64.StdEncoding.EncodeToString(image),
	}, &out)
	return out.PhotoURL, err
}

// FamilyCalendar returns every public entry of the month, any owner.
func (c *Client) FamilyCalendar(ctx context.Context, year, month int) (models.CalendarPage, error) {
	var out models.CalendarPage
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/family/calendar/%d/%d", year, month), nil, &out)
	return out, err
}

// MyCalendar returns every entry of the month owned by the caller.
func (c *Client) MyCalendar(ctx context.Context, year, month int) (models.CalendarPage, error) {
	var out models.CalendarPage
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/my/calendar/%d/%d", year, month), nil, &out)
	return out, err
}

// Prompt fetches the prompt generated for date (YYYY-MM-DD). A date without a
// prompt yields an *APIError with status 404.
func (c *Client) Prompt(ctx context.Context, date string) (models.DailyPrompt, error) {
	var out models.DailyPrompt
	err := c.do(ctx, http.MethodGet, "/prompt?date="+url.QueryEscape(date), nil, &out)
	return out, err
}

func entryPath(key entrykey.Key) string {
	return "/diary/" + url.PathEscape(key.String())
}
