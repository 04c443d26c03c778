// Package calendar turns a month of diary entries into per-day groups ready to
// be shown, attaching the daily prompt of each day when one exists.
package calendar

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/familydiary/diary/internal/entrykey"
	"github.com/familydiary/diary/internal/models"
)

// promptFetchLimit bounds concurrent prompt requests in LoadMonthPrompts.
const promptFetchLimit = 4

// DayGroup holds the entries of one calendar date.
type DayGroup struct {
	Date            string
	Entries         []models.DiaryEntry
	IsToday         bool
	HasPrivateEntry bool
	Participants    []string
	Prompt          *models.DailyPrompt
}

// Today returns the calendar date of now in its own location.
func Today(now time.Time) string {
	return now.Format(entrykey.DateLayout)
}

// GroupByDate groups entries by the date part of their record key. Groups are
// ordered by ascending date; entries keep their input order within a group.
// A record key without a visibility suffix is grouped under the raw key.
func GroupByDate(entries []models.DiaryEntry, today string, prompts map[string]models.DailyPrompt) []DayGroup {
	index := make(map[string]int)
	var groups []DayGroup

	for _, entry := range entries {
		date := entry.RecordKey
		if key, err := entrykey.FromRecordKey(entry.RecordKey); err == nil {
			date = key.Date
		}

		i, ok := index[date]
		if !ok {
			i = len(groups)
			index[date] = i
			groups = append(groups, DayGroup{Date: date, IsToday: date == today})
		}

		g := &groups[i]
		g.Entries = append(g.Entries, entry)
		if strings.HasSuffix(entry.RecordKey, "-"+string(entrykey.Private)) {
			g.HasPrivateEntry = true
		}
		name := entrykey.DisplayName(entry.OwnerID)
		if name != "" && !slices.Contains(g.Participants, name) {
			g.Participants = append(g.Participants, name)
		}
	}

	for i := range groups {
		if p, ok := prompts[groups[i].Date]; ok {
			groups[i].Prompt = &p
		}
	}

	slices.SortStableFunc(groups, func(a, b DayGroup) int {
		return strings.Compare(a.Date, b.Date)
	})
	return groups
}

// PrivateOnly keeps the entries stored under a private record key.
func PrivateOnly(entries []models.DiaryEntry) []models.DiaryEntry {
	var out []models.DiaryEntry
	for _, entry := range entries {
		if key, err := entrykey.FromRecordKey(entry.RecordKey); err == nil && !key.IsPublic() {
			out = append(out, entry)
		}
	}
	return out
}

// DaysIn returns the number of days in the month.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// PromptFetcher loads the prompt of one date.
type PromptFetcher interface {
	Prompt(ctx context.Context, date string) (models.DailyPrompt, error)
}

// LoadMonthPrompts fetches the prompt of every day in the month. Failed dates
// are left out of the result; a missing prompt is not an error. An error for
// which abort reports true stops the remaining fetches and is returned.
// A nil abort swallows every error.
func LoadMonthPrompts(ctx context.Context, fetcher PromptFetcher, year int, month time.Month, abort func(error) bool) (map[string]models.DailyPrompt, error) {
	var (
		mu      sync.Mutex
		prompts = make(map[string]models.DailyPrompt)
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(promptFetchLimit)

	for day := 1; day <= DaysIn(year, month); day++ {
		if gctx.Err() != nil {
			break
		}
		date := time.Date(year, month, day, 0, 0, 0, 0, time.UTC).Format(entrykey.DateLayout)
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			p, err := fetcher.Prompt(gctx, date)
			if err != nil {
				if abort != nil && abort(err) {
					return err
				}
				slog.Debug("prompt unavailable", "date", date, "error", err)
				return nil
			}
			if p.Prompt == "" {
				return nil
			}
			mu.Lock()
			prompts[date] = p
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return prompts, nil
}
