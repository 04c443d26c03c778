package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/familydiary/diary/internal/db"
	"github.com/familydiary/diary/internal/entrykey"
	"github.com/familydiary/diary/internal/models"
)

const entryColumns = `owner_id, record_key, is_public, entry_text, photo_url, created_at, updated_at`

// PostgresEntryRepository provides PostgreSQL-backed persistence for diary entries.
type PostgresEntryRepository struct {
	pool db.Pool
}

// NewPostgresEntryRepository constructs an entry repository backed by PostgreSQL.
func NewPostgresEntryRepository(pool db.Pool) *PostgresEntryRepository {
	return &PostgresEntryRepository{pool: pool}
}

// Get loads one entry by owner and record key.
func (r *PostgresEntryRepository) Get(ctx context.Context, ownerID, recordKey string) (models.DiaryEntry, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.DiaryEntry{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, `
        SELECT `+entryColumns+`
        FROM diary_entries
        WHERE owner_id = $1 AND record_key = $2
    `, ownerID, recordKey)

	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.DiaryEntry{}, ErrNotFound
		}
		return models.DiaryEntry{}, fmt.Errorf("select diary entry: %w", err)
	}
	return entry, nil
}

// Upsert inserts the entry or replaces the text, visibility and photo of an
// existing one. The original created_at is kept.
func (r *PostgresEntryRepository) Upsert(ctx context.Context, entry models.DiaryEntry) (models.DiaryEntry, error) {
	key, err := entrykey.Parse(entry.RecordKey)
	if err != nil {
		return models.DiaryEntry{}, err
	}

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.DiaryEntry{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	now := time.Now().UTC()
	row := conn.QueryRow(ctx, `
        INSERT INTO diary_entries (owner_id, record_key, entry_date, is_public, entry_text, photo_url, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
        ON CONFLICT (owner_id, record_key)
        DO UPDATE SET is_public = EXCLUDED.is_public,
                      entry_text = EXCLUDED.entry_text,
                      photo_url = EXCLUDED.photo_url,
                      updated_at = EXCLUDED.updated_at
        RETURNING `+entryColumns+`
    `, entry.OwnerID, entry.RecordKey, key.Date, key.IsPublic(), entry.Text, entry.PhotoURL, now)

	saved, err := scanEntry(row)
	if err != nil {
		return models.DiaryEntry{}, fmt.Errorf("upsert diary entry: %w", err)
	}
	return saved, nil
}

// Delete removes one entry.
func (r *PostgresEntryRepository) Delete(ctx context.Context, ownerID, recordKey string) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        DELETE FROM diary_entries
        WHERE owner_id = $1 AND record_key = $2
    `, ownerID, recordKey)
	if err != nil {
		return fmt.Errorf("delete diary entry: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// ListForOwnerMonth returns every entry of one owner dated within the month.
func (r *PostgresEntryRepository) ListForOwnerMonth(ctx context.Context, ownerID string, year int, month time.Month) ([]models.DiaryEntry, error) {
	first, last := monthRange(year, month)
	return r.list(ctx, `
        SELECT `+entryColumns+`
        FROM diary_entries
        WHERE owner_id = $1 AND entry_date BETWEEN $2 AND $3
        ORDER BY entry_date DESC, record_key
    `, ownerID, first, last)
}

// ListPublicMonth returns the public entries of all owners dated within the month.
func (r *PostgresEntryRepository) ListPublicMonth(ctx context.Context, year int, month time.Month) ([]models.DiaryEntry, error) {
	first, last := monthRange(year, month)
	return r.list(ctx, `
        SELECT `+entryColumns+`
        FROM diary_entries
        WHERE is_public AND entry_date BETWEEN $1 AND $2
        ORDER BY entry_date DESC, created_at
    `, first, last)
}

// ListRecent returns the owner's latest entries, newest date first.
func (r *PostgresEntryRepository) ListRecent(ctx context.Context, ownerID string, limit int) ([]models.DiaryEntry, error) {
	return r.list(ctx, `
        SELECT `+entryColumns+`
        FROM diary_entries
        WHERE owner_id = $1
        ORDER BY entry_date DESC, record_key
        LIMIT $2
    `, ownerID, limit)
}

func (r *PostgresEntryRepository) list(ctx context.Context, query string, args ...any) ([]models.DiaryEntry, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query diary entries: %w", err)
	}
	defer rows.Close()

	entries := []models.DiaryEntry{}
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan diary entry: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate diary entries: %w", err)
	}

	return entries, nil
}

func scanEntry(row pgx.Row) (models.DiaryEntry, error) {
	var entry models.DiaryEntry
	err := row.Scan(&entry.OwnerID, &entry.RecordKey, &entry.IsPublic, &entry.Text, &entry.PhotoURL, &entry.CreatedAt, &entry.UpdatedAt)
	entry.CreatedAt = entry.CreatedAt.UTC()
	entry.UpdatedAt = entry.UpdatedAt.UTC()
	return entry, err
}

// monthRange returns the first and last calendar day of the month.
func monthRange(year int, month time.Month) (string, string) {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1)
	return first.Format(entrykey.DateLayout), last.Format(entrykey.DateLayout)
}

var _ EntryRepository = (*PostgresEntryRepository)(nil)
