package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/familydiary/diary/internal/db"
	"github.com/familydiary/diary/internal/models"
)

// PostgresPromptRepository provides PostgreSQL-backed persistence for daily prompts.
type PostgresPromptRepository struct {
	pool db.Pool
}

// NewPostgresPromptRepository constructs a prompt repository backed by PostgreSQL.
func NewPostgresPromptRepository(pool db.Pool) *PostgresPromptRepository {
	return &PostgresPromptRepository{pool: pool}
}

// Get loads the prompt for a YYYY-MM-DD date.
func (r *PostgresPromptRepository) Get(ctx context.Context, date string) (models.DailyPrompt, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.DailyPrompt{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, `
        SELECT to_char(prompt_date, 'YYYY-MM-DD'), prompt, category, created_at, expire_at
        FROM daily_prompts
        WHERE prompt_date = $1
    `, date)

	prompt, err := scanPrompt(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.DailyPrompt{}, ErrNotFound
		}
		return models.DailyPrompt{}, fmt.Errorf("select daily prompt: %w", err)
	}
	return prompt, nil
}

// Create stores a prompt. A prompt already stored for the date yields ErrConflict.
func (r *PostgresPromptRepository) Create(ctx context.Context, prompt models.DailyPrompt) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
        INSERT INTO daily_prompts (prompt_date, prompt, category, created_at, expire_at)
        VALUES ($1, $2, $3, $4, $5)
    `, prompt.Date, prompt.Prompt, prompt.Category, prompt.CreatedAt, prompt.ExpireAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert daily prompt: %w", err)
	}
	return nil
}

// ListSince returns prompts dated on or after date, oldest first.
func (r *PostgresPromptRepository) ListSince(ctx context.Context, date string) ([]models.DailyPrompt, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
        SELECT to_char(prompt_date, 'YYYY-MM-DD'), prompt, category, created_at, expire_at
        FROM daily_prompts
        WHERE prompt_date >= $1
        ORDER BY prompt_date
    `, date)
	if err != nil {
		return nil, fmt.Errorf("query daily prompts: %w", err)
	}
	defer rows.Close()

	var prompts []models.DailyPrompt
	for rows.Next() {
		prompt, err := scanPrompt(rows)
		if err != nil {
			return nil, fmt.Errorf("scan daily prompt: %w", err)
		}
		prompts = append(prompts, prompt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate daily prompts: %w", err)
	}
	return prompts, nil
}

// DeleteExpired removes prompts whose expire_at has passed.
func (r *PostgresPromptRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `DELETE FROM daily_prompts WHERE expire_at <= $1`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired prompts: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanPrompt(row pgx.Row) (models.DailyPrompt, error) {
	var prompt models.DailyPrompt
	err := row.Scan(&prompt.Date, &prompt.Prompt, &prompt.Category, &prompt.CreatedAt, &prompt.ExpireAt)
	prompt.CreatedAt = prompt.CreatedAt.UTC()
	prompt.ExpireAt = prompt.ExpireAt.UTC()
	return prompt, err
}

var _ PromptRepository = (*PostgresPromptRepository)(nil)
