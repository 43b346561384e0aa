package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/practice-ranking/internal/domain"
)

const entryColumns = `user_id, display_name, elapsed_seconds, success_rate, avg_attempts, updated_at`

// UpdateEntry runs decide against the stored entry for (period, user) while
// holding a transaction-scoped lock on that key, and writes the entry decide
// returns. A nil result leaves the store untouched.
func (r *Repository) UpdateEntry(
	ctx context.Context,
	period domain.Period,
	userID string,
	decide func(existing *domain.RankingEntry) *domain.RankingEntry,
) (bool, error) {
	written := false
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		// Row locks cannot cover a row that does not exist yet, so the
		// first write for a key is serialized with an advisory lock.
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`,
			period.ID()+"/"+userID); err != nil {
			return fmt.Errorf("locking entry: %w", err)
		}

		existing, err := scanEntry(tx.QueryRow(ctx,
			`SELECT `+entryColumns+` FROM ranking_entries WHERE period = $1 AND user_id = $2 FOR UPDATE`,
			period.ID(), userID,
		))
		if err != nil && !isNoRows(err) {
			return fmt.Errorf("reading entry: %w", err)
		}
		if isNoRows(err) {
			existing = nil
		}

		next := decide(existing)
		if next == nil {
			return nil
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO ranking_entries (period, `+entryColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (period, user_id)
			DO UPDATE SET
				display_name = EXCLUDED.display_name,
				elapsed_seconds = EXCLUDED.elapsed_seconds,
				success_rate = EXCLUDED.success_rate,
				avg_attempts = EXCLUDED.avg_attempts,
				updated_at = EXCLUDED.updated_at
		`,
			period.ID(),
			userID,
			next.DisplayName,
			next.ElapsedSeconds,
			next.SuccessRate,
			next.AvgAttempts,
			next.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("writing entry: %w", err)
		}
		written = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return written, nil
}

// GetEntry retrieves one user's entry within a period
func (r *Repository) GetEntry(ctx context.Context, period domain.Period, userID string) (*domain.RankingEntry, error) {
	entry, err := scanEntry(r.pool.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM ranking_entries WHERE period = $1 AND user_id = $2`,
		period.ID(), userID,
	))
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrEntryNotFound
		}
		return nil, fmt.Errorf("getting entry: %w", err)
	}
	return entry, nil
}

// TopEntries returns up to limit entries of the period ordered by elapsed time.
// Elapsed time is the only ranking key; updated_at and user_id only make the
// order stable between reads.
func (r *Repository) TopEntries(ctx context.Context, period domain.Period, limit int) ([]domain.RankingEntry, error) {
	return topEntries(ctx, r.pool, period, limit)
}

func topEntries(ctx context.Context, q querier, period domain.Period, limit int) ([]domain.RankingEntry, error) {
	rows, err := q.Query(ctx, `
		SELECT `+entryColumns+`
		FROM ranking_entries
		WHERE period = $1
		ORDER BY elapsed_seconds ASC, updated_at ASC, user_id ASC
		LIMIT $2
	`, period.ID(), limit)
	if err != nil {
		return nil, fmt.Errorf("getting top entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.RankingEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning entry: %w", err)
		}
		entry.Rank = len(entries) + 1
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating entries: %w", err)
	}
	return entries, nil
}

// AllEntries returns every entry of the period (used to rebuild the realtime board)
func (r *Repository) AllEntries(ctx context.Context, period domain.Period) ([]domain.RankingEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+entryColumns+` FROM ranking_entries WHERE period = $1`,
		period.ID(),
	)
	if err != nil {
		return nil, fmt.Errorf("getting all entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.RankingEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning entry: %w", err)
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

func scanEntry(row pgx.Row) (*domain.RankingEntry, error) {
	var e domain.RankingEntry
	err := row.Scan(
		&e.UserID,
		&e.DisplayName,
		&e.ElapsedSeconds,
		&e.SuccessRate,
		&e.AvgAttempts,
		&e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
