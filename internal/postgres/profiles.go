package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/practice-ranking/internal/domain"
)

// GetProfile retrieves a profile with its badge map
func (r *Repository) GetProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	profile := domain.Profile{UserID: userID, Badges: make(map[string]bool)}
	err := r.pool.QueryRow(ctx,
		`SELECT display_name, last_badge_summary FROM profiles WHERE user_id = $1`,
		userID,
	).Scan(&profile.DisplayName, &profile.LastBadgeSummary)
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrProfileNotFound
		}
		return nil, fmt.Errorf("getting profile: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT badge_key, present FROM profile_badges WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("getting badges: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var present bool
		if err := rows.Scan(&key, &present); err != nil {
			return nil, fmt.Errorf("scanning badge: %w", err)
		}
		profile.Badges[key] = present
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating badges: %w", err)
	}
	return &profile, nil
}

// UpsertProfile creates a profile or renames an existing one
func (r *Repository) UpsertProfile(ctx context.Context, userID, displayName string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO profiles (user_id, display_name, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (user_id)
		DO UPDATE SET display_name = EXCLUDED.display_name, updated_at = EXCLUDED.updated_at
	`, userID, displayName, time.Now())
	if err != nil {
		return fmt.Errorf("upserting profile: %w", err)
	}
	return nil
}

// ListProfiles returns every profile with its badge map
func (r *Repository) ListProfiles(ctx context.Context) ([]domain.Profile, error) {
	return listProfiles(ctx, r.pool)
}

func listProfiles(ctx context.Context, q querier) ([]domain.Profile, error) {
	rows, err := q.Query(ctx, `
		SELECT p.user_id, p.display_name, p.last_badge_summary, b.badge_key, b.present
		FROM profiles p
		LEFT JOIN profile_badges b ON b.user_id = p.user_id
		ORDER BY p.user_id
	`)
	if err != nil {
		return nil, fmt.Errorf("listing profiles: %w", err)
	}
	defer rows.Close()

	var profiles []domain.Profile
	for rows.Next() {
		var (
			userID, displayName, summary string
			badgeKey                     *string
			present                      *bool
		)
		if err := rows.Scan(&userID, &displayName, &summary, &badgeKey, &present); err != nil {
			return nil, fmt.Errorf("scanning profile: %w", err)
		}
		if n := len(profiles); n == 0 || profiles[n-1].UserID != userID {
			profiles = append(profiles, domain.Profile{
				UserID:           userID,
				DisplayName:      displayName,
				LastBadgeSummary: summary,
				Badges:           make(map[string]bool),
			})
		}
		if badgeKey != nil && present != nil {
			profiles[len(profiles)-1].Badges[*badgeKey] = *present
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating profiles: %w", err)
	}
	return profiles, nil
}

// statement is one queued SQL command
type statement struct {
	sql  string
	args []any
}

// badgeStatements translates a staged badge operation into SQL. Every
// statement touches a single badge key or the summary column, never the
// whole badge map.
func badgeStatements(op domain.BadgeOp, now time.Time) []statement {
	switch op.Kind {
	case domain.OpDeleteBadge:
		return []statement{{
			sql:  `DELETE FROM profile_badges WHERE user_id = $1 AND badge_key = $2`,
			args: []any{op.UserID, op.Key},
		}}
	case domain.OpSetBadge:
		return []statement{
			{
				sql: `INSERT INTO profiles (user_id, display_name, created_at, updated_at)
					VALUES ($1, $2, $3, $3) ON CONFLICT (user_id) DO NOTHING`,
				args: []any{op.UserID, op.DisplayName, now},
			},
			{
				sql: `INSERT INTO profile_badges (user_id, badge_key, present, granted_at)
					VALUES ($1, $2, TRUE, $3)
					ON CONFLICT (user_id, badge_key) DO UPDATE SET present = TRUE, granted_at = EXCLUDED.granted_at`,
				args: []any{op.UserID, op.Key, now},
			},
		}
	case domain.OpDeleteSummary:
		return []statement{{
			sql:  `UPDATE profiles SET last_badge_summary = '', updated_at = $2 WHERE user_id = $1`,
			args: []any{op.UserID, now},
		}}
	case domain.OpSetSummary:
		return []statement{{
			sql: `INSERT INTO profiles (user_id, display_name, last_badge_summary, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $4)
				ON CONFLICT (user_id) DO UPDATE SET
					last_badge_summary = EXCLUDED.last_badge_summary,
					updated_at = EXCLUDED.updated_at`,
			args: []any{op.UserID, op.DisplayName, op.Summary, now},
		}}
	}
	return nil
}

// grantLockKey names the advisory lock held by every grant cycle
const grantLockKey = "badge-grant"

// RunGrant reads the top entries of the period and every profile, hands them
// to plan and applies the returned batch, all in one transaction. Cycles from
// any process queue on the same advisory lock, so a cycle always plans
// against the state its predecessor committed.
func (r *Repository) RunGrant(ctx context.Context, period domain.Period, topN int, plan domain.GrantPlanner) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, grantLockKey); err != nil {
			return fmt.Errorf("locking grant cycle: %w", err)
		}

		top, err := topEntries(ctx, tx, period, topN)
		if err != nil {
			return err
		}
		profiles, err := listProfiles(ctx, tx)
		if err != nil {
			return err
		}

		batch := plan(top, profiles)
		if batch == nil || batch.Len() == 0 {
			return nil
		}
		return r.applyBadgeBatch(ctx, tx, batch)
	})
}

// applyBadgeBatch sends every staged operation over tx as one pgx batch
func (r *Repository) applyBadgeBatch(ctx context.Context, tx pgx.Tx, batch *domain.BadgeBatch) error {
	now := time.Now()
	queued := &pgx.Batch{}
	for _, op := range batch.Ops() {
		for _, stmt := range badgeStatements(op, now) {
			queued.Queue(stmt.sql, stmt.args...)
		}
	}

	br := tx.SendBatch(ctx, queued)
	for i := 0; i < queued.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("committing badge batch for %s: %w", batch.Period, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("closing badge batch: %w", err)
	}

	r.logger.Debug("badge batch applied",
		"period", batch.Period.ID(),
		"operations", batch.Len(),
		"statements", queued.Len(),
	)
	return nil
}

// SetClaim stores one custom auth claim for a user
func (r *Repository) SetClaim(ctx context.Context, userID, key string, value any) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshaling claim: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO user_claims (user_id, claim_key, claim_value, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, claim_key)
		DO UPDATE SET claim_value = EXCLUDED.claim_value, updated_at = EXCLUDED.updated_at
	`, userID, key, encoded, time.Now())
	if err != nil {
		return fmt.Errorf("setting claim: %w", err)
	}
	return nil
}

// GetClaims returns every custom claim of a user
func (r *Repository) GetClaims(ctx context.Context, userID string) (domain.Claims, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT claim_key, claim_value FROM user_claims WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("getting claims: %w", err)
	}
	defer rows.Close()

	claims := make(domain.Claims)
	for rows.Next() {
		var key string
		var raw []byte
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, fmt.Errorf("scanning claim: %w", err)
		}
		var value any
		if err := json.Unmarshal(raw, &value); err != nil {
			return nil, fmt.Errorf("decoding claim %s: %w", key, err)
		}
		claims[key] = value
	}
	return claims, rows.Err()
}
