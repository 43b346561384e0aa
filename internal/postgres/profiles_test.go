package postgres

import (
	"strings"
	"testing"
	"time"

	"github.com/practice-ranking/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBadgeStatements(t *testing.T) {
	now := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	period := domain.Period{Year: 2024, Month: time.March}

	batch := domain.NewBadgeBatch(period)
	batch.DeleteBadge("u1", "monthly_2024_02_champion")
	batch.SetBadge("u2", "lee", "monthly_2024_03_champion")
	batch.DeleteSummary("u1")
	batch.SetSummary("u2", "lee", "2024 03 rank 1")

	ops := batch.Ops()
	require.Len(t, ops, 4)

	del := badgeStatements(ops[0], now)
	require.Len(t, del, 1)
	assert.True(t, strings.HasPrefix(del[0].sql, "DELETE FROM profile_badges"))
	assert.Equal(t, []any{"u1", "monthly_2024_02_champion"}, del[0].args)

	set := badgeStatements(ops[1], now)
	require.Len(t, set, 2)
	assert.Contains(t, set[0].sql, "ON CONFLICT (user_id) DO NOTHING")
	assert.Equal(t, []any{"u2", "lee", now}, set[0].args)
	assert.Contains(t, set[1].sql, "INSERT INTO profile_badges")
	assert.Equal(t, []any{"u2", "monthly_2024_03_champion", now}, set[1].args)

	reset := badgeStatements(ops[2], now)
	require.Len(t, reset, 1)
	assert.Contains(t, reset[0].sql, "last_badge_summary = ''")

	summary := badgeStatements(ops[3], now)
	require.Len(t, summary, 1)
	assert.Equal(t, []any{"u2", "lee", "2024 03 rank 1", now}, summary[0].args)
}

func TestBadgeStatementsNeverRewriteWholeMap(t *testing.T) {
	kinds := []domain.BadgeOpKind{domain.OpDeleteBadge, domain.OpSetBadge, domain.OpDeleteSummary, domain.OpSetSummary}
	for _, kind := range kinds {
		for _, stmt := range badgeStatements(domain.BadgeOp{Kind: kind, UserID: "u", Key: "k"}, time.Now()) {
			if strings.Contains(stmt.sql, "profile_badges") && strings.HasPrefix(stmt.sql, "DELETE") {
				assert.Contains(t, stmt.sql, "badge_key = $2", kind.String())
			}
		}
	}
	assert.Nil(t, badgeStatements(domain.BadgeOp{Kind: domain.BadgeOpKind(99)}, time.Now()))
}
