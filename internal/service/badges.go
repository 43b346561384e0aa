package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/practice-ranking/internal/domain"
)

// GrantResult summarizes one grant cycle
type GrantResult struct {
	Period           string `json:"period"`
	Entries          int    `json:"entries"`
	Granted          int    `json:"granted"`
	Revoked          int    `json:"revoked"`
	SummariesSet     int    `json:"summaries_set"`
	SummariesCleared int    `json:"summaries_cleared"`
	Skipped          bool   `json:"skipped"`
}

// BadgeGranter converts the top of a closed period into profile badges
type BadgeGranter struct {
	badges BadgeStore
	hub    Notifier
	topN   int
	offset time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewBadgeGranter creates a new badge granter
func NewBadgeGranter(badges BadgeStore, topN int, offset time.Duration, logger *slog.Logger) *BadgeGranter {
	return &BadgeGranter{
		badges: badges,
		topN:   topN,
		offset: offset,
		logger: logger,
		now:    time.Now,
	}
}

// SetHub sets the notifier used for live updates
func (g *BadgeGranter) SetHub(hub Notifier) {
	g.hub = hub
}

// SetClock overrides the time source
func (g *BadgeGranter) SetClock(now func() time.Time) {
	g.now = now
}

// GrantPrevious runs the grant cycle for the period before the current one
func (g *BadgeGranter) GrantPrevious(ctx context.Context) (*GrantResult, error) {
	return g.GrantFor(ctx, domain.PeriodOf(g.now(), g.offset).Previous())
}

// GrantFor runs the grant cycle for the given closed period.
//
// Everything is derived from persisted state, so a failed cycle can simply
// be run again. Either every badge change of the cycle is committed or none,
// and concurrent cycles are applied one after the other.
func (g *BadgeGranter) GrantFor(ctx context.Context, period domain.Period) (*GrantResult, error) {
	current := domain.PeriodOf(g.now(), g.offset)
	if !period.Before(current) {
		return nil, fmt.Errorf("%w: %s is not closed yet (current period %s)", domain.ErrInvalidPeriod, period, current)
	}

	logger := g.logger.With("period", period.ID())
	result := GrantResult{Period: period.ID()}

	var batch *domain.BadgeBatch
	err := g.badges.RunGrant(ctx, period, g.topN, func(top []domain.RankingEntry, profiles []domain.Profile) *domain.BadgeBatch {
		if len(top) == 0 {
			return nil
		}
		result.Entries = len(top)
		batch = domain.PlanGrant(period, top, profiles)
		return batch
	})
	if err != nil {
		logger.Error("grant cycle aborted", "error", err)
		return nil, fmt.Errorf("running grant cycle for %s: %w", period, err)
	}
	if batch == nil {
		logger.Info("no ranking entries, skipping grant cycle")
		result.Skipped = true
		return &result, nil
	}

	result.Granted = batch.Count(domain.OpSetBadge)
	result.Revoked = batch.Count(domain.OpDeleteBadge)
	result.SummariesSet = batch.Count(domain.OpSetSummary)
	result.SummariesCleared = batch.Count(domain.OpDeleteSummary)
	logger.Info("grant cycle committed",
		"entries", result.Entries,
		"operations", batch.Len(),
		"granted", result.Granted,
		"revoked", result.Revoked,
		"summaries_cleared", result.SummariesCleared,
	)

	if g.hub != nil {
		g.hub.BroadcastGrant(period, result)
	}
	return &result, nil
}
