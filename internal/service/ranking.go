package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/practice-ranking/internal/config"
	"github.com/practice-ranking/internal/domain"
)

// RankingService keeps the best entry of every user in the open period
type RankingService struct {
	entries  RankingStore
	profiles ProfileStore
	board    Board
	hub      Notifier
	config   *config.RankingConfig
	offset   time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewRankingService creates a new ranking service. board may be nil.
func NewRankingService(
	entries RankingStore,
	profiles ProfileStore,
	board Board,
	cfg *config.RankingConfig,
	offset time.Duration,
	logger *slog.Logger,
) *RankingService {
	return &RankingService{
		entries:  entries,
		profiles: profiles,
		board:    board,
		config:   cfg,
		offset:   offset,
		logger:   logger,
		now:      time.Now,
	}
}

// SetHub sets the notifier used for live updates
func (s *RankingService) SetHub(hub Notifier) {
	s.hub = hub
}

// SetClock overrides the time source
func (s *RankingService) SetClock(now func() time.Time) {
	s.now = now
}

// CurrentPeriod returns the open period
func (s *RankingService) CurrentPeriod() domain.Period {
	return domain.PeriodOf(s.now(), s.offset)
}

// SubmitRecord folds a practice record into the open period's ranking.
// It reports whether the stored entry was replaced. A record from a user
// without a profile is dropped without error.
func (s *RankingService) SubmitRecord(ctx context.Context, rec domain.PracticeRecord) (bool, error) {
	now := s.now()
	period := domain.PeriodOf(now, s.offset)

	profile, err := s.profiles.GetProfile(ctx, rec.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrProfileNotFound) {
			s.logger.Warn("skipping record for user without profile",
				"user_id", rec.UserID,
				"period", period.ID(),
			)
			return false, nil
		}
		return false, fmt.Errorf("getting profile: %w", err)
	}

	var written domain.RankingEntry
	replaced, err := s.entries.UpdateEntry(ctx, period, rec.UserID, func(existing *domain.RankingEntry) *domain.RankingEntry {
		if !domain.ShouldReplace(rec, existing) {
			return nil
		}
		written = domain.NewEntry(rec, profile, now)
		return &written
	})
	if err != nil {
		return false, fmt.Errorf("updating entry: %w", err)
	}
	if !replaced {
		s.logger.Debug("record did not improve entry", "user_id", rec.UserID, "period", period.ID())
		return false, nil
	}

	s.logger.Info("ranking entry updated",
		"user_id", rec.UserID,
		"period", period.ID(),
		"elapsed_seconds", written.ElapsedSeconds,
		"success_rate", written.SuccessRate,
	)

	if s.board != nil {
		if err := s.board.SetEntry(ctx, period, written); err != nil {
			// The board is rebuilt from the database on startup
			s.logger.Warn("failed to mirror entry to board", "user_id", rec.UserID, "error", err)
		}
	}
	if s.hub != nil {
		s.hub.BroadcastEntry(period, written)
	}

	return true, nil
}

// SubmitRecordBatch submits multiple records, continuing past failures.
// Records of users without a profile are skipped and are not failures; any
// error returned means at least one record was not stored and the batch
// should be delivered again.
func (s *RankingService) SubmitRecordBatch(ctx context.Context, records []domain.PracticeRecord) error {
	var errs []error
	for _, rec := range records {
		if _, err := s.SubmitRecord(ctx, rec); err != nil {
			s.logger.Error("failed to submit record in batch",
				"user_id", rec.UserID,
				"error", err,
			)
			errs = append(errs, fmt.Errorf("record for %s: %w", rec.UserID, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%d of %d records failed: %w", len(errs), len(records), errors.Join(errs...))
	}
	return nil
}

// Top returns up to n entries of the period ordered by elapsed time
func (s *RankingService) Top(ctx context.Context, period domain.Period, n int) ([]domain.RankingEntry, error) {
	// Validate limit
	if n <= 0 {
		n = s.config.DefaultLimit
	}
	if n > s.config.MaxLimit {
		n = s.config.MaxLimit
	}

	if s.board != nil && period == s.CurrentPeriod() {
		entries, err := s.board.Top(ctx, period, n)
		if err == nil {
			return entries, nil
		}
		s.logger.Warn("board read failed, falling back to database", "period", period.ID(), "error", err)
	}

	entries, err := s.entries.TopEntries(ctx, period, n)
	if err != nil {
		return nil, fmt.Errorf("getting top entries: %w", err)
	}
	return entries, nil
}

// Entry returns one user's entry in the period
func (s *RankingService) Entry(ctx context.Context, period domain.Period, userID string) (*domain.RankingEntry, error) {
	return s.entries.GetEntry(ctx, period, userID)
}
