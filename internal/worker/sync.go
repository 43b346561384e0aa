package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/practice-ranking/internal/domain"
)

// EntrySource lists every persisted entry of a period
type EntrySource interface {
	AllEntries(ctx context.Context, period domain.Period) ([]domain.RankingEntry, error)
}

// BoardWriter replaces the realtime board of a period
type BoardWriter interface {
	Rebuild(ctx context.Context, period domain.Period, entries []domain.RankingEntry) error
}

// BoardSync restores the realtime board from PostgreSQL
type BoardSync struct {
	source EntrySource
	board  BoardWriter
	offset time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewBoardSync creates a new board sync
func NewBoardSync(source EntrySource, board BoardWriter, offset time.Duration, logger *slog.Logger) *BoardSync {
	return &BoardSync{
		source: source,
		board:  board,
		offset: offset,
		logger: logger,
		now:    time.Now,
	}
}

// SyncCurrent rebuilds the board of the open period.
// This is useful for recovery or initialization
func (s *BoardSync) SyncCurrent(ctx context.Context) error {
	return s.SyncPeriod(ctx, domain.PeriodOf(s.now(), s.offset))
}

// SyncPeriod rebuilds the board of one period
func (s *BoardSync) SyncPeriod(ctx context.Context, period domain.Period) error {
	s.logger.Debug("syncing board from database", "period", period.ID())

	entries, err := s.source.AllEntries(ctx, period)
	if err != nil {
		return fmt.Errorf("loading entries: %w", err)
	}

	if err := s.board.Rebuild(ctx, period, entries); err != nil {
		return fmt.Errorf("rebuilding board: %w", err)
	}

	s.logger.Info("synced board from database",
		"period", period.ID(),
		"entry_count", len(entries),
	)
	return nil
}
