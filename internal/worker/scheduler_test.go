package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/practice-ranking/internal/config"
	"github.com/practice-ranking/internal/domain"
	"github.com/practice-ranking/internal/service"
)

const kst = 9 * time.Hour

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNextMonthlyRun(t *testing.T) {
	tests := []struct {
		name   string
		now    time.Time
		offset time.Duration
		hour   int
		minute int
		want   time.Time
	}{
		{
			name: "mid month runs on the next first",
			now:  time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC),
			want: time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:   "first of month before the configured time",
			now:    time.Date(2024, 3, 1, 1, 0, 0, 0, time.UTC),
			hour:   3,
			minute: 30,
			want:   time.Date(2024, 3, 1, 3, 30, 0, 0, time.UTC),
		},
		{
			name: "exactly at the run time moves to the next month",
			now:  time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
			want: time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "december rolls into january",
			now:  time.Date(2024, 12, 20, 0, 0, 0, 0, time.UTC),
			want: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			// midnight of April 1 in +09:00 is 15:00 UTC on March 31
			name:   "positive offset crosses the month early",
			now:    time.Date(2024, 3, 31, 14, 0, 0, 0, time.UTC),
			offset: kst,
			want:   time.Date(2024, 3, 31, 15, 0, 0, 0, time.UTC),
		},
		{
			name:   "positive offset after the local first",
			now:    time.Date(2024, 3, 31, 16, 0, 0, 0, time.UTC),
			offset: kst,
			want:   time.Date(2024, 4, 30, 15, 0, 0, 0, time.UTC),
		},
		{
			name:   "negative offset",
			now:    time.Date(2024, 3, 1, 3, 0, 0, 0, time.UTC),
			offset: -7 * time.Hour,
			want:   time.Date(2024, 3, 1, 7, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextMonthlyRun(tt.now, tt.offset, tt.hour, tt.minute)
			assert.True(t, tt.want.Equal(got), "want %s, got %s", tt.want, got)
			assert.True(t, got.After(tt.now))
		})
	}
}

func TestNextMonthlyRunLandsInNewPeriod(t *testing.T) {
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	next := NextMonthlyRun(now, kst, 0, 0)

	assert.Equal(t, domain.Period{Year: 2024, Month: 4}, domain.PeriodOf(next, kst))
	assert.Equal(t, domain.Period{Year: 2024, Month: 3}, domain.PeriodOf(next.Add(-time.Second), kst))
}

type countingGranter struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (g *countingGranter) GrantPrevious(ctx context.Context) (*service.GrantResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if _, ok := ctx.Deadline(); !ok {
		return nil, errors.New("grant run without deadline")
	}
	if g.err != nil {
		return nil, g.err
	}
	return &service.GrantResult{Period: "2024-02"}, nil
}

func (g *countingGranter) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type countingCleaner struct {
	mu    sync.Mutex
	calls int
}

func (c *countingCleaner) Cleanup(context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return 1, nil
}

func (c *countingCleaner) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func testScheduleConfig() *config.ScheduleConfig {
	return &config.ScheduleConfig{
		Enabled:          true,
		PresenceInterval: 10 * time.Millisecond,
		PresenceStale:    time.Minute,
		RunTimeout:       time.Second,
	}
}

func TestSchedulerRunsPresenceTicks(t *testing.T) {
	granter := &countingGranter{}
	cleaner := &countingCleaner{}
	s := NewScheduler(granter, cleaner, testScheduleConfig(), kst, discardLogger())

	require.NoError(t, s.Start(context.Background()))
	assert.True(t, s.IsRunning())

	assert.Eventually(t, func() bool { return cleaner.count() >= 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Stop())
	assert.False(t, s.IsRunning())
	assert.Zero(t, granter.count())
}

func TestSchedulerStopWithoutStart(t *testing.T) {
	s := NewScheduler(&countingGranter{}, &countingCleaner{}, testScheduleConfig(), kst, discardLogger())
	assert.NoError(t, s.Stop())
}

func TestSchedulerRestartsAfterStop(t *testing.T) {
	cleaner := &countingCleaner{}
	s := NewScheduler(&countingGranter{}, cleaner, testScheduleConfig(), kst, discardLogger())

	for round := 1; round <= 3; round++ {
		before := cleaner.count()
		require.NoError(t, s.Start(context.Background()))
		require.NoError(t, s.Start(context.Background()), "second Start is a no-op")
		assert.Eventually(t, func() bool { return cleaner.count() > before }, time.Second, 5*time.Millisecond, "round %d", round)

		require.NoError(t, s.Stop())
		require.NoError(t, s.Stop(), "second Stop is a no-op")
		assert.False(t, s.IsRunning())
	}
}

func TestSchedulerStopAfterContextCancel(t *testing.T) {
	s := NewScheduler(&countingGranter{}, &countingCleaner{}, testScheduleConfig(), kst, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, s.Start(ctx))
	cancel()
	require.NoError(t, s.Stop())
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Stop())
}

func TestRunGrantOnceSurvivesFailure(t *testing.T) {
	granter := &countingGranter{err: errors.New("db down")}
	s := NewScheduler(granter, &countingCleaner{}, testScheduleConfig(), kst, discardLogger())

	s.RunGrantOnce(context.Background())
	s.RunGrantOnce(context.Background())

	assert.Equal(t, 2, granter.count())
}

type memEntries struct {
	entries map[domain.Period][]domain.RankingEntry
	err     error
}

func (m *memEntries) AllEntries(_ context.Context, period domain.Period) ([]domain.RankingEntry, error) {
	return m.entries[period], m.err
}

type memBoard struct {
	rebuilt map[domain.Period][]domain.RankingEntry
}

func (m *memBoard) Rebuild(_ context.Context, period domain.Period, entries []domain.RankingEntry) error {
	m.rebuilt[period] = entries
	return nil
}

func TestBoardSyncCurrent(t *testing.T) {
	march := domain.Period{Year: 2024, Month: 3}
	source := &memEntries{entries: map[domain.Period][]domain.RankingEntry{
		march: {{UserID: "u1", ElapsedSeconds: 10}, {UserID: "u2", ElapsedSeconds: 20}},
	}}
	board := &memBoard{rebuilt: map[domain.Period][]domain.RankingEntry{}}

	s := NewBoardSync(source, board, kst, discardLogger())
	s.now = func() time.Time { return time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC) }

	require.NoError(t, s.SyncCurrent(context.Background()))
	assert.Len(t, board.rebuilt[march], 2)
}

func TestBoardSyncSourceError(t *testing.T) {
	source := &memEntries{err: errors.New("db down")}
	board := &memBoard{rebuilt: map[domain.Period][]domain.RankingEntry{}}

	s := NewBoardSync(source, board, kst, discardLogger())
	err := s.SyncPeriod(context.Background(), domain.Period{Year: 2024, Month: 3})

	require.Error(t, err)
	assert.Empty(t, board.rebuilt)
}
