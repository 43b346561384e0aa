package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/practice-ranking/internal/config"
	"github.com/practice-ranking/internal/service"
)

// Granter runs the monthly grant cycle
type Granter interface {
	GrantPrevious(ctx context.Context) (*service.GrantResult, error)
}

// PresenceCleaner drops stale online users
type PresenceCleaner interface {
	Cleanup(ctx context.Context) (int64, error)
}

// Scheduler fires the presence cleanup tick and the monthly grant tick
type Scheduler struct {
	granter  Granter
	presence PresenceCleaner
	config   *config.ScheduleConfig
	offset   time.Duration
	logger   *slog.Logger
	stopCh   chan struct{}
	doneCh   chan struct{}
	mu       sync.Mutex
	running  bool
	now      func() time.Time
}

// NewScheduler creates a new scheduler
func NewScheduler(
	granter Granter,
	presence PresenceCleaner,
	cfg *config.ScheduleConfig,
	offset time.Duration,
	logger *slog.Logger,
) *Scheduler {
	return &Scheduler{
		granter:  granter,
		presence: presence,
		config:   cfg,
		offset:   offset,
		logger:   logger,
		now:      time.Now,
	}
}

// NextMonthlyRun returns the first instant after now that falls on the 1st of
// a civil month at hour:minute, for the given fixed offset.
func NextMonthlyRun(now time.Time, offset time.Duration, hour, minute int) time.Time {
	civil := now.UTC().Add(offset)
	next := time.Date(civil.Year(), civil.Month(), 1, hour, minute, 0, 0, time.UTC)
	if !next.After(civil) {
		next = time.Date(civil.Year(), civil.Month()+1, 1, hour, minute, 0, 0, time.UTC)
	}
	return next.Add(-offset)
}

// Start begins the background schedule
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	// Fresh channels per run so the scheduler can be restarted after Stop.
	stop, done := make(chan struct{}), make(chan struct{})
	s.stopCh, s.doneCh = stop, done
	s.mu.Unlock()

	s.logger.Info("scheduler started",
		"presence_interval", s.config.PresenceInterval,
		"next_grant", s.nextGrant(),
	)

	go s.run(ctx, stop, done)
	return nil
}

// Stop stops the background schedule
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	stop, done := s.stopCh, s.doneCh
	s.mu.Unlock()

	close(stop)
	<-done

	s.logger.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) nextGrant() time.Time {
	return NextMonthlyRun(s.now(), s.offset, s.config.GrantHour, s.config.GrantMinute)
}

// run is the main scheduler loop
func (s *Scheduler) run(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.config.PresenceInterval)
	defer ticker.Stop()

	grantTimer := time.NewTimer(time.Until(s.nextGrant()))
	defer grantTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			s.RunPresenceOnce(ctx)
		case <-grantTimer.C:
			s.RunGrantOnce(ctx)
			grantTimer.Reset(time.Until(s.nextGrant()))
		}
	}
}

// RunPresenceOnce runs one presence cleanup with a bounded timeout
func (s *Scheduler) RunPresenceOnce(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.config.RunTimeout)
	defer cancel()

	if _, err := s.presence.Cleanup(ctx); err != nil {
		s.logger.Error("presence cleanup failed", "error", err)
	}
}

// RunGrantOnce runs one grant cycle with a bounded timeout. A failure is
// logged and left for the next monthly tick or a manual trigger.
func (s *Scheduler) RunGrantOnce(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.config.RunTimeout)
	defer cancel()

	startTime := time.Now()
	result, err := s.granter.GrantPrevious(ctx)
	if err != nil {
		s.logger.Error("monthly grant cycle failed", "error", err)
		return
	}

	s.logger.Info("monthly grant cycle completed",
		"period", result.Period,
		"skipped", result.Skipped,
		"duration", time.Since(startTime),
	)
}

// IsRunning returns whether the scheduler is currently running
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
