package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/practice-ranking/internal/domain"
)

// PresenceService maintains the online users registry
type PresenceService struct {
	registry PresenceRegistry
	stale    time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewPresenceService creates a presence service; users unseen for longer than stale are dropped
func NewPresenceService(registry PresenceRegistry, stale time.Duration, logger *slog.Logger) *PresenceService {
	return &PresenceService{
		registry: registry,
		stale:    stale,
		logger:   logger,
		now:      time.Now,
	}
}

// SetClock overrides the time source
func (s *PresenceService) SetClock(now func() time.Time) {
	s.now = now
}

// Heartbeat marks the user as online now
func (s *PresenceService) Heartbeat(ctx context.Context, userID string) error {
	if userID == "" {
		return domain.ErrInvalidRequest
	}
	return s.registry.Touch(ctx, userID, s.now())
}

// Online lists users seen within the stale window
func (s *PresenceService) Online(ctx context.Context) ([]string, error) {
	return s.registry.Online(ctx, s.now().Add(-s.stale))
}

// Cleanup removes users not seen within the stale window
func (s *PresenceService) Cleanup(ctx context.Context) (int64, error) {
	removed, err := s.registry.RemoveStale(ctx, s.now().Add(-s.stale))
	if err != nil {
		return 0, fmt.Errorf("cleaning up presence: %w", err)
	}
	if removed == 0 {
		s.logger.Debug("no stale online users to clean up")
	} else {
		s.logger.Info("cleaned up stale online users", "removed", removed)
	}
	return removed, nil
}
