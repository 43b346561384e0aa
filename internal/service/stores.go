package service

import (
	"context"
	"time"

	"github.com/practice-ranking/internal/domain"
)

// RankingStore persists per-period ranking entries
type RankingStore interface {
	UpdateEntry(ctx context.Context, period domain.Period, userID string, decide func(existing *domain.RankingEntry) *domain.RankingEntry) (bool, error)
	GetEntry(ctx context.Context, period domain.Period, userID string) (*domain.RankingEntry, error)
	TopEntries(ctx context.Context, period domain.Period, limit int) ([]domain.RankingEntry, error)
}

// ProfileStore reads and writes user profiles
type ProfileStore interface {
	GetProfile(ctx context.Context, userID string) (*domain.Profile, error)
	UpsertProfile(ctx context.Context, userID, displayName string) error
}

// BadgeStore runs grant cycles one at a time. The top entries and profiles
// handed to plan are read in the same transaction that applies its batch.
type BadgeStore interface {
	RunGrant(ctx context.Context, period domain.Period, topN int, plan domain.GrantPlanner) error
}

// ClaimStore persists custom auth claims
type ClaimStore interface {
	SetClaim(ctx context.Context, userID, key string, value any) error
	GetClaims(ctx context.Context, userID string) (domain.Claims, error)
}

// Board is the realtime mirror of the open period
type Board interface {
	SetEntry(ctx context.Context, period domain.Period, entry domain.RankingEntry) error
	Top(ctx context.Context, period domain.Period, n int) ([]domain.RankingEntry, error)
}

// PresenceRegistry tracks last-seen times of online users
type PresenceRegistry interface {
	Touch(ctx context.Context, userID string, at time.Time) error
	Online(ctx context.Context, since time.Time) ([]string, error)
	RemoveStale(ctx context.Context, cutoff time.Time) (int64, error)
}

// Notifier pushes ranking events to live subscribers
type Notifier interface {
	BroadcastEntry(period domain.Period, entry domain.RankingEntry)
	BroadcastGrant(period domain.Period, result GrantResult)
}
