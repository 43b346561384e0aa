package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/practice-ranking/internal/domain"
)

var errStoreDown = errors.New("store unavailable")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// memStore is an in-memory RankingStore, ProfileStore, BadgeStore and ClaimStore
type memStore struct {
	mu        sync.Mutex
	grantMu   sync.Mutex
	entries   map[string]map[string]domain.RankingEntry
	profiles  map[string]*domain.Profile
	claims    map[string]domain.Claims
	writes    int
	commits   int
	failTop   error
	failList  error
	failBatch error
	failWrite error
	// onList runs at the start of every profile listing, outside mu
	onList func()
}

func newMemStore() *memStore {
	return &memStore{
		entries:  make(map[string]map[string]domain.RankingEntry),
		profiles: make(map[string]*domain.Profile),
		claims:   make(map[string]domain.Claims),
	}
}

func (m *memStore) addProfile(userID, name string, badges map[string]bool, summary string) {
	if badges == nil {
		badges = make(map[string]bool)
	}
	m.profiles[userID] = &domain.Profile{UserID: userID, DisplayName: name, Badges: badges, LastBadgeSummary: summary}
}

func (m *memStore) putEntry(period domain.Period, entry domain.RankingEntry) {
	if m.entries[period.ID()] == nil {
		m.entries[period.ID()] = make(map[string]domain.RankingEntry)
	}
	m.entries[period.ID()][entry.UserID] = entry
}

func (m *memStore) UpdateEntry(_ context.Context, period domain.Period, userID string, decide func(*domain.RankingEntry) *domain.RankingEntry) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrite != nil {
		return false, m.failWrite
	}

	var existing *domain.RankingEntry
	if e, ok := m.entries[period.ID()][userID]; ok {
		existing = &e
	}
	next := decide(existing)
	if next == nil {
		return false, nil
	}
	m.putEntry(period, *next)
	m.writes++
	return true, nil
}

func (m *memStore) GetEntry(_ context.Context, period domain.Period, userID string) (*domain.RankingEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[period.ID()][userID]
	if !ok {
		return nil, domain.ErrEntryNotFound
	}
	return &e, nil
}

func (m *memStore) TopEntries(_ context.Context, period domain.Period, limit int) ([]domain.RankingEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failTop != nil {
		return nil, m.failTop
	}

	out := make([]domain.RankingEntry, 0, len(m.entries[period.ID()]))
	for _, e := range m.entries[period.ID()] {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ElapsedSeconds != out[j].ElapsedSeconds {
			return out[i].ElapsedSeconds < out[j].ElapsedSeconds
		}
		return out[i].UserID < out[j].UserID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	for i := range out {
		out[i].Rank = i + 1
	}
	return out, nil
}

func (m *memStore) GetProfile(_ context.Context, userID string) (*domain.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[userID]
	if !ok {
		return nil, domain.ErrProfileNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memStore) UpsertProfile(_ context.Context, userID, displayName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.profiles[userID]; ok {
		p.DisplayName = displayName
		return nil
	}
	m.profiles[userID] = &domain.Profile{UserID: userID, DisplayName: displayName, Badges: map[string]bool{}}
	return nil
}

func (m *memStore) ListProfiles(_ context.Context) ([]domain.Profile, error) {
	if m.onList != nil {
		m.onList()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failList != nil {
		return nil, m.failList
	}
	out := make([]domain.Profile, 0, len(m.profiles))
	for _, p := range m.profiles {
		cp := *p
		cp.Badges = make(map[string]bool, len(p.Badges))
		for k, v := range p.Badges {
			cp.Badges[k] = v
		}
		out = append(out, cp)
	}
	return out, nil
}

func (m *memStore) RunGrant(ctx context.Context, period domain.Period, topN int, plan domain.GrantPlanner) error {
	m.grantMu.Lock()
	defer m.grantMu.Unlock()

	top, err := m.TopEntries(ctx, period, topN)
	if err != nil {
		return err
	}
	profiles, err := m.ListProfiles(ctx)
	if err != nil {
		return err
	}
	batch := plan(top, profiles)
	if batch == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failBatch != nil {
		return m.failBatch
	}
	batch.Apply(m.profiles)
	m.commits++
	return nil
}

func (m *memStore) SetClaim(_ context.Context, userID, key string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.claims[userID] == nil {
		m.claims[userID] = make(domain.Claims)
	}
	m.claims[userID][key] = value
	return nil
}

func (m *memStore) GetClaims(_ context.Context, userID string) (domain.Claims, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.claims[userID], nil
}

// snapshot returns a deep copy of every profile's badge state
func (m *memStore) snapshot() map[string]domain.Profile {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]domain.Profile, len(m.profiles))
	for id, p := range m.profiles {
		cp := *p
		cp.Badges = make(map[string]bool, len(p.Badges))
		for k, v := range p.Badges {
			cp.Badges[k] = v
		}
		out[id] = cp
	}
	return out
}

type recordingBoard struct {
	mu      sync.Mutex
	entries []domain.RankingEntry
	fail    error
}

func (b *recordingBoard) SetEntry(_ context.Context, _ domain.Period, entry domain.RankingEntry) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail != nil {
		return b.fail
	}
	b.entries = append(b.entries, entry)
	return nil
}

func (b *recordingBoard) Top(_ context.Context, _ domain.Period, n int) ([]domain.RankingEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail != nil {
		return nil, b.fail
	}
	if n > len(b.entries) {
		n = len(b.entries)
	}
	return b.entries[:n], nil
}

type recordingNotifier struct {
	mu      sync.Mutex
	entries []domain.RankingEntry
	grants  []GrantResult
}

func (n *recordingNotifier) BroadcastEntry(_ domain.Period, entry domain.RankingEntry) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.entries = append(n.entries, entry)
}

func (n *recordingNotifier) BroadcastGrant(_ domain.Period, result GrantResult) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.grants = append(n.grants, result)
}
