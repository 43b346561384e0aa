package service

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/practice-ranking/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	feb2024   = domain.Period{Year: 2024, Month: time.February}
	march2024 = domain.Period{Year: 2024, Month: time.March}
	// 2024-04-01 00:05 KST
	aprilFirst = time.Date(2024, 3, 31, 15, 5, 0, 0, time.UTC)
)

func newGranter(store *memStore) *BadgeGranter {
	g := NewBadgeGranter(store, 12, kst, discardLogger())
	g.SetClock(fixedClock(aprilFirst))
	return g
}

func seedPeriod(store *memStore, period domain.Period, n int) {
	for i := 1; i <= n; i++ {
		id := fmt.Sprintf("user%02d", i)
		if _, ok := store.profiles[id]; !ok {
			store.addProfile(id, "name"+id, nil, "")
		}
		store.putEntry(period, domain.RankingEntry{
			UserID:         id,
			DisplayName:    "name" + id,
			ElapsedSeconds: float64(20 + i),
			SuccessRate:    1,
		})
	}
}

func monthlyKeys(p domain.Profile) []string {
	var keys []string
	for key := range p.Badges {
		if strings.HasPrefix(key, domain.MonthlyBadgePrefix) {
			keys = append(keys, key)
		}
	}
	return keys
}

func TestGrantPreviousTargetsClosedPeriod(t *testing.T) {
	store := newMemStore()
	seedPeriod(store, march2024, 15)
	store.addProfile("veteran", "Vet", map[string]bool{"monthly_2024_02_champion": true, "first_login": true}, "2024 02 rank 1")

	result, err := newGranter(store).GrantPrevious(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "2024-03", result.Period)
	assert.Equal(t, 12, result.Entries)
	assert.Equal(t, 12, result.Granted)
	assert.Equal(t, 1, result.Revoked)
	assert.Equal(t, 1, result.SummariesCleared)

	state := store.snapshot()
	holders := 0
	for id, p := range state {
		keys := monthlyKeys(p)
		for _, key := range keys {
			assert.True(t, strings.HasPrefix(key, "monthly_2024_03_"), "%s holds %s", id, key)
		}
		if len(keys) > 0 {
			assert.Len(t, keys, 1)
			holders++
		}
	}
	assert.Equal(t, 12, holders)

	for rank := 1; rank <= 12; rank++ {
		id := fmt.Sprintf("user%02d", rank)
		key, _ := domain.BadgeKey(march2024, rank)
		assert.True(t, state[id].Badges[key], "rank %d", rank)
		assert.Equal(t, fmt.Sprintf("2024 03 rank %d", rank), state[id].LastBadgeSummary)
	}
	for rank := 13; rank <= 15; rank++ {
		assert.Empty(t, monthlyKeys(state[fmt.Sprintf("user%02d", rank)]))
	}

	assert.Equal(t, map[string]bool{"first_login": true}, state["veteran"].Badges)
	assert.Empty(t, state["veteran"].LastBadgeSummary)
}

func TestGrantIsIdempotent(t *testing.T) {
	store := newMemStore()
	seedPeriod(store, march2024, 5)
	store.addProfile("old", "Old", map[string]bool{"monthly_2024_01_master": true}, "2024 01 rank 3")
	granter := newGranter(store)
	ctx := context.Background()

	_, err := granter.GrantFor(ctx, march2024)
	require.NoError(t, err)
	first := store.snapshot()

	second, err := granter.GrantFor(ctx, march2024)
	require.NoError(t, err)
	assert.Equal(t, first, store.snapshot())
	assert.Zero(t, second.Granted)
	assert.Zero(t, second.Revoked)
	assert.Zero(t, second.SummariesSet)
	assert.Zero(t, second.SummariesCleared)
}

func TestGrantEmptyPeriodIsNoOp(t *testing.T) {
	store := newMemStore()
	seedPeriod(store, feb2024, 3)
	_, err := newGranter(store).GrantFor(context.Background(), feb2024)
	require.NoError(t, err)
	before := store.snapshot()
	commits := store.commits

	result, err := newGranter(store).GrantFor(context.Background(), march2024)
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	assert.Equal(t, before, store.snapshot())
	assert.Equal(t, commits, store.commits)
}

func TestGrantNextMonthRevokesPreviousBadges(t *testing.T) {
	store := newMemStore()
	seedPeriod(store, feb2024, 12)
	granter := newGranter(store)
	ctx := context.Background()

	_, err := granter.GrantFor(ctx, feb2024)
	require.NoError(t, err)

	// Only two users practiced in March.
	store.putEntry(march2024, domain.RankingEntry{UserID: "user12", DisplayName: "nameuser12", ElapsedSeconds: 10})
	store.putEntry(march2024, domain.RankingEntry{UserID: "user05", DisplayName: "nameuser05", ElapsedSeconds: 11})

	result, err := granter.GrantFor(ctx, march2024)
	require.NoError(t, err)
	assert.Equal(t, 12, result.Revoked)
	assert.Equal(t, 2, result.Granted)

	state := store.snapshot()
	assert.Equal(t, map[string]bool{"monthly_2024_03_champion": true}, state["user12"].Badges)
	assert.Equal(t, map[string]bool{"monthly_2024_03_grandmaster": true}, state["user05"].Badges)
	assert.Empty(t, state["user01"].Badges)
	assert.Empty(t, state["user01"].LastBadgeSummary)
}

func TestGrantOrdersByElapsedOnly(t *testing.T) {
	store := newMemStore()
	store.addProfile("a", "A", nil, "")
	store.addProfile("b", "B", nil, "")
	store.putEntry(march2024, domain.RankingEntry{UserID: "b", ElapsedSeconds: 30, SuccessRate: 0.1})
	store.putEntry(march2024, domain.RankingEntry{UserID: "a", ElapsedSeconds: 31, SuccessRate: 1.0})

	_, err := newGranter(store).GrantFor(context.Background(), march2024)
	require.NoError(t, err)

	state := store.snapshot()
	assert.True(t, state["b"].Badges["monthly_2024_03_champion"])
	assert.True(t, state["a"].Badges["monthly_2024_03_grandmaster"])
}

func TestGrantFailuresLeaveStateUntouched(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*memStore)
	}{
		{"top read fails", func(m *memStore) { m.failTop = errStoreDown }},
		{"profile listing fails", func(m *memStore) { m.failList = errStoreDown }},
		{"commit fails", func(m *memStore) { m.failBatch = errStoreDown }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			seedPeriod(store, march2024, 4)
			store.addProfile("old", "Old", map[string]bool{"monthly_2024_02_champion": true}, "2024 02 rank 1")
			before := store.snapshot()
			tt.setup(store)

			_, err := newGranter(store).GrantFor(context.Background(), march2024)
			assert.ErrorIs(t, err, errStoreDown)
			assert.Equal(t, before, store.snapshot())
		})
	}
}

func TestGrantBroadcastsResult(t *testing.T) {
	store := newMemStore()
	seedPeriod(store, march2024, 2)
	hub := &recordingNotifier{}
	granter := newGranter(store)
	granter.SetHub(hub)

	_, err := granter.GrantFor(context.Background(), march2024)
	require.NoError(t, err)
	require.Len(t, hub.grants, 1)
	assert.Equal(t, 2, hub.grants[0].Granted)
}

func TestGrantRejectsOpenAndFuturePeriods(t *testing.T) {
	store := newMemStore()
	april := march2024.Next()
	seedPeriod(store, april, 3)
	granter := newGranter(store)

	for _, period := range []domain.Period{april, april.Next()} {
		_, err := granter.GrantFor(context.Background(), period)
		assert.ErrorIs(t, err, domain.ErrInvalidPeriod, period.ID())
	}
	assert.Zero(t, store.commits)
	for _, p := range store.snapshot() {
		assert.Empty(t, p.Badges)
	}
}

func TestConcurrentGrantsApplyOneAfterAnother(t *testing.T) {
	store := newMemStore()
	seedPeriod(store, feb2024, 3)
	seedPeriod(store, march2024, 3)
	granter := newGranter(store)
	ctx := context.Background()

	// While the March cycle is between reading and committing, start a
	// February cycle and give it time to finish if nothing holds it back.
	var started atomic.Bool
	done := make(chan error, 1)
	store.onList = func() {
		if !started.CompareAndSwap(false, true) {
			return
		}
		go func() {
			_, err := granter.GrantFor(ctx, feb2024)
			done <- err
		}()
		time.Sleep(50 * time.Millisecond)
	}

	_, err := granter.GrantFor(ctx, march2024)
	require.NoError(t, err)
	require.NoError(t, <-done)

	holders := 0
	for id, p := range store.snapshot() {
		keys := monthlyKeys(p)
		if len(keys) == 0 {
			continue
		}
		holders++
		require.Len(t, keys, 1, id)
		assert.True(t, strings.HasPrefix(keys[0], "monthly_2024_02_"), "%s holds %s", id, keys[0])
		assert.True(t, strings.HasPrefix(p.LastBadgeSummary, "2024 02 rank "), "%s summary %q", id, p.LastBadgeSummary)
	}
	assert.Equal(t, 3, holders)
	assert.Equal(t, 2, store.commits)
}
