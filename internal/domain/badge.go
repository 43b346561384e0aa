package domain

import (
	"fmt"
	"sort"
	"strings"
)

// MonthlyBadgePrefix tags every badge key owned by the monthly grant cycle.
const MonthlyBadgePrefix = "monthly_"

// BadgeTiers maps rank (index+1) to tier name, highest first.
var BadgeTiers = []string{
	"champion",
	"grandmaster",
	"master",
	"diamond_1",
	"diamond_2",
	"diamond_3",
	"platinum_1",
	"platinum_2",
	"platinum_3",
	"gold_1",
	"gold_2",
	"gold_3",
}

// TierForRank returns the tier for a 1-based rank. Ranks past the table get none.
func TierForRank(rank int) (string, bool) {
	if rank < 1 || rank > len(BadgeTiers) {
		return "", false
	}
	return BadgeTiers[rank-1], true
}

// BadgeKey returns the key granted for rank within the period.
func BadgeKey(p Period, rank int) (string, bool) {
	tier, ok := TierForRank(rank)
	if !ok {
		return "", false
	}
	return p.BadgePrefix() + "_" + tier, true
}

// BadgeSummary is the human readable "last badge" message for a grant.
func BadgeSummary(p Period, rank int) string {
	return fmt.Sprintf("%s rank %d", p.Label(), rank)
}

// BadgeOpKind enumerates the single-key operations of a grant cycle.
type BadgeOpKind int

const (
	OpDeleteBadge BadgeOpKind = iota
	OpSetBadge
	OpDeleteSummary
	OpSetSummary
)

func (k BadgeOpKind) String() string {
	switch k {
	case OpDeleteBadge:
		return "delete_badge"
	case OpSetBadge:
		return "set_badge"
	case OpDeleteSummary:
		return "delete_summary"
	case OpSetSummary:
		return "set_summary"
	}
	return "unknown"
}

// BadgeOp is one staged profile mutation.
type BadgeOp struct {
	Kind        BadgeOpKind
	UserID      string
	Key         string
	Summary     string
	DisplayName string
}

// BadgeBatch stages the mutations of one grant cycle so they can be applied atomically.
type BadgeBatch struct {
	Period Period
	ops    []BadgeOp
}

// NewBadgeBatch creates an empty batch for the period
func NewBadgeBatch(p Period) *BadgeBatch {
	return &BadgeBatch{Period: p}
}

func (b *BadgeBatch) DeleteBadge(userID, key string) {
	b.ops = append(b.ops, BadgeOp{Kind: OpDeleteBadge, UserID: userID, Key: key})
}

func (b *BadgeBatch) SetBadge(userID, displayName, key string) {
	b.ops = append(b.ops, BadgeOp{Kind: OpSetBadge, UserID: userID, Key: key, DisplayName: displayName})
}

func (b *BadgeBatch) DeleteSummary(userID string) {
	b.ops = append(b.ops, BadgeOp{Kind: OpDeleteSummary, UserID: userID})
}

func (b *BadgeBatch) SetSummary(userID, displayName, summary string) {
	b.ops = append(b.ops, BadgeOp{Kind: OpSetSummary, UserID: userID, Summary: summary, DisplayName: displayName})
}

// Ops returns the staged operations in application order.
func (b *BadgeBatch) Ops() []BadgeOp {
	return b.ops
}

// Len returns the number of staged operations
func (b *BadgeBatch) Len() int {
	return len(b.ops)
}

// Count returns how many staged operations have the given kind.
func (b *BadgeBatch) Count(kind BadgeOpKind) int {
	n := 0
	for _, op := range b.ops {
		if op.Kind == kind {
			n++
		}
	}
	return n
}

// Apply replays the batch onto in-memory profiles keyed by user id.
// Missing profiles are created, mirroring the store's merge semantics.
func (b *BadgeBatch) Apply(profiles map[string]*Profile) {
	for _, op := range b.ops {
		p, ok := profiles[op.UserID]
		if !ok {
			p = &Profile{UserID: op.UserID, DisplayName: op.DisplayName}
			profiles[op.UserID] = p
		}
		if p.Badges == nil {
			p.Badges = make(map[string]bool)
		}
		switch op.Kind {
		case OpDeleteBadge:
			delete(p.Badges, op.Key)
		case OpSetBadge:
			p.Badges[op.Key] = true
		case OpDeleteSummary:
			p.LastBadgeSummary = ""
		case OpSetSummary:
			p.LastBadgeSummary = op.Summary
		}
	}
}

// GrantPlanner turns the top entries of a period and every profile into the
// staged operations of one grant cycle. A nil batch commits nothing.
type GrantPlanner func(top []RankingEntry, profiles []Profile) *BadgeBatch

type grant struct {
	rank  int
	entry RankingEntry
	key   string
}

// PlanGrant builds the sweep and grant operations for a closed period.
//
// top must already be ordered best first. After the batch is applied every
// profile holds exactly the monthly badge matching its rank in top (if any),
// and no monthly badge of another period. Operations for state that already
// matches are omitted, so planning against the result of a previous run
// yields an empty batch.
func PlanGrant(p Period, top []RankingEntry, profiles []Profile) *BadgeBatch {
	batch := NewBadgeBatch(p)

	grants := make(map[string]grant, len(top))
	order := make([]string, 0, len(top))
	for i, entry := range top {
		key, ok := BadgeKey(p, i+1)
		if !ok {
			break
		}
		if _, dup := grants[entry.UserID]; dup {
			continue
		}
		grants[entry.UserID] = grant{rank: i + 1, entry: entry, key: key}
		order = append(order, entry.UserID)
	}

	sorted := make([]Profile, len(profiles))
	copy(sorted, profiles)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].UserID < sorted[j].UserID })

	byUser := make(map[string]*Profile, len(sorted))
	for i := range sorted {
		prof := &sorted[i]
		byUser[prof.UserID] = prof
		g, granted := grants[prof.UserID]

		keys := make([]string, 0, len(prof.Badges))
		for key := range prof.Badges {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			if !strings.HasPrefix(key, MonthlyBadgePrefix) {
				continue
			}
			if granted && key == g.key {
				continue
			}
			batch.DeleteBadge(prof.UserID, key)
		}

		if !granted && prof.LastBadgeSummary != "" && !strings.Contains(prof.LastBadgeSummary, p.Label()) {
			batch.DeleteSummary(prof.UserID)
		}
	}

	for _, userID := range order {
		g := grants[userID]
		summary := BadgeSummary(p, g.rank)
		prof := byUser[userID]
		if prof == nil || !prof.Badges[g.key] {
			batch.SetBadge(userID, g.entry.DisplayName, g.key)
		}
		if prof == nil || prof.LastBadgeSummary != summary {
			batch.SetSummary(userID, g.entry.DisplayName, summary)
		}
	}

	return batch
}
