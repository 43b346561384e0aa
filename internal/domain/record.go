package domain

import "time"

// PracticeRecord is one submitted practice attempt.
type PracticeRecord struct {
	UserID         string  `json:"user_id"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
	SuccessRate    float64 `json:"success_rate"`
	AvgAttempts    float64 `json:"avg_attempts"`
}

// Validate checks the record against the ingestion bounds
func (r PracticeRecord) Validate() error {
	if r.UserID == "" ||
		r.ElapsedSeconds <= 0 ||
		r.SuccessRate < 0 || r.SuccessRate > 1 ||
		r.AvgAttempts <= 0 {
		return ErrInvalidRecord
	}
	return nil
}

// RankingEntry is the best known record of one user within one period.
type RankingEntry struct {
	Rank           int       `json:"rank,omitempty"`
	UserID         string    `json:"user_id"`
	DisplayName    string    `json:"display_name"`
	ElapsedSeconds float64   `json:"elapsed_seconds"`
	SuccessRate    float64   `json:"success_rate"`
	AvgAttempts    float64   `json:"avg_attempts"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ShouldReplace reports whether candidate beats the existing entry.
// Lower elapsed time wins; at equal elapsed time the higher success rate wins.
// A full tie keeps the existing entry.
func ShouldReplace(candidate PracticeRecord, existing *RankingEntry) bool {
	if existing == nil {
		return true
	}
	if candidate.ElapsedSeconds < existing.ElapsedSeconds {
		return true
	}
	return candidate.ElapsedSeconds == existing.ElapsedSeconds &&
		candidate.SuccessRate > existing.SuccessRate
}

// NewEntry builds the entry snapshot written for a winning record.
func NewEntry(rec PracticeRecord, profile *Profile, now time.Time) RankingEntry {
	return RankingEntry{
		UserID:         rec.UserID,
		DisplayName:    profile.DisplayName,
		ElapsedSeconds: rec.ElapsedSeconds,
		SuccessRate:    rec.SuccessRate,
		AvgAttempts:    rec.AvgAttempts,
		UpdatedAt:      now,
	}
}
