package models

import (
	"time"

	"gorm.io/datatypes"
)

// StreakRecord is the per-user daily check-in state.
type StreakRecord struct {
	ID     string `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID string `gorm:"uniqueIndex;not null" json:"user_id"`

	CurrentStreak int        `gorm:"not null;index" json:"current_streak"`
	LongestStreak int        `gorm:"not null;index" json:"longest_streak"`
	LastCheckIn   *time.Time `gorm:"index" json:"last_check_in,omitempty"`
	TotalCheckIns int        `gorm:"not null" json:"total_check_ins"`

	// History keeps the most recent days only; Milestones is permanent.
	History    datatypes.JSONSlice[StreakDay]       `json:"history"`
	Milestones datatypes.JSONSlice[StreakMilestone] `json:"milestones"`

	Version int64 `gorm:"not null" json:"-"`

	Timestamps
}

// StreakDay is one check-in entry.
type StreakDay struct {
	Date        string    `json:"date"` // YYYY-MM-DD in the tracker's calendar
	Streak      int       `json:"streak"`
	XPEarned    int64     `json:"xp_earned"`
	CheckedInAt time.Time `json:"checked_in_at"`
}

// StreakMilestone marks a streak length that has been rewarded.
type StreakMilestone struct {
	Days       int       `json:"days"`
	XP         int64     `json:"xp"`
	AchievedAt time.Time `json:"achieved_at"`
}

// HasMilestone reports whether the given streak length was already rewarded.
func (r *StreakRecord) HasMilestone(days int) bool {
	for _, m := range r.Milestones {
		if m.Days == days {
			return true
		}
	}
	return false
}
