package models

import (
	"time"

	"gorm.io/datatypes"
)

type ChallengeType string

const (
	ChallengeTypeDaily   ChallengeType = "daily"
	ChallengeTypeWeekly  ChallengeType = "weekly"
	ChallengeTypeSpecial ChallengeType = "special"
)

// Valid reports whether t is a known challenge type.
func (t ChallengeType) Valid() bool {
	switch t {
	case ChallengeTypeDaily, ChallengeTypeWeekly, ChallengeTypeSpecial:
		return true
	}
	return false
}

type ChallengeDifficulty string

const (
	DifficultyEasy   ChallengeDifficulty = "easy"
	DifficultyMedium ChallengeDifficulty = "medium"
	DifficultyHard   ChallengeDifficulty = "hard"
)

// ChallengeRequirement is the action a user must repeat TargetCount times.
type ChallengeRequirement struct {
	Action      string `gorm:"type:varchar(64);not null;index" json:"action"`
	TargetCount int    `gorm:"not null" json:"target_count"`
}

// ChallengeReward is granted once per user on claim.
type ChallengeReward struct {
	XP    int64   `gorm:"not null" json:"xp"`
	Badge *string `gorm:"type:varchar(64)" json:"badge,omitempty"`
	Title *string `gorm:"type:varchar(64)" json:"title,omitempty"`
}

// Challenge is a time-boxed goal. Rows are deactivated, never deleted.
type Challenge struct {
	ID          string              `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Slug        string              `gorm:"uniqueIndex;not null" json:"slug"`
	Title       string              `gorm:"not null" json:"title"`
	Description string              `gorm:"type:text" json:"description"`
	Type        ChallengeType       `gorm:"type:varchar(16);not null;index" json:"type"`
	Category    string              `gorm:"type:varchar(32)" json:"category"`
	Difficulty  ChallengeDifficulty `gorm:"type:varchar(16)" json:"difficulty"`

	Requirement ChallengeRequirement `gorm:"embedded;embeddedPrefix:requirement_" json:"requirement"`
	Reward      ChallengeReward      `gorm:"embedded;embeddedPrefix:reward_" json:"reward"`

	StartAt time.Time `gorm:"not null;index" json:"start_at"`
	EndAt   time.Time `gorm:"not null;index" json:"end_at"`

	IsActive           bool `gorm:"not null;index" json:"is_active"`
	MaxCompletions     *int `json:"max_completions,omitempty"`
	CurrentCompletions int  `gorm:"not null" json:"current_completions"`

	Generated bool   `gorm:"not null" json:"generated"`
	CreatedBy string `gorm:"type:varchar(64)" json:"created_by,omitempty"`

	Timestamps
}

// InWindow reports whether t falls inside [StartAt, EndAt].
func (c *Challenge) InWindow(t time.Time) bool {
	return !t.Before(c.StartAt) && !t.After(c.EndAt)
}

// UserChallengeProgress is one user's progress on one challenge.
type UserChallengeProgress struct {
	ID          string `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID      string `gorm:"not null;uniqueIndex:idx_progress_user_challenge,priority:1" json:"user_id"`
	ChallengeID string `gorm:"not null;uniqueIndex:idx_progress_user_challenge,priority:2;index" json:"challenge_id"`

	Progress    int `gorm:"not null" json:"progress"`
	TargetCount int `gorm:"not null" json:"target_count"` // snapshot taken at creation

	Completed     bool       `gorm:"not null;index" json:"completed"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	ClaimedReward bool       `gorm:"not null;index" json:"claimed_reward"`
	ClaimedAt     *time.Time `json:"claimed_at,omitempty"`

	// RewardCredited flips in the same transaction as the ledger credit.
	RewardCredited bool    `gorm:"not null;index" json:"reward_credited"`
	RewardTxID     *string `gorm:"type:varchar(36)" json:"reward_tx_id,omitempty"`

	LastMetadata datatypes.JSONMap `json:"last_metadata,omitempty"`
	LastEventID  *string           `gorm:"type:varchar(128)" json:"-"` // last report applied, for replays
	StartedAt    time.Time         `gorm:"not null" json:"started_at"`

	Challenge *Challenge `gorm:"foreignKey:ChallengeID" json:"challenge,omitempty"`

	Timestamps
}

func (UserChallengeProgress) TableName() string {
	return "user_challenge_progress"
}
