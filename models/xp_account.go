package models

import (
	"time"

	"gorm.io/datatypes"
)

// XPSource tags where a ledger credit came from.
type XPSource string

const (
	XPSourceManual            XPSource = "manual"
	XPSourceLogin             XPSource = "login"
	XPSourceProfileComplete   XPSource = "profile_complete"
	XPSourceAchievement       XPSource = "achievement_unlock"
	XPSourceStreakCheckIn     XPSource = "streak_checkin"
	XPSourceChallengeComplete XPSource = "challenge_complete"
	XPSourceAction            XPSource = "action"
)

// XPAccount is the per-user progression state (denormalized for reads).
// History lives in xp_transactions and level unlocks in xp_milestones.
type XPAccount struct {
	ID     string `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID string `gorm:"uniqueIndex;not null" json:"user_id"` // links to profile service

	TotalXP       int64   `gorm:"not null;index" json:"total_xp"`
	CurrentXP     int64   `gorm:"not null" json:"current_xp"`
	Level         int     `gorm:"not null" json:"level"`
	XPToNextLevel int64   `gorm:"not null" json:"xp_to_next_level"`
	Multiplier    float64 `gorm:"not null" json:"multiplier"`

	LastLevelUpAt *time.Time `json:"last_level_up_at,omitempty"`

	// Version guards every write: UPDATE ... WHERE version = ?
	Version int64 `gorm:"not null" json:"-"`

	Timestamps
}

// XPTransaction is one immutable ledger line.
type XPTransaction struct {
	ID           string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID       string    `gorm:"not null;index:idx_xp_tx_user_created,priority:1;index:idx_xp_tx_user_source,priority:1" json:"user_id"`
	Amount       int64     `gorm:"not null" json:"amount"`      // finalized, after multipliers
	BaseAmount   int64     `gorm:"not null" json:"base_amount"` // as requested by the caller
	Source       XPSource  `gorm:"type:varchar(48);not null;index:idx_xp_tx_user_source,priority:2" json:"source"`
	SourceID     string    `gorm:"type:varchar(128);index:idx_xp_tx_user_source,priority:3" json:"source_id,omitempty"`
	Description  string    `gorm:"type:text" json:"description"`
	Multiplier   float64   `gorm:"not null" json:"multiplier"`
	BalanceAfter int64     `gorm:"not null" json:"balance_after"`
	LevelAfter   int       `gorm:"not null" json:"level_after"`
	CreatedAt    time.Time `gorm:"not null;index:idx_xp_tx_user_created,priority:2" json:"created_at"`
}

// XPMilestone records one unlocked level and what it granted.
type XPMilestone struct {
	ID         string                           `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID     string                           `gorm:"not null;uniqueIndex:idx_xp_milestone_user_level,priority:1" json:"user_id"`
	Level      int                              `gorm:"not null;uniqueIndex:idx_xp_milestone_user_level,priority:2" json:"level"`
	Rewards    datatypes.JSONType[LevelRewards] `json:"rewards"`
	UnlockedAt time.Time                        `gorm:"not null" json:"unlocked_at"`
}

// LevelRewards is the payload granted when a level is reached.
type LevelRewards struct {
	Level     int      `json:"level"`
	Coins     int64    `json:"coins,omitempty"`
	Badges    []string `json:"badges,omitempty"`
	Titles    []string `json:"titles,omitempty"`
	Cosmetics []string `json:"cosmetics,omitempty"`
}

// Empty reports whether the level grants nothing.
func (r LevelRewards) Empty() bool {
	return r.Coins == 0 && len(r.Badges) == 0 && len(r.Titles) == 0 && len(r.Cosmetics) == 0
}

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}
