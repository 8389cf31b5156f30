package models

import (
	"time"

	"gorm.io/datatypes"
)

// LeaderboardEntry is one ranked row of the XP leaderboard.
type LeaderboardEntry struct {
	Rank    int64  `json:"rank"`
	UserID  string `json:"user_id"`
	TotalXP int64  `json:"total_xp"`
	Level   int    `json:"level"`
}

// LeaderboardSnapshot freezes the top of the XP leaderboard once per calendar day.
type LeaderboardSnapshot struct {
	ID        string                                `gorm:"primaryKey;type:varchar(36)" json:"id"`
	TakenOn   string                                `gorm:"type:varchar(10);uniqueIndex;not null" json:"taken_on"` // YYYY-MM-DD
	Entries   datatypes.JSONSlice[LeaderboardEntry] `json:"entries"`
	ObjectKey string                                `gorm:"type:text" json:"object_key,omitempty"` // set once archived to object storage
	CreatedAt time.Time                             `gorm:"autoCreateTime" json:"created_at"`
}
