package models

import (
	"time"
)

// UnlockKind is the type of cosmetic unlock a user can hold.
type UnlockKind string

const (
	UnlockBadge    UnlockKind = "badge"
	UnlockTitle    UnlockKind = "title"
	UnlockCosmetic UnlockKind = "cosmetic"
)

// UserUnlock: a badge, title or cosmetic granted to a user (level-up or challenge claim).
// Granting is idempotent on (user, kind, code).
type UserUnlock struct {
	ID        string     `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID    string     `gorm:"not null;uniqueIndex:idx_unlock_user_kind_code,priority:1" json:"user_id"`
	Kind      UnlockKind `gorm:"type:varchar(16);not null;uniqueIndex:idx_unlock_user_kind_code,priority:2" json:"kind"`
	Code      string     `gorm:"type:varchar(64);not null;uniqueIndex:idx_unlock_user_kind_code,priority:3" json:"code"`
	Source    XPSource   `gorm:"type:varchar(48);not null" json:"source"` // level up rewards use "level_up"
	SourceID  string     `gorm:"type:varchar(128)" json:"source_id,omitempty"`
	GrantedAt time.Time  `gorm:"not null" json:"granted_at"`
}

// XPSourceLevelUp tags unlocks granted by the level reward table. It never appears on a ledger line.
const XPSourceLevelUp XPSource = "level_up"
