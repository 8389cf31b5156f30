package models

import "gorm.io/gorm"

// AutoMigrate creates or updates every progression table.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&XPAccount{},
		&XPTransaction{},
		&XPMilestone{},
		&UserUnlock{},
		&StreakRecord{},
		&Challenge{},
		&UserChallengeProgress{},
		&LeaderboardSnapshot{},
	)
}
