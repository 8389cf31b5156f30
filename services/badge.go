package services

import (
	"context"
	"time"

	"member-progression/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// grantUnlock records that userID holds code. Granting twice is a no-op.
func grantUnlock(tx *gorm.DB, userID string, kind models.UnlockKind, code string, source models.XPSource, sourceID string, now time.Time) error {
	u := models.UserUnlock{
		ID:        uuid.NewString(),
		UserID:    userID,
		Kind:      kind,
		Code:      code,
		Source:    source,
		SourceID:  sourceID,
		GrantedAt: now,
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "kind"}, {Name: "code"}},
		DoNothing: true,
	}).Create(&u).Error
}

func grantLevelUnlocks(tx *gorm.DB, userID string, r models.LevelRewards, now time.Time) error {
	sourceID := levelSourceID(r.Level)
	for _, group := range []struct {
		kind  models.UnlockKind
		codes []string
	}{
		{models.UnlockBadge, r.Badges},
		{models.UnlockTitle, r.Titles},
		{models.UnlockCosmetic, r.Cosmetics},
	} {
		for _, code := range group.codes {
			if err := grantUnlock(tx, userID, group.kind, code, models.XPSourceLevelUp, sourceID, now); err != nil {
				return err
			}
		}
	}
	return nil
}

func grantChallengeUnlocks(tx *gorm.DB, userID string, c *models.Challenge, now time.Time) error {
	if c.Reward.Badge != nil && *c.Reward.Badge != "" {
		if err := grantUnlock(tx, userID, models.UnlockBadge, *c.Reward.Badge, models.XPSourceChallengeComplete, c.ID, now); err != nil {
			return err
		}
	}
	if c.Reward.Title != nil && *c.Reward.Title != "" {
		if err := grantUnlock(tx, userID, models.UnlockTitle, *c.Reward.Title, models.XPSourceChallengeComplete, c.ID, now); err != nil {
			return err
		}
	}
	return nil
}

// Unlocks lists everything the user holds, oldest first.
func (l *XPLedger) Unlocks(ctx context.Context, userID string) ([]models.UserUnlock, error) {
	var unlocks []models.UserUnlock
	err := l.DB.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("granted_at ASC").Order("code ASC").
		Find(&unlocks).Error
	if err != nil {
		return nil, storageError("ledger.Unlocks", err)
	}
	return unlocks, nil
}
