package services

import (
	"context"
	"encoding/json"
	"log/slog"

	"member-progression/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ObjectStore receives archived leaderboard snapshots.
type ObjectStore interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
}

// LeaderboardArchiver freezes the top of the XP leaderboard once per day and
// ships a JSON copy to object storage when one is configured.
type LeaderboardArchiver struct {
	DB       *gorm.DB
	Ranks    RankIndex
	Store    ObjectStore // nil disables archiving
	Calendar Calendar
	Now      Clock
	Size     int
	Log      *slog.Logger
}

func NewLeaderboardArchiver(db *gorm.DB, ranks RankIndex, store ObjectStore, cal Calendar, now Clock, size int, log *slog.Logger) *LeaderboardArchiver {
	if size <= 0 {
		size = maxPageSize
	}
	return &LeaderboardArchiver{
		DB:       db,
		Ranks:    ranks,
		Store:    store,
		Calendar: cal,
		Now:      now,
		Size:     size,
		Log:      log.With("component", "leaderboard_archiver"),
	}
}

func snapshotObjectKey(day string) string {
	return "leaderboards/" + day + ".json"
}

// Snapshot stores today's snapshot if it does not exist yet and archives it
// if it has not been archived yet.
func (a *LeaderboardArchiver) Snapshot(ctx context.Context) (*models.LeaderboardSnapshot, error) {
	const op = "leaderboard.Snapshot"
	day := a.Calendar.DayKey(a.Now())

	entries, err := a.Ranks.Page(ctx, 0, a.Size)
	if err != nil {
		return nil, storageError(op, err)
	}
	snap := models.LeaderboardSnapshot{
		ID:      uuid.NewString(),
		TakenOn: day,
		Entries: entries,
	}
	err = a.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "taken_on"}},
		DoNothing: true,
	}).Create(&snap).Error
	if err != nil {
		return nil, storageError(op, err)
	}

	var stored models.LeaderboardSnapshot
	if err := a.DB.WithContext(ctx).Where("taken_on = ?", day).Take(&stored).Error; err != nil {
		return nil, storageError(op, err)
	}
	if a.Store == nil || stored.ObjectKey != "" {
		return &stored, nil
	}

	body, err := json.Marshal(stored)
	if err != nil {
		return nil, storageError(op, err)
	}
	key := snapshotObjectKey(day)
	if err := a.Store.Put(ctx, key, body, "application/json"); err != nil {
		return nil, storageError(op, err)
	}
	if err := a.DB.WithContext(ctx).Model(&models.LeaderboardSnapshot{}).
		Where("id = ?", stored.ID).Update("object_key", key).Error; err != nil {
		return nil, storageError(op, err)
	}
	stored.ObjectKey = key
	a.Log.Info("leaderboard snapshot archived", "day", day, "key", key, "entries", len(stored.Entries))
	return &stored, nil
}
