package services

import (
	"context"
	"errors"
	"log/slog"

	"member-progression/models"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// RankIndex orders users by total XP, highest first. Ranks are 1-based.
type RankIndex interface {
	Record(ctx context.Context, userID string, totalXP int64) error
	// Rank returns 0 when the user has no account yet.
	Rank(ctx context.Context, userID string) (int64, error)
	Count(ctx context.Context) (int64, error)
	Page(ctx context.Context, offset, limit int) ([]models.LeaderboardEntry, error)
}

// DBRankIndex reads ranks straight from xp_accounts. Ties break on user id.
type DBRankIndex struct {
	DB *gorm.DB
}

func NewDBRankIndex(db *gorm.DB) *DBRankIndex {
	return &DBRankIndex{DB: db}
}

// Record is a no-op: the account row is the index.
func (r *DBRankIndex) Record(context.Context, string, int64) error { return nil }

func (r *DBRankIndex) Rank(ctx context.Context, userID string) (int64, error) {
	var acc models.XPAccount
	err := r.DB.WithContext(ctx).Select("total_xp").Where("user_id = ?", userID).First(&acc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var ahead int64
	err = r.DB.WithContext(ctx).Model(&models.XPAccount{}).
		Where("total_xp > ? OR (total_xp = ? AND user_id < ?)", acc.TotalXP, acc.TotalXP, userID).
		Count(&ahead).Error
	if err != nil {
		return 0, err
	}
	return ahead + 1, nil
}

func (r *DBRankIndex) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.DB.WithContext(ctx).Model(&models.XPAccount{}).Count(&n).Error
	return n, err
}

func (r *DBRankIndex) Page(ctx context.Context, offset, limit int) ([]models.LeaderboardEntry, error) {
	var accounts []models.XPAccount
	err := r.DB.WithContext(ctx).
		Select("user_id", "total_xp", "level").
		Order("total_xp DESC").Order("user_id ASC").
		Offset(offset).Limit(limit).
		Find(&accounts).Error
	if err != nil {
		return nil, err
	}
	entries := make([]models.LeaderboardEntry, len(accounts))
	for i, a := range accounts {
		entries[i] = models.LeaderboardEntry{
			Rank:    int64(offset + i + 1),
			UserID:  a.UserID,
			TotalXP: a.TotalXP,
			Level:   a.Level,
		}
	}
	return entries, nil
}

const redisRankKey = "progression:leaderboard:xp"

// RedisRankIndex keeps total XP in a sorted set. Reads that fail fall back
// to the database index; Rebuild resyncs the set from xp_accounts.
type RedisRankIndex struct {
	Client   *redis.Client
	Fallback *DBRankIndex
	Log      *slog.Logger
}

func NewRedisRankIndex(client *redis.Client, fallback *DBRankIndex, log *slog.Logger) *RedisRankIndex {
	return &RedisRankIndex{Client: client, Fallback: fallback, Log: log.With("component", "rank_index")}
}

// Record only ever raises a score. Totals are monotonic, so a write that
// arrives after a newer one is dropped.
func (r *RedisRankIndex) Record(ctx context.Context, userID string, totalXP int64) error {
	return r.Client.ZAddArgs(ctx, redisRankKey, redis.ZAddArgs{
		GT:      true,
		Members: []redis.Z{{Score: float64(totalXP), Member: userID}},
	}).Err()
}

func (r *RedisRankIndex) Rank(ctx context.Context, userID string) (int64, error) {
	rank, err := r.Client.ZRevRank(ctx, redisRankKey, userID).Result()
	if err == nil {
		return rank + 1, nil
	}
	if !errors.Is(err, redis.Nil) {
		r.Log.Warn("redis rank lookup failed, using database", "user_id", userID, "error", err)
	}
	// a miss may just mean the set has not been rebuilt since the account appeared
	return r.Fallback.Rank(ctx, userID)
}

func (r *RedisRankIndex) Count(ctx context.Context) (int64, error) {
	n, err := r.Client.ZCard(ctx, redisRankKey).Result()
	if err != nil {
		r.Log.Warn("redis count failed, using database", "error", err)
		return r.Fallback.Count(ctx)
	}
	return n, nil
}

func (r *RedisRankIndex) Page(ctx context.Context, offset, limit int) ([]models.LeaderboardEntry, error) {
	members, err := r.Client.ZRevRangeWithScores(ctx, redisRankKey, int64(offset), int64(offset+limit-1)).Result()
	if err != nil {
		r.Log.Warn("redis page failed, using database", "error", err)
		return r.Fallback.Page(ctx, offset, limit)
	}

	entries := make([]models.LeaderboardEntry, 0, len(members))
	ids := make([]string, 0, len(members))
	for i, m := range members {
		id, _ := m.Member.(string)
		ids = append(ids, id)
		entries = append(entries, models.LeaderboardEntry{
			Rank:    int64(offset + i + 1),
			UserID:  id,
			TotalXP: int64(m.Score),
		})
	}
	if len(ids) == 0 {
		return entries, nil
	}

	// the set only holds scores; levels come from the accounts
	var accounts []models.XPAccount
	if err := r.Fallback.DB.WithContext(ctx).Select("user_id", "level").Where("user_id IN ?", ids).Find(&accounts).Error; err != nil {
		return nil, err
	}
	levels := make(map[string]int, len(accounts))
	for _, a := range accounts {
		levels[a.UserID] = a.Level
	}
	for i := range entries {
		entries[i].Level = levels[entries[i].UserID]
	}
	return entries, nil
}

// Rebuild replaces the sorted set with the current account totals.
func (r *RedisRankIndex) Rebuild(ctx context.Context) (int, error) {
	pipe := r.Client.TxPipeline()
	pipe.Del(ctx, redisRankKey)

	count := 0
	var batch []models.XPAccount
	err := r.Fallback.DB.WithContext(ctx).Select("id", "user_id", "total_xp").
		FindInBatches(&batch, 500, func(tx *gorm.DB, _ int) error {
			members := make([]redis.Z, 0, len(batch))
			for _, a := range batch {
				members = append(members, redis.Z{Score: float64(a.TotalXP), Member: a.UserID})
			}
			if len(members) > 0 {
				pipe.ZAdd(ctx, redisRankKey, members...)
			}
			count += len(members)
			return nil
		}).Error
	if err != nil {
		pipe.Discard()
		return 0, err
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return count, nil
}
