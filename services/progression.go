package services

import (
	"context"
	"errors"
	"strconv"
	"time"

	"member-progression/models"

	"gorm.io/gorm"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

func normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	return page, limit
}

func totalPages(total int64, limit int) int {
	return int((total + int64(limit) - 1) / int64(limit))
}

func levelSourceID(level int) string {
	return "level-" + strconv.Itoa(level)
}

// AccountView is the caller's XP state as shown on the dashboard.
type AccountView struct {
	UserID          string               `json:"user_id"`
	TotalXP         int64                `json:"total_xp"`
	CurrentXP       int64                `json:"current_xp"`
	Level           int                  `json:"level"`
	XPToNextLevel   int64                `json:"xp_to_next_level"`
	ProgressPercent int                  `json:"progress_percent"`
	Multiplier      float64              `json:"multiplier"`
	IsMaxLevel      bool                 `json:"is_max_level"`
	LastLevelUpAt   *time.Time           `json:"last_level_up_at,omitempty"`
	Milestones      []models.XPMilestone `json:"milestones"`
	Unlocks         []models.UserUnlock  `json:"unlocks"`
}

// GetAccount returns the user's XP state, opening a level 1 account on first read.
func (l *XPLedger) GetAccount(ctx context.Context, userID string) (*AccountView, error) {
	const op = "ledger.GetAccount"
	if userID == "" {
		return nil, newError(op, ErrValidation, "user id is required")
	}

	acc, err := l.ensureAccount(l.DB.WithContext(ctx), userID)
	if err != nil {
		return nil, storageError(op, err)
	}

	var milestones []models.XPMilestone
	if err := l.DB.WithContext(ctx).Where("user_id = ?", userID).Order("level ASC").Find(&milestones).Error; err != nil {
		return nil, storageError(op, err)
	}
	unlocks, err := l.Unlocks(ctx, userID)
	if err != nil {
		return nil, err
	}

	return &AccountView{
		UserID:          acc.UserID,
		TotalXP:         acc.TotalXP,
		CurrentXP:       acc.CurrentXP,
		Level:           acc.Level,
		XPToNextLevel:   acc.XPToNextLevel,
		ProgressPercent: LevelProgressPercent(acc.CurrentXP, acc.XPToNextLevel),
		Multiplier:      acc.Multiplier,
		IsMaxLevel:      acc.Level >= l.Curve.MaxLevel(),
		LastLevelUpAt:   acc.LastLevelUpAt,
		Milestones:      milestones,
		Unlocks:         unlocks,
	}, nil
}

// RankView is the caller's leaderboard position.
type RankView struct {
	UserID     string `json:"user_id"`
	Rank       int64  `json:"rank"`
	TotalUsers int64  `json:"total_users"`
	TotalXP    int64  `json:"total_xp"`
	Level      int    `json:"level"`
}

func (l *XPLedger) GetRank(ctx context.Context, userID string) (*RankView, error) {
	const op = "ledger.GetRank"
	var acc models.XPAccount
	err := l.DB.WithContext(ctx).Where("user_id = ?", userID).Take(&acc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newError(op, ErrNotFound, "no XP account for user %s", userID)
	}
	if err != nil {
		return nil, storageError(op, err)
	}

	rank, err := l.Ranks.Rank(ctx, userID)
	if err != nil {
		return nil, storageError(op, err)
	}
	total, err := l.Ranks.Count(ctx)
	if err != nil {
		return nil, storageError(op, err)
	}
	return &RankView{
		UserID:     userID,
		Rank:       rank,
		TotalUsers: total,
		TotalXP:    acc.TotalXP,
		Level:      acc.Level,
	}, nil
}

type LeaderboardPage struct {
	Entries    []models.LeaderboardEntry `json:"entries"`
	Page       int                       `json:"page"`
	Limit      int                       `json:"limit"`
	Total      int64                     `json:"total"`
	TotalPages int                       `json:"total_pages"`
}

func (l *XPLedger) GetLeaderboard(ctx context.Context, page, limit int) (*LeaderboardPage, error) {
	const op = "ledger.GetLeaderboard"
	page, limit = normalizePage(page, limit)

	total, err := l.Ranks.Count(ctx)
	if err != nil {
		return nil, storageError(op, err)
	}
	entries, err := l.Ranks.Page(ctx, (page-1)*limit, limit)
	if err != nil {
		return nil, storageError(op, err)
	}
	return &LeaderboardPage{
		Entries:    entries,
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: totalPages(total, limit),
	}, nil
}

// HistoryFilter narrows an XP history query. Zero values mean "any".
type HistoryFilter struct {
	UserID string
	Source models.XPSource
	From   *time.Time
	To     *time.Time
	Page   int
	Limit  int
}

type HistoryPage struct {
	Transactions []models.XPTransaction `json:"transactions"`
	Page         int                    `json:"page"`
	Limit        int                    `json:"limit"`
	Total        int64                  `json:"total"`
	TotalPages   int                    `json:"total_pages"`
}

// GetHistory pages the user's ledger lines, newest first.
func (l *XPLedger) GetHistory(ctx context.Context, f HistoryFilter) (*HistoryPage, error) {
	const op = "ledger.GetHistory"
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return nil, newError(op, ErrValidation, "to must not be before from")
	}
	page, limit := normalizePage(f.Page, f.Limit)

	q := l.DB.WithContext(ctx).Model(&models.XPTransaction{}).Where("user_id = ?", f.UserID)
	if f.Source != "" {
		q = q.Where("source = ?", f.Source)
	}
	if f.From != nil {
		q = q.Where("created_at >= ?", f.From.UTC())
	}
	if f.To != nil {
		q = q.Where("created_at <= ?", f.To.UTC())
	}
	q = q.Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, storageError(op, err)
	}
	var txns []models.XPTransaction
	err := q.Order("created_at DESC").Order("id DESC").
		Offset((page - 1) * limit).Limit(limit).
		Find(&txns).Error
	if err != nil {
		return nil, storageError(op, err)
	}
	return &HistoryPage{
		Transactions: txns,
		Page:         page,
		Limit:        limit,
		Total:        total,
		TotalPages:   totalPages(total, limit),
	}, nil
}

// LevelInfo describes one level of the curve.
func (l *XPLedger) LevelInfo(level int) (*LevelInfo, error) {
	return l.Curve.Info(level)
}
