package services

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"member-progression/models"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Clock returns the current instant. Tests pin it.
type Clock func() time.Time

// CreditRequest asks the ledger to add XP to one user.
type CreditRequest struct {
	UserID      string
	Amount      int64
	Source      models.XPSource
	SourceID    string
	Description string
	Multiplier  float64 // 0 means 1

	// OncePerSource rejects the credit with ErrAlreadyCompleted when a
	// transaction with the same (user, source, source id) exists.
	OncePerSource bool
}

// CreditResult is the account state right after a credit.
type CreditResult struct {
	TransactionID   string                `json:"transaction_id"`
	UserID          string                `json:"user_id"`
	Source          models.XPSource       `json:"source"`
	XPGained        int64                 `json:"xp_gained"`
	LeveledUp       bool                  `json:"leveled_up"`
	OldLevel        int                   `json:"old_level"`
	NewLevel        int                   `json:"new_level"`
	TotalXP         int64                 `json:"total_xp"`
	CurrentXP       int64                 `json:"current_xp"`
	XPToNextLevel   int64                 `json:"xp_to_next_level"`
	ProgressPercent int                   `json:"progress_percent"`
	Rewards         []models.LevelRewards `json:"rewards"`
}

// Ledger is the single entry point for changing a user's XP.
type Ledger interface {
	CreditXP(ctx context.Context, req CreditRequest) (*CreditResult, error)
	// CreditXPTx credits inside the caller's transaction. It may return an
	// error matching errConflict, in which case the whole transaction must be retried.
	CreditXPTx(ctx context.Context, tx *gorm.DB, req CreditRequest) (*CreditResult, error)
	// Committed runs post-commit bookkeeping for a credit made with CreditXPTx.
	Committed(ctx context.Context, res *CreditResult)
}

type XPLedger struct {
	DB      *gorm.DB
	Curve   *LevelCurve
	Ranks   RankIndex
	Now     Clock
	Log     *slog.Logger
	Retries int
}

func NewXPLedger(db *gorm.DB, curve *LevelCurve, ranks RankIndex, now Clock, retries int, log *slog.Logger) *XPLedger {
	if retries <= 0 {
		retries = 1
	}
	return &XPLedger{
		DB:      db,
		Curve:   curve,
		Ranks:   ranks,
		Now:     now,
		Log:     log.With("component", "ledger"),
		Retries: retries,
	}
}

// runInTx runs fn in a transaction, retrying it while it loses optimistic races.
func runInTx(ctx context.Context, db *gorm.DB, attempts int, op string, fn func(tx *gorm.DB) error) error {
	var err error
	for i := 0; i < attempts; i++ {
		err = db.WithContext(ctx).Transaction(fn)
		if !errors.Is(err, errConflict) {
			return err
		}
		if ctx.Err() != nil {
			return storageError(op, ctx.Err())
		}
	}
	return &Error{Op: op, Kind: ErrUnavailable, Message: "gave up after repeated write conflicts", Err: err}
}

func (l *XPLedger) CreditXP(ctx context.Context, req CreditRequest) (*CreditResult, error) {
	var res *CreditResult
	err := runInTx(ctx, l.DB, l.Retries, "ledger.CreditXP", func(tx *gorm.DB) error {
		var err error
		res, err = l.CreditXPTx(ctx, tx, req)
		return err
	})
	if err != nil {
		return nil, storageError("ledger.CreditXP", err)
	}
	l.Committed(ctx, res)
	return res, nil
}

func (l *XPLedger) Committed(ctx context.Context, res *CreditResult) {
	if res == nil {
		return
	}
	if err := l.Ranks.Record(ctx, res.UserID, res.TotalXP); err != nil {
		l.Log.Warn("rank index update failed", "user_id", res.UserID, "error", err)
	}
	l.Log.Info("xp credited",
		"user_id", res.UserID,
		"amount", res.XPGained,
		"source", res.Source,
		"total_xp", res.TotalXP,
		"level", res.NewLevel,
		"leveled_up", res.LeveledUp,
	)
}

func (l *XPLedger) CreditXPTx(ctx context.Context, tx *gorm.DB, req CreditRequest) (*CreditResult, error) {
	const op = "ledger.CreditXP"
	if req.UserID == "" {
		return nil, newError(op, ErrValidation, "user id is required")
	}
	if req.Amount <= 0 {
		return nil, newError(op, ErrValidation, "amount must be positive, got %d", req.Amount)
	}
	if req.Source == "" {
		return nil, newError(op, ErrValidation, "source is required")
	}
	mult := req.Multiplier
	if mult == 0 {
		mult = 1
	}
	if mult < 0 || math.IsNaN(mult) || math.IsInf(mult, 0) {
		return nil, newError(op, ErrValidation, "multiplier must be positive")
	}

	tx = tx.WithContext(ctx)
	now := l.Now().UTC()

	acc, err := l.ensureAccount(tx, req.UserID)
	if err != nil {
		return nil, storageError(op, err)
	}

	if req.OncePerSource {
		var n int64
		err := tx.Model(&models.XPTransaction{}).
			Where("user_id = ? AND source = ? AND source_id = ?", req.UserID, req.Source, req.SourceID).
			Count(&n).Error
		if err != nil {
			return nil, storageError(op, err)
		}
		if n > 0 {
			return nil, newError(op, ErrAlreadyCompleted, "%s %q already credited", req.Source, req.SourceID)
		}
	}

	final := finalAmount(req.Amount, mult, acc.Multiplier)
	newTotal := saturatingAdd(acc.TotalXP, final)
	newLevel := l.Curve.LevelFromTotalXP(newTotal)
	if newLevel < acc.Level {
		// a retuned curve never takes levels away
		newLevel = acc.Level
	}
	leveledUp := newLevel > acc.Level
	currentXP := l.Curve.CurrentXPWithinLevel(newTotal, newLevel)
	xpToNext := l.Curve.XPForLevel(newLevel + 1)

	lastLevelUp := acc.LastLevelUpAt
	if leveledUp {
		lastLevelUp = &now
	}

	upd := tx.Model(&models.XPAccount{}).
		Where("id = ? AND version = ?", acc.ID, acc.Version).
		Updates(map[string]any{
			"total_xp":         newTotal,
			"current_xp":       currentXP,
			"level":            newLevel,
			"xp_to_next_level": xpToNext,
			"last_level_up_at": lastLevelUp,
			"version":          acc.Version + 1,
			"updated_at":       now,
		})
	if upd.Error != nil {
		return nil, storageError(op, upd.Error)
	}
	if upd.RowsAffected == 0 {
		return nil, errConflict
	}

	txn := models.XPTransaction{
		ID:           uuid.NewString(),
		UserID:       req.UserID,
		Amount:       final,
		BaseAmount:   req.Amount,
		Source:       req.Source,
		SourceID:     req.SourceID,
		Description:  req.Description,
		Multiplier:   mult * acc.Multiplier,
		BalanceAfter: newTotal,
		LevelAfter:   newLevel,
		CreatedAt:    now,
	}
	if err := tx.Create(&txn).Error; err != nil {
		return nil, storageError(op, err)
	}

	var rewards []models.LevelRewards
	for lvl := acc.Level + 1; lvl <= newLevel; lvl++ {
		r := LevelRewards(lvl)
		ms := models.XPMilestone{
			ID:         uuid.NewString(),
			UserID:     req.UserID,
			Level:      lvl,
			Rewards:    datatypes.NewJSONType(r),
			UnlockedAt: now,
		}
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "level"}},
			DoNothing: true,
		}).Create(&ms).Error
		if err != nil {
			return nil, storageError(op, err)
		}
		if err := grantLevelUnlocks(tx, req.UserID, r, now); err != nil {
			return nil, storageError(op, err)
		}
		if !r.Empty() {
			rewards = append(rewards, r)
		}
	}

	return &CreditResult{
		TransactionID:   txn.ID,
		UserID:          req.UserID,
		Source:          req.Source,
		XPGained:        final,
		LeveledUp:       leveledUp,
		OldLevel:        acc.Level,
		NewLevel:        newLevel,
		TotalXP:         newTotal,
		CurrentXP:       currentXP,
		XPToNextLevel:   xpToNext,
		ProgressPercent: LevelProgressPercent(currentXP, xpToNext),
		Rewards:         rewards,
	}, nil
}

func finalAmount(amount int64, mult, accountMult float64) int64 {
	if accountMult <= 0 {
		accountMult = 1
	}
	v := math.Floor(float64(amount) * mult * accountMult)
	if v >= math.MaxInt64 {
		return math.MaxInt64
	}
	if v < 0 {
		return 0
	}
	return int64(v)
}

// ensureAccount returns the user's account, creating a level 1 account on first use.
func (l *XPLedger) ensureAccount(tx *gorm.DB, userID string) (*models.XPAccount, error) {
	var acc models.XPAccount
	err := tx.Where("user_id = ?", userID).Take(&acc).Error
	if err == nil {
		return &acc, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	acc = models.XPAccount{
		ID:            uuid.NewString(),
		UserID:        userID,
		Level:         1,
		XPToNextLevel: l.Curve.XPForLevel(2),
		Multiplier:    1,
	}
	err = tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(&acc).Error
	if err != nil {
		return nil, err
	}
	// a concurrent creator may have won; read whichever row exists
	var stored models.XPAccount
	if err := tx.Where("user_id = ?", userID).Take(&stored).Error; err != nil {
		return nil, err
	}
	return &stored, nil
}
