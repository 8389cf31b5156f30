package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"member-progression/config"
	"member-progression/models"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultStreakHistoryDays = 30
	maxStreakHistoryDays     = 365
)

// StreakTracker owns the daily check-in state machine.
type StreakTracker struct {
	DB       *gorm.DB
	Ledger   Ledger
	Calendar Calendar
	Rules    config.StreakTuning
	Now      Clock
	Log      *slog.Logger
	Retries  int
}

func NewStreakTracker(db *gorm.DB, ledger Ledger, cal Calendar, rules config.StreakTuning, now Clock, retries int, log *slog.Logger) *StreakTracker {
	if retries <= 0 {
		retries = 1
	}
	return &StreakTracker{
		DB:       db,
		Ledger:   ledger,
		Calendar: cal,
		Rules:    rules,
		Now:      now,
		Log:      log.With("component", "streak"),
		Retries:  retries,
	}
}

type streakTransition struct {
	streak     int
	first      bool
	maintained bool
	broken     bool
}

// nextStreak applies one check-in at now to a streak last extended at last.
func nextStreak(cal Calendar, current int, last *time.Time, now time.Time) (streakTransition, error) {
	if last == nil {
		return streakTransition{streak: 1, first: true}, nil
	}
	switch days := cal.DaysBetween(*last, now); {
	case days <= 0:
		// same day, or a clock that moved backwards
		return streakTransition{}, newError("streak.CheckIn", ErrDuplicateCheckIn, "already checked in on %s", cal.DayKey(now))
	case days == 1:
		return streakTransition{streak: current + 1, maintained: true}, nil
	default:
		return streakTransition{streak: 1, broken: true}, nil
	}
}

// checkInReward splits the XP for reaching streak into base, bonus and milestone parts.
func checkInReward(rules config.StreakTuning, streak int, rewarded func(days int) bool) (base, bonus int64, hit []config.StreakStep) {
	base = rules.BaseXP
	for _, b := range rules.Bonuses {
		if streak >= b.Days {
			bonus += b.XP
		}
	}
	for _, m := range rules.Milestones {
		if streak == m.Days && !rewarded(m.Days) {
			hit = append(hit, m)
		}
	}
	return base, bonus, hit
}

// CheckInResult reports one successful check-in.
type CheckInResult struct {
	CurrentStreak    int                      `json:"current_streak"`
	LongestStreak    int                      `json:"longest_streak"`
	TotalCheckIns    int                      `json:"total_check_ins"`
	FirstCheckIn     bool                     `json:"first_check_in"`
	StreakMaintained bool                     `json:"streak_maintained"`
	StreakBroken     bool                     `json:"streak_broken"`
	BaseXP           int64                    `json:"base_xp"`
	BonusXP          int64                    `json:"bonus_xp"`
	MilestoneXP      int64                    `json:"milestone_xp"`
	Milestones       []models.StreakMilestone `json:"milestones,omitempty"`
	Credit           *CreditResult            `json:"credit"`
}

// CheckIn records today's check-in for userID and credits its XP in the same transaction.
func (s *StreakTracker) CheckIn(ctx context.Context, userID string) (*CheckInResult, error) {
	const op = "streak.CheckIn"
	if userID == "" {
		return nil, newError(op, ErrValidation, "user id is required")
	}

	var out *CheckInResult
	err := runInTx(ctx, s.DB, s.Retries, op, func(tx *gorm.DB) error {
		now := s.Now().UTC()
		rec, err := s.ensureRecord(tx, userID)
		if err != nil {
			return storageError(op, err)
		}

		tr, err := nextStreak(s.Calendar, rec.CurrentStreak, rec.LastCheckIn, now)
		if err != nil {
			return err
		}

		base, bonus, hit := checkInReward(s.Rules, tr.streak, rec.HasMilestone)
		var milestoneXP int64
		achieved := make([]models.StreakMilestone, 0, len(hit))
		for _, m := range hit {
			milestoneXP += m.XP
			achieved = append(achieved, models.StreakMilestone{Days: m.Days, XP: m.XP, AchievedAt: now})
		}

		day := s.Calendar.DayKey(now)
		credit, err := s.Ledger.CreditXPTx(ctx, tx, CreditRequest{
			UserID:        userID,
			Amount:        base + bonus + milestoneXP,
			Source:        models.XPSourceStreakCheckIn,
			SourceID:      day,
			Description:   fmt.Sprintf("Day %d streak check-in", tr.streak),
			OncePerSource: true,
		})
		if errors.Is(err, ErrAlreadyCompleted) {
			return newError(op, ErrDuplicateCheckIn, "already checked in on %s", day)
		}
		if err != nil {
			return err
		}

		longest := rec.LongestStreak
		if tr.streak > longest {
			longest = tr.streak
		}
		history := append(rec.History, models.StreakDay{
			Date:        day,
			Streak:      tr.streak,
			XPEarned:    credit.XPGained,
			CheckedInAt: now,
		})
		if over := len(history) - s.historyCap(); over > 0 {
			history = history[over:]
		}
		milestones := append(rec.Milestones, achieved...)

		upd := tx.Model(&models.StreakRecord{}).
			Where("id = ? AND version = ?", rec.ID, rec.Version).
			Updates(map[string]any{
				"current_streak":  tr.streak,
				"longest_streak":  longest,
				"last_check_in":   now,
				"total_check_ins": rec.TotalCheckIns + 1,
				"history":         history,
				"milestones":      milestones,
				"version":         rec.Version + 1,
				"updated_at":      now,
			})
		if upd.Error != nil {
			return storageError(op, upd.Error)
		}
		if upd.RowsAffected == 0 {
			return errConflict
		}

		out = &CheckInResult{
			CurrentStreak:    tr.streak,
			LongestStreak:    longest,
			TotalCheckIns:    rec.TotalCheckIns + 1,
			FirstCheckIn:     tr.first,
			StreakMaintained: tr.maintained,
			StreakBroken:     tr.broken,
			BaseXP:           base,
			BonusXP:          bonus,
			MilestoneXP:      milestoneXP,
			Milestones:       achieved,
			Credit:           credit,
		}
		return nil
	})
	if err != nil {
		return nil, storageError(op, err)
	}

	s.Ledger.Committed(ctx, out.Credit)
	s.Log.Info("check-in recorded",
		"user_id", userID,
		"streak", out.CurrentStreak,
		"broken", out.StreakBroken,
		"milestone_xp", out.MilestoneXP,
	)
	return out, nil
}

func (s *StreakTracker) historyCap() int {
	if s.Rules.HistoryDays > 0 {
		return s.Rules.HistoryDays
	}
	return maxStreakHistoryDays
}

func (s *StreakTracker) ensureRecord(tx *gorm.DB, userID string) (*models.StreakRecord, error) {
	var rec models.StreakRecord
	err := tx.Where("user_id = ?", userID).Take(&rec).Error
	if err == nil {
		return &rec, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	fresh := models.StreakRecord{
		ID:         uuid.NewString(),
		UserID:     userID,
		History:    datatypes.JSONSlice[models.StreakDay]{},
		Milestones: datatypes.JSONSlice[models.StreakMilestone]{},
	}
	err = tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(&fresh).Error
	if err != nil {
		return nil, err
	}
	var stored models.StreakRecord
	if err := tx.Where("user_id = ?", userID).Take(&stored).Error; err != nil {
		return nil, err
	}
	return &stored, nil
}

// StreakView is the caller's streak as shown on the dashboard.
type StreakView struct {
	UserID          string                   `json:"user_id"`
	CurrentStreak   int                      `json:"current_streak"`
	LongestStreak   int                      `json:"longest_streak"`
	TotalCheckIns   int                      `json:"total_check_ins"`
	LastCheckIn     *time.Time               `json:"last_check_in,omitempty"`
	CheckedInToday  bool                     `json:"checked_in_today"`
	AtRisk          bool                     `json:"at_risk"` // streak ends unless the user checks in today
	NextMilestone   *config.StreakStep       `json:"next_milestone,omitempty"`
	DaysToMilestone int                      `json:"days_to_milestone,omitempty"`
	Milestones      []models.StreakMilestone `json:"milestones"`
}

// GetStreak returns the user's streak. A streak whose last check-in is more
// than one calendar day old is reset to zero and persisted before it is shown.
func (s *StreakTracker) GetStreak(ctx context.Context, userID string) (*StreakView, error) {
	const op = "streak.GetStreak"
	now := s.Now().UTC()

	var rec models.StreakRecord
	err := s.DB.WithContext(ctx).Where("user_id = ?", userID).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		v := &StreakView{UserID: userID, Milestones: []models.StreakMilestone{}}
		s.fillNextMilestone(v, &rec)
		return v, nil
	}
	if err != nil {
		return nil, storageError(op, err)
	}

	if rec.LastCheckIn != nil && rec.CurrentStreak > 0 && s.Calendar.DaysBetween(*rec.LastCheckIn, now) > 1 {
		if err := s.resetStale(ctx, &rec, now); err != nil {
			return nil, storageError(op, err)
		}
	}

	v := &StreakView{
		UserID:        userID,
		CurrentStreak: rec.CurrentStreak,
		LongestStreak: rec.LongestStreak,
		TotalCheckIns: rec.TotalCheckIns,
		LastCheckIn:   rec.LastCheckIn,
		Milestones:    rec.Milestones,
	}
	if v.Milestones == nil {
		v.Milestones = []models.StreakMilestone{}
	}
	if rec.LastCheckIn != nil {
		days := s.Calendar.DaysBetween(*rec.LastCheckIn, now)
		v.CheckedInToday = days <= 0
		v.AtRisk = days == 1 && rec.CurrentStreak > 0
	}
	s.fillNextMilestone(v, &rec)
	return v, nil
}

func (s *StreakTracker) resetStale(ctx context.Context, rec *models.StreakRecord, now time.Time) error {
	res := s.DB.WithContext(ctx).Model(&models.StreakRecord{}).
		Where("id = ? AND version = ?", rec.ID, rec.Version).
		Updates(map[string]any{
			"current_streak": 0,
			"version":        rec.Version + 1,
			"updated_at":     now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// someone wrote in between; show what they left
		return s.DB.WithContext(ctx).Where("id = ?", rec.ID).Take(rec).Error
	}
	rec.CurrentStreak = 0
	rec.Version++
	return nil
}

func (s *StreakTracker) fillNextMilestone(v *StreakView, rec *models.StreakRecord) {
	steps := append([]config.StreakStep(nil), s.Rules.Milestones...)
	sort.Slice(steps, func(i, j int) bool { return steps[i].Days < steps[j].Days })
	for _, m := range steps {
		if m.Days > v.CurrentStreak && !rec.HasMilestone(m.Days) {
			next := m
			v.NextMilestone = &next
			v.DaysToMilestone = m.Days - v.CurrentStreak
			return
		}
	}
}

// History returns check-ins from the last days calendar days, newest first.
func (s *StreakTracker) History(ctx context.Context, userID string, days int) ([]models.StreakDay, error) {
	const op = "streak.History"
	if days < 1 {
		days = defaultStreakHistoryDays
	}
	if days > maxStreakHistoryDays {
		days = maxStreakHistoryDays
	}

	var rec models.StreakRecord
	err := s.DB.WithContext(ctx).Select("id", "history").Where("user_id = ?", userID).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return []models.StreakDay{}, nil
	}
	if err != nil {
		return nil, storageError(op, err)
	}

	since := s.Calendar.DayKey(s.Calendar.StartOfDay(s.Now()).AddDate(0, 0, -(days - 1)))
	out := make([]models.StreakDay, 0, len(rec.History))
	for i := len(rec.History) - 1; i >= 0; i-- {
		if rec.History[i].Date < since {
			break
		}
		out = append(out, rec.History[i])
	}
	return out, nil
}

type StreakBoard string

const (
	StreakBoardCurrent StreakBoard = "current"
	StreakBoardLongest StreakBoard = "longest"
)

type StreakLeaderboardEntry struct {
	Rank          int    `json:"rank"`
	UserID        string `json:"user_id"`
	CurrentStreak int    `json:"current_streak"`
	LongestStreak int    `json:"longest_streak"`
	TotalCheckIns int    `json:"total_check_ins"`
}

// Leaderboard ranks users by current or longest streak. The current board
// skips streaks that lapsed but were not read since.
func (s *StreakTracker) Leaderboard(ctx context.Context, by StreakBoard, limit int) ([]StreakLeaderboardEntry, error) {
	const op = "streak.Leaderboard"
	_, limit = normalizePage(1, limit)

	q := s.DB.WithContext(ctx).Model(&models.StreakRecord{}).
		Select("user_id", "current_streak", "longest_streak", "total_check_ins")
	switch by {
	case StreakBoardCurrent, "":
		yesterday := s.Calendar.StartOfDay(s.Now()).AddDate(0, 0, -1).UTC()
		q = q.Where("current_streak > 0 AND last_check_in >= ?", yesterday).
			Order("current_streak DESC").Order("longest_streak DESC")
	case StreakBoardLongest:
		q = q.Where("longest_streak > 0").
			Order("longest_streak DESC").Order("current_streak DESC")
	default:
		return nil, newError(op, ErrValidation, "by must be %q or %q", StreakBoardCurrent, StreakBoardLongest)
	}

	var recs []models.StreakRecord
	if err := q.Order("user_id ASC").Limit(limit).Find(&recs).Error; err != nil {
		return nil, storageError(op, err)
	}
	entries := make([]StreakLeaderboardEntry, len(recs))
	for i, r := range recs {
		entries[i] = StreakLeaderboardEntry{
			Rank:          i + 1,
			UserID:        r.UserID,
			CurrentStreak: r.CurrentStreak,
			LongestStreak: r.LongestStreak,
			TotalCheckIns: r.TotalCheckIns,
		}
	}
	return entries, nil
}
