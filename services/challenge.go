package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"member-progression/config"
	"member-progression/models"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/gosimple/unidecode"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// errChallengeFull aborts a completion when the challenge hit its max completions.
var errChallengeFull = errors.New("challenge reached max completions")

// ChallengeEngine tracks progress on time-boxed challenges and pays out claims.
type ChallengeEngine struct {
	DB       *gorm.DB
	Ledger   Ledger
	Calendar Calendar
	Tuning   config.ChallengeTuning
	Now      Clock
	Log      *slog.Logger
	Retries  int

	// NewBackOff paces credit retries after a claim. Defaults to exponential.
	NewBackOff func() backoff.BackOff
}

func NewChallengeEngine(db *gorm.DB, ledger Ledger, cal Calendar, tuning config.ChallengeTuning, now Clock, retries int, log *slog.Logger) *ChallengeEngine {
	if retries <= 0 {
		retries = 1
	}
	return &ChallengeEngine{
		DB:         db,
		Ledger:     ledger,
		Calendar:   cal,
		Tuning:     tuning,
		Now:        now,
		Log:        log.With("component", "challenges"),
		Retries:    retries,
		NewBackOff: defaultCreditBackOff,
	}
}

func defaultCreditBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	return b
}

var actionSeparators = regexp.MustCompile(`[\s\-]+`)

// NormalizeAction folds an action name to its canonical form: ASCII, lower
// case, words joined by underscores. "Lesson Completed" becomes "lesson_completed".
func NormalizeAction(action string) string {
	a := strings.ToLower(strings.TrimSpace(unidecode.Unidecode(action)))
	return actionSeparators.ReplaceAllString(a, "_")
}

// ActionReport is one trackable action that happened elsewhere. A report
// carrying an EventID is applied at most once per challenge, so callers can
// resend it after a partial failure.
type ActionReport struct {
	UserID   string         `json:"user_id"`
	Action   string         `json:"action"`
	Count    int            `json:"count"`
	EventID  string         `json:"event_id,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ProgressUpdate is the effect of a report on one challenge.
type ProgressUpdate struct {
	ChallengeID   string `json:"challenge_id"`
	Title         string `json:"title"`
	Progress      int    `json:"progress"`
	TargetCount   int    `json:"target_count"`
	Completed     bool   `json:"completed"`
	JustCompleted bool   `json:"just_completed"`
	Full          bool   `json:"full,omitempty"` // challenge stopped accepting completions
	Duplicate     bool   `json:"duplicate,omitempty"`
}

// ReportAction advances every active, in-window challenge whose requirement
// matches the action. Completed progress rows are left untouched.
func (e *ChallengeEngine) ReportAction(ctx context.Context, r ActionReport) ([]ProgressUpdate, error) {
	const op = "challenges.ReportAction"
	if r.UserID == "" {
		return nil, newError(op, ErrValidation, "user id is required")
	}
	action := NormalizeAction(r.Action)
	if action == "" {
		return nil, newError(op, ErrValidation, "action is required")
	}
	if r.Count == 0 {
		r.Count = 1
	}
	if r.Count < 0 {
		return nil, newError(op, ErrValidation, "count must be positive, got %d", r.Count)
	}

	now := e.Now().UTC()
	var challenges []models.Challenge
	err := e.DB.WithContext(ctx).
		Where("is_active = ? AND start_at <= ? AND end_at >= ? AND requirement_action = ?", true, now, now, action).
		Order("end_at ASC").
		Find(&challenges).Error
	if err != nil {
		return nil, storageError(op, err)
	}

	updates := make([]ProgressUpdate, 0, len(challenges))
	for i := range challenges {
		u, err := e.advance(ctx, &challenges[i], r, now)
		if err != nil {
			return updates, storageError(op, err)
		}
		updates = append(updates, u)
		if u.JustCompleted {
			e.Log.Info("challenge completed", "user_id", r.UserID, "challenge_id", u.ChallengeID)
		}
	}
	return updates, nil
}

func (e *ChallengeEngine) advance(ctx context.Context, c *models.Challenge, r ActionReport, now time.Time) (ProgressUpdate, error) {
	out := ProgressUpdate{ChallengeID: c.ID, Title: c.Title}
	err := runInTx(ctx, e.DB, e.Retries, "challenges.ReportAction", func(tx *gorm.DB) error {
		p, err := e.ensureProgress(tx, r.UserID, c, now)
		if err != nil {
			return err
		}
		out.Progress, out.TargetCount, out.Completed = p.Progress, p.TargetCount, p.Completed
		out.JustCompleted, out.Duplicate = false, false
		if p.Completed {
			return nil
		}
		if r.EventID != "" && p.LastEventID != nil && *p.LastEventID == r.EventID {
			out.Duplicate = true
			return nil
		}

		meta := datatypes.JSONMap{}
		for k, v := range r.Metadata {
			meta[k] = v
		}
		changes := map[string]any{
			"progress":      gorm.Expr("CASE WHEN progress + ? >= target_count THEN target_count ELSE progress + ? END", r.Count, r.Count),
			"last_metadata": meta,
			"updated_at":    now,
		}
		q := tx.Model(&models.UserChallengeProgress{}).Where("id = ? AND completed = ?", p.ID, false)
		if r.EventID != "" {
			changes["last_event_id"] = r.EventID
			q = q.Where("(last_event_id IS NULL OR last_event_id <> ?)", r.EventID)
		}
		res := q.Updates(changes)
		if res.Error != nil {
			return res.Error
		}

		var fresh models.UserChallengeProgress
		if err := tx.Where("id = ?", p.ID).Take(&fresh).Error; err != nil {
			return err
		}
		out.Progress = fresh.Progress
		if res.RowsAffected == 0 {
			// a concurrent report completed the row or applied the same event
			out.Completed = fresh.Completed
			out.Duplicate = !fresh.Completed
			return nil
		}
		if fresh.Progress < fresh.TargetCount {
			return nil
		}

		inc := tx.Model(&models.Challenge{}).
			Where("id = ? AND (max_completions IS NULL OR current_completions < max_completions)", c.ID).
			UpdateColumn("current_completions", gorm.Expr("current_completions + ?", 1))
		if inc.Error != nil {
			return inc.Error
		}
		if inc.RowsAffected == 0 {
			return errChallengeFull
		}

		done := tx.Model(&models.UserChallengeProgress{}).
			Where("id = ? AND completed = ?", p.ID, false).
			Updates(map[string]any{
				"completed":    true,
				"completed_at": now,
				"updated_at":   now,
			})
		if done.Error != nil {
			return done.Error
		}
		if done.RowsAffected == 0 {
			return errConflict
		}
		out.Completed, out.JustCompleted = true, true
		return nil
	})
	if errors.Is(err, errChallengeFull) {
		out.Full = true
		e.Log.Info("challenge full, completion refused", "user_id", r.UserID, "challenge_id", c.ID)
		return out, nil
	}
	return out, err
}

// ensureProgress returns the user's row for c, creating it with a snapshot of
// the challenge's target count.
func (e *ChallengeEngine) ensureProgress(tx *gorm.DB, userID string, c *models.Challenge, now time.Time) (*models.UserChallengeProgress, error) {
	var p models.UserChallengeProgress
	err := tx.Where("user_id = ? AND challenge_id = ?", userID, c.ID).Take(&p).Error
	if err == nil {
		return &p, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	fresh := models.UserChallengeProgress{
		ID:           uuid.NewString(),
		UserID:       userID,
		ChallengeID:  c.ID,
		TargetCount:  c.Requirement.TargetCount,
		StartedAt:    now,
		LastMetadata: datatypes.JSONMap{},
	}
	err = tx.Omit(clause.Associations).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "challenge_id"}},
		DoNothing: true,
	}).Create(&fresh).Error
	if err != nil {
		return nil, err
	}
	var stored models.UserChallengeProgress
	if err := tx.Where("user_id = ? AND challenge_id = ?", userID, c.ID).Take(&stored).Error; err != nil {
		return nil, err
	}
	return &stored, nil
}

// ClaimResult reports a won claim. CreditPending means the XP credit could
// not be applied yet; the pending-credit sweeper finishes it.
type ClaimResult struct {
	ChallengeID   string        `json:"challenge_id"`
	ClaimedAt     time.Time     `json:"claimed_at"`
	RewardXP      int64         `json:"reward_xp"`
	Badge         *string       `json:"badge,omitempty"`
	Title         *string       `json:"title,omitempty"`
	Credit        *CreditResult `json:"credit,omitempty"`
	CreditPending bool          `json:"credit_pending"`
}

// ClaimReward converts a completed challenge into its reward, at most once per user.
// The claimed flag is flipped first with a compare-and-swap; only the winner credits.
func (e *ChallengeEngine) ClaimReward(ctx context.Context, userID, challengeID string) (*ClaimResult, error) {
	const op = "challenges.ClaimReward"
	db := e.DB.WithContext(ctx)

	var p models.UserChallengeProgress
	err := db.Where("user_id = ? AND challenge_id = ?", userID, challengeID).Take(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newError(op, ErrNotFound, "no progress on challenge %s", challengeID)
	}
	if err != nil {
		return nil, storageError(op, err)
	}
	if !p.Completed {
		return nil, newError(op, ErrNotCompleted, "challenge %s is not completed (%d/%d)", challengeID, p.Progress, p.TargetCount)
	}
	if p.ClaimedReward {
		return nil, newError(op, ErrAlreadyClaimed, "reward for challenge %s already claimed", challengeID)
	}

	var c models.Challenge
	err = db.Where("id = ?", challengeID).Take(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newError(op, ErrNotFound, "challenge %s not found", challengeID)
	}
	if err != nil {
		return nil, storageError(op, err)
	}

	now := e.Now().UTC()
	res := db.Model(&models.UserChallengeProgress{}).
		Where("id = ? AND completed = ? AND claimed_reward = ?", p.ID, true, false).
		Updates(map[string]any{
			"claimed_reward": true,
			"claimed_at":     now,
			"updated_at":     now,
		})
	if res.Error != nil {
		return nil, storageError(op, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, newError(op, ErrAlreadyClaimed, "reward for challenge %s already claimed", challengeID)
	}

	out := &ClaimResult{
		ChallengeID: challengeID,
		ClaimedAt:   now,
		RewardXP:    c.Reward.XP,
		Badge:       c.Reward.Badge,
		Title:       c.Reward.Title,
	}
	credit, err := e.creditClaim(ctx, p.ID)
	if err != nil {
		// the claim stands; the sweeper re-drives the credit
		e.Log.Error("claim credit failed, left pending", "user_id", userID, "challenge_id", challengeID, "error", err)
		out.CreditPending = true
		return out, nil
	}
	out.Credit = credit
	e.Log.Info("challenge reward claimed", "user_id", userID, "challenge_id", challengeID, "xp", c.Reward.XP)
	return out, nil
}

// creditClaim applies the reward of a claimed progress row, retrying with backoff.
// A row that is already credited yields a nil result and no error.
func (e *ChallengeEngine) creditClaim(ctx context.Context, progressID string) (*CreditResult, error) {
	const op = "challenges.creditClaim"
	attempts := e.Tuning.CreditAttempts
	if attempts <= 0 {
		attempts = 1
	}

	credit, err := backoff.Retry(ctx, func() (*CreditResult, error) {
		var res *CreditResult
		err := runInTx(ctx, e.DB, e.Retries, op, func(tx *gorm.DB) error {
			var err error
			res, err = e.creditClaimTx(ctx, tx, progressID)
			return err
		})
		if errors.Is(err, ErrValidation) || errors.Is(err, ErrNotFound) {
			return nil, backoff.Permanent(err)
		}
		return res, err
	}, backoff.WithBackOff(e.NewBackOff()), backoff.WithMaxTries(uint(attempts)))
	if err != nil {
		return nil, storageError(op, err)
	}
	if credit != nil {
		e.Ledger.Committed(ctx, credit)
	}
	return credit, nil
}

func (e *ChallengeEngine) creditClaimTx(ctx context.Context, tx *gorm.DB, progressID string) (*CreditResult, error) {
	const op = "challenges.creditClaim"
	var p models.UserChallengeProgress
	err := tx.Preload("Challenge").Where("id = ?", progressID).Take(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newError(op, ErrNotFound, "progress %s not found", progressID)
	}
	if err != nil {
		return nil, err
	}
	if p.RewardCredited {
		return nil, nil
	}
	if !p.ClaimedReward || p.Challenge == nil {
		return nil, newError(op, ErrValidation, "progress %s is not claimable", progressID)
	}

	now := e.Now().UTC()
	flip := tx.Model(&models.UserChallengeProgress{}).
		Where("id = ? AND claimed_reward = ? AND reward_credited = ?", p.ID, true, false).
		Updates(map[string]any{"reward_credited": true, "updated_at": now})
	if flip.Error != nil {
		return nil, flip.Error
	}
	if flip.RowsAffected == 0 {
		return nil, errConflict
	}

	var credit *CreditResult
	if p.Challenge.Reward.XP > 0 {
		credit, err = e.Ledger.CreditXPTx(ctx, tx, CreditRequest{
			UserID:        p.UserID,
			Amount:        p.Challenge.Reward.XP,
			Source:        models.XPSourceChallengeComplete,
			SourceID:      p.ChallengeID,
			Description:   fmt.Sprintf("Challenge completed: %s", p.Challenge.Title),
			OncePerSource: true,
		})
		if err != nil && !errors.Is(err, ErrAlreadyCompleted) {
			return nil, err
		}
		if credit != nil {
			if err := tx.Model(&models.UserChallengeProgress{}).Where("id = ?", p.ID).
				Update("reward_tx_id", credit.TransactionID).Error; err != nil {
				return nil, err
			}
		}
	}
	if err := grantChallengeUnlocks(tx, p.UserID, p.Challenge, now); err != nil {
		return nil, err
	}
	return credit, nil
}

// RetryPendingCredits re-drives claims whose credit never landed.
func (e *ChallengeEngine) RetryPendingCredits(ctx context.Context, limit int) (int, error) {
	const op = "challenges.RetryPendingCredits"
	if limit <= 0 {
		limit = 100
	}
	var pending []models.UserChallengeProgress
	err := e.DB.WithContext(ctx).
		Select("id", "user_id", "challenge_id").
		Where("claimed_reward = ? AND reward_credited = ?", true, false).
		Order("claimed_at ASC").
		Limit(limit).
		Find(&pending).Error
	if err != nil {
		return 0, storageError(op, err)
	}

	done := 0
	for _, p := range pending {
		if _, err := e.creditClaim(ctx, p.ID); err != nil {
			e.Log.Warn("pending credit still failing", "user_id", p.UserID, "challenge_id", p.ChallengeID, "error", err)
			continue
		}
		done++
	}
	return done, nil
}
