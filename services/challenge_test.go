package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"member-progression/models"

	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func challengeInput(f *fixture, title, action string, target int, rewardXP int64) ChallengeInput {
	return ChallengeInput{
		Title:       title,
		Type:        models.ChallengeTypeSpecial,
		Category:    "community",
		Action:      action,
		TargetCount: target,
		RewardXP:    rewardXP,
		StartAt:     ptr(f.clock.Now().Add(-time.Hour)),
		EndAt:       ptr(f.clock.Now().Add(24 * time.Hour)),
	}
}

func createChallenge(t *testing.T, f *fixture, in ChallengeInput) *models.Challenge {
	t.Helper()
	c, err := f.challenges.CreateChallenge(context.Background(), in)
	require.NoError(t, err)
	return c
}

func completeChallenge(t *testing.T, f *fixture, userID string, c *models.Challenge) {
	t.Helper()
	updates, err := f.challenges.ReportAction(context.Background(), ActionReport{
		UserID: userID,
		Action: c.Requirement.Action,
		Count:  c.Requirement.TargetCount,
	})
	require.NoError(t, err)
	for _, u := range updates {
		if u.ChallengeID == c.ID {
			require.True(t, u.Completed)
			return
		}
	}
	t.Fatalf("challenge %s not advanced", c.ID)
}

// flakyLedger fails the next n in-transaction credits.
type flakyLedger struct {
	Ledger
	failures atomic.Int32
}

func (l *flakyLedger) CreditXPTx(ctx context.Context, tx *gorm.DB, req CreditRequest) (*CreditResult, error) {
	if l.failures.Load() > 0 {
		l.failures.Add(-1)
		return nil, errors.New("ledger unavailable")
	}
	return l.Ledger.CreditXPTx(ctx, tx, req)
}

func TestNormalizeAction(t *testing.T) {
	assert.Equal(t, "lesson_completed", NormalizeAction("  Lesson Completed "))
	assert.Equal(t, "lesson_completed", NormalizeAction("lesson-completed"))
	assert.Equal(t, "event_attended", NormalizeAction("EVENT_ATTENDED"))
	assert.Equal(t, "cafe_visit", NormalizeAction("Café visit"))
	assert.Equal(t, "", NormalizeAction("   "))
}

func TestCreateChallengeValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	valid := challengeInput(f, "Weekend Warrior", "event_attended", 2, 100)

	c, err := f.challenges.CreateChallenge(ctx, valid)
	require.NoError(t, err)
	assert.Regexp(t, `^weekend-warrior-[0-9a-f]{8}$`, c.Slug)
	assert.Equal(t, models.DifficultyMedium, c.Difficulty)
	assert.True(t, c.IsActive)
	assert.Zero(t, c.CurrentCompletions)

	mutations := map[string]func(in *ChallengeInput){
		"no title":        func(in *ChallengeInput) { in.Title = " " },
		"no action":       func(in *ChallengeInput) { in.Action = "" },
		"bad type":        func(in *ChallengeInput) { in.Type = "monthly" },
		"bad difficulty":  func(in *ChallengeInput) { in.Difficulty = "extreme" },
		"zero target":     func(in *ChallengeInput) { in.TargetCount = 0 },
		"zero reward":     func(in *ChallengeInput) { in.RewardXP = 0 },
		"no window":       func(in *ChallengeInput) { in.EndAt = nil },
		"inverted window": func(in *ChallengeInput) { in.EndAt = ptr(in.StartAt.Add(-time.Minute)) },
		"zero max":        func(in *ChallengeInput) { in.MaxCompletions = ptr(0) },
	}
	for name, mutate := range mutations {
		in := valid
		mutate(&in)
		_, err := f.challenges.CreateChallenge(ctx, in)
		assert.ErrorIs(t, err, ErrValidation, name)
	}
}

func TestReportActionCapsProgress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := createChallenge(t, f, challengeInput(f, "Study Hard", "lesson_completed", 3, 75))

	updates, err := f.challenges.ReportAction(ctx, ActionReport{UserID: "u1", Action: "Lesson Completed", Count: 2})
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.Equal(t, 2, updates[0].Progress)
	assert.Equal(t, 3, updates[0].TargetCount)
	assert.False(t, updates[0].Completed)

	updates, err = f.challenges.ReportAction(ctx, ActionReport{
		UserID:   "u1",
		Action:   "lesson_completed",
		Count:    5,
		Metadata: map[string]any{"lesson": "go-101"},
	})
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.Equal(t, 3, updates[0].Progress)
	assert.True(t, updates[0].Completed)
	assert.True(t, updates[0].JustCompleted)

	var stored models.Challenge
	require.NoError(t, f.db.Where("id = ?", c.ID).Take(&stored).Error)
	assert.Equal(t, 1, stored.CurrentCompletions)

	var p models.UserChallengeProgress
	require.NoError(t, f.db.Where("user_id = ? AND challenge_id = ?", "u1", c.ID).Take(&p).Error)
	assert.Equal(t, 3, p.Progress)
	assert.True(t, p.Completed)
	require.NotNil(t, p.CompletedAt)
	assert.Equal(t, "go-101", p.LastMetadata["lesson"])

	// completed rows are frozen
	updates, err = f.challenges.ReportAction(ctx, ActionReport{UserID: "u1", Action: "lesson_completed"})
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.True(t, updates[0].Completed)
	assert.False(t, updates[0].JustCompleted)
	assert.Equal(t, 3, updates[0].Progress)

	require.NoError(t, f.db.Where("id = ?", c.ID).Take(&stored).Error)
	assert.Equal(t, 1, stored.CurrentCompletions)
}

func TestReportActionKeepsTargetFromFirstProgress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := createChallenge(t, f, challengeInput(f, "Reader", "article_read", 3, 40))

	updates, err := f.challenges.ReportAction(ctx, ActionReport{UserID: "u1", Action: "article_read"})
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.Equal(t, 1, updates[0].Progress)

	// editing the challenge later does not move a started user's goal
	require.NoError(t, f.db.Model(&models.Challenge{}).Where("id = ?", c.ID).
		Update("requirement_target_count", 10).Error)

	updates, err = f.challenges.ReportAction(ctx, ActionReport{UserID: "u1", Action: "article_read", Count: 5})
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.Equal(t, 3, updates[0].Progress)
	assert.Equal(t, 3, updates[0].TargetCount)
	assert.True(t, updates[0].Completed)
	assert.True(t, updates[0].JustCompleted)

	var p models.UserChallengeProgress
	require.NoError(t, f.db.Where("user_id = ? AND challenge_id = ?", "u1", c.ID).Take(&p).Error)
	assert.Equal(t, 3, p.Progress)
	assert.Equal(t, 3, p.TargetCount)

	var stored models.Challenge
	require.NoError(t, f.db.Where("id = ?", c.ID).Take(&stored).Error)
	assert.Equal(t, 1, stored.CurrentCompletions)

	// users starting after the edit get the new target
	updates, err = f.challenges.ReportAction(ctx, ActionReport{UserID: "u2", Action: "article_read"})
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.Equal(t, 10, updates[0].TargetCount)
}

func TestReportActionAppliesEventOncePerChallenge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := createChallenge(t, f, challengeInput(f, "Commenter", "comment_posted", 5, 20))

	report := ActionReport{UserID: "u1", Action: "comment_posted", Count: 2, EventID: "evt-1"}
	updates, err := f.challenges.ReportAction(ctx, report)
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.Equal(t, 2, updates[0].Progress)
	assert.False(t, updates[0].Duplicate)

	// a challenge the first attempt never reached, as after a partial failure
	second := createChallenge(t, f, challengeInput(f, "Chatty", "comment_posted", 5, 20))

	updates, err = f.challenges.ReportAction(ctx, report)
	require.NoError(t, err)
	require.Len(t, updates, 2)
	byID := map[string]ProgressUpdate{}
	for _, u := range updates {
		byID[u.ChallengeID] = u
	}
	assert.True(t, byID[first.ID].Duplicate)
	assert.Equal(t, 2, byID[first.ID].Progress)
	assert.False(t, byID[second.ID].Duplicate)
	assert.Equal(t, 2, byID[second.ID].Progress)

	updates, err = f.challenges.ReportAction(ctx, ActionReport{UserID: "u1", Action: "comment_posted", EventID: "evt-2"})
	require.NoError(t, err)
	for _, u := range updates {
		assert.False(t, u.Duplicate)
		assert.Equal(t, 3, u.Progress)
	}

	// reports without an event id always count
	updates, err = f.challenges.ReportAction(ctx, ActionReport{UserID: "u1", Action: "comment_posted"})
	require.NoError(t, err)
	for _, u := range updates {
		assert.Equal(t, 4, u.Progress)
	}
}

func TestReportActionSkipsInactiveAndClosedChallenges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inactive := challengeInput(f, "Paused", "post_created", 1, 10)
	inactive.IsActive = ptr(false)
	createChallenge(t, f, inactive)

	future := challengeInput(f, "Later", "post_created", 1, 10)
	future.StartAt = ptr(f.clock.Now().Add(time.Hour))
	createChallenge(t, f, future)

	updates, err := f.challenges.ReportAction(ctx, ActionReport{UserID: "u1", Action: "post_created"})
	require.NoError(t, err)
	assert.Empty(t, updates)

	_, err = f.challenges.ReportAction(ctx, ActionReport{Action: "post_created"})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = f.challenges.ReportAction(ctx, ActionReport{UserID: "u1", Action: " "})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = f.challenges.ReportAction(ctx, ActionReport{UserID: "u1", Action: "post_created", Count: -1})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestReportActionRespectsMaxCompletions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := challengeInput(f, "First Come", "event_attended", 1, 40)
	in.MaxCompletions = ptr(1)
	c := createChallenge(t, f, in)

	completeChallenge(t, f, "u1", c)

	updates, err := f.challenges.ReportAction(ctx, ActionReport{UserID: "u2", Action: "event_attended"})
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.True(t, updates[0].Full)
	assert.False(t, updates[0].Completed)

	var stored models.Challenge
	require.NoError(t, f.db.Where("id = ?", c.ID).Take(&stored).Error)
	assert.Equal(t, 1, stored.CurrentCompletions)

	_, err = f.challenges.ClaimReward(ctx, "u2", c.ID)
	assert.Error(t, err)
}

func TestClaimReward(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := challengeInput(f, "Networker", "event_attended", 2, 120)
	in.RewardBadge = ptr("networker")
	c := createChallenge(t, f, in)

	_, err := f.challenges.ClaimReward(ctx, "u1", c.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.challenges.ReportAction(ctx, ActionReport{UserID: "u1", Action: "event_attended"})
	require.NoError(t, err)
	_, err = f.challenges.ClaimReward(ctx, "u1", c.ID)
	assert.ErrorIs(t, err, ErrNotCompleted)

	completeChallenge(t, f, "u1", c)
	res, err := f.challenges.ClaimReward(ctx, "u1", c.ID)
	require.NoError(t, err)
	assert.False(t, res.CreditPending)
	assert.Equal(t, int64(120), res.RewardXP)
	require.NotNil(t, res.Credit)
	assert.Equal(t, int64(120), res.Credit.XPGained)
	require.NotNil(t, res.Badge)
	assert.Equal(t, "networker", *res.Badge)

	_, err = f.challenges.ClaimReward(ctx, "u1", c.ID)
	assert.ErrorIs(t, err, ErrAlreadyClaimed)

	var p models.UserChallengeProgress
	require.NoError(t, f.db.Where("user_id = ? AND challenge_id = ?", "u1", c.ID).Take(&p).Error)
	assert.True(t, p.ClaimedReward)
	assert.True(t, p.RewardCredited)
	require.NotNil(t, p.RewardTxID)
	assert.Equal(t, res.Credit.TransactionID, *p.RewardTxID)

	unlocks, err := f.ledger.Unlocks(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, unlocks, 1)
	assert.Equal(t, "networker", unlocks[0].Code)
	assert.Equal(t, models.XPSourceChallengeComplete, unlocks[0].Source)

	view, err := f.ledger.GetAccount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(120), view.TotalXP)
}

func TestClaimRewardConcurrentClaimsCreditOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := createChallenge(t, f, challengeInput(f, "Race", "lesson_completed", 1, 90))
	completeChallenge(t, f, "u1", c)

	var wg sync.WaitGroup
	var won, lost atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.challenges.ClaimReward(ctx, "u1", c.ID)
			switch {
			case err == nil:
				won.Add(1)
			case errors.Is(err, ErrAlreadyClaimed):
				lost.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), won.Load())
	assert.Equal(t, int32(7), lost.Load())

	var n int64
	require.NoError(t, f.db.Model(&models.XPTransaction{}).
		Where("user_id = ? AND source = ?", "u1", models.XPSourceChallengeComplete).
		Count(&n).Error)
	assert.Equal(t, int64(1), n)
}

func TestClaimRewardLeavesCreditPendingAndSweeperFinishes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	flaky := &flakyLedger{Ledger: f.ledger}
	flaky.failures.Store(100)
	f.challenges.Ledger = flaky
	f.challenges.Tuning.CreditAttempts = 2
	f.challenges.NewBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }

	c := createChallenge(t, f, challengeInput(f, "Flaky", "project_completed", 1, 300))
	completeChallenge(t, f, "u1", c)

	res, err := f.challenges.ClaimReward(ctx, "u1", c.ID)
	require.NoError(t, err)
	assert.True(t, res.CreditPending)
	assert.Nil(t, res.Credit)

	var p models.UserChallengeProgress
	require.NoError(t, f.db.Where("user_id = ? AND challenge_id = ?", "u1", c.ID).Take(&p).Error)
	assert.True(t, p.ClaimedReward)
	assert.False(t, p.RewardCredited)

	// the claim itself is settled
	_, err = f.challenges.ClaimReward(ctx, "u1", c.ID)
	assert.ErrorIs(t, err, ErrAlreadyClaimed)

	flaky.failures.Store(0)
	done, err := f.challenges.RetryPendingCredits(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, done)

	require.NoError(t, f.db.Where("id = ?", p.ID).Take(&p).Error)
	assert.True(t, p.RewardCredited)

	view, err := f.ledger.GetAccount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(300), view.TotalXP)

	done, err = f.challenges.RetryPendingCredits(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, done)
}

func TestUserProgressAndStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	short := challengeInput(f, "Sprint", "lesson_completed", 1, 60)
	short.EndAt = ptr(f.clock.Now().Add(time.Hour))
	sprint := createChallenge(t, f, short)
	marathon := createChallenge(t, f, challengeInput(f, "Marathon", "lesson_completed", 4, 200))
	createChallenge(t, f, challengeInput(f, "Untouched", "event_attended", 1, 30))

	_, err := f.challenges.ReportAction(ctx, ActionReport{UserID: "u1", Action: "lesson_completed"})
	require.NoError(t, err)

	views, err := f.challenges.UserProgress(ctx, "u1", "")
	require.NoError(t, err)
	require.Len(t, views, 3)
	byID := map[string]ProgressView{}
	for _, v := range views {
		byID[v.Challenge.ID] = v
	}
	assert.True(t, byID[sprint.ID].CanClaim)
	assert.Equal(t, 1, byID[marathon.ID].Progress)
	assert.Equal(t, 25, byID[marathon.ID].ProgressPercent)

	// the sprint window closes; its unclaimed reward stays listed
	f.clock.Advance(2 * time.Hour)
	expired, err := f.challenges.ExpireChallenges(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), expired)

	views, err = f.challenges.UserProgress(ctx, "u1", "")
	require.NoError(t, err)
	require.Len(t, views, 3)
	assert.Equal(t, sprint.ID, views[2].Challenge.ID)
	assert.True(t, views[2].CanClaim)
	assert.True(t, views[2].Expired)
	assert.False(t, views[0].Expired)
	assert.False(t, views[1].Expired)

	_, err = f.challenges.ClaimReward(ctx, "u1", sprint.ID)
	require.NoError(t, err)
	views, err = f.challenges.UserProgress(ctx, "u1", "")
	require.NoError(t, err)
	assert.Len(t, views, 2)

	_, err = f.challenges.UserProgress(ctx, "u1", "yearly")
	assert.ErrorIs(t, err, ErrValidation)

	st, err := f.challenges.Stats(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), st.ActiveChallenges)
	assert.Equal(t, int64(2), st.Started)
	assert.Equal(t, int64(1), st.Completed)
	assert.Equal(t, int64(1), st.InProgress)
	assert.Equal(t, int64(1), st.Claimed)
	assert.Zero(t, st.Unclaimed)
	assert.InDelta(t, 0.5, st.CompletionRate, 1e-9)
	assert.Equal(t, int64(60), st.XPEarned)
}

func TestGenerateScheduledIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.challenges.GenerateScheduled(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(f.tuning.Challenges.Templates), created)

	created, err = f.challenges.GenerateScheduled(ctx)
	require.NoError(t, err)
	assert.Zero(t, created)

	var weekly models.Challenge
	require.NoError(t, f.db.Where("slug = ?", "weekly-events-2026-03-02").Take(&weekly).Error)
	assert.Equal(t, models.ChallengeTypeWeekly, weekly.Type)
	assert.True(t, weekly.Generated)
	assert.True(t, weekly.StartAt.Equal(time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "2026-03-08", f.calendar.DayKey(weekly.EndAt))

	var daily models.Challenge
	require.NoError(t, f.db.Where("slug = ?", "daily-lessons-2026-03-02").Take(&daily).Error)
	assert.Equal(t, "lesson_completed", daily.Requirement.Action)
	assert.Equal(t, 3, daily.Requirement.TargetCount)

	// next day: fresh dailies, same weeklies
	f.clock.NextDay()
	created, err = f.challenges.GenerateScheduled(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, created)

	active, err := f.challenges.ActiveChallenges(ctx, models.ChallengeTypeDaily)
	require.NoError(t, err)
	assert.Len(t, active, 2)
}
