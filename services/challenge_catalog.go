package services

import (
	"context"
	"strings"
	"time"

	"member-progression/config"
	"member-progression/models"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm/clause"
)

// ChallengeInput is an admin-authored challenge definition.
type ChallengeInput struct {
	Title          string                     `json:"title"`
	Description    string                     `json:"description"`
	Type           models.ChallengeType       `json:"type"`
	Category       string                     `json:"category"`
	Difficulty     models.ChallengeDifficulty `json:"difficulty"`
	Action         string                     `json:"action"`
	TargetCount    int                        `json:"target_count"`
	RewardXP       int64                      `json:"reward_xp"`
	RewardBadge    *string                    `json:"reward_badge"`
	RewardTitle    *string                    `json:"reward_title"`
	StartAt        *time.Time                 `json:"start_at"`
	EndAt          *time.Time                 `json:"end_at"`
	IsActive       *bool                      `json:"is_active"`
	MaxCompletions *int                       `json:"max_completions"`
	CreatedBy      string                     `json:"-"`
}

func (in *ChallengeInput) validate() error {
	const op = "challenges.CreateChallenge"
	var missing []string
	if strings.TrimSpace(in.Title) == "" {
		missing = append(missing, "title")
	}
	if in.Type == "" {
		missing = append(missing, "type")
	}
	if NormalizeAction(in.Action) == "" {
		missing = append(missing, "action")
	}
	if in.StartAt == nil {
		missing = append(missing, "start_at")
	}
	if in.EndAt == nil {
		missing = append(missing, "end_at")
	}
	if len(missing) > 0 {
		return newError(op, ErrValidation, "missing required fields: %s", strings.Join(missing, ", "))
	}
	if !in.Type.Valid() {
		return newError(op, ErrValidation, "unknown challenge type %q", in.Type)
	}
	switch in.Difficulty {
	case "", models.DifficultyEasy, models.DifficultyMedium, models.DifficultyHard:
	default:
		return newError(op, ErrValidation, "unknown difficulty %q", in.Difficulty)
	}
	if in.TargetCount <= 0 {
		return newError(op, ErrValidation, "target_count must be positive")
	}
	if in.RewardXP <= 0 {
		return newError(op, ErrValidation, "reward_xp must be positive")
	}
	if !in.EndAt.After(*in.StartAt) {
		return newError(op, ErrValidation, "end_at must be after start_at")
	}
	if in.MaxCompletions != nil && *in.MaxCompletions <= 0 {
		return newError(op, ErrValidation, "max_completions must be positive when set")
	}
	return nil
}

// CreateChallenge validates and stores a new challenge. It starts active with no completions.
func (e *ChallengeEngine) CreateChallenge(ctx context.Context, in ChallengeInput) (*models.Challenge, error) {
	const op = "challenges.CreateChallenge"
	if err := in.validate(); err != nil {
		return nil, err
	}
	difficulty := in.Difficulty
	if difficulty == "" {
		difficulty = models.DifficultyMedium
	}
	active := true
	if in.IsActive != nil {
		active = *in.IsActive
	}

	id := uuid.NewString()
	c := &models.Challenge{
		ID:          id,
		Slug:        slug.Make(in.Title) + "-" + id[:8],
		Title:       strings.TrimSpace(in.Title),
		Description: in.Description,
		Type:        in.Type,
		Category:    in.Category,
		Difficulty:  difficulty,
		Requirement: models.ChallengeRequirement{
			Action:      NormalizeAction(in.Action),
			TargetCount: in.TargetCount,
		},
		Reward: models.ChallengeReward{
			XP:    in.RewardXP,
			Badge: in.RewardBadge,
			Title: in.RewardTitle,
		},
		StartAt:        in.StartAt.UTC(),
		EndAt:          in.EndAt.UTC(),
		IsActive:       active,
		MaxCompletions: in.MaxCompletions,
		CreatedBy:      in.CreatedBy,
	}
	if err := e.DB.WithContext(ctx).Create(c).Error; err != nil {
		return nil, storageError(op, err)
	}
	e.Log.Info("challenge created", "challenge_id", c.ID, "slug", c.Slug, "action", c.Requirement.Action)
	return c, nil
}

// ActiveChallenges lists challenges that accept progress right now.
func (e *ChallengeEngine) ActiveChallenges(ctx context.Context, typ models.ChallengeType) ([]models.Challenge, error) {
	const op = "challenges.ActiveChallenges"
	if typ != "" && !typ.Valid() {
		return nil, newError(op, ErrValidation, "unknown challenge type %q", typ)
	}
	now := e.Now().UTC()
	q := e.DB.WithContext(ctx).Where("is_active = ? AND start_at <= ? AND end_at >= ?", true, now, now)
	if typ != "" {
		q = q.Where("type = ?", typ)
	}
	var out []models.Challenge
	if err := q.Order("end_at ASC").Order("id ASC").Find(&out).Error; err != nil {
		return nil, storageError(op, err)
	}
	return out, nil
}

// ProgressView pairs a challenge with the caller's progress on it.
type ProgressView struct {
	Challenge       models.Challenge `json:"challenge"`
	Progress        int              `json:"progress"`
	TargetCount     int              `json:"target_count"`
	ProgressPercent int              `json:"progress_percent"`
	Completed       bool             `json:"completed"`
	CompletedAt     *time.Time       `json:"completed_at,omitempty"`
	ClaimedReward   bool             `json:"claimed_reward"`
	ClaimedAt       *time.Time       `json:"claimed_at,omitempty"`
	CanClaim        bool             `json:"can_claim"`
	Expired         bool             `json:"expired"`
}

// UserProgress lists the active challenges of typ with the user's progress,
// followed by challenges the user completed but has not claimed that are no
// longer listed as active. Those past their window are marked Expired.
func (e *ChallengeEngine) UserProgress(ctx context.Context, userID string, typ models.ChallengeType) ([]ProgressView, error) {
	const op = "challenges.UserProgress"
	active, err := e.ActiveChallenges(ctx, typ)
	if err != nil {
		return nil, err
	}

	var rows []models.UserChallengeProgress
	if err := e.DB.WithContext(ctx).Preload("Challenge").Where("user_id = ?", userID).Find(&rows).Error; err != nil {
		return nil, storageError(op, err)
	}
	byChallenge := make(map[string]*models.UserChallengeProgress, len(rows))
	for i := range rows {
		byChallenge[rows[i].ChallengeID] = &rows[i]
	}

	now := e.Now().UTC()
	views := make([]ProgressView, 0, len(active))
	seen := make(map[string]bool, len(active))
	for _, c := range active {
		seen[c.ID] = true
		v := ProgressView{Challenge: c, TargetCount: c.Requirement.TargetCount}
		if p, ok := byChallenge[c.ID]; ok {
			fillProgressView(&v, p)
		}
		views = append(views, v)
	}
	for i := range rows {
		p := &rows[i]
		if seen[p.ChallengeID] || p.Challenge == nil || !p.Completed || p.ClaimedReward {
			continue
		}
		if typ != "" && p.Challenge.Type != typ {
			continue
		}
		v := ProgressView{Challenge: *p.Challenge, Expired: !p.Challenge.InWindow(now)}
		fillProgressView(&v, p)
		views = append(views, v)
	}
	return views, nil
}

func fillProgressView(v *ProgressView, p *models.UserChallengeProgress) {
	v.Progress = p.Progress
	v.TargetCount = p.TargetCount
	v.Completed = p.Completed
	v.CompletedAt = p.CompletedAt
	v.ClaimedReward = p.ClaimedReward
	v.ClaimedAt = p.ClaimedAt
	v.CanClaim = p.Completed && !p.ClaimedReward
	if p.TargetCount > 0 {
		v.ProgressPercent = p.Progress * 100 / p.TargetCount
	}
}

// ChallengeStats summarises the caller's challenge activity.
type ChallengeStats struct {
	ActiveChallenges int64   `json:"active_challenges"`
	Started          int64   `json:"started"`
	InProgress       int64   `json:"in_progress"`
	Completed        int64   `json:"completed"`
	Claimed          int64   `json:"claimed"`
	Unclaimed        int64   `json:"unclaimed"`
	CompletionRate   float64 `json:"completion_rate"` // completed / started, 0..1
	XPEarned         int64   `json:"xp_earned"`
}

func (e *ChallengeEngine) Stats(ctx context.Context, userID string) (*ChallengeStats, error) {
	const op = "challenges.Stats"
	now := e.Now().UTC()
	var st ChallengeStats

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return e.DB.WithContext(gctx).Model(&models.Challenge{}).
			Where("is_active = ? AND start_at <= ? AND end_at >= ?", true, now, now).
			Count(&st.ActiveChallenges).Error
	})
	g.Go(func() error {
		return e.DB.WithContext(gctx).Model(&models.UserChallengeProgress{}).
			Where("user_id = ?", userID).
			Count(&st.Started).Error
	})
	g.Go(func() error {
		return e.DB.WithContext(gctx).Model(&models.UserChallengeProgress{}).
			Where("user_id = ? AND completed = ?", userID, true).
			Count(&st.Completed).Error
	})
	g.Go(func() error {
		return e.DB.WithContext(gctx).Model(&models.UserChallengeProgress{}).
			Where("user_id = ? AND claimed_reward = ?", userID, true).
			Count(&st.Claimed).Error
	})
	g.Go(func() error {
		return e.DB.WithContext(gctx).Model(&models.XPTransaction{}).
			Where("user_id = ? AND source = ?", userID, models.XPSourceChallengeComplete).
			Select("COALESCE(SUM(amount), 0)").
			Scan(&st.XPEarned).Error
	})
	if err := g.Wait(); err != nil {
		return nil, storageError(op, err)
	}

	st.InProgress = st.Started - st.Completed
	st.Unclaimed = st.Completed - st.Claimed
	if st.Started > 0 {
		st.CompletionRate = float64(st.Completed) / float64(st.Started)
	}
	return &st, nil
}

// ExpireChallenges deactivates challenges whose window has closed. Rows are kept.
func (e *ChallengeEngine) ExpireChallenges(ctx context.Context) (int64, error) {
	res := e.DB.WithContext(ctx).Model(&models.Challenge{}).
		Where("is_active = ? AND end_at < ?", true, e.Now().UTC()).
		Updates(map[string]any{"is_active": false, "updated_at": e.Now().UTC()})
	if res.Error != nil {
		return 0, storageError("challenges.ExpireChallenges", res.Error)
	}
	return res.RowsAffected, nil
}

// GenerateScheduled creates the current day's and week's challenges from the
// configured templates. Each (template, window) pair has a fixed slug, so
// running it again in the same window creates nothing.
func (e *ChallengeEngine) GenerateScheduled(ctx context.Context) (int, error) {
	const op = "challenges.GenerateScheduled"
	now := e.Now()
	created := 0
	for _, tpl := range e.Tuning.Templates {
		c := e.fromTemplate(tpl, now)
		res := e.DB.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "slug"}},
			DoNothing: true,
		}).Create(c)
		if res.Error != nil {
			return created, storageError(op, res.Error)
		}
		if res.RowsAffected > 0 {
			created++
		}
	}
	return created, nil
}

func (e *ChallengeEngine) fromTemplate(tpl config.ChallengeTemplate, now time.Time) *models.Challenge {
	typ := models.ChallengeType(tpl.Type)
	start, end := e.Calendar.StartOfDay(now), e.Calendar.EndOfDay(now)
	if typ == models.ChallengeTypeWeekly {
		start, end = e.Calendar.StartOfWeek(now), e.Calendar.EndOfWeek(now)
	}
	difficulty := models.ChallengeDifficulty(tpl.Difficulty)
	if difficulty == "" {
		difficulty = models.DifficultyEasy
	}
	return &models.Challenge{
		ID:          uuid.NewString(),
		Slug:        slug.Make(tpl.Key + " " + e.Calendar.DayKey(start)),
		Title:       tpl.Title,
		Description: tpl.Description,
		Type:        typ,
		Category:    tpl.Category,
		Difficulty:  difficulty,
		Requirement: models.ChallengeRequirement{
			Action:      NormalizeAction(tpl.Action),
			TargetCount: tpl.TargetCount,
		},
		Reward:    models.ChallengeReward{XP: tpl.RewardXP},
		StartAt:   start.UTC(),
		EndAt:     end.UTC(),
		IsActive:  true,
		Generated: true,
		CreatedBy: "scheduler",
	}
}
