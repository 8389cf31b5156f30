package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Tuning holds the gameplay constants. Defaults below; a YAML file and
// PROGRESSION_* env vars override them.
type Tuning struct {
	Levels     LevelTuning     `mapstructure:"levels"`
	Streak     StreakTuning    `mapstructure:"streak"`
	Rewards    RewardTuning    `mapstructure:"rewards"`
	Challenges ChallengeTuning `mapstructure:"challenges"`
	Ledger     LedgerTuning    `mapstructure:"ledger"`
}

type LevelTuning struct {
	Base       int64   `mapstructure:"base"`
	Multiplier float64 `mapstructure:"multiplier"`
	MaxLevel   int     `mapstructure:"max_level"`
}

// StreakStep pairs a streak length with an XP amount.
type StreakStep struct {
	Days int   `mapstructure:"days"`
	XP   int64 `mapstructure:"xp"`
}

type StreakTuning struct {
	BaseXP      int64        `mapstructure:"base_xp"`
	Bonuses     []StreakStep `mapstructure:"bonuses"`    // cumulative, applied when streak >= days
	Milestones  []StreakStep `mapstructure:"milestones"` // one-time, applied when streak == days
	HistoryDays int          `mapstructure:"history_days"`
}

type RewardTuning struct {
	LoginXP           int64            `mapstructure:"login_xp"`
	ProfileCompleteXP int64            `mapstructure:"profile_complete_xp"`
	AchievementTiers  map[string]int64 `mapstructure:"achievement_tiers"`
}

// ChallengeTemplate describes a daily or weekly challenge the scheduler generates.
type ChallengeTemplate struct {
	Key         string `mapstructure:"key"`
	Type        string `mapstructure:"type"`
	Title       string `mapstructure:"title"`
	Description string `mapstructure:"description"`
	Category    string `mapstructure:"category"`
	Difficulty  string `mapstructure:"difficulty"`
	Action      string `mapstructure:"action"`
	TargetCount int    `mapstructure:"target_count"`
	RewardXP    int64  `mapstructure:"reward_xp"`
}

type ChallengeTuning struct {
	Templates      []ChallengeTemplate `mapstructure:"templates"`
	CreditAttempts int                 `mapstructure:"credit_attempts"`
	SnapshotSize   int                 `mapstructure:"snapshot_size"`
	GenerateAtHour uint                `mapstructure:"generate_at_hour"`
}

type LedgerTuning struct {
	ConflictRetries int `mapstructure:"conflict_retries"`
}

func setTuningDefaults(v *viper.Viper) {
	v.SetDefault("levels.base", 100)
	v.SetDefault("levels.multiplier", 1.5)
	v.SetDefault("levels.max_level", 100)

	v.SetDefault("streak.base_xp", 20)
	v.SetDefault("streak.history_days", 365)
	v.SetDefault("streak.bonuses", []map[string]any{
		{"days": 7, "xp": 10},
		{"days": 30, "xp": 20},
		{"days": 100, "xp": 50},
	})
	v.SetDefault("streak.milestones", []map[string]any{
		{"days": 3, "xp": 50},
		{"days": 7, "xp": 100},
		{"days": 14, "xp": 200},
		{"days": 30, "xp": 500},
		{"days": 60, "xp": 1000},
		{"days": 100, "xp": 2000},
		{"days": 365, "xp": 5000},
	})

	v.SetDefault("rewards.login_xp", 10)
	v.SetDefault("rewards.profile_complete_xp", 100)
	v.SetDefault("rewards.achievement_tiers", map[string]any{
		"bronze":   50,
		"silver":   100,
		"gold":     250,
		"platinum": 500,
	})

	v.SetDefault("challenges.credit_attempts", 5)
	v.SetDefault("challenges.snapshot_size", 100)
	v.SetDefault("challenges.generate_at_hour", 0)
	v.SetDefault("challenges.templates", []map[string]any{
		{
			"key": "daily-check-in", "type": "daily", "title": "Show Up",
			"description": "Check in today", "category": "engagement", "difficulty": "easy",
			"action": "daily_check_in", "target_count": 1, "reward_xp": 15,
		},
		{
			"key": "daily-lessons", "type": "daily", "title": "Daily Learner",
			"description": "Complete 3 lessons today", "category": "learning", "difficulty": "medium",
			"action": "lesson_completed", "target_count": 3, "reward_xp": 50,
		},
		{
			"key": "weekly-events", "type": "weekly", "title": "Community Regular",
			"description": "Attend 2 events this week", "category": "community", "difficulty": "medium",
			"action": "event_attended", "target_count": 2, "reward_xp": 150,
		},
		{
			"key": "weekly-projects", "type": "weekly", "title": "Builder",
			"description": "Complete a project this week", "category": "projects", "difficulty": "hard",
			"action": "project_completed", "target_count": 1, "reward_xp": 300,
		},
	})

	v.SetDefault("ledger.conflict_retries", 8)
}

// LoadTuning reads gameplay tuning. path may be empty.
func LoadTuning(path string) (*Tuning, error) {
	v := viper.New()
	setTuningDefaults(v)

	v.SetEnvPrefix("PROGRESSION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read tuning file %s: %w", path, err)
		}
	}

	var t Tuning
	if err := v.Unmarshal(&t); err != nil {
		return nil, fmt.Errorf("decode tuning: %w", err)
	}
	if err := t.validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// DefaultTuning returns the built-in tuning.
func DefaultTuning() *Tuning {
	t, err := LoadTuning("")
	if err != nil {
		panic(err)
	}
	return t
}

func (t *Tuning) validate() error {
	if t.Levels.Base <= 0 {
		return fmt.Errorf("levels.base must be positive, got %d", t.Levels.Base)
	}
	if t.Levels.Multiplier < 1 {
		return fmt.Errorf("levels.multiplier must be >= 1, got %v", t.Levels.Multiplier)
	}
	if t.Levels.MaxLevel < 2 {
		return fmt.Errorf("levels.max_level must be >= 2, got %d", t.Levels.MaxLevel)
	}
	if t.Streak.HistoryDays <= 0 {
		return fmt.Errorf("streak.history_days must be positive, got %d", t.Streak.HistoryDays)
	}
	for _, tpl := range t.Challenges.Templates {
		if tpl.Key == "" || tpl.Action == "" || tpl.TargetCount <= 0 || tpl.RewardXP <= 0 {
			return fmt.Errorf("challenge template %q is incomplete", tpl.Key)
		}
		if tpl.Type != "daily" && tpl.Type != "weekly" {
			return fmt.Errorf("challenge template %q: type must be daily or weekly", tpl.Key)
		}
	}
	if t.Challenges.CreditAttempts <= 0 {
		t.Challenges.CreditAttempts = 1
	}
	if t.Ledger.ConflictRetries <= 0 {
		t.Ledger.ConflictRetries = 1
	}
	return nil
}
