package services

import (
	"log/slog"
	"testing"
	"time"

	"member-progression/config"
	"member-progression/models"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Monday
var testStart = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func (c *testClock) NextDay() { c.now = c.now.AddDate(0, 0, 1) }

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// one connection keeps the in-memory database alive and serializes writers
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, models.AutoMigrate(db))
	return db
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

type fixture struct {
	db         *gorm.DB
	clock      *testClock
	tuning     *config.Tuning
	calendar   Calendar
	curve      *LevelCurve
	ledger     *XPLedger
	streaks    *StreakTracker
	challenges *ChallengeEngine
	rewards    *RewardDispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := openTestDB(t)
	clock := &testClock{now: testStart}
	tuning := config.DefaultTuning()
	cal := NewCalendar(time.UTC)
	curve := NewLevelCurve(tuning.Levels)
	log := discardLogger()

	ledger := NewXPLedger(db, curve, NewDBRankIndex(db), clock.Now, tuning.Ledger.ConflictRetries, log)
	return &fixture{
		db:         db,
		clock:      clock,
		tuning:     tuning,
		calendar:   cal,
		curve:      curve,
		ledger:     ledger,
		streaks:    NewStreakTracker(db, ledger, cal, tuning.Streak, clock.Now, tuning.Ledger.ConflictRetries, log),
		challenges: NewChallengeEngine(db, ledger, cal, tuning.Challenges, clock.Now, tuning.Ledger.ConflictRetries, log),
		rewards:    NewRewardDispatcher(ledger, cal, tuning.Rewards, clock.Now),
	}
}

func ptr[T any](v T) *T { return &v }
