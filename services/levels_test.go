package services

import (
	"math"
	"testing"

	"member-progression/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultCurve() *LevelCurve {
	return NewLevelCurve(config.LevelTuning{Base: 100, Multiplier: 1.5, MaxLevel: 100})
}

func TestLevelCurveCosts(t *testing.T) {
	c := defaultCurve()

	assert.Equal(t, int64(0), c.XPForLevel(0))
	assert.Equal(t, int64(0), c.XPForLevel(1))
	assert.Equal(t, int64(100), c.XPForLevel(2))
	assert.Equal(t, int64(150), c.XPForLevel(3))
	assert.Equal(t, int64(225), c.XPForLevel(4))
	assert.Equal(t, int64(337), c.XPForLevel(5))

	assert.Equal(t, int64(0), c.TotalXPForLevel(1))
	assert.Equal(t, int64(100), c.TotalXPForLevel(2))
	assert.Equal(t, int64(250), c.TotalXPForLevel(3))
	assert.Equal(t, int64(475), c.TotalXPForLevel(4))
}

func TestLevelFromTotalXP(t *testing.T) {
	c := defaultCurve()

	cases := []struct {
		total int64
		level int
	}{
		{-5, 1},
		{0, 1},
		{99, 1},
		{100, 2},
		{249, 2},
		{250, 3},
		{260, 3},
		{475, 4},
		{math.MaxInt64, 100},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.level, c.LevelFromTotalXP(tc.total), "total %d", tc.total)
	}
	assert.Equal(t, int64(10), c.CurrentXPWithinLevel(260, 3))
}

func TestCurrentXPStaysInsideLevel(t *testing.T) {
	c := defaultCurve()
	for total := int64(0); total < 200_000; total += 37 {
		level := c.LevelFromTotalXP(total)
		cur := c.CurrentXPWithinLevel(total, level)

		require.GreaterOrEqual(t, cur, int64(0), "total %d", total)
		require.Less(t, cur, c.XPForLevel(level+1), "total %d", total)
		require.LessOrEqual(t, c.TotalXPForLevel(level), total, "total %d", total)
		require.Equal(t, total, c.TotalXPForLevel(level)+cur, "total %d", total)
	}
}

func TestCurrentXPClampedAtMaxLevel(t *testing.T) {
	c := NewLevelCurve(config.LevelTuning{Base: 100, Multiplier: 2, MaxLevel: 3})

	assert.Equal(t, 3, c.LevelFromTotalXP(10_000))
	assert.Equal(t, int64(400), c.XPForLevel(4))
	assert.Equal(t, int64(399), c.CurrentXPWithinLevel(10_000, 3))
	assert.Equal(t, 99, LevelProgressPercent(399, 400))
}

func TestLevelProgressPercent(t *testing.T) {
	assert.Equal(t, 0, LevelProgressPercent(0, 225))
	assert.Equal(t, 4, LevelProgressPercent(10, 225))
	assert.Equal(t, 50, LevelProgressPercent(50, 100))
	assert.Equal(t, 100, LevelProgressPercent(225, 225))
	assert.Equal(t, 100, LevelProgressPercent(5, 0))
	assert.Equal(t, 0, LevelProgressPercent(-3, 100))
}

func TestLevelRewards(t *testing.T) {
	assert.True(t, LevelRewards(7).Empty())

	five := LevelRewards(5)
	assert.Equal(t, int64(50), five.Coins)
	assert.Equal(t, []string{"rising_star"}, five.Badges)

	fifty := LevelRewards(50)
	assert.Equal(t, int64(500), fifty.Coins)
	assert.Equal(t, []string{"Master"}, fifty.Titles)
	assert.Equal(t,
		[]string{"500 coins", "Badge: Half Century", "Title: Master", "Cosmetic: Gold Frame"},
		RewardLabels(fifty),
	)

	// the table must not leak through returned slices
	five.Badges[0] = "changed"
	assert.Equal(t, []string{"rising_star"}, LevelRewards(5).Badges)
}

func TestLevelInfo(t *testing.T) {
	c := defaultCurve()

	info, err := c.Info(3)
	require.NoError(t, err)
	assert.Equal(t, int64(150), info.XPForLevel)
	assert.Equal(t, int64(250), info.TotalXPRequired)
	assert.Equal(t, int64(225), info.XPToNextLevel)
	assert.False(t, info.IsMaxLevel)

	top, err := c.Info(100)
	require.NoError(t, err)
	assert.True(t, top.IsMaxLevel)

	for _, level := range []int{0, -1, 101} {
		_, err := c.Info(level)
		assert.ErrorIs(t, err, ErrValidation, "level %d", level)
	}
}
