package services

import (
	"math"
	"sort"
	"strings"

	"member-progression/config"
	"member-progression/models"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// maxLevelCost caps a single level's cost so cumulative sums over any
// configurable curve stay far from int64 overflow.
const maxLevelCost = math.MaxInt64 / 256

// LevelCurve converts between total XP and levels. Costs are geometric:
// level 2 costs Base, every following level costs Multiplier times more.
type LevelCurve struct {
	base       int64
	multiplier float64
	maxLevel   int

	// costs[l] = XP to go from l-1 to l; totals[l] = XP to reach l from zero.
	// Both cover levels 0..maxLevel+1.
	costs  []int64
	totals []int64
}

func NewLevelCurve(t config.LevelTuning) *LevelCurve {
	c := &LevelCurve{
		base:       t.Base,
		multiplier: t.Multiplier,
		maxLevel:   t.MaxLevel,
		costs:      make([]int64, t.MaxLevel+2),
		totals:     make([]int64, t.MaxLevel+2),
	}
	for l := 2; l <= t.MaxLevel+1; l++ {
		c.costs[l] = c.cost(l)
		c.totals[l] = saturatingAdd(c.totals[l-1], c.costs[l])
	}
	return c
}

func (c *LevelCurve) cost(level int) int64 {
	if level <= 1 {
		return 0
	}
	v := math.Floor(float64(c.base) * math.Pow(c.multiplier, float64(level-2)))
	if v >= maxLevelCost || math.IsInf(v, 0) || math.IsNaN(v) {
		return maxLevelCost
	}
	return int64(v)
}

// MaxLevel is the highest reachable level.
func (c *LevelCurve) MaxLevel() int { return c.maxLevel }

// XPForLevel returns the XP needed to go from level-1 to level. Zero for level <= 1.
func (c *LevelCurve) XPForLevel(level int) int64 {
	if level <= 1 {
		return 0
	}
	if level < len(c.costs) {
		return c.costs[level]
	}
	return c.cost(level)
}

// TotalXPForLevel returns the cumulative XP threshold of level.
func (c *LevelCurve) TotalXPForLevel(level int) int64 {
	if level <= 1 {
		return 0
	}
	if level < len(c.totals) {
		return c.totals[level]
	}
	total := c.totals[len(c.totals)-1]
	for l := len(c.totals); l <= level; l++ {
		total = saturatingAdd(total, c.cost(l))
	}
	return total
}

// LevelFromTotalXP returns the largest level <= MaxLevel whose threshold does not exceed totalXP.
func (c *LevelCurve) LevelFromTotalXP(totalXP int64) int {
	if totalXP <= 0 {
		return 1
	}
	// first level in 2..maxLevel whose threshold exceeds totalXP
	n := sort.Search(c.maxLevel-1, func(i int) bool {
		return c.totals[i+2] > totalXP
	})
	return n + 1
}

// CurrentXPWithinLevel returns the XP earned inside level. At the level cap
// the value is clamped below the next level's cost so progress never reads as complete.
func (c *LevelCurve) CurrentXPWithinLevel(totalXP int64, level int) int64 {
	cur := totalXP - c.TotalXPForLevel(level)
	if cur < 0 {
		return 0
	}
	if next := c.XPForLevel(level + 1); next > 0 && cur >= next {
		return next - 1
	}
	return cur
}

// LevelProgressPercent is floor(currentXP/xpToNextLevel*100) clamped to [0,100].
func LevelProgressPercent(currentXP, xpToNextLevel int64) int {
	if xpToNextLevel <= 0 {
		return 100
	}
	if currentXP <= 0 {
		return 0
	}
	if currentXP >= xpToNextLevel {
		return 100
	}
	return int(float64(currentXP) / float64(xpToNextLevel) * 100)
}

type levelUnlocks struct {
	badges    []string
	titles    []string
	cosmetics []string
}

var namedLevelRewards = map[int]levelUnlocks{
	5:   {badges: []string{"rising_star"}},
	10:  {badges: []string{"dedicated_member"}, titles: []string{"Apprentice"}},
	15:  {cosmetics: []string{"bronze_frame"}},
	20:  {titles: []string{"Expert"}},
	25:  {badges: []string{"veteran"}},
	30:  {cosmetics: []string{"silver_frame"}},
	50:  {badges: []string{"half_century"}, titles: []string{"Master"}, cosmetics: []string{"gold_frame"}},
	100: {badges: []string{"centurion"}, titles: []string{"Legend"}, cosmetics: []string{"legendary_aura"}},
}

// LevelRewards returns what reaching level grants.
func LevelRewards(level int) models.LevelRewards {
	r := models.LevelRewards{Level: level}
	if level > 0 && level%5 == 0 {
		r.Coins = int64(level) * 10
	}
	if u, ok := namedLevelRewards[level]; ok {
		r.Badges = append([]string(nil), u.badges...)
		r.Titles = append([]string(nil), u.titles...)
		r.Cosmetics = append([]string(nil), u.cosmetics...)
	}
	return r
}

// RewardLabels renders rewards for display, e.g. "500 coins", "Badge: Half Century".
func RewardLabels(r models.LevelRewards) []string {
	p := message.NewPrinter(language.English)
	title := cases.Title(language.English)
	display := func(code string) string {
		return title.String(strings.ReplaceAll(code, "_", " "))
	}

	var labels []string
	if r.Coins > 0 {
		labels = append(labels, p.Sprintf("%d coins", r.Coins))
	}
	for _, b := range r.Badges {
		labels = append(labels, "Badge: "+display(b))
	}
	for _, t := range r.Titles {
		labels = append(labels, "Title: "+display(t))
	}
	for _, c := range r.Cosmetics {
		labels = append(labels, "Cosmetic: "+display(c))
	}
	return labels
}

// LevelInfo describes one level of the curve.
type LevelInfo struct {
	Level           int                 `json:"level"`
	XPForLevel      int64               `json:"xp_for_level"`
	TotalXPRequired int64               `json:"total_xp_required"`
	XPToNextLevel   int64               `json:"xp_to_next_level"`
	IsMaxLevel      bool                `json:"is_max_level"`
	Rewards         models.LevelRewards `json:"rewards"`
	RewardLabels    []string            `json:"reward_labels"`
}

// Info returns the description of level, or a validation error outside [1, MaxLevel].
func (c *LevelCurve) Info(level int) (*LevelInfo, error) {
	if level < 1 || level > c.maxLevel {
		return nil, newError("levels.Info", ErrValidation, "level must be between 1 and %d", c.maxLevel)
	}
	rewards := LevelRewards(level)
	return &LevelInfo{
		Level:           level,
		XPForLevel:      c.XPForLevel(level),
		TotalXPRequired: c.TotalXPForLevel(level),
		XPToNextLevel:   c.XPForLevel(level + 1),
		IsMaxLevel:      level == c.maxLevel,
		Rewards:         rewards,
		RewardLabels:    RewardLabels(rewards),
	}, nil
}

func saturatingAdd(a, b int64) int64 {
	if b > 0 && a > math.MaxInt64-b {
		return math.MaxInt64
	}
	return a + b
}
