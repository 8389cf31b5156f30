package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// Jobs is what the background scheduler drives. Nil members are skipped.
type Jobs struct {
	Challenges *ChallengeEngine
	Archiver   *LeaderboardArchiver
	RedisRanks *RedisRankIndex

	GenerateAtHour uint
}

// StartScheduler registers the recurring progression jobs and starts them.
// Stop it with Shutdown.
func StartScheduler(ctx context.Context, loc *time.Location, jobs Jobs, log *slog.Logger) (gocron.Scheduler, error) {
	log = log.With("component", "scheduler")
	sched, err := gocron.NewScheduler(gocron.WithLocation(loc))
	if err != nil {
		return nil, err
	}

	if c := jobs.Challenges; c != nil {
		// Every minute: close challenges whose window ended
		_, err = sched.NewJob(
			gocron.DurationJob(1*time.Minute),
			gocron.NewTask(func() {
				n, err := c.ExpireChallenges(ctx)
				if err != nil {
					log.Error("expire challenges failed", "error", err)
					return
				}
				if n > 0 {
					log.Info("challenges expired", "count", n)
				}
			}),
			gocron.WithName("expire-challenges"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return nil, err
		}

		// Daily, and once at startup: create today's and this week's challenges
		_, err = sched.NewJob(
			gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(jobs.GenerateAtHour, 0, 5))),
			gocron.NewTask(func() {
				n, err := c.GenerateScheduled(ctx)
				if err != nil {
					log.Error("generate challenges failed", "error", err)
					return
				}
				log.Info("scheduled challenges generated", "created", n)
			}),
			gocron.WithName("generate-challenges"),
			gocron.WithStartAt(gocron.WithStartImmediately()),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return nil, err
		}
	}

	if a := jobs.Archiver; a != nil {
		_, err = sched.NewJob(
			gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(23, 55, 0))),
			gocron.NewTask(func() {
				if _, err := a.Snapshot(ctx); err != nil {
					log.Error("leaderboard snapshot failed", "error", err)
				}
			}),
			gocron.WithName("leaderboard-snapshot"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return nil, err
		}
	}

	if r := jobs.RedisRanks; r != nil {
		_, err = sched.NewJob(
			gocron.DurationJob(15*time.Minute),
			gocron.NewTask(func() {
				n, err := r.Rebuild(ctx)
				if err != nil {
					log.Error("rank index rebuild failed", "error", err)
					return
				}
				log.Info("rank index rebuilt", "members", n)
			}),
			gocron.WithName("rank-index-rebuild"),
			gocron.WithStartAt(gocron.WithStartImmediately()),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return nil, err
		}
	}

	sched.Start()
	return sched, nil
}
