package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"member-progression/config"
	"member-progression/handlers"
	"member-progression/models"
	"member-progression/services"
	"member-progression/utils"
	"member-progression/workers"

	"github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("service stopped with error", "error", err)
		os.Exit(1)
	}
}

func openDatabase(cfg *config.Config) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.DatabaseDriver {
	case "sqlite":
		dialector = sqlite.Open(cfg.DatabaseURL)
	default:
		dialector = postgres.Open(cfg.DatabaseURL)
	}
	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if cfg.DatabaseDriver == "sqlite" {
		// one writer at a time keeps sqlite from returning SQLITE_BUSY
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tuning, err := config.LoadTuning(cfg.TuningFile)
	if err != nil {
		return err
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	if err := models.AutoMigrate(db); err != nil {
		return err
	}

	now := services.Clock(time.Now)
	cal := services.NewCalendar(loc)
	curve := services.NewLevelCurve(tuning.Levels)
	retries := tuning.Ledger.ConflictRetries

	dbRanks := services.NewDBRankIndex(db)
	var ranks services.RankIndex = dbRanks
	var redisRanks *services.RedisRankIndex
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return err
		}
		client := redis.NewClient(opts)
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			log.Warn("redis unreachable, rank reads will fall back to the database", "error", err)
		}
		redisRanks = services.NewRedisRankIndex(client, dbRanks, log)
		ranks = redisRanks
	}

	ledger := services.NewXPLedger(db, curve, ranks, now, retries, log)
	streaks := services.NewStreakTracker(db, ledger, cal, tuning.Streak, now, retries, log)
	challenges := services.NewChallengeEngine(db, ledger, cal, tuning.Challenges, now, retries, log)
	rewards := services.NewRewardDispatcher(ledger, cal, tuning.Rewards, now)

	var store services.ObjectStore
	if cfg.R2.Enabled() {
		r2, err := utils.NewR2Store(ctx, cfg.R2.AccountID, cfg.R2.AccessKey, cfg.R2.SecretKey, cfg.R2.Bucket)
		if err != nil {
			return err
		}
		store = r2
	} else {
		log.Info("R2 not configured, leaderboard snapshots stay in the database only")
	}
	archiver := services.NewLeaderboardArchiver(db, ranks, store, cal, now, tuning.Challenges.SnapshotSize, log)

	sched, err := services.StartScheduler(ctx, loc, services.Jobs{
		Challenges:     challenges,
		Archiver:       archiver,
		RedisRanks:     redisRanks,
		GenerateAtHour: tuning.Challenges.GenerateAtHour,
	}, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := sched.Shutdown(); err != nil {
			log.Warn("scheduler shutdown", "error", err)
		}
	}()

	go workers.PollPendingCredits(ctx, challenges, cfg.CreditRetryInterval, log)
	if cfg.ProfileSync.URL != "" {
		workers.NewProfileSyncWorker(rewards, cfg.ProfileSync.URL, cfg.ProfileSync.Path, cfg.ProfileSync.Token, cfg.ProfileSync.Interval, log).Start(ctx)
	}

	app := handlers.NewApp(handlers.AppConfig{
		GatewayToken:   cfg.GatewayToken,
		AllowedOrigins: cfg.AllowedOrigins,
		AccessLog:      true,
	}, handlers.Services{
		Ledger:     ledger,
		Streaks:    streaks,
		Challenges: challenges,
		Rewards:    rewards,
	}, log)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Error("server error", "error", err)
			stop()
		}
	}()
	log.Info("server running", "port", cfg.Port, "calendar", loc.String(), "rank_index_redis", redisRanks != nil)

	<-ctx.Done()
	log.Info("shutting down server")
	return app.ShutdownWithTimeout(10 * time.Second)
}
