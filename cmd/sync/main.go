// Command sync runs one reconciliation cycle and exits. Intended for cron
// or ECS scheduled tasks; the long-lived HTTP trigger lives in cmd/server.
//
// Exit codes: 0 on a completed cycle (including soft errors recorded in
// the summary), 1 on configuration problems, fatal auth failures, or a
// cycle that could not run at all.
package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/ignite/coldsync/internal/config"
	"github.com/ignite/coldsync/internal/instantly"
	"github.com/ignite/coldsync/internal/notify"
	"github.com/ignite/coldsync/internal/pkg/distlock"
	"github.com/ignite/coldsync/internal/pkg/logger"
	"github.com/ignite/coldsync/internal/repository/postgres"
	"github.com/ignite/coldsync/internal/snowflake"
	"github.com/ignite/coldsync/internal/sync"
	"github.com/ignite/coldsync/internal/verify"
)

func main() {
	var (
		configPath = flag.String("config", "config/config.yaml", "path to config file")
		dryRun     = flag.Bool("dry-run", false, "classify and report without mutating anything")
		target     = flag.Int("target", 0, "override target leads for this run")
	)
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}

	limiter := instantly.NewAdaptiveLimiter(instantly.LimiterConfig{})
	client := instantly.NewClient(cfg.Instantly, limiter)

	var source sync.CandidateSource
	if cfg.Snowflake.Enabled {
		snow, err := snowflake.NewClient(cfg.Snowflake)
		if err != nil {
			log.Fatalf("Failed to connect to snowflake: %v", err)
		}
		defer snow.Close()
		source = snow
	} else {
		logger.Warn("main: snowflake disabled, cycle will drain only")
	}

	memberships := postgres.NewMembershipRepo(db)
	history := postgres.NewHistoryRepo(db)
	suppressions := postgres.NewSuppressionRepo(db)
	failures := postgres.NewFailureRepo(db)
	summaries := postgres.NewSummaryRepo(db)

	verifier := verify.NewService(cfg.Verification, client, memberships, suppressions, history, failures)
	lock := distlock.NewCycleLock(redisClient, db, "coldsync:cycle", cfg.Sync.LockTTL())

	engine := sync.NewEngine(cfg.Sync, cfg.Instantly, sync.Deps{
		Remote:       client,
		Source:       source,
		Memberships:  memberships,
		History:      history,
		Suppressions: suppressions,
		Failures:     failures,
		Summaries:    summaries,
		Verifier:     verifier,
		Lock:         lock,
	})

	summary, err := engine.RunCycle(ctx, sync.Options{
		DryRun:      *dryRun,
		TargetLeads: *target,
	})
	if summary != nil {
		if nerr := buildNotifier(ctx, cfg).Notify(ctx, summary); nerr != nil {
			logger.Warn("main: summary delivery failed", "error", nerr)
		}
	}
	if err != nil {
		logger.Error("main: cycle failed", "error", err)
		os.Exit(1)
	}
}

// buildNotifier assembles the configured delivery targets. An empty fanout
// is valid and delivers nowhere.
func buildNotifier(ctx context.Context, cfg *config.Config) notify.Fanout {
	var fanout notify.Fanout
	if !cfg.Notify.Enabled {
		return fanout
	}
	if cfg.Notify.WebhookURL != "" {
		fanout = append(fanout, notify.NewWebhookNotifier(cfg.Notify.WebhookURL))
	}
	if cfg.Notify.S3Bucket != "" {
		archiver, err := notify.NewS3Archiver(ctx, cfg.Notify)
		if err != nil {
			logger.Warn("main: s3 archiver unavailable", "error", err)
		} else {
			fanout = append(fanout, archiver)
		}
	}
	return fanout
}
