// Command verify runs one verification pass and exits: re-trigger stale
// or missing verifications, then poll pending ones and act on the
// results. Intended to run more often than the full sync cycle.
package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/ignite/coldsync/internal/config"
	"github.com/ignite/coldsync/internal/instantly"
	"github.com/ignite/coldsync/internal/pkg/logger"
	"github.com/ignite/coldsync/internal/repository/postgres"
	"github.com/ignite/coldsync/internal/verify"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}
	if !cfg.Verification.Enabled {
		logger.Info("verify: verification disabled, nothing to do")
		return
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

	limiter := instantly.NewAdaptiveLimiter(instantly.LimiterConfig{})
	client := instantly.NewClient(cfg.Instantly, limiter)

	memberships := postgres.NewMembershipRepo(db)
	history := postgres.NewHistoryRepo(db)
	suppressions := postgres.NewSuppressionRepo(db)
	failures := postgres.NewFailureRepo(db)

	svc := verify.NewService(cfg.Verification, client, memberships, suppressions, history, failures)

	triggered, err := svc.TriggerPending(ctx)
	if err != nil {
		log.Fatalf("Trigger pass failed: %v", err)
	}
	logger.Info("verify: trigger pass done", "triggered", triggered)

	results, err := svc.PollPending(ctx)
	if err != nil {
		log.Fatalf("Poll pass failed: %v", err)
	}
	logger.Info("verify: poll pass done",
		"valid", results.Valid,
		"invalid", results.Invalid,
		"deleted", results.Deleted,
		"pending", results.Pending)
}
