// Command server runs the HTTP trigger API: POST /api/v1/sync/run starts
// a cycle, GET /api/v1/sync/last returns the latest summary, /healthz is
// the scheduler probe.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/ignite/coldsync/internal/api"
	"github.com/ignite/coldsync/internal/config"
	"github.com/ignite/coldsync/internal/domain"
	"github.com/ignite/coldsync/internal/instantly"
	"github.com/ignite/coldsync/internal/notify"
	"github.com/ignite/coldsync/internal/pkg/distlock"
	"github.com/ignite/coldsync/internal/pkg/logger"
	"github.com/ignite/coldsync/internal/repository/postgres"
	"github.com/ignite/coldsync/internal/snowflake"
	"github.com/ignite/coldsync/internal/sync"
	"github.com/ignite/coldsync/internal/verify"
)

// checkPortAvailable verifies that the target port is not already in use,
// so a stale process is reported before the server half-starts.
func checkPortAvailable(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("port %d is already in use (addr %s): %v", port, addr, err)
	}
	ln.Close()
	return nil
}

// notifyingRunner delivers the summary after each cycle the API triggers.
type notifyingRunner struct {
	engine   *sync.Engine
	notifier notify.Notifier
}

func (r *notifyingRunner) RunCycle(ctx context.Context, opts sync.Options) (*domain.CycleSummary, error) {
	summary, err := r.engine.RunCycle(ctx, opts)
	if summary != nil && r.notifier != nil {
		if nerr := r.notifier.Notify(context.WithoutCancel(ctx), summary); nerr != nil {
			logger.Warn("server: summary delivery failed", "error", nerr)
		}
	}
	return summary, err
}

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

	host := cfg.Server.GetHost()
	if err := checkPortAvailable(host, cfg.Server.Port); err != nil {
		log.Fatalf("Pre-flight check FAILED: %v", err)
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

	var notifier notify.Notifier
	if cfg.Notify.Enabled {
		var fanout notify.Fanout
		if cfg.Notify.WebhookURL != "" {
			fanout = append(fanout, notify.NewWebhookNotifier(cfg.Notify.WebhookURL))
		}
		if cfg.Notify.S3Bucket != "" {
			if archiver, aerr := notify.NewS3Archiver(ctx, cfg.Notify); aerr == nil {
				fanout = append(fanout, archiver)
			} else {
				logger.Warn("server: s3 archiver unavailable", "error", aerr)
			}
		}
		notifier = fanout
	}

	apiServer := api.NewServer(&notifyingRunner{engine: engine, notifier: notifier}, summaries)

	router := chi.NewRouter()
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Authorization"},
		MaxAge:         300,
	}))
	router.Mount("/", apiServer.Routes())

	addr := fmt.Sprintf("%s:%d", host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
		// Cycles run synchronously inside the request.
		WriteTimeout: cfg.Sync.CycleTimeout() + time.Minute,
		ReadTimeout:  30 * time.Second,
	}

	go func() {
		logger.Info("server: listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("server: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server: shutdown failed", "error", err)
	}
}
