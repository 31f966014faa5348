// Command solocheck-engine runs the detection-and-dispatch engine: the
// overdue scanner, reminder scheduler, SOS coordinator, and dispatch
// worker pool, sharing one Postgres connection pool and one Redis client.
package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/option"

	"github.com/solocheck/engine/internal/adapter"
	"github.com/solocheck/engine/internal/clock"
	"github.com/solocheck/engine/internal/config"
	"github.com/solocheck/engine/internal/consent"
	"github.com/solocheck/engine/internal/dispatch"
	"github.com/solocheck/engine/internal/ledger"
	"github.com/solocheck/engine/internal/metrics"
	"github.com/solocheck/engine/internal/queue"
	"github.com/solocheck/engine/internal/reminder"
	"github.com/solocheck/engine/internal/scanner"
	"github.com/solocheck/engine/internal/sos"
	"github.com/solocheck/engine/internal/store"
)

var version = "dev"

func main() {
	log.Println("========================================")
	log.Println("  SoloCheck Engine")
	log.Printf("  Version: %s", version)
	log.Println("========================================")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()

	log.Println("[Init] Configuring PostgreSQL connection pool...")
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("[Init] Failed to parse database URL: %v", err)
	}
	poolCfg.ConnConfig.RuntimeParams["application_name"] = "solocheck-engine " + version
	poolCfg.MaxConnLifetime = 1 * time.Hour
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute

	dbPool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		log.Fatalf("[Init] Failed to create database pool: %v", err)
	}
	defer dbPool.Close()
	if err := dbPool.Ping(ctx); err != nil {
		log.Fatalf("[Init] Failed to ping database: %v", err)
	}
	log.Println("[Init] ✓ Database connection pool established")

	log.Println("[Init] Connecting to Redis...")
	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("[Init] Failed to ping Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("[Init] ✓ Redis connection established")

	log.Println("[Init] Initializing SES email adapter...")
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.SESRegion))
	if err != nil {
		log.Fatalf("[Init] Failed to load AWS SDK configuration: %v", err)
	}
	sesClient := sesv2.NewFromConfig(awsCfg)
	emailer := adapter.NewEmailAdapter(sesClient, cfg.SESFromAddress)
	log.Println("[Init] ✓ SES email adapter initialized")

	log.Println("[Init] Initializing Firebase push adapter...")
	var fcmOpts []option.ClientOption
	if cfg.FirebaseCredentialsFile != "" {
		fcmOpts = append(fcmOpts, option.WithCredentialsFile(cfg.FirebaseCredentialsFile))
	}
	firebaseApp, err := firebase.NewApp(ctx, nil, fcmOpts...)
	if err != nil {
		log.Fatalf("[Init] Failed to initialize Firebase app: %v", err)
	}
	fcmClient, err := firebaseApp.Messaging(ctx)
	if err != nil {
		log.Fatalf("[Init] Failed to obtain Firebase messaging client: %v", err)
	}
	pusher := adapter.NewPushAdapter(fcmClient)
	log.Println("[Init] ✓ Firebase push adapter initialized")

	log.Println("[Init] Wiring engine components...")
	st := store.New(dbPool)
	q := queue.NewPGQueue(dbPool)
	lg := ledger.NewPGLedger(dbPool)
	cache := consent.NewRedisCache(redisClient)
	gate := consent.New(st, cache, 30*time.Second)
	clk := clock.Real{}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	scan := scanner.New(scanner.Config{ScanPeriod: cfg.ScanPeriod}, st, gate, q, clk).WithMetrics(m)

	remind := reminder.New(reminder.Config{Period: cfg.ReminderPeriod}, st, pusher, clk).WithMetrics(m)

	coordinator := sos.New(sos.Config{CountdownDuration: cfg.SOSCountdown}, st, gate, q, clk).WithMetrics(m)

	pool := dispatch.New(dispatch.Config{
		Workers:           cfg.WorkerCount,
		VisibilityTimeout: cfg.VisibilityTimeout,
		MaxAttempts:       cfg.MaxAttempts,
		BackoffBase:       cfg.BackoffBase,
		BackoffCap:        cfg.BackoffCap,
		AdapterTimeout:    cfg.AdapterTimeout,
		SweepInterval:     dispatch.DefaultConfig().SweepInterval,
	}, q, lg, gate, emailer, pusher, clk, st, st, st).WithMetrics(m)

	log.Println("[Init] ✓ Components wired")

	log.Println("[Init] Replaying in-flight SOS events...")
	if err := coordinator.Replay(ctx); err != nil {
		log.Fatalf("[Init] SOS replay failed: %v", err)
	}
	log.Println("[Init] ✓ SOS replay complete")

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
	go func() {
		log.Printf("[Init] Metrics endpoint listening on %s", cfg.MetricsAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[Init] Metrics server error: %v", err)
		}
	}()

	var wg sync.WaitGroup
	run := func(name string, fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Printf("[Init] ✓ %s started", name)
			fn(ctx)
			log.Printf("[Shutdown] %s stopped", name)
		}()
	}
	run("overdue scanner", scan.Run)
	run("reminder scheduler", remind.Run)
	run("dispatch worker pool", pool.Run)

	log.Println("")
	log.Println("========================================")
	log.Println("SoloCheck Engine is running. Press Ctrl+C to shut down.")
	log.Println("========================================")

	<-ctx.Done()
	log.Println("")
	log.Println("[Shutdown] Signal received, stopping gracefully...")

	wg.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[Shutdown] Metrics server shutdown error: %v", err)
	}

	log.Println("[Shutdown] ✓ Shutdown complete")
}
