// Package main wires together the result sync service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gcs "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/labgate/resultsync/internal/api"
	"github.com/labgate/resultsync/internal/audit"
	"github.com/labgate/resultsync/internal/backup"
	"github.com/labgate/resultsync/internal/clock/system"
	"github.com/labgate/resultsync/internal/collector"
	"github.com/labgate/resultsync/internal/config"
	"github.com/labgate/resultsync/internal/crypto/fernet"
	"github.com/labgate/resultsync/internal/gateway"
	"github.com/labgate/resultsync/internal/hash/sha256"
	"github.com/labgate/resultsync/internal/logging"
	"github.com/labgate/resultsync/internal/metrics"
	"github.com/labgate/resultsync/internal/notify"
	"github.com/labgate/resultsync/internal/orchestrator"
	"github.com/labgate/resultsync/internal/sanitize"
	"github.com/labgate/resultsync/internal/scheduler"
	"github.com/labgate/resultsync/internal/storage/postgres"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var codec postgres.Codec
	if cfg.Encryption.Enabled {
		codec, err = fernet.New(cfg.Encryption.Key)
		if err != nil {
			logger.Fatal("encryption codec init failed", zap.Error(err))
		}
	}
	store, err := postgres.NewResultStore(ctx, postgres.Config{
		DSN:       cfg.DB.DSN,
		Table:     cfg.DB.Table,
		BatchSize: cfg.DB.BatchSize,
		MaxConns:  cfg.DB.MaxConns,
		MinConns:  cfg.DB.MinConns,
	}, codec, logger.Named("store"))
	if err != nil {
		logger.Fatal("database init failed", zap.Error(err))
	}
	defer store.Close()

	notifier := buildNotifier(ctx, cfg, logger)

	gw := gateway.New(gateway.Config{
		BaseURL:        cfg.Gateway.BaseURL,
		Endpoint:       cfg.Gateway.Endpoint,
		APIKey:         cfg.Gateway.APIKey,
		UserAgent:      cfg.Gateway.UserAgent,
		Timeout:        cfg.GatewayTimeout(),
		MaxConnections: cfg.Gateway.MaxConnections,
	}, logger.Named("gateway"))

	clock := system.New()
	lister := collector.NewLister(gw, cfg.Gateway.PageSize, logger.Named("lister"))
	fetcher := collector.NewFetcher(gw, sanitize.New(), notifier, collector.FetchConfig{
		MaxAttempts:      cfg.Fetch.MaxAttempts,
		RetryDelay:       time.Duration(cfg.Fetch.RetryDelaySeconds) * time.Second,
		EmptyMaxAttempts: cfg.Fetch.EmptyMaxAttempts,
		EmptyRetryDelay:  time.Duration(cfg.Fetch.EmptyRetrySeconds) * time.Second,
	}, logger.Named("fetcher"))
	policy := collector.PolicyFailFast
	if cfg.Fetch.CompletionPolicy == "best_effort" {
		policy = collector.PolicyBestEffort
	}
	coordinator := collector.NewCoordinator(fetcher, cfg.Fetch.Concurrency, policy, logger.Named("coordinator"))
	dayCollector := collector.New(lister, coordinator, sha256.New(), store, cfg.Departments,
		collector.Config{DebugDir: cfg.Debug.Dir}, logger.Named("collector"))

	auditor := audit.New(store, audit.Config{
		BatchSize:       cfg.Audit.BatchSize,
		MinResultLength: cfg.Audit.MinResultLength,
		MaxProblems:     cfg.Audit.MaxProblems,
	}, logger.Named("audit"))

	dumper := buildDumper(ctx, cfg, logger)

	sched := scheduler.New(logger.Named("scheduler"))
	orch := orchestrator.New(dayCollector, store, auditor, dumper, notifier, sched, clock,
		logger.Named("orchestrator"), orchestrator.Config{
			OverlapDays: cfg.Sync.OverlapDays,
			DayPause:    cfg.DayPause(),
			RetryDelay:  cfg.RetryDelay(),
			MaxAttempts: cfg.Sync.MaxAttempts,
		})

	if cfg.Sync.CronSchedule != "" {
		err := sched.Cron(cfg.Sync.CronSchedule, func(ctx context.Context) {
			if err := orch.Trigger(ctx); err != nil && !errors.Is(err, orchestrator.ErrRunInProgress) {
				logger.Error("scheduled sync run failed", zap.Error(err))
			}
		})
		if err != nil {
			logger.Fatal("invalid cron schedule", zap.Error(err))
		}
	}
	sched.Start()

	apiServer := api.NewServer(orch, dayCollector, auditor, store, logger.Named("api"), cfg)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	sched.Stop()
	logger.Info("shutdown complete")
}

// buildNotifier assembles the fan-out of all enabled notification channels.
func buildNotifier(ctx context.Context, cfg config.Config, logger *zap.Logger) collector.Notifier {
	var channels []notify.Notifier
	if cfg.Telegram.Enabled {
		channels = append(channels, notify.NewTelegram(notify.TelegramConfig{
			BotToken: cfg.Telegram.BotToken,
			ChatID:   cfg.Telegram.ChatID,
		}))
	}
	if cfg.PubSub.Enabled {
		ps, err := notify.NewPubSub(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicName)
		if err != nil {
			logger.Error("pubsub notifier init failed", zap.Error(err))
		} else {
			channels = append(channels, ps)
		}
	}
	if len(channels) == 0 {
		return notify.Nop{}
	}
	return notify.NewMulti(logger.Named("notify"), channels...)
}

// buildDumper configures the post-run database backup, optionally uploading
// dumps to GCS.
func buildDumper(ctx context.Context, cfg config.Config, logger *zap.Logger) orchestrator.Dumper {
	if !cfg.Backup.Enabled {
		return nopDumper{}
	}
	var uploader backup.Uploader
	if cfg.Backup.GCSBucket != "" {
		client, err := gcs.NewClient(ctx)
		if err != nil {
			logger.Error("gcs client init failed, dumps stay local", zap.Error(err))
		} else {
			uploader, err = backup.NewGCSUploader(client, cfg.Backup.GCSBucket, cfg.Backup.GCSPrefix)
			if err != nil {
				logger.Error("gcs uploader init failed, dumps stay local", zap.Error(err))
				uploader = nil
			}
		}
	}
	return backup.New(backup.Config{
		User:     cfg.Backup.User,
		Password: cfg.Backup.Password,
		Host:     cfg.Backup.Host,
		Port:     cfg.Backup.Port,
		Database: cfg.Backup.Database,
		Dir:      cfg.Backup.Dir,
		Filename: cfg.Backup.Filename,
	}, uploader, logger.Named("backup"))
}

// nopDumper stands in when backups are disabled.
type nopDumper struct{}

func (nopDumper) Dump(context.Context) (string, error) { return "backup disabled", nil }
