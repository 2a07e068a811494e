package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/tickstream/capture/internal/config"
	"github.com/tickstream/capture/internal/database"
	"github.com/tickstream/capture/internal/feed"
	"github.com/tickstream/capture/internal/governor"
	"github.com/tickstream/capture/internal/model"
	"github.com/tickstream/capture/internal/queue"
	"github.com/tickstream/capture/internal/router"
	"github.com/tickstream/capture/internal/session"
	"github.com/tickstream/capture/internal/sink"
	"github.com/tickstream/capture/internal/telemetry"
	"github.com/tickstream/capture/internal/validate"
	"github.com/tickstream/capture/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/capture.yaml", "path to config file")
	contractID := flag.String("contract", "", "contract id (overrides config)")
	duration := flag.Duration("duration", 0, "session duration (overrides config)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	logger.Info("starting capture",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if *contractID != "" {
		cfg.Feed.ContractID = *contractID
	}
	if *duration > 0 {
		cfg.Session.Duration = *duration
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"contract", cfg.Feed.ContractID,
		"session_duration", cfg.Session.Duration,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("capture failed", "error", err)
		os.Exit(1)
	}
	logger.Info("capture stopped")
}

func run(ctx context.Context, cfg *config.CaptureConfig, logger *slog.Logger) error {
	// Database
	logger.Info("connecting to database",
		"host", cfg.Database.Host,
		"port", cfg.Database.Port,
		"database", cfg.Database.Name,
	)
	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	store := sink.NewPGStore(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		return err
	}
	logger.Info("database ready")

	// Pipeline components
	feedMgr := feed.NewManager(feedConfig(cfg), logger)

	queues := queue.NewSet(queue.Config{
		Capacity:     cfg.Pipeline.QueueCapacity,
		SoftBytes:    cfg.Pipeline.QueueSoftBytes,
		Policy:       overflowPolicy(cfg.Pipeline.OverflowPolicy),
		BlockTimeout: cfg.Pipeline.BlockTimeout,
	})

	validator := validate.New(cfg.Validation.TimestampTolerance)
	rt := router.New(feedMgr.Events(), queues, validator, logger)

	sk := sink.New(sink.Config{
		BatchSize:    cfg.Pipeline.BatchSize,
		BatchTimeout: cfg.Pipeline.BatchTimeout,
		MaxRetries:   cfg.Pipeline.MaxRetries,
		RetryBackoff: cfg.Pipeline.RetryBackoff,
	}, queues, store, logger)

	gov := governor.New(governor.Config{
		ThresholdMB:   cfg.Governor.MemoryThresholdMB,
		CheckInterval: cfg.Governor.CheckInterval,
	}, queues, sk, feedMgr, logger)

	metrics := telemetry.NewMetrics(prometheus.DefaultRegisterer)
	collector := telemetry.New(telemetry.Config{Interval: cfg.Telemetry.Interval}, telemetry.Sources{
		Feed:     feedMgr.Stats,
		Router:   rt.Stats,
		Sink:     sk.Stats,
		Governor: gov.Stats,
		Queues:   queues,
	}, metrics, logger)

	sessMgr := session.New(session.Config{
		ContractID: cfg.Feed.ContractID,
		Duration:   cfg.Session.Duration,
	}, feedMgr, rt, queues, sk, gov, store, logger)

	// HTTP surface: health plus the Prometheus endpoint.
	mux := http.NewServeMux()
	mux.Handle(cfg.Telemetry.Path, promhttp.Handler())
	mux.HandleFunc("/health", healthHandler(pool, collector))
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Telemetry.Port),
		Handler: mux,
	}

	if err := collector.Start(ctx); err != nil {
		return fmt.Errorf("start telemetry: %w", err)
	}
	if err := sessMgr.Start(ctx); err != nil {
		return fmt.Errorf("start session: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("http server listening",
			"port", cfg.Telemetry.Port,
			"metrics_path", cfg.Telemetry.Path,
		)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			server.Shutdown(shutdownCtx)
		}()
		return sessMgr.Run(gctx)
	})

	runErr := g.Wait()

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := collector.Stop(stopCtx); err != nil {
		logger.Warn("telemetry stop", "error", err)
	}

	sess := sessMgr.Session()
	logger.Info("session summary",
		"session_id", sess.ID,
		"reason", string(sess.Reason),
		"received", sess.Received.Total(),
		"committed", sess.Committed.Total(),
		"rejected", sess.Rejected,
		"dropped", sess.Dropped,
		"lost", sess.Lost,
	)

	return runErr
}

// feedConfig maps the YAML surface onto the feed manager config.
func feedConfig(cfg *config.CaptureConfig) feed.Config {
	fc := feed.DefaultConfig()
	fc.URL = cfg.Feed.HubURL
	fc.Token = cfg.Feed.APIToken
	fc.ContractID = cfg.Feed.ContractID
	fc.DialTimeout = cfg.Feed.ConnectionTimeout
	fc.ReadTimeout = cfg.Feed.ReadTimeout
	fc.ReconnectMaxAttempts = cfg.Feed.ReconnectMaxAttempts
	fc.ReconnectBaseDelay = cfg.Feed.ReconnectBaseDelay
	fc.ReconnectMaxDelay = cfg.Feed.ReconnectMaxDelay
	fc.EnableQuotes = cfg.Feed.QuotesEnabled()
	fc.EnableTrades = cfg.Feed.TradesEnabled()
	fc.EnableDepth = cfg.Feed.DepthEnabled()
	return fc
}

func overflowPolicy(p config.OverflowPolicy) queue.Policy {
	if p == config.OverflowDropOldest {
		return queue.DropOldest
	}
	return queue.Block
}

// healthHandler reports database connectivity and the latest telemetry
// snapshot.
func healthHandler(pool *pgxpool.Pool, collector *telemetry.Collector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status     string         `json:"status"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]any),
		}

		if err := pool.Ping(ctx); err != nil {
			health.Status = "unhealthy"
			health.Components["database"] = map[string]string{
				"status": "disconnected",
				"error":  err.Error(),
			}
		} else {
			health.Components["database"] = "connected"
		}

		snap := collector.Last()
		health.Components["pipeline"] = map[string]any{
			"connection":  snap.ConnState.String(),
			"queue_depth": snap.QueueDepth.Total(),
			"committed":   snap.Committed.Total(),
			"paused":      snap.FeedPaused,
		}
		if snap.ConnState == model.StateFailed {
			health.Status = "degraded"
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	}
}
