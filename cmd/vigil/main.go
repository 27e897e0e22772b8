package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/vigil-ops/vigil/internal/alerting"
	"github.com/vigil-ops/vigil/internal/api"
	"github.com/vigil-ops/vigil/internal/breaker"
	"github.com/vigil-ops/vigil/internal/events"
	"github.com/vigil-ops/vigil/internal/health"
	"github.com/vigil-ops/vigil/internal/incident"
	"github.com/vigil-ops/vigil/internal/notify"
	"github.com/vigil-ops/vigil/internal/platform"
	"github.com/vigil-ops/vigil/internal/scaling"
	"github.com/vigil-ops/vigil/pkg/config"
	"github.com/vigil-ops/vigil/pkg/logging"
	"github.com/vigil-ops/vigil/pkg/metrics"
)

var version = "dev"

func main() {
	// Load .env if present; environment variables win.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(&logging.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      cfg.Logging.Output,
		ServiceName: "vigil",
		Version:     version,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logging.SetGlobalLogger(logger)

	logger.Info("Starting vigil", "version", version)

	zapLogger, err := zap.NewProduction()
	if err != nil {
		logger.Error("Failed to initialize notification logger", "error", err)
		os.Exit(1)
	}
	defer zapLogger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := events.NewBus()

	promMetrics := metrics.New()
	recorder := metrics.NewRecorder(promMetrics, bus)

	factory := breaker.NewFactory(breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		RecoveryTimeout:  cfg.Breaker.RecoveryTimeout,
		VolumeThreshold:  cfg.Breaker.VolumeThreshold,
		MonitorInterval:  cfg.Breaker.MonitorInterval,
	}, bus)

	dispatcher := notify.NewDispatcher(zapLogger, cfg.Notify.SendTimeout)
	dispatcher.Register(notify.NewLogChannel(zapLogger))
	if cfg.Notify.SlackWebhookURL != "" {
		dispatcher.Register(notify.NewSlackChannel(
			cfg.Notify.SlackWebhookURL, cfg.Notify.SlackChannel, cfg.Notify.SlackUsername))
	}
	if cfg.Notify.WebhookURL != "" {
		dispatcher.Register(notify.NewWebhookChannel(cfg.Notify.WebhookURL, nil))
	}
	if len(cfg.Notify.EmailTo) > 0 {
		dispatcher.Register(notify.NewEmailChannel(cfg.Notify.EmailTo, zapLogger))
	}

	alertEngine := alerting.NewEngine(bus)

	incidentMgr := incident.NewManager(incident.Config{
		EscalationWindow:   cfg.Incident.EscalationWindow,
		MaxEscalationLevel: cfg.Incident.MaxEscalationLevel,
		AutoEscalate:       cfg.Incident.AutoEscalate,
		Channels:           cfg.Incident.Channels,
	}, dispatcher, bus, logger)
	go incidentMgr.BridgeAlerts(ctx)

	var scaler scaling.Scaler = scaling.NoopScaler{}
	if cfg.Scaling.Endpoint != "" {
		scaler = scaling.NewAPIScaler(cfg.Scaling.Endpoint, cfg.Scaling.Token)
	}
	scalingMgr := scaling.NewManager(scaling.Config{
		Service:           cfg.Scaling.Service,
		MinReplicas:       cfg.Scaling.MinReplicas,
		MaxReplicas:       cfg.Scaling.MaxReplicas,
		CPUThreshold:      cfg.Scaling.CPUThreshold,
		MemThreshold:      cfg.Scaling.MemoryThreshold,
		ScaleUpCooldown:   cfg.Scaling.ScaleUpCooldown,
		ScaleDownCooldown: cfg.Scaling.ScaleDownCooldown,
	}, scaler, logger)

	checker := health.NewChecker(health.Config{
		Interval:     cfg.Health.CheckInterval,
		ProbeTimeout: cfg.Health.ProbeTimeout,
		MinUptime:    cfg.Health.MinUptime,
	}, factory, logger)
	checker.Register(health.NewVitalsProbe(cfg.Health.HeapThreshold))

	var db *platform.Database
	if cfg.Database.Enabled {
		db, err = platform.NewDatabase(ctx, platform.DatabaseConfig{
			URL:             cfg.DatabaseURL(),
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		})
		if err != nil {
			logger.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		checker.Register(health.NewPingProbe("database", db.Health, db.Stats))
	}

	var cache *platform.Cache
	var mirrorDone <-chan struct{}
	if cfg.Redis.Enabled {
		cache, err = platform.NewCache(ctx, platform.CacheConfig{
			URL:      fmt.Sprintf("redis://%s:%d", cfg.Redis.Host, cfg.Redis.Port),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err != nil {
			logger.Error("Failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer cache.Close()
		checker.Register(health.NewPingProbe("redis", cache.Health, nil))
		mirrorDone = platform.MirrorBreakerStates(ctx, bus, cache, logger)
	}

	// Each health snapshot drives rule evaluation, scaling, and the health
	// gauges.
	checker.OnSnapshot(func(snap health.Snapshot) {
		if snap.Healthy {
			promMetrics.HealthStatus.Set(1)
			promMetrics.HealthChecks.WithLabelValues("healthy").Inc()
		} else {
			promMetrics.HealthStatus.Set(0)
			promMetrics.HealthChecks.WithLabelValues("unhealthy").Inc()
		}

		alertEngine.EvaluateRules(snap.Metrics)

		decision := scalingMgr.CheckScalingNeeds(ctx, snap.Metrics)
		if decision.Applied {
			promMetrics.ScalingActions.WithLabelValues(string(decision.Action)).Inc()
			promMetrics.CurrentReplicas.Set(float64(decision.To))
		}
	})
	promMetrics.CurrentReplicas.Set(float64(scalingMgr.Replicas()))
	checker.Start()

	deps := api.Deps{
		Breakers:  factory,
		Alerts:    alertEngine,
		Incidents: incidentMgr,
		Scaling:   scalingMgr,
		Health:    checker,
		Metrics:   promMetrics,
		Logger:    logger,
		Version:   version,
	}
	if cache != nil {
		deps.States = cache
	}
	router := api.NewRouter(deps)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("HTTP server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", "error", err)
			cancel()
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}

	logger.Info("Shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}

	checker.Stop()
	incidentMgr.Shutdown()
	factory.DestroyAll()
	bus.Close()
	<-recorder.Done()
	if mirrorDone != nil {
		<-mirrorDone
	}

	logger.Info("Shutdown complete")
}
