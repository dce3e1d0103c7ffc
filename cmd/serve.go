package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"example.com/backstage/services/telemetry/api"
	"example.com/backstage/services/telemetry/api/handlers"
	"example.com/backstage/services/telemetry/api/routes"
	"example.com/backstage/services/telemetry/config"
	"example.com/backstage/services/telemetry/internal/cache"
	"example.com/backstage/services/telemetry/internal/database"
	"example.com/backstage/services/telemetry/internal/directory"
	"example.com/backstage/services/telemetry/internal/ingest"
	"example.com/backstage/services/telemetry/internal/metrics"
	"example.com/backstage/services/telemetry/internal/repository"
	"example.com/backstage/services/telemetry/internal/service"
	"example.com/backstage/services/telemetry/internal/sink"
	"example.com/backstage/services/telemetry/internal/telemetry"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	disableNewRelic bool
	disableMetrics  bool
	serverPort      int
	skipMigrations  bool
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server",
	Long: `Starts the telemetry service API server that handles device registration
and event ingestion.

The server respects the configuration in config.yaml or specified via the --config flag.
It will gracefully shut down on receiving SIGINT or SIGTERM signals.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := startServer(); err != nil {
			log.Fatalf("Server stopped: %v", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&disableNewRelic, "disable-newrelic", false, "Disable New Relic monitoring")
	serveCmd.Flags().BoolVar(&disableMetrics, "disable-metrics", false, "Disable the /metrics endpoint")
	serveCmd.Flags().IntVar(&serverPort, "port", 0, "Server port (overrides config file)")
	serveCmd.Flags().BoolVar(&skipMigrations, "skip-migrations", false, "Do not run database migrations on startup")
}

type pinger interface {
	Ping(ctx context.Context) error
}

// startServer wires every component and serves until a signal arrives
func startServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	if serverPort > 0 {
		cfg.Server.Port = serverPort
	}

	log.WithFields(logrus.Fields{
		"port":             cfg.Server.Port,
		"sink":             cfg.Sink.Backend,
		"metrics_enabled":  !disableMetrics,
		"newrelic_enabled": cfg.NewRelic.Enabled && !disableNewRelic,
	}).Info("Initializing service components...")

	db, err := connectDatabase(cfg.Database)
	if err != nil {
		return err
	}
	defer closeDatabase(db)

	if !skipMigrations {
		log.Info("Running database migrations...")
		if err := database.AutoMigrate(db, cfg.Sink.Backend == config.SinkPostgres); err != nil {
			return err
		}
	}

	log.Info("Connecting to Redis...")
	redisClient, err := cache.NewRedisClient(cfg.Redis)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("Closing Redis connection...")
		if err := redisClient.Close(); err != nil {
			log.WithField("error", err.Error()).Error("Error closing Redis connection")
		}
	}()

	m := metrics.New()

	repo := repository.NewDeviceRepository(db)
	dir, err := directory.New(directory.Config{
		Repository: repo,
		Cache:      redisClient,
		Logger:     log,
		Observer:   m,
	})
	if err != nil {
		return err
	}

	log.WithField("backend", cfg.Sink.Backend).Info("Opening event sink...")
	eventSink, err := sink.Open(cfg, db, log)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := eventSink.Close(ctx); err != nil {
			log.WithField("error", err.Error()).Error("Error closing event sink")
		}
	}()

	checks := map[string]handlers.HealthCheck{
		"database": func(ctx context.Context) error {
			gormDB, err := db.DB()
			if err != nil {
				return err
			}
			sqlDB, err := gormDB.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}
	if p, ok := eventSink.(pinger); ok {
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := p.Ping(pingCtx)
		cancel()
		if err != nil {
			log.WithField("error", err.Error()).Warn("Event sink is not reachable yet")
		}
		checks["sink"] = p.Ping
	}

	schema, err := schemaFromConfig(cfg.Ingest)
	if err != nil {
		return err
	}
	router, err := ingest.NewRouter(cfg.Ingest.StreamPrefix, cfg.Ingest.AllowedClassifiers)
	if err != nil {
		return err
	}
	pipeline, err := ingest.NewPipeline(dir, sink.WithObserver(eventSink, m), ingest.Options{
		Schema:        schema,
		Router:        router,
		Logger:        log,
		Observer:      m,
		LookupTimeout: cfg.Ingest.LookupTimeout,
		WriteTimeout:  cfg.Ingest.WriteTimeout,
		MaxBodyBytes:  cfg.Ingest.MaxBodyBytes,
	})
	if err != nil {
		return err
	}

	svc, err := service.NewDeviceService(repo, dir, log)
	if err != nil {
		return err
	}

	var nrApp *newrelic.Application
	if !disableNewRelic {
		nrApp, err = telemetry.InitNewRelic(cfg.NewRelic)
		if err != nil {
			log.Warnf("Failed to initialize New Relic: %v", err)
		}
	}

	h := routes.Handlers{
		Events:  handlers.NewEventHandler(pipeline, cfg.Ingest.IdentityHeader, log),
		Devices: handlers.NewDeviceHandler(svc, log),
		Health:  handlers.NewHealthHandler(checks),
	}
	if !disableMetrics {
		h.Metrics = m.Handler()
	}
	server := api.NewServer(cfg, log, nrApp, h)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}

	if nrApp != nil {
		nrApp.Shutdown(5 * time.Second)
	}
	log.Info("Server successfully shutdown")
	return nil
}
