package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/image-converter/internal/api/handler"
	"github.com/cuongbtq/image-converter/internal/api/router"
	"github.com/cuongbtq/image-converter/internal/config"
	"github.com/cuongbtq/image-converter/internal/filestore"
	"github.com/cuongbtq/image-converter/internal/jobs"
	"github.com/cuongbtq/image-converter/internal/jobstore"
	"github.com/cuongbtq/image-converter/internal/ledger"
	"github.com/cuongbtq/image-converter/internal/metrics"
	"github.com/cuongbtq/image-converter/internal/queue"
	"github.com/cuongbtq/image-converter/internal/transform"
	"github.com/cuongbtq/image-converter/internal/worker"
	"github.com/cuongbtq/image-converter/shared/logger"
	"github.com/cuongbtq/image-converter/shared/postgresql"
	"github.com/cuongbtq/image-converter/shared/rabbitmq"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("CONVERTER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/converter-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()
	appLogger = appLogger.With(slog.String("service", cfg.App.Name))

	appLogger.Info("Starting converter service",
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	storeOpts := []jobstore.Option{jobstore.WithObserver(m)}

	var jobLedger *ledger.Ledger
	if cfg.Ledger.Enabled {
		dbClient, err := initPostgreSQL(ctx, &cfg.Ledger.Database, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize ledger database: %w", err)
		}
		defer dbClient.Close()

		writer := ledger.NewPostgresWriter(dbClient)
		if err := writer.Migrate(ctx); err != nil {
			return err
		}
		jobLedger = ledger.New(writer, ledger.Config{
			BufferSize:    cfg.Ledger.BufferSize,
			BatchSize:     cfg.Ledger.BatchSize,
			FlushInterval: cfg.Ledger.FlushInterval,
		}, appLogger.With(slog.String("component", "ledger")).Logger)
		storeOpts = append(storeOpts, jobstore.WithObserver(jobLedger))
	}

	store := jobstore.New(storeOpts...)

	transport, err := initTransport(ctx, &cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize queue transport: %w", err)
	}
	defer transport.Close()

	inputs, results, err := initFileStores(ctx, &cfg.Storage, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize file storage: %w", err)
	}

	jobService, err := jobs.NewService(jobs.Config{
		Logger:       appLogger.With(slog.String("component", "jobs")).Logger,
		Store:        store,
		Transport:    transport,
		Inputs:       inputs,
		Results:      results,
		MaxInputSize: cfg.Jobs.MaxUploadSize,
		Recorder:     m,
	})
	if err != nil {
		return err
	}
	if err := jobService.EnsureQueues(ctx); err != nil {
		return err
	}

	workers, err := initWorkers(cfg, appLogger, transport, store, inputs, results, m)
	if err != nil {
		return fmt.Errorf("failed to initialize workers: %w", err)
	}

	sweeper := jobstore.NewSweeper(store, jobstore.SweeperConfig{
		Interval:          cfg.Jobs.SweepInterval,
		Retention:         cfg.Jobs.Retention,
		ProcessingTimeout: cfg.Jobs.ProcessingTimeout,
	}, appLogger.With(slog.String("component", "sweeper")).Logger)

	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		metricsHandler = m.Handler()
	}
	r := initRouter(cfg, appLogger.Logger, jobService, metricsHandler)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// The ledger outlives the other components so it records their final
	// transitions.
	ledgerCtx, stopLedger := context.WithCancel(context.Background())
	ledgerDone := make(chan error, 1)
	if jobLedger != nil {
		go func() { ledgerDone <- jobLedger.Run(ledgerCtx) }()
	} else {
		ledgerDone <- nil
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		appLogger.Info("Starting HTTP server",
			slog.String("address", addr),
			slog.Duration("read_timeout", cfg.Server.ReadTimeout),
			slog.Duration("write_timeout", cfg.Server.WriteTimeout),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		appLogger.Info("Shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	for _, w := range workers {
		g.Go(func() error {
			if err := w.Start(gctx); err != nil {
				return fmt.Errorf("worker %s: %w", w.Queue(), err)
			}
			return nil
		})
	}

	g.Go(func() error {
		return sweeper.Run(gctx)
	})

	appLogger.Info("Converter service is running",
		slog.String("address", addr),
		slog.Int("workers", len(workers)),
		slog.String("transport", cfg.RabbitMQ.Driver),
		slog.String("storage", cfg.Storage.Driver),
	)

	err = g.Wait()
	stopLedger()
	if ledgerErr := <-ledgerDone; ledgerErr != nil {
		appLogger.Error("Ledger stopped with error", slog.String("error", ledgerErr.Error()))
	}

	if err != nil {
		appLogger.Error("Converter service stopped with error", slog.String("error", err.Error()))
		return err
	}

	appLogger.Info("Converter service shutdown complete")
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		NoColor:      cfg.NoColor,
		TimeFormat:   time.RFC3339,
	})
}

// initPostgreSQL initializes the ledger database client
func initPostgreSQL(ctx context.Context, cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	return postgresql.NewClient(ctx, &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}, logger)
}

// initTransport connects to RabbitMQ, or starts the in-process broker
func initTransport(ctx context.Context, cfg *config.RabbitMQConfig, logger *slog.Logger) (queue.Transport, error) {
	if cfg.Driver == config.DriverMemory {
		logger.Warn("Using in-memory queue transport, messages do not survive a restart")
		return queue.NewMemoryBroker(), nil
	}

	return rabbitmq.NewClient(ctx, &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
		ConsumerTagPrefix:  cfg.Consumer.TagPrefix,
	}, logger)
}

// initFileStores opens the input and result stores
func initFileStores(ctx context.Context, cfg *config.StorageConfig, logger *slog.Logger) (filestore.Store, filestore.Store, error) {
	if cfg.Driver == config.DriverMinIO {
		mc := cfg.MinIO
		client, err := filestore.NewMinIOClient(filestore.MinIOConfig{
			Endpoint:  mc.Endpoint,
			AccessKey: mc.AccessKey,
			SecretKey: mc.SecretKey,
			UseSSL:    mc.UseSSL,
			Bucket:    mc.Bucket,
		})
		if err != nil {
			return nil, nil, err
		}
		if err := filestore.EnsureBucket(ctx, client, mc.Bucket, logger); err != nil {
			return nil, nil, err
		}
		return filestore.NewMinIO(client, mc.Bucket, mc.UploadPrefix), filestore.NewMinIO(client, mc.Bucket, mc.ProcessedPrefix), nil
	}

	uploads, err := filestore.NewLocal(cfg.UploadDir)
	if err != nil {
		return nil, nil, err
	}
	processed, err := filestore.NewLocal(cfg.ProcessedDir)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("Using local file storage",
		slog.String("upload_dir", uploads.Root()),
		slog.String("processed_dir", processed.Root()),
	)
	return uploads, processed, nil
}

// initWorkers creates one worker per configured queue
func initWorkers(
	cfg *config.Config,
	appLogger *logger.Logger,
	transport queue.Transport,
	store *jobstore.Store,
	inputs, results filestore.Store,
	m *metrics.Metrics,
) ([]*worker.Worker, error) {
	if !cfg.Worker.Enabled {
		appLogger.Info("Workers disabled, only accepting jobs")
		return nil, nil
	}

	transformer := transform.Default()
	workers := make([]*worker.Worker, 0, len(cfg.Worker.Queues))
	for _, q := range cfg.Worker.Queues {
		w, err := worker.NewWorker(&worker.Config{
			Logger:            appLogger.With(slog.String("component", "worker")).Logger,
			Queue:             q,
			Transport:         transport,
			Store:             store,
			Inputs:            inputs,
			Results:           results,
			Transformer:       transformer,
			Consumers:         cfg.Worker.Consumers,
			JobTimeout:        cfg.Worker.JobTimeout,
			HeartbeatInterval: cfg.Worker.HeartbeatInterval,
			RestartDelay:      cfg.Worker.RestartDelay,
			Recorder:          m,
		})
		if err != nil {
			return nil, err
		}
		workers = append(workers, w)
	}
	return workers, nil
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(cfg *config.Config, logger *slog.Logger, jobService *jobs.Service, metricsHandler http.Handler) *gin.Engine {
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	return router.SetupRouter(&handler.Dependencies{
		Logger:         logger,
		Jobs:           jobService,
		MaxUploadSize:  cfg.Jobs.MaxUploadSize,
		MetricsHandler: metricsHandler,
		MetricsPath:    cfg.Metrics.Path,
	})
}
