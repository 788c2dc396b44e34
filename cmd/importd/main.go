// Package main provides the pagesift import service.
//
// importd runs the whole server-side import pipeline in one process: the
// HTTP API, the CSV parse and data insert workers, the upload sweeper, and
// whichever job queue backend the deployment configures.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/pagesift/pagesift/internal/api"
	"github.com/pagesift/pagesift/internal/api/middleware"
	"github.com/pagesift/pagesift/internal/config"
	"github.com/pagesift/pagesift/internal/objectstore"
	"github.com/pagesift/pagesift/internal/queue"
	"github.com/pagesift/pagesift/internal/storage"
	"github.com/pagesift/pagesift/internal/worker"
)

// Version information.
const (
	version = "1.0.0-dev"
	name    = "pagesift"
)

const defaultQueuePollInterval = time.Second

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	// Local development convenience; absence of a .env file is fine.
	_ = godotenv.Load()

	serverConfig := api.LoadServerConfig()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: serverConfig.LogLevel,
	}))

	logger.Info("Starting pagesift import service",
		slog.String("service", name),
		slog.String("version", version),
	)

	logger.Info("Loaded server configuration",
		slog.String("host", serverConfig.Host),
		slog.Int("port", serverConfig.Port),
		slog.Duration("read_timeout", serverConfig.ReadTimeout),
		slog.Duration("write_timeout", serverConfig.WriteTimeout),
		slog.Duration("shutdown_timeout", serverConfig.ShutdownTimeout),
		slog.String("log_level", serverConfig.LogLevel.String()),
		slog.Int64("import_monthly_limit", serverConfig.ImportMonthlyLimit),
		slog.Int("import_historical_months", serverConfig.ImportHistoricalMonths),
	)

	// Load rate limiter configuration
	middlewareConfig := middleware.LoadConfig()

	// Create rate limiter instance (graceful shutdown handled by server.shutdown())
	rateLimiter := middleware.NewInMemoryRateLimiter(middlewareConfig)

	logger.Info("Rate limiter initialized",
		slog.Int("global_rps", middlewareConfig.GlobalRPS),
		slog.Int("global_burst", middlewareConfig.GlobalBurst),
		slog.Int("site_rps", middlewareConfig.SiteRPS),
		slog.Int("site_burst", middlewareConfig.SiteBurst),
		slog.Int("anon_rps", middlewareConfig.AnonRPS),
		slog.Int("anon_burst", middlewareConfig.AnonBurst),
	)

	// Load storage configuration
	storageConfig := storage.LoadConfig()

	dbConn, err := storage.NewConnection(storageConfig)
	if err != nil {
		logger.Error("Failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}

	defer func() {
		_ = dbConn.Close() // Ensure connection closes on normal shutdown
	}()

	importStore, err := storage.NewImportStore(dbConn, logger)
	if err != nil {
		logger.Error("Failed to initialize import store", slog.String("error", err.Error()))

		_ = dbConn.Close()
		//nolint:gocritic // Explicit cleanup before os.Exit is intentional (defer won't run)
		os.Exit(1)
	}

	eventStore, err := storage.NewEventStore(dbConn, logger)
	if err != nil {
		logger.Error("Failed to initialize event store", slog.String("error", err.Error()))

		_ = dbConn.Close()
		os.Exit(1)
	}

	logger.Info("Stores initialized",
		slog.String("database_url", storageConfig.MaskDatabaseURL()),
		slog.Int("database_max_open_conns", storageConfig.MaxOpenConns),
		slog.Int("database_max_idle_conns", storageConfig.MaxIdleConns),
		slog.Duration("database_conn_max_lifetime", storageConfig.ConnMaxLifetime),
		slog.Duration("database_conn_max_idle_time", storageConfig.ConnMaxIdleTime),
	)

	fileStore, err := newFileStore(logger)
	if err != nil {
		logger.Error("Failed to initialize file store", slog.String("error", err.Error()))

		_ = dbConn.Close()
		os.Exit(1)
	}

	jobQueue := newJobQueue(dbConn, logger)

	// The pipeline context bounds queue consumption and the sweeper. The
	// HTTP server's own signal handling triggers shutdown; cancelling here
	// stops the background goroutines.
	pipelineCtx, cancelPipeline := context.WithCancel(context.Background())
	defer cancelPipeline()

	for _, queueName := range []string{queue.QueueCSVParse, queue.QueueDataInsert} {
		if err := jobQueue.CreateQueue(pipelineCtx, queueName); err != nil {
			logger.Error("Failed to create queue",
				slog.String("queue", queueName),
				slog.String("error", err.Error()),
			)

			_ = dbConn.Close()
			os.Exit(1)
		}
	}

	parseWorker := worker.NewParseWorker(importStore, fileStore, jobQueue, logger)
	insertWorker := worker.NewInsertWorker(importStore, eventStore, jobQueue, logger)

	if err := parseWorker.Register(); err != nil {
		logger.Error("Failed to register parse worker", slog.String("error", err.Error()))

		_ = dbConn.Close()
		os.Exit(1)
	}

	if err := insertWorker.Register(); err != nil {
		logger.Error("Failed to register insert worker", slog.String("error", err.Error()))

		_ = dbConn.Close()
		os.Exit(1)
	}

	if err := jobQueue.Start(pipelineCtx); err != nil {
		logger.Error("Failed to start job queue", slog.String("error", err.Error()))

		_ = dbConn.Close()
		os.Exit(1)
	}

	defer func() {
		_ = jobQueue.Stop()
	}()

	sweeper := objectstore.NewSweeper(fileStore, importStore, 0, 0, logger)
	go sweeper.Run(pipelineCtx)

	server := api.NewServer(serverConfig, api.Dependencies{
		Imports:     importStore,
		Events:      eventStore,
		Jobs:        jobQueue,
		Files:       fileStore,
		DB:          dbConn,
		RateLimiter: rateLimiter,
	})

	if err := server.Start(); err != nil {
		logger.Error("Server failed to start",
			slog.String("error", err.Error()),
		)

		cancelPipeline()
		_ = jobQueue.Stop()
		_ = dbConn.Close()
		os.Exit(1)
	}

	cancelPipeline()

	logger.Info("pagesift import service stopped")
}

// newFileStore picks the upload store backend from PAGESIFT_OBJECT_STORE:
// "s3" for S3-compatible object storage, anything else for local disk.
func newFileStore(logger *slog.Logger) (objectstore.FileStore, error) {
	if config.GetEnvStr("PAGESIFT_OBJECT_STORE", "local") == "s3" {
		return objectstore.NewS3Store(context.Background(), objectstore.S3Config{
			Endpoint:  config.GetEnvStr("PAGESIFT_S3_ENDPOINT", ""),
			Region:    config.GetEnvStr("PAGESIFT_S3_REGION", "us-east-1"),
			Bucket:    config.GetEnvStr("PAGESIFT_S3_BUCKET", ""),
			AccessKey: config.GetEnvStr("PAGESIFT_S3_ACCESS_KEY", ""),
			SecretKey: config.GetEnvStr("PAGESIFT_S3_SECRET_KEY", ""),
		}, logger)
	}

	return objectstore.NewLocalStore(config.GetEnvStr("PAGESIFT_UPLOAD_DIR", ""))
}

// newJobQueue picks the queue backend from PAGESIFT_QUEUE_DRIVER: "kafka",
// "memory", or the default "postgres" which reuses the primary database.
func newJobQueue(dbConn *storage.Connection, logger *slog.Logger) queue.JobQueue {
	driver := config.GetEnvStr("PAGESIFT_QUEUE_DRIVER", "postgres")

	switch driver {
	case "kafka":
		brokers := config.ParseCommaSeparatedList(
			config.GetEnvStr("PAGESIFT_KAFKA_BROKERS", "localhost:9092"),
		)

		return queue.NewKafkaQueue(queue.KafkaConfig{
			Brokers:     brokers,
			GroupPrefix: config.GetEnvStr("PAGESIFT_KAFKA_GROUP_PREFIX", name),
		}, logger)
	case "memory":
		logger.Warn("Using in-memory job queue",
			slog.String("note", "jobs are lost on restart; use postgres or kafka in production"),
		)

		return queue.NewMemoryQueue(logger)
	default:
		if driver != "postgres" {
			logger.Warn("Unknown queue driver, falling back to postgres",
				slog.String("driver", driver),
			)
		}

		pollInterval := config.GetEnvDuration(
			"PAGESIFT_QUEUE_POLL_INTERVAL", defaultQueuePollInterval,
		)

		return queue.NewPostgresQueue(dbConn.DB, pollInterval, logger)
	}
}
