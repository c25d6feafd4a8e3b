package main

import (
	"context"
	"log"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"printgrid/internal/config"
	"printgrid/internal/database"
	"printgrid/internal/jobs"
	"printgrid/internal/logging"
	"printgrid/internal/metrics"
	"printgrid/internal/sheet"
	"printgrid/internal/storage"
	"printgrid/internal/tasks"
	"printgrid/internal/worker"
)

func main() {
	cfg := config.MustLoad()

	logger, closer := logging.New(cfg.Log)
	defer closer.Close()
	slog.SetDefault(logger)

	db, err := database.InitDatabase(cfg.Database)
	if err != nil {
		log.Fatalf("init database: %v", err)
	}
	logger.Info("database connection ready for worker")

	var publisher jobs.Publisher
	if cfg.MinIO.Enabled() {
		storageClient, err := storage.NewClient(context.Background(), cfg.MinIO)
		if err != nil {
			log.Fatalf("init storage client: %v", err)
		}
		publisher = storage.NewPublisher(storageClient, cfg.MinIO.PresignTTL, logger)
		logger.Info("storage client ready", slog.String("bucket", cfg.MinIO.Bucket))
	} else {
		logger.Info("object storage disabled, archives stay on local disk", slog.String("dir", cfg.Render.OutputDir))
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr()})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error("close redis client failed", slog.Any("error", err))
		}
	}()
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("ping redis: %v", err)
	}

	redisOpt := asynq.RedisClientOpt{Addr: cfg.Redis.Addr()}
	asynqClient := asynq.NewClient(redisOpt)
	defer asynqClient.Close()

	orchestrator := jobs.NewOrchestrator(
		jobs.Config{OutputDir: cfg.Render.OutputDir, TTL: cfg.Jobs.TTL},
		sheet.NewFromConfig(cfg.Render, logger),
		database.NewOrderRepository(db),
		jobs.NewRedisStore(redisClient, "printgrid:"),
		publisher,
		logger,
	)

	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.Worker.Concurrency,
		Logger:      newAsynqLogger(logger),
	})

	mux := asynq.NewServeMux()
	mux.Use(metrics.AsynqMetricsMiddleware())
	mux.Handle(tasks.TypeRenderOrder, worker.NewRenderHandler(orchestrator, redisClient, logger))
	mux.Handle(tasks.TypeBulkStep, worker.NewBulkStepHandler(orchestrator, asynqClient, redisClient, logger))

	logger.Info("worker service started",
		slog.String("redis_addr", cfg.Redis.Addr()),
		slog.Int("concurrency", cfg.Worker.Concurrency),
		slog.Int("export_scale", cfg.Render.ExportScale),
	)
	if err := server.Run(mux); err != nil {
		logger.Error("worker server stopped", slog.Any("error", err))
	}
}
