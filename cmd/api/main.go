package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"printgrid/internal/api"
	"printgrid/internal/config"
	"printgrid/internal/database"
	"printgrid/internal/jobs"
	"printgrid/internal/logging"
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
	if err := database.AutoMigrate(db); err != nil {
		log.Fatalf("auto migrate: %v", err)
	}
	logger.Info("database ready",
		slog.String("host", cfg.Database.Host),
		slog.String("db", cfg.Database.Name),
	)

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr()})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error("close redis client failed", slog.Any("error", err))
		}
	}()
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("ping redis: %v", err)
	}

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.Redis.Addr()})
	defer asynqClient.Close()

	// API 进程不渲染，只创建批量任务与读取状态。
	orchestrator := jobs.NewOrchestrator(
		jobs.Config{OutputDir: cfg.Render.OutputDir, TTL: cfg.Jobs.TTL},
		nil,
		database.NewOrderRepository(db),
		jobs.NewRedisStore(redisClient, "printgrid:"),
		nil,
		logger,
	)

	router := api.NewRouter(logger)
	renderHandler := api.NewRenderHandler(asynqClient, orchestrator.Tracker(), orchestrator, redisClient, cfg.Bulk.MaxOrders)
	api.RegisterRoutes(router, renderHandler)

	address := fmt.Sprintf(":%d", cfg.API.Port)
	logger.Info("api listening", slog.String("addr", address))
	if err := router.Run(address); err != nil {
		log.Fatalf("failed to start api server: %v", err)
	}
}
