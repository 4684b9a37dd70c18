package main

import (
	"context"
	"log"
	"os"
	"time"

	"assistberry/internal/api"
	"assistberry/internal/auth"
	"assistberry/internal/config"
	"assistberry/internal/redis"
	"assistberry/internal/service/ai"
	"assistberry/internal/service/assistant"
	"assistberry/internal/service/chat"
	"assistberry/internal/storage"
	"assistberry/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	cfgPath := os.Getenv("ASSISTBERRY_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	dbType := os.Getenv("ASSISTBERRY_DB")
	if dbType == "" {
		dbType = "sqlite3"
	}
	logger.Info("opening database", zap.String("driver", dbType))
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		logger.Fatal("open database", zap.Error(err))
	}
	defer db.Close()
	if err := storage.Migrate(db, dbType); err != nil {
		logger.Fatal("migrate database", zap.Error(err))
	}

	rdb, err := redis.NewClient(cfg)
	if err != nil {
		logger.Fatal("create redis client", zap.Error(err))
	}
	defer rdb.Close()

	store, err := assistant.NewService(db, dbType, logger)
	if err != nil {
		logger.Fatal("init store", zap.Error(err))
	}

	provider := cfg.BasicConfig.Provider
	provCfg, ok := cfg.Providers[provider]
	if !ok {
		logger.Fatal("provider not configured", zap.String("provider", provider))
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	endpoint, err := ai.NewService(ctx, provider, provCfg.Model, provCfg)
	if err != nil {
		logger.Fatal("init model endpoint", zap.Error(err))
	}
	var proEndpoint chat.Endpoint
	if provCfg.ProModel != "" {
		pro, err := ai.NewService(ctx, provider, provCfg.ProModel, provCfg)
		if err != nil {
			logger.Fatal("init pro model endpoint", zap.Error(err))
		}
		proEndpoint = pro
	}
	var images chat.ImageEndpoint
	if provider == "gemini" && provCfg.ImageModel != "" {
		images = endpoint
	}

	jobs := worker.NewDispatcher(worker.DispatcherConfig{
		MinWorkers:        cfg.BasicConfig.MinWorkers,
		MaxWorkers:        cfg.BasicConfig.MaxWorkers,
		QueueSize:         cfg.BasicConfig.QueueSize,
		WorkerIdleTimeout: time.Duration(cfg.BasicConfig.WorkerIdleTimeout) * time.Minute,
	})

	chatSvc := chat.NewService(store, endpoint, proEndpoint, images, jobs, logger)

	retention := time.Duration(cfg.BasicConfig.RetentionDays) * 24 * time.Hour
	sweep := time.Duration(cfg.BasicConfig.RetentionSweepMins) * time.Minute
	if sweep <= 0 {
		sweep = time.Hour
	}
	store.StartRetentionSweeper(ctx, sweep, retention, rdb)

	authService := auth.NewService(db, rdb, 24*time.Hour)
	handlers := api.NewHandler(store, chatSvc, authService, rdb, logger, retention, cfg.BasicConfig.AdminUsername)

	router := gin.Default()
	handlers.RegisterRoutes(router)

	addr := cfg.BasicConfig.ServerAddress
	if addr == "" {
		addr = ":8090"
	}
	logger.Info("listening", zap.String("addr", addr))
	if err := router.Run(addr); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}
