package main

import (
	"context"
	"log"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"pdfsplitbot/internal/api"
	"pdfsplitbot/internal/bot"
	"pdfsplitbot/internal/config"
	"pdfsplitbot/internal/fetch"
	"pdfsplitbot/internal/pdf"
	"pdfsplitbot/internal/redis"
	"pdfsplitbot/internal/storage"
	"pdfsplitbot/internal/token"
)

func main() {
	cfgPath := os.Getenv("PDFSPLITBOT_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	db, err := storage.Open(cfg.BasicConfig.DatabasePath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()
	if err := storage.Migrate(db); err != nil {
		log.Fatalf("migrate database: %v", err)
	}
	audit := storage.NewAudit(db)

	library, err := storage.NewLibrary(cfg.BasicConfig.StorageDir)
	if err != nil {
		log.Fatalf("init pdf library: %v", err)
	}
	serve, err := storage.NewServeDir(cfg.BasicConfig.ServeDir, cfg.Expiration(), logger)
	if err != nil {
		log.Fatalf("init serve directory: %v", err)
	}

	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	defer sweepCancel()
	serve.StartSweeper(sweepCtx, cfg.SweepInterval())

	var registry token.Registry
	switch cfg.BasicConfig.TokenBackend {
	case "redis":
		rdb, err := redis.NewClient(cfg)
		if err != nil {
			log.Fatalf("create redis client: %v", err)
		}
		defer rdb.Close()
		registry, err = token.NewRedisRegistry(rdb, cfg.Expiration())
		if err != nil {
			log.Fatalf("init redis token registry: %v", err)
		}
		logger.Info("using redis token registry")
	default:
		registry = token.NewMemoryRegistry(cfg.Expiration())
		logger.Info("using in-memory token registry")
	}

	gateway := api.NewGateway(serve, registry, cfg.BasicConfig.PublicURL, logger)
	engine := bot.NewEngine(
		gateway,
		pdf.NewPDFCPU(logger),
		fetch.NewFetcher(cfg.BasicConfig.DownloadLimitBytes, logger),
		library,
		serve,
		registry,
		audit,
		bot.Options{
			PublicURL:   cfg.BasicConfig.PublicURL,
			InlineLimit: cfg.BasicConfig.InlineLimitBytes,
		},
		logger,
	)
	manager := bot.NewManager(engine, logger)
	defer manager.Close()

	handlers := api.NewHandler(manager, gateway, registry, audit, logger)
	router := gin.Default()
	handlers.RegisterRoutes(router)

	addr := cfg.BasicConfig.ServerAddress
	logger.WithField("addr", addr).Info("starting pdf split bot")
	if err := router.Run(addr); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}
