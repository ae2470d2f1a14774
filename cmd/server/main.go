package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"magnet-stream/internal/classify"
	"magnet-stream/internal/config"
	apphttp "magnet-stream/internal/http"
	"magnet-stream/internal/pipeline"
	"magnet-stream/internal/queue"
	"magnet-stream/internal/repository/sqlite"
	"magnet-stream/internal/service"
	"magnet-stream/internal/session"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for _, dir := range []string{cfg.Paths.Tmp, cfg.Paths.Downloads, cfg.Paths.Subtitles} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Fatalf("create storage dir %s: %v", dir, err)
		}
	}

	db, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		logger.Fatalf("open database: %v", err)
	}
	defer db.Close()

	torrentRepo := sqlite.NewTorrentRepository(db)
	fileRepo := sqlite.NewFileRepository(db)

	if err := torrentRepo.Init(ctx); err != nil {
		logger.Fatalf("init torrent repository: %v", err)
	}
	if err := fileRepo.Init(ctx); err != nil {
		logger.Fatalf("init file repository: %v", err)
	}

	fabric, err := queue.DialAMQP(queue.AMQPConfig{
		URL:      cfg.AMQP.URL,
		Prefetch: cfg.AMQP.Prefetch,
		Logger:   logger,
	})
	if err != nil {
		logger.Fatalf("connect amqp: %v", err)
	}
	defer fabric.Close()

	sessions := session.NewManager(session.Config{
		MetadataTimeout: cfg.Session.MetadataTimeout,
		StatusInterval:  cfg.Session.StatusInterval,
		Logger:          logger,
	})
	if err := sessions.Start(ctx); err != nil {
		logger.Fatalf("start session manager: %v", err)
	}
	defer sessions.Close()

	classifier := classify.New(cfg.Classify.AllowedExts, cfg.Classify.ConvertibleExts, logger)

	torrentService := service.NewTorrentService(torrentRepo, fileRepo, fabric, sessions, service.Paths{
		Tmp:       cfg.Paths.Tmp,
		Downloads: cfg.Paths.Downloads,
		Subtitles: cfg.Paths.Subtitles,
	}, logger)

	if cfg.Dev.Bootstrap {
		logger.Warn("dev bootstrap: clearing storage, queues, and records")
		if err := torrentService.ClearAll(ctx); err != nil {
			logger.Fatalf("dev bootstrap clear: %v", err)
		}
	}

	orchestrator := pipeline.NewOrchestrator(pipeline.Config{
		TmpDir:      cfg.Paths.Tmp,
		DownloadDir: cfg.Paths.Downloads,
		Logger:      logger,
	}, sessions, torrentRepo, fileRepo, fabric, classifier)

	if err := orchestrator.Register(ctx); err != nil {
		logger.Fatalf("register orchestrator: %v", err)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	handler := apphttp.NewHandler(torrentService)
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: router,
	}

	go func() {
		logger.Infof("listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}

	logger.Info("bye")
}
