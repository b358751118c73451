package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"watermarker/worker/cache"
	"watermarker/worker/config"
	"watermarker/worker/models"
	"watermarker/worker/notify"
	"watermarker/worker/pool"
	"watermarker/worker/progress"
	"watermarker/worker/queue"
	"watermarker/worker/repository"
	"watermarker/worker/runner"
	"watermarker/worker/service"
	"watermarker/worker/storage"
)

func main() {
	cfg := config.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Worker service starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	redisCache, err := cache.Connect(cfg.RedisAddr)
	if err != nil {
		logger.Fatal("Failed to connect to redis", zap.Error(err))
	}
	defer redisCache.Close()

	gateway, err := storage.Connect(storage.Config{
		Endpoint:  cfg.StorageEndpoint,
		AccessKey: cfg.StorageAccessKey,
		SecretKey: cfg.StorageSecretKey,
		UseSSL:    cfg.StorageUseSSL,
		Bucket:    cfg.StorageBucket,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to connect to object storage", zap.Error(err))
	}

	notifier, err := notify.NewKafkaNotifier(strings.Split(cfg.KafkaBrokers, ","), cfg.NotifyTopic)
	if err != nil {
		logger.Fatal("Failed to connect notification producer", zap.Error(err))
	}
	defer notifier.Close()

	repo := repository.NewPostgresRepo(db)
	reporter := progress.NewReporter(cache.NewProgressStore(redisCache), logger)
	processRunner := runner.New(logger)
	urls := service.URLPolicy{Signed: cfg.SignedURLs, TTL: cfg.SignedURLTTL}

	marking := service.NewMarkingHandler(gateway, processRunner, reporter, repo, cfg.ScratchRoot, cfg.MarkBinary, urls, logger)
	detection := service.NewDetectionHandler(gateway, processRunner, reporter, repo, cfg.ScratchRoot, cfg.DetectBinary, urls, logger)
	misc := service.NewMiscHandler(gateway, reporter, repo, notifier, urls, logger)

	workers := pool.NewWorkerPool(cfg.WorkerCount)
	dispatcher := queue.NewDispatcher(repo, workers, cfg.PollInterval, logger)
	dispatcher.Register(models.TypeMark, marking)
	dispatcher.Register(models.TypeDetect, detection)
	dispatcher.Register(models.TypeGetServingURL, misc)
	dispatcher.Register(models.TypeDeleteMarkedImage, misc)
	dispatcher.Register(models.TypeDeleteDetectionItem, misc)
	dispatcher.Register(models.TypeVerifyUser, misc)
	dispatcher.Register(models.TypeNotifyAdmin, misc)

	listener := queue.NewListener(db, logger)
	go listener.Run(ctx, dispatcher)

	healthServer := startHealthServer(cfg.HealthAddr, logger)

	done := make(chan struct{})
	go func() {
		dispatcher.Run(ctx)
		close(done)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("Shutdown signal received")
	cancel()
	<-done

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
	defer shutdownCancel()
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Health server shutdown error", zap.Error(err))
	}

	logger.Info("Worker service stopped")
}

const httpShutdownTimeout = 5 * time.Second

func startHealthServer(addr string, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Health server error", zap.Error(err))
		}
	}()

	logger.Info("Health endpoint listening", zap.String("addr", addr))
	return server
}
