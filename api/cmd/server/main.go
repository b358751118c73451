package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"watermarker/api/cache"
	"watermarker/api/config"
	"watermarker/api/database"
	"watermarker/api/handlers"
	"watermarker/api/middleware"
	"watermarker/api/repository"
	"watermarker/api/service"
	"watermarker/api/storage"
)

func main() {
	cfg := config.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("API service starting", zap.String("port", cfg.Port))

	ctx := context.Background()

	db, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	redisCache, err := database.ConnectCache(cfg.RedisAddr)
	if err != nil {
		logger.Fatal("Failed to connect to redis", zap.Error(err))
	}
	defer redisCache.Close()

	uploader, err := storage.Connect(storage.Config{
		Endpoint:  cfg.StorageEndpoint,
		AccessKey: cfg.StorageAccessKey,
		SecretKey: cfg.StorageSecretKey,
		UseSSL:    cfg.StorageUseSSL,
		Bucket:    cfg.StorageBucket,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to connect to object storage", zap.Error(err))
	}

	repo := repository.NewPostgresRepo(db)
	progressCache := cache.NewProgressCache(redisCache)
	taskService := service.NewTaskService(repo, progressCache, uploader)
	taskHandler := handlers.NewTaskHandler(taskService, cfg.MaxFileSize, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /tasks/mark", taskHandler.Mark)
	mux.HandleFunc("POST /tasks/detect", taskHandler.Detect)
	mux.HandleFunc("POST /tasks", taskHandler.Submit)
	mux.HandleFunc("POST /requests", taskHandler.RequestVerification)
	mux.HandleFunc("GET /tasks/", taskHandler.Status)
	mux.HandleFunc("GET /progress/", taskHandler.Progress)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	handler := middleware.TraceID(middleware.Recovery(logger)(middleware.Logging(logger)(mux)))

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info("Server started", zap.String("address", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server error", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Server shutdown error", zap.Error(err))
	}

	logger.Info("API service stopped")
}
