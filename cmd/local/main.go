package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"realskin-backend/cmd"
	"realskin-backend/internal/api"
	"realskin-backend/internal/config"
	"realskin-backend/internal/database"
	"realskin-backend/internal/messaging"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// The local binary is the single-container deployment: embedded queue,
// embedded workers, sqlite, same HTTP API as the split deployment.

type LocalConfig struct {
	APIPort string `env:"API_PORT" envDefault:"8001"`
}

func createDatabase(volumeDir string) *gorm.DB {
	path := filepath.Join(volumeDir, "db", "realskin.db")
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		log.Fatalf("Failed to create database directory: %v", err)
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	if err := database.GetMigrator(db).Migrate(); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	return db
}

// createQueue requeues jobs that were QUEUED when the previous process
// exited, so a container restart does not strand them.
func createQueue(db *gorm.DB) *messaging.InMemoryQueue {
	var jobs []database.EnhanceJob
	if err := db.Where("status = ?", database.JobQueued).Find(&jobs).Error; err != nil {
		log.Fatalf("Failed to fetch queued jobs from database: %v", err)
	}

	queue := messaging.NewInMemoryQueue()

	for _, job := range jobs {
		if err := queue.PublishEnhanceTask(context.Background(), messaging.EnhanceTaskPayload{JobId: job.Id}); err != nil {
			log.Fatalf("Failed to requeue job %v: %v", job.Id, err)
		}
	}

	if len(jobs) > 0 {
		slog.Info("requeued unfinished jobs", "count", len(jobs))
	}

	return queue
}

func createServer(db *gorm.DB, queue messaging.Publisher, cfg *config.Config, port string) *http.Server {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	backend := api.NewBackendService(db, queue, cmd.UploadDir(cfg.VolumeDir), cfg.JobTimeout)

	r.Route("/api/v1", func(r chi.Router) {
		backend.AddRoutes(r)
	})

	return &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
}

func main() {
	cmd.LoadEnvFile()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	var localCfg LocalConfig
	if err := env.Parse(&localCfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}
	port := localCfg.APIPort

	slog.Info("starting local server", "port", port, "volume_dir", cfg.VolumeDir, "concurrency", cfg.WorkerConcurrency)

	db := createDatabase(cfg.VolumeDir)

	queue := createQueue(db)

	processor, err := cmd.NewProcessor(cfg, db)
	if err != nil {
		log.Fatalf("Failed to create job processor: %v", err)
	}

	worker := messaging.NewWorker(queue, processor, cfg.WorkerConcurrency)

	workerCtx, stopWorker := context.WithCancel(context.Background())
	go worker.Run(workerCtx)

	server := createServer(db, queue, cfg, port)

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		slog.Info("shutting down server")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			log.Fatalf("Server forced to shutdown: %v", err)
		}

		slog.Info("shutting down worker")
		stopWorker()
	}()

	slog.Info("server started", "port", port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Could not listen on %s: %v\n", port, err)
	}

	slog.Info("server stopped")
}
