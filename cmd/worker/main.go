package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"realskin-backend/cmd"
	"realskin-backend/internal/config"
	"realskin-backend/internal/database"
	"realskin-backend/internal/messaging"
)

func main() {
	log.Println("Starting Worker Process...")

	cmd.LoadEnvFile()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := database.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	processor, err := cmd.NewProcessor(cfg, db)
	if err != nil {
		log.Fatalf("Failed to create job processor: %v", err)
	}

	receiver, err := messaging.NewRabbitMQReceiver(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}
	defer receiver.Close()

	worker := messaging.NewWorker(receiver, processor, cfg.WorkerConcurrency)

	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Println("Shutdown signal received, stopping workers...")
		cancel()
	}()

	log.Println("Worker started. Waiting for tasks. Press Ctrl+C to exit.")
	worker.Run(ctx)

	log.Println("Worker process stopped.")
}
