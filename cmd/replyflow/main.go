package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"replyflow/internal/batch"
	"replyflow/internal/config"
	"replyflow/internal/crash"
	"replyflow/internal/httpserver"
	"replyflow/internal/ingest"
	"replyflow/internal/logger"
	"replyflow/internal/scheduler"
	"replyflow/internal/service"
	"replyflow/internal/storage"
)

func main() {
	defer crash.RecoverWithStackAndExit("main")

	// Define command line flags
	configPath := flag.String("config", "configs/config.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Set up logging first
	if err := logger.Setup(cfg); err != nil {
		log.Fatalf("Failed to set up logger: %v", err)
	}

	// Initialize database
	if err := storage.Initialize(cfg); err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	// Create context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize the pipeline and its periodic workers
	service.Initialize(cfg)
	service.InitRepositories()
	service.StartWorkers(ctx)

	server := httpserver.NewServer(cfg, httpserver.Deps{
		Ingestor:        mustIngestor(),
		Scheduler:       mustScheduler(),
		Drainer:         mustDrainer(),
		Queue:           service.QueueRepository(),
		SchedulerBudget: cfg.Pipeline.SchedulerBudget,
		DrainerBudget:   cfg.Pipeline.DrainerBudget,
	})

	// Start HTTP server in a goroutine
	go func() {
		if err := server.Start(); err != nil {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	log.Println("HTTP server is ready")

	// Create a channel for receiving OS signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Wait for signal
	sig := <-sigChan
	log.Printf("Received signal: %v, shutting down...", sig)
	cancel()

	// Gracefully shutdown server
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	log.Println("Server gracefully stopped")
}

func mustIngestor() *ingest.Ingestor {
	ing := service.Ingestor()
	if ing == nil {
		log.Fatal("event ingestor not initialized")
	}
	return ing
}

func mustScheduler() *scheduler.Scheduler {
	s := service.Scheduler()
	if s == nil {
		log.Fatal("queue scheduler not initialized")
	}
	return s
}

func mustDrainer() *batch.Drainer {
	d := service.Drainer()
	if d == nil {
		log.Fatal("batch drainer not initialized")
	}
	return d
}
