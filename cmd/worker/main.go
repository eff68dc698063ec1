package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"charity_ledger/internal/app"
	"charity_ledger/internal/tasks"
)

func main() {
	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}

	ledger, err := app.Open(cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer ledger.Close()

	// Create context that cancels on interrupt
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The sweep is an ordinary recurring task so it shares claiming and history with the rest
	sweep, err := tasks.RecurringSweepTask.CreateTask(time.Now(), cfg.SweepRule)
	if err != nil {
		log.Fatalf("Failed to build sweep task: %v", err)
	}
	if _, err := tasks.EnsureRecurringTask(ctx, ledger.DB, sweep); err != nil {
		log.Fatalf("Failed to seed sweep task: %v", err)
	}

	registry := ledger.Registry()
	log.Printf("Worker started with tasks %v, checking every %s", registry.Names(), cfg.WorkerInterval)

	tasks.NewRunner(ledger.DB, registry).Loop(ctx, cfg.WorkerInterval)
	log.Println("Worker stopped")
}
