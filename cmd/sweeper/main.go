package main

import (
	"context"
	"log"
	"log/slog"

	"go.temporal.io/sdk/client"
	tlog "go.temporal.io/sdk/log"
	"go.temporal.io/sdk/worker"

	natsadapter "github.com/samirrijal/livemap/internal/adapters/nats"
	"github.com/samirrijal/livemap/internal/adapters/postgres"
	"github.com/samirrijal/livemap/internal/core/ports"
	"github.com/samirrijal/livemap/internal/core/usecases"
	"github.com/samirrijal/livemap/internal/pkg/config"
	"github.com/samirrijal/livemap/internal/pkg/logging"
	"github.com/samirrijal/livemap/internal/workflows"
)

const sweepWorkflowID = "livemap-presence-expiry"

func main() {
	cfg, err := config.Load("livemap-sweeper")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Format)

	ctx := context.Background()

	db, err := postgres.New(ctx, cfg.Database.DSN(), 4)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	// Expiry events are best effort; the store stays authoritative.
	var events ports.EventPublisher
	if pub, err := natsadapter.NewPublisher(cfg.NATS.URL, cfg.NATS.Stream); err != nil {
		slog.Warn("nats unavailable, expiring without events", "error", err)
	} else {
		defer pub.Close()
		events = pub
	}

	expiry := usecases.NewPresenceExpiryService(postgres.NewPresenceRepo(db), events, cfg.Presence.StaleAfter, cfg.Presence.SweepBatch)

	c, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
		Logger:    tlog.NewStructuredLogger(logging.Component("temporal")),
	})
	if err != nil {
		log.Fatalf("temporal client: %v", err)
	}
	defer c.Close()

	w := worker.New(c, cfg.Temporal.TaskQueue, worker.Options{})
	w.RegisterWorkflow(workflows.PresenceExpiryWorkflow)
	w.RegisterActivity(&workflows.ExpiryActivities{Expiry: expiry})

	// Starting an already running cron workflow returns its existing run.
	run, err := c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:           sweepWorkflowID,
		TaskQueue:    cfg.Temporal.TaskQueue,
		CronSchedule: cfg.Temporal.SweepSchedule,
	}, workflows.PresenceExpiryWorkflow, workflows.ExpiryInput{})
	if err != nil {
		log.Fatalf("schedule sweep: %v", err)
	}
	slog.Info("presence sweep scheduled", "workflow_id", run.GetID(), "run_id", run.GetRunID(), "schedule", cfg.Temporal.SweepSchedule)

	slog.Info("sweeper worker started", "task_queue", cfg.Temporal.TaskQueue)
	if err := w.Run(worker.InterruptCh()); err != nil {
		log.Fatalf("worker: %v", err)
	}
}
