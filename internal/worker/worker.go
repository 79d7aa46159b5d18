// Package worker executes scoring runs asynchronously off the EventBus.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
)

// Worker consumes run requests from the bus, executes them against the
// engine and persists the results.
type Worker struct {
	bus    domain.EventBus
	repo   domain.Repository
	engine *engine.Engine

	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewWorker creates a new async run worker.
func NewWorker(bus domain.EventBus, repo domain.Repository, eng *engine.Engine) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		repo:   repo,
		engine: eng,
		ctx:    ctx,
		cancel: cancel,
	}
}

// RunRequest is the message payload for an async run.
type RunRequest struct {
	RunID string `json:"runId"`
}

// RunCompleted is published when a run finishes, in either state.
type RunCompleted struct {
	RunID           string `json:"runId"`
	Status          string `json:"status"`
	TxCount         int    `json:"txCount"`
	SuspiciousCount int    `json:"suspiciousCount"`
	Error           string `json:"error,omitempty"`
}

// Alert is published per suspicious transaction on completed runs.
type Alert struct {
	RunID    string   `json:"runId"`
	TxID     string   `json:"txId"`
	Reasons  []string `json:"reasons"`
	Severity float64  `json:"severity"`
}

// Start subscribes to the run request topic.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicRunRequested, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("run worker started", "topic", domain.TopicRunRequested)
	return nil
}

// handleMessage processes a single run request message.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	var req RunRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		slog.Error("failed to parse run request",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}
	if req.RunID == "" {
		slog.Error("run request missing run id", "message_id", msg.ID)
		return fmt.Errorf("run request missing run id")
	}
	return w.ProcessRun(ctx, req.RunID)
}

// ProcessRun executes one stored run end-to-end.
func (w *Worker) ProcessRun(ctx context.Context, runID string) error {
	start := time.Now()

	run, err := w.repo.GetRun(ctx, runID)
	if err != nil {
		slog.Error("failed to load run", "run_id", runID, "error", err)
		return err
	}

	run.Status = domain.RunStatusRunning
	run.StartedAt = start
	if err := w.repo.UpdateRun(ctx, run); err != nil {
		slog.Error("failed to mark run running", "run_id", runID, "error", err)
		return err
	}

	txs, err := w.repo.GetTransactions(ctx, runID)
	if err != nil {
		return w.failRun(ctx, run, fmt.Errorf("load transactions: %w", err))
	}

	result, err := w.engine.Run(ctx, txs)
	if err != nil {
		return w.failRun(ctx, run, err)
	}

	if err := w.repo.SaveVerdicts(ctx, runID, result.Verdicts); err != nil {
		return w.failRun(ctx, run, fmt.Errorf("save verdicts: %w", err))
	}

	run.Status = domain.RunStatusCompleted
	run.CompletedAt = time.Now()
	run.TxCount = result.TxCount
	run.SuspiciousCount = result.Suspicious()
	run.RowsSkipped = len(result.Skipped)
	if err := w.repo.UpdateRun(ctx, run); err != nil {
		slog.Error("failed to mark run completed", "run_id", runID, "error", err)
		return err
	}

	w.publishCompleted(ctx, run)
	w.publishAlerts(ctx, runID, result.Verdicts)

	slog.Info("run processed",
		"run_id", runID,
		"tx_count", run.TxCount,
		"suspicious_count", run.SuspiciousCount,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// failRun records the failure on the run and publishes a completion event.
func (w *Worker) failRun(ctx context.Context, run *domain.Run, cause error) error {
	slog.Error("run failed", "run_id", run.ID, "error", cause)

	run.Status = domain.RunStatusFailed
	run.CompletedAt = time.Now()
	run.Error = cause.Error()
	if err := w.repo.UpdateRun(ctx, run); err != nil {
		slog.Error("failed to mark run failed", "run_id", run.ID, "error", err)
	}

	w.publishCompleted(ctx, run)
	return cause
}

func (w *Worker) publishCompleted(ctx context.Context, run *domain.Run) {
	payload, _ := json.Marshal(RunCompleted{
		RunID:           run.ID,
		Status:          run.Status,
		TxCount:         run.TxCount,
		SuspiciousCount: run.SuspiciousCount,
		Error:           run.Error,
	})
	if err := w.bus.Publish(ctx, domain.TopicRunCompleted, payload); err != nil {
		slog.Error("failed to publish run completion",
			"run_id", run.ID,
			"error", err,
		)
	}
}

func (w *Worker) publishAlerts(ctx context.Context, runID string, verdicts []domain.Verdict) {
	for _, v := range verdicts {
		if !v.IsSuspicious {
			continue
		}
		payload, _ := json.Marshal(Alert{
			RunID:    runID,
			TxID:     v.TxID,
			Reasons:  v.Reasons,
			Severity: v.Severity,
		})
		if err := w.bus.Publish(ctx, domain.TopicAlert, payload); err != nil {
			slog.Error("failed to publish alert",
				"run_id", runID,
				"tx_id", v.TxID,
				"error", err,
			)
		}
	}
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	slog.Info("run worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
