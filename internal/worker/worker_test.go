package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
)

var testBase = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	worker *Worker
	repo   domain.Repository
	bus    *bus.ChannelBus
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "kestrel-test.db"),
	})
	if err != nil {
		t.Fatalf("failed to open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	eventBus := bus.NewChannelBus(64)
	t.Cleanup(func() { eventBus.Close() })

	ruleEngine, err := rules.NewEngine(4)
	if err != nil {
		t.Fatalf("failed to create rule engine: %v", err)
	}
	eng, err := engine.New(ruleEngine, domain.DefaultEngineConfig())
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	return &testEnv{
		worker: NewWorker(eventBus, repo, eng),
		repo:   repo,
		bus:    eventBus,
	}
}

// seedRun stores a pending run with a 25-transaction batch containing one
// sub-limit burst.
func (e *testEnv) seedRun(t *testing.T, runID string, txs []domain.Transaction) {
	t.Helper()
	ctx := context.Background()

	run := &domain.Run{ID: runID, Status: domain.RunStatusPending, StartedAt: time.Now().UTC()}
	if err := e.repo.SaveRun(ctx, run); err != nil {
		t.Fatalf("failed to seed run: %v", err)
	}
	if err := e.repo.SaveTransactions(ctx, runID, txs); err != nil {
		t.Fatalf("failed to seed transactions: %v", err)
	}
}

func batchWithBurst() []domain.Transaction {
	txs := make([]domain.Transaction, 0, 25)
	for i := 0; i < 20; i++ {
		txs = append(txs, domain.Transaction{
			ID:         fmt.Sprintf("BG-%03d", i+1),
			SenderID:   fmt.Sprintf("S-%03d", i+1),
			ReceiverID: fmt.Sprintf("R-%03d", i+1),
			Amount:     2000 + float64(i)*17,
			Timestamp:  testBase.Add(-time.Duration(i+1) * 25 * time.Hour),
			Location:   "Nairobi",
		})
	}
	for i := 0; i < 5; i++ {
		txs = append(txs, domain.Transaction{
			ID:         fmt.Sprintf("BURST-%02d", i+1),
			SenderID:   "ACCT-BURST",
			ReceiverID: fmt.Sprintf("RCV-%02d", i+1),
			Amount:     900,
			Timestamp:  testBase.Add(time.Duration(i) * 12 * time.Minute),
			Location:   "Nairobi",
		})
	}
	return txs
}

func TestProcessRun_Completes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	completedCh := make(chan RunCompleted, 1)
	env.bus.Subscribe(ctx, domain.TopicRunCompleted, func(ctx context.Context, msg *domain.Message) error {
		var evt RunCompleted
		json.Unmarshal(msg.Payload, &evt)
		completedCh <- evt
		return nil
	})

	alertCh := make(chan Alert, 32)
	env.bus.Subscribe(ctx, domain.TopicAlert, func(ctx context.Context, msg *domain.Message) error {
		var alert Alert
		json.Unmarshal(msg.Payload, &alert)
		alertCh <- alert
		return nil
	})

	env.seedRun(t, "run-1", batchWithBurst())

	if err := env.worker.ProcessRun(ctx, "run-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	run, err := env.repo.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("failed to load run: %v", err)
	}
	if run.Status != domain.RunStatusCompleted {
		t.Errorf("expected completed, got %s", run.Status)
	}
	if run.TxCount != 25 || run.SuspiciousCount < 5 {
		t.Errorf("unexpected counters: %+v", run)
	}

	verdicts, err := env.repo.GetVerdicts(ctx, "run-1", 0)
	if err != nil {
		t.Fatalf("failed to load verdicts: %v", err)
	}
	if len(verdicts) != 25 {
		t.Errorf("expected 25 verdicts persisted, got %d", len(verdicts))
	}

	select {
	case evt := <-completedCh:
		if evt.RunID != "run-1" || evt.Status != domain.RunStatusCompleted {
			t.Errorf("unexpected completion event: %+v", evt)
		}
		if evt.SuspiciousCount != run.SuspiciousCount {
			t.Errorf("completion count %d, run has %d", evt.SuspiciousCount, run.SuspiciousCount)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("completion event never published")
	}

	select {
	case alert := <-alertCh:
		if alert.RunID != "run-1" || alert.TxID == "" || len(alert.Reasons) == 0 {
			t.Errorf("unexpected alert: %+v", alert)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no alert published for suspicious verdicts")
	}
}

func TestProcessRun_FailureRecorded(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	completedCh := make(chan RunCompleted, 1)
	env.bus.Subscribe(ctx, domain.TopicRunCompleted, func(ctx context.Context, msg *domain.Message) error {
		var evt RunCompleted
		json.Unmarshal(msg.Payload, &evt)
		completedCh <- evt
		return nil
	})

	// Five transactions: below the anomaly model minimum.
	env.seedRun(t, "run-small", batchWithBurst()[:5])

	err := env.worker.ProcessRun(ctx, "run-small")
	if err == nil {
		t.Fatal("expected error for undersized batch")
	}
	if !errors.Is(err, domain.ErrInsufficientData) {
		t.Errorf("expected ErrInsufficientData, got %v", err)
	}

	run, err := env.repo.GetRun(ctx, "run-small")
	if err != nil {
		t.Fatalf("failed to load run: %v", err)
	}
	if run.Status != domain.RunStatusFailed || run.Error == "" {
		t.Errorf("expected failed run with error recorded, got %+v", run)
	}

	select {
	case evt := <-completedCh:
		if evt.Status != domain.RunStatusFailed || evt.Error == "" {
			t.Errorf("unexpected completion event: %+v", evt)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("failure event never published")
	}
}

func TestProcessRun_UnknownRun(t *testing.T) {
	env := newTestEnv(t)

	err := env.worker.ProcessRun(context.Background(), "missing")
	if !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestWorker_StartProcessesQueuedRun(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.worker.Start(); err != nil {
		t.Fatalf("failed to start worker: %v", err)
	}
	defer env.worker.Stop()

	stats := env.worker.GetStats()
	if stats.SubscriptionCount != 1 || stats.Topics[0] != domain.TopicRunRequested {
		t.Errorf("unexpected stats: %+v", stats)
	}

	env.seedRun(t, "run-async", batchWithBurst())

	payload, _ := json.Marshal(RunRequest{RunID: "run-async"})
	if err := env.bus.Publish(ctx, domain.TopicRunRequested, payload); err != nil {
		t.Fatalf("failed to publish: %v", err)
	}

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		run, err := env.repo.GetRun(ctx, "run-async")
		if err != nil {
			t.Fatalf("failed to load run: %v", err)
		}
		if run.Status == domain.RunStatusCompleted {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("queued run never completed")
}

func TestHandleMessage_BadPayload(t *testing.T) {
	env := newTestEnv(t)

	msg := &domain.Message{ID: "m1", Topic: domain.TopicRunRequested, Payload: []byte("{broken")}
	if err := env.worker.handleMessage(context.Background(), msg); err == nil {
		t.Error("expected error for malformed payload")
	}

	empty, _ := json.Marshal(RunRequest{})
	msg = &domain.Message{ID: "m2", Topic: domain.TopicRunRequested, Payload: empty}
	if err := env.worker.handleMessage(context.Background(), msg); err == nil {
		t.Error("expected error for missing run id")
	}
}
