// Package engine orchestrates one batch scoring run: validation, rule
// evaluation and anomaly detection in parallel, then the verdict merge.
package engine

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/opensource-finance/kestrel/internal/anomaly"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/store"
	"github.com/opensource-finance/kestrel/internal/verdict"
)

var tracer = otel.Tracer("kestrel-engine")

// Engine runs batches through the detection pipeline. It holds no per-run
// state; the same Engine may score many batches.
type Engine struct {
	rules *rules.Engine
	cfg   domain.EngineConfig
}

// Result is the complete output of one run.
type Result struct {
	Verdicts []domain.Verdict
	Skipped  []store.SkippedRow

	// TxCount is the number of valid transactions scored.
	TxCount int
}

// Suspicious returns the number of suspicious verdicts.
func (r *Result) Suspicious() int {
	return verdict.CountSuspicious(r.Verdicts)
}

// New validates the configuration and creates an engine.
func New(ruleEngine *rules.Engine, cfg domain.EngineConfig) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{rules: ruleEngine, cfg: cfg}, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() domain.EngineConfig {
	return e.cfg
}

// Run scores a batch. The rule engine and the anomaly model read the same
// immutable store and run in parallel; the merge waits for both. Run either
// returns the full verdict set or an error, never a partial merge.
//
// Given identical input and the same RandomSeed, two runs produce identical
// output.
func (e *Engine) Run(ctx context.Context, txs []domain.Transaction) (*Result, error) {
	ctx, span := tracer.Start(ctx, "engine.run")
	defer span.End()

	batch, err := store.New(txs, e.cfg.ValidationMode)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("batch.size", batch.Len()),
		attribute.Int("batch.skipped", len(batch.Skipped())),
	)

	var (
		wg     sync.WaitGroup
		flags  []domain.RuleFlag
		scores []domain.AnomalyScore
		rulesErr, anomalyErr error
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		rctx, rspan := tracer.Start(ctx, "engine.rules")
		defer rspan.End()
		flags, rulesErr = e.rules.EvaluateAll(rctx, batch, e.cfg)
	}()

	if !e.cfg.RulesOnly {
		wg.Add(1)
		go func() {
			defer wg.Done()
			actx, aspan := tracer.Start(ctx, "engine.anomaly")
			defer aspan.End()
			detector := anomaly.NewDetector(e.cfg)
			scores, anomalyErr = detector.Score(actx, batch)
		}()
	}

	wg.Wait()

	if rulesErr != nil {
		return nil, fmt.Errorf("rule evaluation failed: %w", rulesErr)
	}
	if anomalyErr != nil {
		return nil, fmt.Errorf("anomaly detection failed: %w", anomalyErr)
	}

	_, mspan := tracer.Start(ctx, "engine.merge")
	verdicts := verdict.Merge(batch, flags, scores)
	mspan.End()

	return &Result{
		Verdicts: verdicts,
		Skipped:  batch.Skipped(),
		TxCount:  batch.Len(),
	}, nil
}
