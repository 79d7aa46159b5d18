package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
	"github.com/opensource-finance/kestrel/internal/generator"
	"github.com/opensource-finance/kestrel/internal/report"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/store"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo       domain.Repository
	cache      domain.Cache
	bus        domain.EventBus
	ruleEngine *rules.Engine
	engine     *engine.Engine
	version    string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, ruleEngine *rules.Engine, eng *engine.Engine, version string) *Handler {
	return &Handler{
		repo:       repo,
		cache:      cache,
		bus:        bus,
		ruleEngine: ruleEngine,
		engine:     eng,
		version:    version,
	}
}

// GenerateSpec requests a synthetic batch instead of inline transactions.
type GenerateSpec struct {
	Count       int      `json:"count"`
	Bursts      int      `json:"bursts"`
	BurstSize   int      `json:"burstSize"`
	Locations   []string `json:"locations,omitempty"`
	SpanMinutes int      `json:"spanMinutes"`
	Seed        int64    `json:"seed"`
}

// CreateRunRequest is the request body for POST /runs. Exactly one of
// Transactions or Generate must be set.
type CreateRunRequest struct {
	Transactions []domain.Transaction `json:"transactions,omitempty"`
	Generate     *GenerateSpec        `json:"generate,omitempty"`

	// Async queues the run on the event bus instead of scoring inline.
	Async bool `json:"async"`
}

// CreateRunResponse is the response for POST /runs.
type CreateRunResponse struct {
	Run      *domain.Run `json:"run"`
	Metadata struct {
		TraceID string `json:"traceId"`
		TotalMs int64  `json:"totalMs"`
		Version string `json:"version"`
	} `json:"metadata"`
}

// CreateRun handles POST /runs: stores the batch and either scores it
// inline or queues it for the async worker.
func (h *Handler) CreateRun(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	var req CreateRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	txs := req.Transactions
	if req.Generate != nil {
		if len(txs) > 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "transactions and generate are mutually exclusive",
			})
			return
		}
		gen := generator.New(generator.Config{
			Count:       req.Generate.Count,
			Bursts:      req.Generate.Bursts,
			BurstSize:   req.Generate.BurstSize,
			Locations:   req.Generate.Locations,
			SpanMinutes: req.Generate.SpanMinutes,
			Seed:        req.Generate.Seed,
		})
		txs = gen.Generate()
	}
	if len(txs) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "transactions or generate is required",
		})
		return
	}

	run := &domain.Run{
		ID:        uuid.New().String(),
		Status:    domain.RunStatusPending,
		StartedAt: time.Now().UTC(),
	}
	if err := h.repo.SaveRun(ctx, run); err != nil {
		slog.Error("failed to save run", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save run",
		})
		return
	}
	if err := h.repo.SaveTransactions(ctx, run.ID, txs); err != nil {
		slog.Error("failed to save transactions", "run_id", run.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save transactions",
		})
		return
	}

	if req.Async {
		payload, _ := json.Marshal(map[string]string{"runId": run.ID})
		if err := h.bus.Publish(ctx, domain.TopicRunRequested, payload); err != nil {
			slog.Error("failed to queue run", "run_id", run.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to queue run",
			})
			return
		}
		h.respondRun(w, http.StatusAccepted, run, GetTraceID(ctx), start)
		return
	}

	h.executeRun(w, r, run, txs, start)
}

// executeRun scores the batch inline and persists the outcome.
func (h *Handler) executeRun(w http.ResponseWriter, r *http.Request, run *domain.Run, txs []domain.Transaction, start time.Time) {
	ctx := r.Context()

	run.Status = domain.RunStatusRunning
	if err := h.repo.UpdateRun(ctx, run); err != nil {
		slog.Error("failed to update run", "run_id", run.ID, "error", err)
	}

	result, err := h.engine.Run(ctx, txs)
	if err != nil {
		run.Status = domain.RunStatusFailed
		run.CompletedAt = time.Now().UTC()
		run.Error = err.Error()
		if uerr := h.repo.UpdateRun(ctx, run); uerr != nil {
			slog.Error("failed to update run", "run_id", run.ID, "error", uerr)
		}

		status := http.StatusInternalServerError
		if errors.Is(err, domain.ErrValidation) || errors.Is(err, domain.ErrInsufficientData) {
			status = http.StatusUnprocessableEntity
		}
		slog.Error("run failed", "run_id", run.ID, "error", err)
		writeJSON(w, status, map[string]string{
			"error": err.Error(),
			"runId": run.ID,
		})
		return
	}

	if err := h.repo.SaveVerdicts(ctx, run.ID, result.Verdicts); err != nil {
		slog.Error("failed to save verdicts", "run_id", run.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save verdicts",
		})
		return
	}

	run.Status = domain.RunStatusCompleted
	run.CompletedAt = time.Now().UTC()
	run.TxCount = result.TxCount
	run.SuspiciousCount = result.Suspicious()
	run.RowsSkipped = len(result.Skipped)
	if err := h.repo.UpdateRun(ctx, run); err != nil {
		slog.Error("failed to update run", "run_id", run.ID, "error", err)
	}

	slog.Info("run completed",
		"run_id", run.ID,
		"tx_count", run.TxCount,
		"suspicious_count", run.SuspiciousCount,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	h.respondRun(w, http.StatusOK, run, GetTraceID(ctx), start)
}

func (h *Handler) respondRun(w http.ResponseWriter, status int, run *domain.Run, traceID string, start time.Time) {
	resp := CreateRunResponse{Run: run}
	resp.Metadata.TraceID = traceID
	resp.Metadata.TotalMs = time.Since(start).Milliseconds()
	resp.Metadata.Version = h.version
	writeJSON(w, status, resp)
}

// ListRuns returns recent runs, newest first.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)

	runs, err := h.repo.ListRuns(r.Context(), limit)
	if err != nil {
		slog.Error("failed to list runs", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list runs",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}

// GetRun retrieves a run by ID.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")

	run, err := h.repo.GetRun(r.Context(), runID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "run not found",
			})
			return
		}
		slog.Error("failed to get run", "run_id", runID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get run",
		})
		return
	}

	writeJSON(w, http.StatusOK, run)
}

// GetVerdicts returns a run's verdicts in output order, cache-backed.
func (h *Handler) GetVerdicts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	runID := chi.URLParam(r, "id")
	limit := queryInt(r, "limit", 0)

	cacheKey := fmt.Sprintf("verdicts:%s:%d", runID, limit)
	if h.cache != nil {
		if cached, err := h.cache.Get(ctx, cacheKey); err == nil && cached != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(cached)
			return
		}
	}

	verdicts, err := h.repo.GetVerdicts(ctx, runID, limit)
	if err != nil {
		slog.Error("failed to get verdicts", "run_id", runID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get verdicts",
		})
		return
	}

	body, err := json.Marshal(map[string]interface{}{
		"runId":    runID,
		"verdicts": verdicts,
		"count":    len(verdicts),
	})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to encode verdicts",
		})
		return
	}

	if h.cache != nil {
		if err := h.cache.Set(ctx, cacheKey, body, 5*time.Minute); err != nil {
			slog.Warn("failed to cache verdicts", "run_id", runID, "error", err)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// GetSummary aggregates a completed run into the report view.
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	runID := chi.URLParam(r, "id")
	topN := queryInt(r, "top", 10)

	batch, verdicts, ok := h.loadRunData(w, ctx, runID)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, report.Build(batch, verdicts, topN))
}

// ExportVerdicts streams the suspicious verdicts joined with their
// transactions as CSV.
func (h *Handler) ExportVerdicts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	runID := chi.URLParam(r, "id")

	batch, verdicts, ok := h.loadRunData(w, ctx, runID)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "kestrel-run-"+runID+".csv"))
	if err := report.ExportCSV(w, batch, verdicts); err != nil {
		slog.Error("failed to export verdicts", "run_id", runID, "error", err)
	}
}

// loadRunData fetches a run's transactions and verdicts and rebuilds the
// batch store. Writes the error response itself on failure.
func (h *Handler) loadRunData(w http.ResponseWriter, ctx context.Context, runID string) (*store.Store, []domain.Verdict, bool) {
	if _, err := h.repo.GetRun(ctx, runID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "run not found",
			})
			return nil, nil, false
		}
		slog.Error("failed to get run", "run_id", runID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get run",
		})
		return nil, nil, false
	}

	txs, err := h.repo.GetTransactions(ctx, runID)
	if err != nil {
		slog.Error("failed to get transactions", "run_id", runID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get transactions",
		})
		return nil, nil, false
	}

	verdicts, err := h.repo.GetVerdicts(ctx, runID, 0)
	if err != nil {
		slog.Error("failed to get verdicts", "run_id", runID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get verdicts",
		})
		return nil, nil, false
	}

	// Stored batches were validated at submission.
	batch, err := store.New(txs, domain.ValidationSkip)
	if err != nil {
		slog.Error("failed to rebuild batch", "run_id", runID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to rebuild batch",
		})
		return nil, nil, false
	}

	return batch, verdicts, true
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// ListRules returns the stored custom rules plus the built-in rule names.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	configs, err := h.repo.ListRuleConfigs(r.Context())
	if err != nil {
		slog.Error("failed to list rules", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list rules",
		})
		return
	}

	builtin := make([]string, 0)
	for _, rule := range rules.BuiltinRules() {
		builtin = append(builtin, rule.Name())
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"builtin": builtin,
		"custom":  configs,
		"loaded":  h.ruleEngine.CustomRuleCount(),
	})
}

// GetRule retrieves a custom rule by ID.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")

	cfg, err := h.repo.GetRuleConfig(r.Context(), ruleID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "rule not found",
			})
			return
		}
		slog.Error("failed to get rule", "id", ruleID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get rule",
		})
		return
	}

	writeJSON(w, http.StatusOK, cfg)
}

// CreateRuleRequest is the request body for creating a custom rule.
type CreateRuleRequest struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Expression  string `json:"expression"`
	Enabled     bool   `json:"enabled"`
}

// CreateRule validates, persists and hot-loads a custom CEL rule.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.ID == "" || req.Name == "" || req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, name, and expression are required",
		})
		return
	}

	now := time.Now().UTC()
	cfg := &domain.RuleConfig{
		ID:          req.ID,
		Name:        req.Name,
		Description: req.Description,
		Expression:  req.Expression,
		Enabled:     req.Enabled,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := h.ruleEngine.ValidateRule(cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid CEL expression: " + err.Error(),
		})
		return
	}

	if err := h.repo.SaveRuleConfig(ctx, cfg); err != nil {
		slog.Error("failed to save rule config", "id", cfg.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save rule",
		})
		return
	}

	if cfg.Enabled {
		if err := h.ruleEngine.LoadRule(cfg); err != nil {
			slog.Error("failed to load rule into engine", "id", cfg.ID, "error", err)
		}
	}

	slog.Info("rule created", "id", cfg.ID, "name", cfg.Name)
	writeJSON(w, http.StatusCreated, cfg)
}

// DeleteRule removes a custom rule and reloads the engine.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ruleID := chi.URLParam(r, "id")

	if err := h.repo.DeleteRuleConfig(ctx, ruleID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "rule not found",
			})
			return
		}
		slog.Error("failed to delete rule", "id", ruleID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to delete rule",
		})
		return
	}

	if err := h.reloadFromRepo(ctx); err != nil {
		slog.Error("failed to reload rules after delete", "error", err)
	}

	slog.Info("rule deleted", "id", ruleID)
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "rule deleted",
	})
}

// ReloadRules reloads all enabled custom rules from the database.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	if err := h.reloadFromRepo(r.Context()); err != nil {
		slog.Error("failed to reload rules", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload rules: " + err.Error(),
		})
		return
	}

	count := h.ruleEngine.CustomRuleCount()
	slog.Info("rules reloaded", "count", count)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "rules reloaded successfully",
		"count":   count,
	})
}

func (h *Handler) reloadFromRepo(ctx context.Context) error {
	configs, err := h.repo.ListRuleConfigs(ctx)
	if err != nil {
		return err
	}
	return h.ruleEngine.ReloadRules(configs)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	return v
}
