package domain

import "time"

// Verdict is the merged result for one transaction. Computed once per run
// and never mutated afterward.
type Verdict struct {
	TxID         string   `json:"txId"`
	IsSuspicious bool     `json:"isSuspicious"`

	// Reasons is the sorted set of rule names that fired, plus "anomaly"
	// when the model marked the transaction as an outlier.
	Reasons []string `json:"reasons,omitempty"`

	// Severity ranks verdicts for review: reason count plus the anomaly
	// score. Strictly more reasons always outranks fewer.
	Severity float64 `json:"severity"`

	// AnomalyScore is the model score in [0,1]; zero on rules-only runs.
	AnomalyScore float64 `json:"anomalyScore"`
}

// Run lifecycle states.
const (
	RunStatusPending   = "pending"
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// Run is one batch scoring execution.
type Run struct {
	ID          string    `json:"id"`
	Status      string    `json:"status"`
	StartedAt   time.Time `json:"startedAt"`
	CompletedAt time.Time `json:"completedAt,omitempty"`

	TxCount         int `json:"txCount"`
	SuspiciousCount int `json:"suspiciousCount"`
	RowsSkipped     int `json:"rowsSkipped"`

	// Error holds the failure message for failed runs.
	Error string `json:"error,omitempty"`
}
