package domain

import (
	"context"
	"time"
)

// Repository defines the interface for run and verdict persistence.
type Repository interface {
	// Run lifecycle
	SaveRun(ctx context.Context, run *Run) error
	UpdateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, runID string) (*Run, error)
	ListRuns(ctx context.Context, limit int) ([]*Run, error)

	// Batch input, stored at submission so async workers can pick it up.
	SaveTransactions(ctx context.Context, runID string, txs []Transaction) error
	GetTransactions(ctx context.Context, runID string) ([]Transaction, error)

	// Verdicts, stored in output order (severity desc, tx id asc).
	SaveVerdicts(ctx context.Context, runID string, verdicts []Verdict) error
	GetVerdicts(ctx context.Context, runID string, limit int) ([]Verdict, error)

	// Custom rule configurations
	SaveRuleConfig(ctx context.Context, rule *RuleConfig) error
	GetRuleConfig(ctx context.Context, ruleID string) (*RuleConfig, error)
	ListRuleConfigs(ctx context.Context) ([]*RuleConfig, error)
	DeleteRuleConfig(ctx context.Context, ruleID string) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
