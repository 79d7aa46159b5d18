// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveRun inserts a new run record.
func (r *SQLRepository) SaveRun(ctx context.Context, run *domain.Run) error {
	if run == nil || run.ID == "" {
		return fmt.Errorf("%w: run id is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO runs (id, status, started_at, completed_at, tx_count, suspicious_count, rows_skipped, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		run.ID, run.Status, run.StartedAt, nullableTime(run.CompletedAt),
		run.TxCount, run.SuspiciousCount, run.RowsSkipped, run.Error,
	)
	return err
}

// UpdateRun updates a run's status and counters.
func (r *SQLRepository) UpdateRun(ctx context.Context, run *domain.Run) error {
	if run == nil || run.ID == "" {
		return fmt.Errorf("%w: run id is required", ErrInvalidInput)
	}

	query := `
		UPDATE runs
		SET status = ?, completed_at = ?, tx_count = ?, suspicious_count = ?, rows_skipped = ?, error = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query),
		run.Status, nullableTime(run.CompletedAt),
		run.TxCount, run.SuspiciousCount, run.RowsSkipped, run.Error,
		run.ID,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// GetRun retrieves a run by ID.
func (r *SQLRepository) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	query := `
		SELECT id, status, started_at, completed_at, tx_count, suspicious_count, rows_skipped, error
		FROM runs
		WHERE id = ?
	`

	var run domain.Run
	var completedAt sql.NullTime
	var errMsg sql.NullString

	err := r.db.QueryRowContext(ctx, r.rebind(query), runID).Scan(
		&run.ID, &run.Status, &run.StartedAt, &completedAt,
		&run.TxCount, &run.SuspiciousCount, &run.RowsSkipped, &errMsg,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if completedAt.Valid {
		run.CompletedAt = completedAt.Time
	}
	if errMsg.Valid {
		run.Error = errMsg.String
	}
	return &run, nil
}

// ListRuns retrieves the most recent runs, newest first.
func (r *SQLRepository) ListRuns(ctx context.Context, limit int) ([]*domain.Run, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, status, started_at, completed_at, tx_count, suspicious_count, rows_skipped, error
		FROM runs
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*domain.Run
	for rows.Next() {
		var run domain.Run
		var completedAt sql.NullTime
		var errMsg sql.NullString

		if err := rows.Scan(
			&run.ID, &run.Status, &run.StartedAt, &completedAt,
			&run.TxCount, &run.SuspiciousCount, &run.RowsSkipped, &errMsg,
		); err != nil {
			return nil, err
		}

		if completedAt.Valid {
			run.CompletedAt = completedAt.Time
		}
		if errMsg.Valid {
			run.Error = errMsg.String
		}
		runs = append(runs, &run)
	}

	return runs, rows.Err()
}

// SaveTransactions stores a run's input batch in load order.
func (r *SQLRepository) SaveTransactions(ctx context.Context, runID string, txs []domain.Transaction) error {
	if runID == "" {
		return fmt.Errorf("%w: runID is required", ErrInvalidInput)
	}

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer dbTx.Rollback()

	query := r.rebind(`
		INSERT INTO transactions (run_id, seq, id, sender_id, receiver_id, amount, timestamp, location, channel)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)

	for seq, tx := range txs {
		if _, err := dbTx.ExecContext(ctx, query,
			runID, seq, tx.ID, tx.SenderID, tx.ReceiverID,
			tx.Amount, tx.Timestamp, tx.Location, tx.Channel,
		); err != nil {
			return err
		}
	}

	return dbTx.Commit()
}

// GetTransactions retrieves a run's input batch in load order.
func (r *SQLRepository) GetTransactions(ctx context.Context, runID string) ([]domain.Transaction, error) {
	query := `
		SELECT id, sender_id, receiver_id, amount, timestamp, location, channel
		FROM transactions
		WHERE run_id = ?
		ORDER BY seq
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []domain.Transaction
	for rows.Next() {
		var tx domain.Transaction
		var channel sql.NullString

		if err := rows.Scan(
			&tx.ID, &tx.SenderID, &tx.ReceiverID,
			&tx.Amount, &tx.Timestamp, &tx.Location, &channel,
		); err != nil {
			return nil, err
		}

		if channel.Valid {
			tx.Channel = channel.String
		}
		txs = append(txs, tx)
	}

	return txs, rows.Err()
}

// SaveVerdicts stores a run's verdicts in output order.
func (r *SQLRepository) SaveVerdicts(ctx context.Context, runID string, verdicts []domain.Verdict) error {
	if runID == "" {
		return fmt.Errorf("%w: runID is required", ErrInvalidInput)
	}

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer dbTx.Rollback()

	query := r.rebind(`
		INSERT INTO verdicts (run_id, rank, tx_id, is_suspicious, reasons, severity, anomaly_score)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)

	for rank, v := range verdicts {
		reasons, _ := json.Marshal(v.Reasons)

		suspicious := 0
		if v.IsSuspicious {
			suspicious = 1
		}

		if _, err := dbTx.ExecContext(ctx, query,
			runID, rank, v.TxID, suspicious, string(reasons), v.Severity, v.AnomalyScore,
		); err != nil {
			return err
		}
	}

	return dbTx.Commit()
}

// GetVerdicts retrieves a run's verdicts in output order. A limit <= 0
// returns all of them.
func (r *SQLRepository) GetVerdicts(ctx context.Context, runID string, limit int) ([]domain.Verdict, error) {
	query := `
		SELECT tx_id, is_suspicious, reasons, severity, anomaly_score
		FROM verdicts
		WHERE run_id = ?
		ORDER BY rank
	`
	args := []any{runID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var verdicts []domain.Verdict
	for rows.Next() {
		var v domain.Verdict
		var suspicious int
		var reasons string

		if err := rows.Scan(&v.TxID, &suspicious, &reasons, &v.Severity, &v.AnomalyScore); err != nil {
			return nil, err
		}

		v.IsSuspicious = suspicious == 1
		json.Unmarshal([]byte(reasons), &v.Reasons)
		verdicts = append(verdicts, v)
	}

	return verdicts, rows.Err()
}

// SaveRuleConfig upserts a custom rule configuration.
func (r *SQLRepository) SaveRuleConfig(ctx context.Context, rule *domain.RuleConfig) error {
	if rule == nil || rule.ID == "" {
		return fmt.Errorf("%w: rule id is required", ErrInvalidInput)
	}

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO rule_configs (id, name, description, expression, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, rule.Name, rule.Description, rule.Expression, enabled, now, now,
	)
	return err
}

// GetRuleConfig retrieves a rule configuration by ID.
func (r *SQLRepository) GetRuleConfig(ctx context.Context, ruleID string) (*domain.RuleConfig, error) {
	query := `
		SELECT id, name, description, expression, enabled, created_at, updated_at
		FROM rule_configs
		WHERE id = ?
	`

	var cfg domain.RuleConfig
	var enabled int
	var description sql.NullString

	err := r.db.QueryRowContext(ctx, r.rebind(query), ruleID).Scan(
		&cfg.ID, &cfg.Name, &description, &cfg.Expression, &enabled,
		&cfg.CreatedAt, &cfg.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	cfg.Enabled = enabled == 1
	if description.Valid {
		cfg.Description = description.String
	}
	return &cfg, nil
}

// ListRuleConfigs retrieves all rule configurations, enabled or not.
func (r *SQLRepository) ListRuleConfigs(ctx context.Context) ([]*domain.RuleConfig, error) {
	query := `
		SELECT id, name, description, expression, enabled, created_at, updated_at
		FROM rule_configs
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []*domain.RuleConfig
	for rows.Next() {
		var cfg domain.RuleConfig
		var enabled int
		var description sql.NullString

		if err := rows.Scan(
			&cfg.ID, &cfg.Name, &description, &cfg.Expression, &enabled,
			&cfg.CreatedAt, &cfg.UpdatedAt,
		); err != nil {
			return nil, err
		}

		cfg.Enabled = enabled == 1
		if description.Valid {
			cfg.Description = description.String
		}
		configs = append(configs, &cfg)
	}

	return configs, rows.Err()
}

// DeleteRuleConfig removes a rule configuration.
func (r *SQLRepository) DeleteRuleConfig(ctx context.Context, ruleID string) error {
	result, err := r.db.ExecContext(ctx, r.rebind(`DELETE FROM rule_configs WHERE id = ?`), ruleID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
