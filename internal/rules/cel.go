package rules

import (
	"context"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/store"
)

// CompiledRule is a user-defined CEL rule with its pre-compiled program.
// It implements Rule, so custom rules evaluate alongside the built-ins.
type CompiledRule struct {
	Config  *domain.RuleConfig
	Program cel.Program
}

// Name implements Rule.
func (r *CompiledRule) Name() string { return r.Config.Name }

// Apply implements Rule. The expression is evaluated once per transaction;
// transactions where it yields true are flagged.
func (r *CompiledRule) Apply(ctx context.Context, batch *store.Store, _ domain.EngineConfig) ([]domain.RuleFlag, error) {
	var flags []domain.RuleFlag

	for _, tx := range batch.All() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		out, _, err := r.Program.Eval(map[string]any{
			"id":          tx.ID,
			"sender_id":   tx.SenderID,
			"receiver_id": tx.ReceiverID,
			"amount":      tx.Amount,
			"location":    tx.Location,
			"channel":     tx.Channel,
			"hour":        int64(tx.Timestamp.Hour()),
		})
		if err != nil {
			// A custom rule that errors on one row must not sink the run;
			// it simply does not flag that row.
			continue
		}

		if matched, ok := out.(types.Bool); ok && bool(matched) {
			flags = append(flags, domain.RuleFlag{
				TxID:     tx.ID,
				RuleName: r.Config.Name,
				Evidence: map[string]any{"expression": r.Config.Expression},
			})
		}
	}

	return flags, nil
}
