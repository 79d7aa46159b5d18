package rules

import (
	"context"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/store"
)

// StructuringRule detects reporting-threshold evasion: many small transfers
// from one sender packed into a sliding time window.
//
// A window qualifies when every transaction in it is individually below
// StructuringAmountLimit, it holds strictly more than
// StructuringCountThreshold of them, and their cumulative amount reaches
// StructuringAmountThreshold. The flagged set per sender is the union over
// all qualifying windows, de-duplicated by transaction ID.
type StructuringRule struct{}

// Name implements Rule.
func (StructuringRule) Name() string { return domain.RuleStructuring }

// Apply implements Rule.
func (StructuringRule) Apply(ctx context.Context, batch *store.Store, cfg domain.EngineConfig) ([]domain.RuleFlag, error) {
	var flags []domain.RuleFlag

	for _, sender := range batch.Senders() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		flags = append(flags, flagSender(sender, batch.BySender(sender), cfg)...)
	}

	return flags, nil
}

// flagSender slides a window over the sender's small transactions (already
// ordered by timestamp) and unions every qualifying window.
func flagSender(sender string, txs []domain.Transaction, cfg domain.EngineConfig) []domain.RuleFlag {
	small := make([]domain.Transaction, 0, len(txs))
	for _, tx := range txs {
		if tx.Amount < cfg.StructuringAmountLimit {
			small = append(small, tx)
		}
	}
	if len(small) <= cfg.StructuringCountThreshold {
		return nil
	}

	flagged := make(map[string]windowEvidence)

	lo := 0
	var sum float64
	for hi := 0; hi < len(small); hi++ {
		sum += small[hi].Amount
		for small[hi].Timestamp.Sub(small[lo].Timestamp) > cfg.StructuringWindow {
			sum -= small[lo].Amount
			lo++
		}

		count := hi - lo + 1
		if count > cfg.StructuringCountThreshold && sum >= cfg.StructuringAmountThreshold {
			for i := lo; i <= hi; i++ {
				ev, seen := flagged[small[i].ID]
				// Keep the largest window a transaction appeared in.
				if !seen || count > ev.count {
					flagged[small[i].ID] = windowEvidence{count: count, total: sum}
				}
			}
		}
	}

	flags := make([]domain.RuleFlag, 0, len(flagged))
	for i := range small {
		ev, ok := flagged[small[i].ID]
		if !ok {
			continue
		}
		flags = append(flags, domain.RuleFlag{
			TxID:     small[i].ID,
			RuleName: domain.RuleStructuring,
			Evidence: map[string]any{
				"sender_id":    sender,
				"window_count": ev.count,
				"window_total": ev.total,
			},
		})
	}
	return flags
}

type windowEvidence struct {
	count int
	total float64
}
