package rules

import (
	"context"
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/store"
)

// SpikeRule flags transactions far above the sender's own baseline.
//
// The baseline is the leave-one-out mean and standard deviation of the
// sender's other transactions. A transaction is flagged when its amount
// exceeds mean + SpikeMultiplier*stddev. When the history has zero variance
// the multiplier is applied as an absolute ratio instead (amount >
// SpikeMultiplier*mean), so a flat history does not flag marginal increases.
// Senders with fewer than SpikeMinHistory other transactions are skipped.
type SpikeRule struct{}

// Name implements Rule.
func (SpikeRule) Name() string { return domain.RuleSpike }

// Apply implements Rule.
func (SpikeRule) Apply(ctx context.Context, batch *store.Store, cfg domain.EngineConfig) ([]domain.RuleFlag, error) {
	var flags []domain.RuleFlag

	for _, sender := range batch.Senders() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		txs := batch.BySender(sender)
		if len(txs)-1 < cfg.SpikeMinHistory {
			continue
		}

		var sum, sumSq float64
		for _, tx := range txs {
			sum += tx.Amount
			sumSq += tx.Amount * tx.Amount
		}

		n := float64(len(txs) - 1)
		for _, tx := range txs {
			mean := (sum - tx.Amount) / n
			// Leave-one-out variance; clamp tiny negatives from float error.
			variance := (sumSq-tx.Amount*tx.Amount)/n - mean*mean
			if variance < 0 {
				variance = 0
			}
			stddev := math.Sqrt(variance)

			spiked := false
			if stddev > 0 {
				spiked = tx.Amount > mean+cfg.SpikeMultiplier*stddev
			} else if mean > 0 {
				spiked = tx.Amount > cfg.SpikeMultiplier*mean
			}
			if !spiked {
				continue
			}

			flags = append(flags, domain.RuleFlag{
				TxID:     tx.ID,
				RuleName: domain.RuleSpike,
				Evidence: map[string]any{
					"sender_id":       sender,
					"baseline_mean":   mean,
					"baseline_stddev": stddev,
					"amount":          tx.Amount,
				},
			})
		}
	}

	return flags, nil
}
