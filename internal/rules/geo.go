package rules

import (
	"context"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/store"
)

// GeoRiskRule flags every transaction located in a configured high-risk
// location, regardless of amount.
type GeoRiskRule struct{}

// Name implements Rule.
func (GeoRiskRule) Name() string { return domain.RuleGeoRisk }

// Apply implements Rule.
func (GeoRiskRule) Apply(ctx context.Context, batch *store.Store, cfg domain.EngineConfig) ([]domain.RuleFlag, error) {
	highRisk := cfg.HighRiskSet()
	if len(highRisk) == 0 {
		return nil, nil
	}

	var flags []domain.RuleFlag
	for _, tx := range batch.All() {
		if _, risky := highRisk[tx.Location]; !risky {
			continue
		}
		flags = append(flags, domain.RuleFlag{
			TxID:     tx.ID,
			RuleName: domain.RuleGeoRisk,
			Evidence: map[string]any{"location": tx.Location},
		})
	}
	return flags, ctx.Err()
}
