// Package rules implements the deterministic rule checks of the engine.
package rules

import (
	"context"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/store"
)

// Rule is a pure predicate family over a transaction batch. Rules share no
// mutable state and are evaluated independently; their flag sets are unioned.
type Rule interface {
	// Name returns the rule name used as the verdict reason.
	Name() string

	// Apply evaluates the rule against the whole batch and returns every
	// flag it produces. The result must be independent of evaluation order.
	Apply(ctx context.Context, batch *store.Store, cfg domain.EngineConfig) ([]domain.RuleFlag, error)
}

// BuiltinRules returns the built-in AML rule set.
func BuiltinRules() []Rule {
	return []Rule{
		StructuringRule{},
		GeoRiskRule{},
		SpikeRule{},
	}
}
