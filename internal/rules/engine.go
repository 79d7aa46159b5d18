package rules

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/store"
)

// Engine evaluates the built-in rules plus any loaded custom CEL rules over
// a batch and unions their flags.
type Engine struct {
	mu         sync.RWMutex
	env        *cel.Env
	builtin    []Rule
	custom     map[string]*CompiledRule
	maxWorkers int
}

// NewEngine creates a rule engine.
func NewEngine(maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	env, err := cel.NewEnv(
		cel.Variable("id", cel.StringType),
		cel.Variable("sender_id", cel.StringType),
		cel.Variable("receiver_id", cel.StringType),
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("location", cel.StringType),
		cel.Variable("channel", cel.StringType),
		cel.Variable("hour", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:        env,
		builtin:    BuiltinRules(),
		custom:     make(map[string]*CompiledRule),
		maxWorkers: maxWorkers,
	}, nil
}

// EvaluateAll runs every rule against the batch in parallel and returns the
// union of their flags, sorted by transaction ID then rule name so the
// result is independent of scheduling.
func (e *Engine) EvaluateAll(ctx context.Context, batch *store.Store, cfg domain.EngineConfig) ([]domain.RuleFlag, error) {
	rules := e.snapshot()

	results := make([][]domain.RuleFlag, len(rules))
	errs := make([]error, len(rules))

	var wg sync.WaitGroup
	sem := make(chan struct{}, e.maxWorkers)

	for i, rule := range rules {
		wg.Add(1)
		go func(idx int, r Rule) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			flags, err := r.Apply(ctx, batch, cfg)
			results[idx] = flags
			errs[idx] = err
		}(i, rule)
	}

	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", rules[i].Name(), err)
		}
	}

	var flags []domain.RuleFlag
	for _, r := range results {
		flags = append(flags, r...)
	}
	sort.Slice(flags, func(i, j int) bool {
		if flags[i].TxID != flags[j].TxID {
			return flags[i].TxID < flags[j].TxID
		}
		return flags[i].RuleName < flags[j].RuleName
	})

	return flags, nil
}

// snapshot returns the rule set under a read lock: built-ins first, then
// custom rules in ID order.
func (e *Engine) snapshot() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules := make([]Rule, 0, len(e.builtin)+len(e.custom))
	rules = append(rules, e.builtin...)

	ids := make([]string, 0, len(e.custom))
	for id := range e.custom {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		rules = append(rules, e.custom[id])
	}
	return rules
}

// ValidateRule compiles a custom rule without loading it.
func (e *Engine) ValidateRule(cfg *domain.RuleConfig) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compileRule(cfg)
	return err
}

// LoadRule compiles and loads a custom rule into the engine.
func (e *Engine) LoadRule(cfg *domain.RuleConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compileRule(cfg)
	if err != nil {
		return err
	}

	e.custom[cfg.ID] = compiled
	return nil
}

// ReloadRules clears all custom rules and loads new ones.
// This enables hot-reloading of rules from the database.
func (e *Engine) ReloadRules(configs []*domain.RuleConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	newRules := make(map[string]*CompiledRule)
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		compiled, err := e.compileRule(cfg)
		if err != nil {
			return err
		}
		newRules[cfg.ID] = compiled
	}

	e.custom = newRules
	return nil
}

// CustomRuleCount returns the number of loaded custom rules.
func (e *Engine) CustomRuleCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.custom)
}

// Close cleans up the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.custom = make(map[string]*CompiledRule)
	return nil
}

func (e *Engine) compileRule(cfg *domain.RuleConfig) (*CompiledRule, error) {
	if cfg == nil {
		return nil, fmt.Errorf("rule config is required")
	}
	if cfg.Name == "" {
		return nil, fmt.Errorf("rule %s: name is required", cfg.ID)
	}

	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", cfg.ID, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("rule %s: expression must return bool, got %s", cfg.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", cfg.ID, err)
	}

	return &CompiledRule{
		Config:  cfg,
		Program: program,
	}, nil
}
