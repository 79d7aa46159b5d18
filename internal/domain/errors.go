package domain

import "errors"

// Engine error taxonomy. The engine either completes a full verdict set or
// fails with one of these; it never returns partially merged results.
var (
	// ErrValidation marks a transaction record that violates a data-model
	// invariant (negative amount, missing timestamp, self-transfer).
	ErrValidation = errors.New("transaction validation failed")

	// ErrInsufficientData marks a batch too small for the anomaly model
	// to fit meaningfully. Callers may retry with RulesOnly set.
	ErrInsufficientData = errors.New("insufficient data for anomaly model")

	// ErrConfiguration marks an engine parameter outside its valid domain.
	ErrConfiguration = errors.New("invalid engine configuration")
)
