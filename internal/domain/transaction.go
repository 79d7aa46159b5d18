// Package domain defines the core types and interfaces for Kestrel.
package domain

import (
	"fmt"
	"time"
)

// Transaction is a single financial transaction in a batch.
// Records are immutable once loaded into a store.
type Transaction struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Amount     float64   `json:"amount"`
	Timestamp  time.Time `json:"timestamp"`
	Location   string    `json:"location"`

	// Channel is the transaction type/method (e.g. "transfer", "mobile").
	// Optional.
	Channel string `json:"channel,omitempty"`
}

// Validate checks the transaction against the data-model invariants.
// Self-transfers (sender == receiver) are disallowed.
func (t *Transaction) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("%w: transaction id is required", ErrValidation)
	}
	if t.SenderID == "" || t.ReceiverID == "" {
		return fmt.Errorf("%w: transaction %s: sender and receiver are required", ErrValidation, t.ID)
	}
	if t.SenderID == t.ReceiverID {
		return fmt.Errorf("%w: transaction %s: self-transfer from %s", ErrValidation, t.ID, t.SenderID)
	}
	if t.Amount < 0 {
		return fmt.Errorf("%w: transaction %s: negative amount %.2f", ErrValidation, t.ID, t.Amount)
	}
	if t.Timestamp.IsZero() {
		return fmt.Errorf("%w: transaction %s: missing timestamp", ErrValidation, t.ID)
	}
	return nil
}
