package domain

import "time"

// RuleConfig is a user-defined detection rule: a CEL expression over
// transaction fields that must evaluate to a boolean. When it is true the
// transaction is flagged with the rule's name as the reason.
//
// Available variables: id, sender_id, receiver_id, amount, location,
// channel, hour (0-23, batch-local time).
type RuleConfig struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Expression  string    `json:"expression"`
	Enabled     bool      `json:"enabled"`
	CreatedAt   time.Time `json:"createdAt,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt,omitempty"`
}
