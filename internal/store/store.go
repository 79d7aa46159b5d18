// Package store holds the in-memory transaction batch the engine reads.
package store

import (
	"fmt"
	"sort"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// SkippedRow records a row excluded under the "skip" validation policy.
type SkippedRow struct {
	Index  int    `json:"index"`
	TxID   string `json:"txId,omitempty"`
	Reason string `json:"reason"`
}

// Store is an ordered, validated transaction batch. It is read-only once
// built: the rule engine and anomaly model read it concurrently without
// locking.
type Store struct {
	txs      []domain.Transaction
	byID     map[string]int
	bySender map[string][]domain.Transaction
	senders  []string
	skipped  []SkippedRow
}

// New validates the input and builds a store. Under ValidationReject the
// first invalid row fails the whole batch; under ValidationSkip invalid rows
// (including duplicate IDs) are excluded and recorded.
func New(txs []domain.Transaction, mode string) (*Store, error) {
	s := &Store{
		txs:      make([]domain.Transaction, 0, len(txs)),
		byID:     make(map[string]int, len(txs)),
		bySender: make(map[string][]domain.Transaction),
	}

	for i, tx := range txs {
		if err := tx.Validate(); err != nil {
			if mode == domain.ValidationSkip {
				s.skipped = append(s.skipped, SkippedRow{Index: i, TxID: tx.ID, Reason: err.Error()})
				continue
			}
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		if _, dup := s.byID[tx.ID]; dup {
			if mode == domain.ValidationSkip {
				s.skipped = append(s.skipped, SkippedRow{Index: i, TxID: tx.ID, Reason: "duplicate transaction id"})
				continue
			}
			return nil, fmt.Errorf("row %d: %w: duplicate transaction id %s", i, domain.ErrValidation, tx.ID)
		}
		s.byID[tx.ID] = len(s.txs)
		s.txs = append(s.txs, tx)
	}

	for _, tx := range s.txs {
		s.bySender[tx.SenderID] = append(s.bySender[tx.SenderID], tx)
	}
	for sender, group := range s.bySender {
		sort.SliceStable(group, func(i, j int) bool {
			if !group[i].Timestamp.Equal(group[j].Timestamp) {
				return group[i].Timestamp.Before(group[j].Timestamp)
			}
			return group[i].ID < group[j].ID
		})
		s.senders = append(s.senders, sender)
	}
	sort.Strings(s.senders)

	return s, nil
}

// All returns the transactions in load order. Callers must not modify the
// returned slice.
func (s *Store) All() []domain.Transaction {
	return s.txs
}

// Len returns the number of valid transactions.
func (s *Store) Len() int {
	return len(s.txs)
}

// Get returns a transaction by ID.
func (s *Store) Get(txID string) (domain.Transaction, bool) {
	idx, ok := s.byID[txID]
	if !ok {
		return domain.Transaction{}, false
	}
	return s.txs[idx], true
}

// BySender returns a sender's transactions ordered by timestamp, then ID.
// Callers must not modify the returned slice.
func (s *Store) BySender(senderID string) []domain.Transaction {
	return s.bySender[senderID]
}

// Senders returns all sender IDs in sorted order, so per-sender iteration
// is deterministic.
func (s *Store) Senders() []string {
	return s.senders
}

// Skipped returns the rows excluded under the skip policy, in input order.
func (s *Store) Skipped() []SkippedRow {
	return s.skipped
}
