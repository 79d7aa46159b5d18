package store

import (
	"errors"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func tx(id, sender, receiver string, amount float64, ts time.Time) domain.Transaction {
	return domain.Transaction{
		ID:         id,
		SenderID:   sender,
		ReceiverID: receiver,
		Amount:     amount,
		Timestamp:  ts,
		Location:   "Nairobi",
	}
}

func TestNew_ValidBatch(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	txs := []domain.Transaction{
		tx("TX-3", "A", "B", 100, base.Add(2*time.Hour)),
		tx("TX-1", "A", "C", 200, base),
		tx("TX-2", "B", "A", 300, base.Add(time.Hour)),
	}

	s, err := New(txs, domain.ValidationReject)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if s.Len() != 3 {
		t.Errorf("expected 3 transactions, got %d", s.Len())
	}
	if len(s.Skipped()) != 0 {
		t.Errorf("expected no skipped rows, got %d", len(s.Skipped()))
	}

	// Load order preserved
	all := s.All()
	if all[0].ID != "TX-3" || all[1].ID != "TX-1" || all[2].ID != "TX-2" {
		t.Errorf("load order not preserved: %v", []string{all[0].ID, all[1].ID, all[2].ID})
	}

	// Sender groups are time-ordered
	group := s.BySender("A")
	if len(group) != 2 {
		t.Fatalf("expected 2 transactions for sender A, got %d", len(group))
	}
	if group[0].ID != "TX-1" || group[1].ID != "TX-3" {
		t.Errorf("sender group not time-ordered: %s, %s", group[0].ID, group[1].ID)
	}

	// Senders sorted
	senders := s.Senders()
	if len(senders) != 2 || senders[0] != "A" || senders[1] != "B" {
		t.Errorf("unexpected senders: %v", senders)
	}
}

func TestNew_Get(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s, err := New([]domain.Transaction{tx("TX-1", "A", "B", 100, base)}, domain.ValidationReject)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, ok := s.Get("TX-1")
	if !ok || got.ID != "TX-1" {
		t.Errorf("expected to find TX-1, got %v %v", got, ok)
	}
	if _, ok := s.Get("TX-404"); ok {
		t.Error("expected miss for unknown id")
	}
}

func TestNew_RejectMode(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		txs  []domain.Transaction
	}{
		{"missing id", []domain.Transaction{tx("", "A", "B", 100, base)}},
		{"self transfer", []domain.Transaction{tx("TX-1", "A", "A", 100, base)}},
		{"negative amount", []domain.Transaction{tx("TX-1", "A", "B", -5, base)}},
		{"zero timestamp", []domain.Transaction{tx("TX-1", "A", "B", 100, time.Time{})}},
		{"duplicate id", []domain.Transaction{
			tx("TX-1", "A", "B", 100, base),
			tx("TX-1", "C", "D", 200, base),
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.txs, domain.ValidationReject)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !errors.Is(err, domain.ErrValidation) {
				t.Errorf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestNew_SkipMode(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	txs := []domain.Transaction{
		tx("TX-1", "A", "B", 100, base),
		tx("TX-2", "C", "C", 100, base), // self transfer
		tx("TX-1", "D", "E", 100, base), // duplicate id
		tx("TX-3", "A", "B", 200, base),
	}

	s, err := New(txs, domain.ValidationSkip)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if s.Len() != 2 {
		t.Errorf("expected 2 valid transactions, got %d", s.Len())
	}

	skipped := s.Skipped()
	if len(skipped) != 2 {
		t.Fatalf("expected 2 skipped rows, got %d", len(skipped))
	}
	if skipped[0].Index != 1 || skipped[0].TxID != "TX-2" {
		t.Errorf("unexpected first skipped row: %+v", skipped[0])
	}
	if skipped[1].Index != 2 || skipped[1].Reason != "duplicate transaction id" {
		t.Errorf("unexpected second skipped row: %+v", skipped[1])
	}
}

func TestNew_EmptyBatch(t *testing.T) {
	s, err := New(nil, domain.ValidationReject)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Len() != 0 {
		t.Errorf("expected empty store, got %d", s.Len())
	}
	if len(s.Senders()) != 0 {
		t.Errorf("expected no senders, got %v", s.Senders())
	}
}
