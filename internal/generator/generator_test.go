package generator

import (
	"testing"
	"time"
)

func TestGenerate_CountAndValidity(t *testing.T) {
	cfg := Config{
		Count:     200,
		Bursts:    3,
		BurstSize: 5,
		Base:      time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Seed:      7,
	}

	txs := New(cfg).Generate()
	if len(txs) != 215 {
		t.Fatalf("expected 215 transactions, got %d", len(txs))
	}

	ids := make(map[string]bool, len(txs))
	for _, tx := range txs {
		if err := tx.Validate(); err != nil {
			t.Fatalf("generated invalid transaction: %v", err)
		}
		if ids[tx.ID] {
			t.Fatalf("duplicate id %s", tx.ID)
		}
		ids[tx.ID] = true
	}
}

func TestGenerate_SeedReproducible(t *testing.T) {
	cfg := Config{
		Count:     100,
		Bursts:    2,
		BurstSize: 5,
		Base:      time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Seed:      42,
	}

	a := New(cfg).Generate()
	b := New(cfg).Generate()

	if len(a) != len(b) {
		t.Fatalf("lengths differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("transaction %d differs: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestGenerate_BurstsAreSubLimit(t *testing.T) {
	cfg := Config{
		Count:     50,
		Bursts:    4,
		BurstSize: 6,
		Base:      time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Seed:      3,
	}

	txs := New(cfg).Generate()
	bursts := txs[cfg.Count:]
	if len(bursts) != 24 {
		t.Fatalf("expected 24 burst transactions, got %d", len(bursts))
	}

	for i, tx := range bursts {
		if tx.Amount < 100 || tx.Amount >= 1000 {
			t.Errorf("burst transaction %d amount %.2f outside sub-limit range", i, tx.Amount)
		}
	}

	// Each burst shares one sender and stays within a narrow time span.
	for b := 0; b < cfg.Bursts; b++ {
		group := bursts[b*cfg.BurstSize : (b+1)*cfg.BurstSize]
		sender := group[0].SenderID
		for _, tx := range group {
			if tx.SenderID != sender {
				t.Errorf("burst %d has mixed senders", b)
				break
			}
		}
		span := group[0].Timestamp.Sub(group[len(group)-1].Timestamp)
		if span < 0 {
			span = -span
		}
		if span > time.Hour {
			t.Errorf("burst %d spans %v, expected a tight cluster", b, span)
		}
	}
}

func TestGenerate_BurstLocation(t *testing.T) {
	cfg := Config{
		Count:     20,
		Bursts:    2,
		BurstSize: 5,
		Locations: []string{"Nairobi", "Mombasa"},
		Base:      time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Seed:      11,
	}
	txs := New(cfg).Generate()

	for _, tx := range txs[cfg.Count:] {
		if tx.Location != "Nairobi" {
			t.Errorf("burst transaction in %s, expected the primary location", tx.Location)
		}
	}
}
