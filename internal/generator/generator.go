// Package generator produces seeded synthetic transaction batches for
// demos and testing.
package generator

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Config controls batch synthesis. A fixed Seed reproduces the same batch.
type Config struct {
	// Count is the number of background transactions.
	Count int

	// Bursts is the number of injected structuring patterns: repeated
	// sub-limit transfers from a single sender within a few minutes.
	Bursts int

	// BurstSize is the number of transfers per burst.
	BurstSize int

	// Locations is the pool background transactions draw from.
	Locations []string

	// SpanMinutes is the time horizon background timestamps spread over,
	// counting back from Base.
	SpanMinutes int

	// Base is the batch's reference time.
	Base time.Time

	Seed int64
}

// DefaultConfig mirrors the demo dataset: mobile-money style transactions
// over a ~35 day horizon with twenty structuring bursts.
func DefaultConfig() Config {
	return Config{
		Count:       5000,
		Bursts:      20,
		BurstSize:   10,
		Locations:   []string{"Nairobi", "Mombasa", "Kisumu", "Garissa", "Offshore"},
		SpanMinutes: 50000,
		Seed:        1,
	}
}

// Generator synthesises transaction batches.
type Generator struct {
	cfg  Config
	rand *rand.Rand
}

// New returns a configured Generator.
func New(cfg Config) *Generator {
	def := DefaultConfig()
	if cfg.Count <= 0 {
		cfg.Count = def.Count
	}
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = def.BurstSize
	}
	if len(cfg.Locations) == 0 {
		cfg.Locations = def.Locations
	}
	if cfg.SpanMinutes <= 0 {
		cfg.SpanMinutes = def.SpanMinutes
	}
	if cfg.Base.IsZero() {
		cfg.Base = time.Now().UTC().Truncate(time.Minute)
	}

	return &Generator{
		cfg:  cfg,
		rand: rand.New(rand.NewSource(cfg.Seed)),
	}
}

// Generate synthesises the batch: Count background transactions with
// uniform amounts, followed by the injected structuring bursts.
func (g *Generator) Generate() []domain.Transaction {
	txs := make([]domain.Transaction, 0, g.cfg.Count+g.cfg.Bursts*g.cfg.BurstSize)

	for i := 0; i < g.cfg.Count; i++ {
		sender := g.account()
		receiver := g.account()
		for receiver == sender {
			receiver = g.account()
		}

		txs = append(txs, domain.Transaction{
			ID:         fmt.Sprintf("TX-%06d", i+1),
			SenderID:   sender,
			ReceiverID: receiver,
			Amount:     round2(50 + g.rand.Float64()*4950),
			Timestamp:  g.cfg.Base.Add(-time.Duration(g.rand.Intn(g.cfg.SpanMinutes)) * time.Minute),
			Location:   g.cfg.Locations[g.rand.Intn(len(g.cfg.Locations))],
			Channel:    "transfer",
		})
	}

	for b := 0; b < g.cfg.Bursts; b++ {
		sender := g.account()
		for k := 0; k < g.cfg.BurstSize; k++ {
			receiver := g.account()
			for receiver == sender {
				receiver = g.account()
			}

			txs = append(txs, domain.Transaction{
				ID:         fmt.Sprintf("TX-%06d", g.cfg.Count+b*g.cfg.BurstSize+k+1),
				SenderID:   sender,
				ReceiverID: receiver,
				Amount:     round2(100 + g.rand.Float64()*899),
				Timestamp:  g.cfg.Base.Add(-time.Duration(k) * time.Minute),
				Location:   g.cfg.Locations[0],
				Channel:    "transfer",
			})
		}
	}

	return txs
}

func (g *Generator) account() string {
	return fmt.Sprintf("ACCT-%04d", 1000+g.rand.Intn(9000))
}

func round2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}
