package anomaly

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/store"
)

// MinBatchSize is the smallest batch the model will fit. Below this the
// forest degenerates and scores carry no signal.
const MinBatchSize = 10

// Detector fits an isolation forest over the batch's feature matrix and
// scores the same batch in one pass. Fit-and-score is deliberate: a
// transaction's outlier status must not depend on arrival order.
type Detector struct {
	cfg domain.EngineConfig
}

// NewDetector creates a detector for the given engine configuration.
func NewDetector(cfg domain.EngineConfig) *Detector {
	return &Detector{cfg: cfg}
}

// Score returns one AnomalyScore per transaction, in store order. Scores
// are in [0,1] (higher = more anomalous) and relative to this batch. The
// top AnomalyContamination fraction, ranked by score then transaction ID,
// is labeled as outliers.
func (d *Detector) Score(ctx context.Context, batch *store.Store) ([]domain.AnomalyScore, error) {
	n := batch.Len()
	if n < MinBatchSize {
		return nil, fmt.Errorf("%w: got %d transactions, need at least %d", domain.ErrInsufficientData, n, MinBatchSize)
	}

	features := extract(batch, d.cfg.StructuringWindow)

	rng := rand.New(rand.NewSource(d.cfg.RandomSeed))
	model := fitForest(features, rng)

	txs := batch.All()
	scores := make([]domain.AnomalyScore, n)
	for i, vec := range features {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		scores[i] = domain.AnomalyScore{
			TxID:  txs[i].ID,
			Score: model.score(vec),
		}
	}

	// Exactly ceil(contamination*n) outliers, ranked by score with
	// transaction ID as the deterministic tie-breaker.
	k := int(math.Ceil(d.cfg.AnomalyContamination * float64(n)))
	if k > n {
		k = n
	}

	ranked := make([]int, n)
	for i := range ranked {
		ranked[i] = i
	}
	sort.Slice(ranked, func(a, b int) bool {
		if scores[ranked[a]].Score != scores[ranked[b]].Score {
			return scores[ranked[a]].Score > scores[ranked[b]].Score
		}
		return scores[ranked[a]].TxID < scores[ranked[b]].TxID
	})
	for _, idx := range ranked[:k] {
		scores[idx].IsOutlier = true
	}

	return scores, nil
}
