// Package anomaly provides the unsupervised outlier model of the engine.
package anomaly

import (
	"sort"
	"time"

	"github.com/opensource-finance/kestrel/internal/store"
)

// Feature vector layout. Extraction is total: every transaction yields a
// vector, with missing fields imputed rather than failing.
const (
	featAmount     = 0
	featHour       = 1
	featSenderFreq = 2
	featLocation   = 3

	numFeatures = 4
)

// extract maps each transaction to a fixed-length numeric vector, in store
// order: amount, hour of day, count of the sender's transactions inside the
// trailing window, and the location encoded by first-seen index. A missing
// location is imputed with the median of the observed location codes.
func extract(batch *store.Store, window time.Duration) [][]float64 {
	txs := batch.All()
	vectors := make([][]float64, len(txs))

	locIndex := make(map[string]float64)
	var locCodes []float64
	for _, tx := range txs {
		if tx.Location == "" {
			continue
		}
		if _, seen := locIndex[tx.Location]; !seen {
			locIndex[tx.Location] = float64(len(locIndex))
		}
	}
	for _, code := range locIndex {
		locCodes = append(locCodes, code)
	}
	missingLoc := median(locCodes)

	freq := senderFrequencies(batch, window)

	for i, tx := range txs {
		v := make([]float64, numFeatures)
		v[featAmount] = tx.Amount
		v[featHour] = float64(tx.Timestamp.Hour())
		v[featSenderFreq] = freq[tx.ID]
		if tx.Location == "" {
			v[featLocation] = missingLoc
		} else {
			v[featLocation] = locIndex[tx.Location]
		}
		vectors[i] = v
	}

	return vectors
}

// senderFrequencies counts, for each transaction, how many of the sender's
// transactions fall inside the window ending at its timestamp.
func senderFrequencies(batch *store.Store, window time.Duration) map[string]float64 {
	freq := make(map[string]float64, batch.Len())

	for _, sender := range batch.Senders() {
		txs := batch.BySender(sender)
		lo := 0
		for hi := 0; hi < len(txs); hi++ {
			for txs[hi].Timestamp.Sub(txs[lo].Timestamp) > window {
				lo++
			}
			freq[txs[hi].ID] = float64(hi - lo + 1)
		}
	}

	return freq
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}
