// Package verdict merges rule flags and anomaly scores into the final
// verdict table.
package verdict

import (
	"sort"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/store"
)

// Merge produces exactly one Verdict per transaction in the batch.
// Transactions with no flags and no outlier label still get a verdict with
// IsSuspicious false.
//
// Severity is len(reasons) + anomaly score. The score contribution is
// always below 1, so a transaction flagged by strictly more reasons never
// ranks below one flagged by fewer. Output is ordered by severity
// descending, ties broken by ascending transaction ID, so top-N reporting
// is reproducible.
func Merge(batch *store.Store, flags []domain.RuleFlag, scores []domain.AnomalyScore) []domain.Verdict {
	reasons := make(map[string]map[string]struct{})
	for _, f := range flags {
		set, ok := reasons[f.TxID]
		if !ok {
			set = make(map[string]struct{})
			reasons[f.TxID] = set
		}
		set[f.RuleName] = struct{}{}
	}

	scoreByTx := make(map[string]domain.AnomalyScore, len(scores))
	for _, s := range scores {
		scoreByTx[s.TxID] = s
	}

	verdicts := make([]domain.Verdict, 0, batch.Len())
	for _, tx := range batch.All() {
		v := domain.Verdict{TxID: tx.ID}

		var names []string
		for name := range reasons[tx.ID] {
			names = append(names, name)
		}
		if s, scored := scoreByTx[tx.ID]; scored {
			v.AnomalyScore = s.Score
			if s.IsOutlier {
				names = append(names, domain.ReasonAnomaly)
			}
		}

		sort.Strings(names)
		v.Reasons = names
		v.IsSuspicious = len(names) > 0
		v.Severity = float64(len(names)) + v.AnomalyScore

		verdicts = append(verdicts, v)
	}

	sort.Slice(verdicts, func(i, j int) bool {
		if verdicts[i].Severity != verdicts[j].Severity {
			return verdicts[i].Severity > verdicts[j].Severity
		}
		return verdicts[i].TxID < verdicts[j].TxID
	})

	return verdicts
}

// CountSuspicious returns the number of suspicious verdicts.
func CountSuspicious(verdicts []domain.Verdict) int {
	count := 0
	for _, v := range verdicts {
		if v.IsSuspicious {
			count++
		}
	}
	return count
}
