// Package report aggregates verdicts into the summaries the reporting
// layer consumes.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/store"
)

// Overall risk bands, as a fraction of suspicious transactions.
const (
	RiskLevelHigh     = "high"
	RiskLevelElevated = "elevated"
	RiskLevelLow      = "low"

	highRiskPct     = 5.0
	elevatedRiskPct = 2.0
)

// LocationCount is the suspicious count for one location.
type LocationCount struct {
	Location string `json:"location"`
	Count    int    `json:"count"`
}

// DayCount is the suspicious count for one calendar day (UTC).
type DayCount struct {
	Day   string `json:"day"` // YYYY-MM-DD
	Count int    `json:"count"`
}

// Summary is the aggregated view of one run.
type Summary struct {
	Total         int     `json:"total"`
	Suspicious    int     `json:"suspicious"`
	SuspiciousPct float64 `json:"suspiciousPct"`
	RiskLevel     string  `json:"riskLevel"`

	ByLocation []LocationCount  `json:"byLocation"`
	ByDay      []DayCount       `json:"byDay"`
	Top        []domain.Verdict `json:"top"`
}

// Build aggregates verdicts into a summary. Verdicts must already be in
// output order (severity descending); Top is its first topN entries that
// are suspicious.
func Build(batch *store.Store, verdicts []domain.Verdict, topN int) Summary {
	s := Summary{Total: len(verdicts)}

	locCounts := make(map[string]int)
	dayCounts := make(map[string]int)

	for _, v := range verdicts {
		if !v.IsSuspicious {
			continue
		}
		s.Suspicious++
		if len(s.Top) < topN {
			s.Top = append(s.Top, v)
		}

		tx, ok := batch.Get(v.TxID)
		if !ok {
			continue
		}
		locCounts[tx.Location]++
		dayCounts[tx.Timestamp.UTC().Format("2006-01-02")]++
	}

	if s.Total > 0 {
		s.SuspiciousPct = float64(s.Suspicious) / float64(s.Total) * 100
	}
	switch {
	case s.SuspiciousPct > highRiskPct:
		s.RiskLevel = RiskLevelHigh
	case s.SuspiciousPct > elevatedRiskPct:
		s.RiskLevel = RiskLevelElevated
	default:
		s.RiskLevel = RiskLevelLow
	}

	for loc, count := range locCounts {
		s.ByLocation = append(s.ByLocation, LocationCount{Location: loc, Count: count})
	}
	sort.Slice(s.ByLocation, func(i, j int) bool {
		if s.ByLocation[i].Count != s.ByLocation[j].Count {
			return s.ByLocation[i].Count > s.ByLocation[j].Count
		}
		return s.ByLocation[i].Location < s.ByLocation[j].Location
	})

	for day, count := range dayCounts {
		s.ByDay = append(s.ByDay, DayCount{Day: day, Count: count})
	}
	sort.Slice(s.ByDay, func(i, j int) bool {
		return s.ByDay[i].Day < s.ByDay[j].Day
	})

	return s
}

// ExportCSV writes the suspicious verdicts joined with their transactions,
// preserving verdict order.
func ExportCSV(w io.Writer, batch *store.Store, verdicts []domain.Verdict) error {
	writer := csv.NewWriter(w)

	header := []string{"id", "sender_id", "receiver_id", "amount", "timestamp", "location", "reasons", "severity", "anomaly_score"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, v := range verdicts {
		if !v.IsSuspicious {
			continue
		}
		tx, ok := batch.Get(v.TxID)
		if !ok {
			return fmt.Errorf("verdict %s has no transaction in batch", v.TxID)
		}

		record := []string{
			tx.ID,
			tx.SenderID,
			tx.ReceiverID,
			strconv.FormatFloat(tx.Amount, 'f', 2, 64),
			tx.Timestamp.UTC().Format(time.RFC3339),
			tx.Location,
			strings.Join(v.Reasons, "|"),
			strconv.FormatFloat(v.Severity, 'f', 4, 64),
			strconv.FormatFloat(v.AnomalyScore, 'f', 4, 64),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}
