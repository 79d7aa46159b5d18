package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/store"
)

var testBase = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func buildBatch(t *testing.T) *store.Store {
	t.Helper()
	txs := []domain.Transaction{
		{ID: "TX-1", SenderID: "A", ReceiverID: "B", Amount: 900, Timestamp: testBase, Location: "Offshore"},
		{ID: "TX-2", SenderID: "A", ReceiverID: "C", Amount: 850, Timestamp: testBase.Add(time.Hour), Location: "Offshore"},
		{ID: "TX-3", SenderID: "B", ReceiverID: "C", Amount: 100, Timestamp: testBase.Add(25 * time.Hour), Location: "Nairobi"},
		{ID: "TX-4", SenderID: "C", ReceiverID: "A", Amount: 200, Timestamp: testBase.Add(26 * time.Hour), Location: "Nairobi"},
	}
	s, err := store.New(txs, domain.ValidationReject)
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}
	return s
}

// Verdicts arrive pre-sorted by severity descending.
func sampleVerdicts() []domain.Verdict {
	return []domain.Verdict{
		{TxID: "TX-1", IsSuspicious: true, Reasons: []string{"geo_risk", "structuring"}, Severity: 2.4, AnomalyScore: 0.4},
		{TxID: "TX-2", IsSuspicious: true, Reasons: []string{"geo_risk"}, Severity: 1.2, AnomalyScore: 0.2},
		{TxID: "TX-3", IsSuspicious: true, Reasons: []string{"anomaly"}, Severity: 1.1, AnomalyScore: 0.1},
		{TxID: "TX-4", Severity: 0.05, AnomalyScore: 0.05},
	}
}

func TestBuild_Summary(t *testing.T) {
	s := Build(buildBatch(t), sampleVerdicts(), 2)

	if s.Total != 4 || s.Suspicious != 3 {
		t.Errorf("unexpected counts: total=%d suspicious=%d", s.Total, s.Suspicious)
	}
	if s.SuspiciousPct != 75 {
		t.Errorf("expected 75%%, got %g", s.SuspiciousPct)
	}
	if s.RiskLevel != RiskLevelHigh {
		t.Errorf("expected high risk, got %s", s.RiskLevel)
	}

	if len(s.Top) != 2 || s.Top[0].TxID != "TX-1" || s.Top[1].TxID != "TX-2" {
		t.Errorf("unexpected top verdicts: %+v", s.Top)
	}

	if len(s.ByLocation) != 2 {
		t.Fatalf("expected 2 locations, got %d", len(s.ByLocation))
	}
	if s.ByLocation[0].Location != "Offshore" || s.ByLocation[0].Count != 2 {
		t.Errorf("unexpected leading location: %+v", s.ByLocation[0])
	}

	if len(s.ByDay) != 2 {
		t.Fatalf("expected 2 days, got %d", len(s.ByDay))
	}
	if s.ByDay[0].Day != "2025-06-01" || s.ByDay[0].Count != 2 {
		t.Errorf("unexpected first day: %+v", s.ByDay[0])
	}
	if s.ByDay[1].Day != "2025-06-02" || s.ByDay[1].Count != 1 {
		t.Errorf("unexpected second day: %+v", s.ByDay[1])
	}
}

func TestBuild_RiskBands(t *testing.T) {
	batch := buildBatch(t)

	// 0/4 suspicious: low.
	verdicts := []domain.Verdict{
		{TxID: "TX-1"}, {TxID: "TX-2"}, {TxID: "TX-3"}, {TxID: "TX-4"},
	}
	if s := Build(batch, verdicts, 5); s.RiskLevel != RiskLevelLow {
		t.Errorf("expected low risk for clean batch, got %s", s.RiskLevel)
	}

	// 1/4 = 25%: high.
	verdicts[0] = domain.Verdict{TxID: "TX-1", IsSuspicious: true, Reasons: []string{"geo_risk"}, Severity: 1}
	if s := Build(batch, verdicts, 5); s.RiskLevel != RiskLevelHigh {
		t.Errorf("expected high risk, got %s", s.RiskLevel)
	}
}

func TestBuild_EmptyBatch(t *testing.T) {
	s, err := store.New(nil, domain.ValidationReject)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	summary := Build(s, nil, 10)
	if summary.Total != 0 || summary.Suspicious != 0 {
		t.Errorf("unexpected counts: %+v", summary)
	}
	if summary.RiskLevel != RiskLevelLow {
		t.Errorf("expected low risk for empty batch, got %s", summary.RiskLevel)
	}
}

func TestExportCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := ExportCSV(&buf, buildBatch(t), sampleVerdicts()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected header plus 3 suspicious rows, got %d lines", len(lines))
	}
	if !strings.HasPrefix(lines[0], "id,sender_id,receiver_id,amount") {
		t.Errorf("unexpected header: %s", lines[0])
	}
	if !strings.HasPrefix(lines[1], "TX-1,A,B,900.00") {
		t.Errorf("expected TX-1 first, got %s", lines[1])
	}
	if !strings.Contains(lines[1], "geo_risk|structuring") {
		t.Errorf("expected joined reasons, got %s", lines[1])
	}
}
