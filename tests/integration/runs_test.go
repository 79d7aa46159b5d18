//go:build integration
// +build integration

// Package integration provides end-to-end tests for the Kestrel scoring API.
//
// These tests exercise the complete pipeline against a running server:
//
//	Batch → Store → Rules + Anomaly → Merge → Verdicts → Summary
//
// Run with: go test -tags=integration -v ./tests/integration/...
//
// The server must be started first:
//
//	go run cmd/kestrel/main.go
package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"
)

func baseURL() string {
	if url := os.Getenv("KESTREL_TEST_URL"); url != "" {
		return url
	}
	return "http://localhost:8080"
}

type transaction struct {
	ID         string  `json:"id"`
	SenderID   string  `json:"senderId"`
	ReceiverID string  `json:"receiverId"`
	Amount     float64 `json:"amount"`
	Timestamp  string  `json:"timestamp"`
	Location   string  `json:"location"`
	Channel    string  `json:"channel,omitempty"`
}

type createRunRequest struct {
	Transactions []transaction `json:"transactions,omitempty"`
	Async        bool          `json:"async"`
}

type run struct {
	ID              string `json:"id"`
	Status          string `json:"status"`
	TxCount         int    `json:"txCount"`
	SuspiciousCount int    `json:"suspiciousCount"`
	RowsSkipped     int    `json:"rowsSkipped"`
	Error           string `json:"error,omitempty"`
}

type createRunResponse struct {
	Run      run `json:"run"`
	Metadata struct {
		TraceID string `json:"traceId"`
		TotalMs int64  `json:"totalMs"`
		Version string `json:"version"`
	} `json:"metadata"`
}

type verdict struct {
	TxID         string   `json:"txId"`
	IsSuspicious bool     `json:"isSuspicious"`
	Reasons      []string `json:"reasons"`
	Severity     float64  `json:"severity"`
	AnomalyScore float64  `json:"anomalyScore"`
}

func postRun(t *testing.T, req createRunRequest) (int, createRunResponse, []byte) {
	t.Helper()

	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("failed to marshal request: %v", err)
	}

	client := &http.Client{Timeout: 60 * time.Second}
	resp, err := client.Post(baseURL()+"/runs", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response: %v", err)
	}

	var result createRunResponse
	_ = json.Unmarshal(respBody, &result)
	return resp.StatusCode, result, respBody
}

func getJSON(t *testing.T, path string, out interface{}) int {
	t.Helper()

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Get(baseURL() + path)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response: %v", err)
	}
	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			t.Fatalf("failed to unmarshal response: %v (body: %s)", err, string(respBody))
		}
	}
	return resp.StatusCode
}

// structuringBatch builds a batch with one obvious structuring burst
// (five sub-limit transfers in an hour) against quiet background senders.
// The batch is padded past the anomaly model's minimum size.
func structuringBatch() []transaction {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	var txs []transaction

	for i := 0; i < 5; i++ {
		txs = append(txs, transaction{
			ID:         fmt.Sprintf("BURST-%03d", i+1),
			SenderID:   "ACCT-BURST",
			ReceiverID: fmt.Sprintf("ACCT-R%03d", i+1),
			Amount:     900,
			Timestamp:  base.Add(time.Duration(i) * 12 * time.Minute).Format(time.RFC3339),
			Location:   "Nairobi",
		})
	}
	for i := 0; i < 20; i++ {
		txs = append(txs, transaction{
			ID:         fmt.Sprintf("BG-%03d", i+1),
			SenderID:   fmt.Sprintf("ACCT-S%03d", i+1),
			ReceiverID: fmt.Sprintf("ACCT-T%03d", i+1),
			Amount:     2000 + float64(i)*37,
			Timestamp:  base.Add(-time.Duration(i+1) * 48 * time.Hour).Format(time.RFC3339),
			Location:   "Mombasa",
		})
	}
	return txs
}

func TestSyncRun_StructuringDetected(t *testing.T) {
	status, result, body := postRun(t, createRunRequest{Transactions: structuringBatch()})

	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", status, string(body))
	}
	if result.Run.Status != "completed" {
		t.Fatalf("expected completed run, got %s (error: %s)", result.Run.Status, result.Run.Error)
	}
	if result.Run.TxCount != 25 {
		t.Errorf("expected 25 scored transactions, got %d", result.Run.TxCount)
	}
	if result.Run.SuspiciousCount < 5 {
		t.Errorf("expected at least the 5 burst transactions flagged, got %d", result.Run.SuspiciousCount)
	}

	var verdictsResp struct {
		Verdicts []verdict `json:"verdicts"`
	}
	if code := getJSON(t, "/runs/"+result.Run.ID+"/verdicts", &verdictsResp); code != http.StatusOK {
		t.Fatalf("expected 200 from verdicts endpoint, got %d", code)
	}

	flagged := map[string]verdict{}
	for _, v := range verdictsResp.Verdicts {
		if v.IsSuspicious {
			flagged[v.TxID] = v
		}
	}
	for i := 1; i <= 5; i++ {
		id := fmt.Sprintf("BURST-%03d", i)
		v, ok := flagged[id]
		if !ok {
			t.Errorf("expected %s to be flagged", id)
			continue
		}
		hasStructuring := false
		for _, reason := range v.Reasons {
			if reason == "structuring" {
				hasStructuring = true
			}
		}
		if !hasStructuring {
			t.Errorf("expected %s reasons to include structuring, got %v", id, v.Reasons)
		}
	}

	t.Logf("run %s: %d/%d suspicious", result.Run.ID, result.Run.SuspiciousCount, result.Run.TxCount)
}

func TestSyncRun_VerdictsSortedBySeverity(t *testing.T) {
	status, result, body := postRun(t, createRunRequest{Transactions: structuringBatch()})
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", status, string(body))
	}

	var verdictsResp struct {
		Verdicts []verdict `json:"verdicts"`
	}
	getJSON(t, "/runs/"+result.Run.ID+"/verdicts", &verdictsResp)

	for i := 1; i < len(verdictsResp.Verdicts); i++ {
		prev, cur := verdictsResp.Verdicts[i-1], verdictsResp.Verdicts[i]
		if prev.Severity < cur.Severity {
			t.Fatalf("verdicts out of order at %d: %.4f before %.4f", i, prev.Severity, cur.Severity)
		}
		if prev.Severity == cur.Severity && prev.TxID >= cur.TxID {
			t.Fatalf("severity tie not broken by tx id at %d: %s before %s", i, prev.TxID, cur.TxID)
		}
	}
}

func TestSyncRun_Deterministic(t *testing.T) {
	batch := structuringBatch()

	_, first, _ := postRun(t, createRunRequest{Transactions: batch})
	_, second, _ := postRun(t, createRunRequest{Transactions: batch})

	var v1, v2 struct {
		Verdicts []verdict `json:"verdicts"`
	}
	getJSON(t, "/runs/"+first.Run.ID+"/verdicts", &v1)
	getJSON(t, "/runs/"+second.Run.ID+"/verdicts", &v2)

	b1, _ := json.Marshal(v1.Verdicts)
	b2, _ := json.Marshal(v2.Verdicts)
	if !bytes.Equal(b1, b2) {
		t.Error("identical batches produced different verdict sets")
	}
}

func TestSyncRun_InvalidBatchRejected(t *testing.T) {
	txs := structuringBatch()
	txs[0].Amount = -50

	status, result, body := postRun(t, createRunRequest{Transactions: txs})
	if status != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for invalid row in reject mode, got %d: %s", status, string(body))
	}

	// The failed run is still recorded.
	var errResp struct {
		RunID string `json:"runId"`
	}
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.RunID != "" {
		var r run
		if code := getJSON(t, "/runs/"+errResp.RunID, &r); code == http.StatusOK {
			if r.Status != "failed" {
				t.Errorf("expected failed run status, got %s", r.Status)
			}
		}
	}
	_ = result
}

func TestRunSummary(t *testing.T) {
	status, result, body := postRun(t, createRunRequest{Transactions: structuringBatch()})
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", status, string(body))
	}

	var summary struct {
		Total      int    `json:"total"`
		Suspicious int    `json:"suspicious"`
		RiskLevel  string `json:"riskLevel"`
		ByLocation []struct {
			Location string `json:"location"`
			Count    int    `json:"count"`
		} `json:"byLocation"`
	}
	if code := getJSON(t, "/runs/"+result.Run.ID+"/summary", &summary); code != http.StatusOK {
		t.Fatalf("expected 200 from summary endpoint, got %d", code)
	}

	if summary.Total != result.Run.TxCount {
		t.Errorf("summary total %d does not match run tx count %d", summary.Total, result.Run.TxCount)
	}
	if summary.Suspicious != result.Run.SuspiciousCount {
		t.Errorf("summary suspicious %d does not match run count %d", summary.Suspicious, result.Run.SuspiciousCount)
	}
	if summary.RiskLevel == "" {
		t.Error("missing risk level")
	}
}

func TestAsyncRun_CompletesViaWorker(t *testing.T) {
	status, result, body := postRun(t, createRunRequest{Transactions: structuringBatch(), Async: true})
	if status != http.StatusAccepted {
		t.Fatalf("expected 202 for async run, got %d: %s", status, string(body))
	}

	deadline := time.Now().Add(30 * time.Second)
	for {
		var r run
		getJSON(t, "/runs/"+result.Run.ID, &r)
		if r.Status == "completed" {
			if r.SuspiciousCount < 5 {
				t.Errorf("expected at least 5 suspicious, got %d", r.SuspiciousCount)
			}
			return
		}
		if r.Status == "failed" {
			t.Fatalf("async run failed: %s", r.Error)
		}
		if time.Now().After(deadline) {
			t.Fatalf("async run did not complete, status %s", r.Status)
		}
		time.Sleep(500 * time.Millisecond)
	}
}

func TestCustomRule_CreateAndScore(t *testing.T) {
	ruleID := fmt.Sprintf("it-high-value-%d", time.Now().UnixNano())
	ruleBody, _ := json.Marshal(map[string]interface{}{
		"id":         ruleID,
		"name":       "it_high_value",
		"expression": "amount > 100000.0",
		"enabled":    true,
	})

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Post(baseURL()+"/rules", "application/json", bytes.NewReader(ruleBody))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 creating rule, got %d", resp.StatusCode)
	}

	txs := structuringBatch()
	txs = append(txs, transaction{
		ID:         "WHALE-001",
		SenderID:   "ACCT-WHALE",
		ReceiverID: "ACCT-OTHER",
		Amount:     250000,
		Timestamp:  time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC).Format(time.RFC3339),
		Location:   "Nairobi",
	})

	status, result, body := postRun(t, createRunRequest{Transactions: txs})
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", status, string(body))
	}

	var verdictsResp struct {
		Verdicts []verdict `json:"verdicts"`
	}
	getJSON(t, "/runs/"+result.Run.ID+"/verdicts", &verdictsResp)

	found := false
	for _, v := range verdictsResp.Verdicts {
		if v.TxID != "WHALE-001" {
			continue
		}
		for _, reason := range v.Reasons {
			if reason == "it_high_value" {
				found = true
			}
		}
	}
	if !found {
		t.Error("expected WHALE-001 to be flagged by the custom rule")
	}

	// Cleanup
	req, _ := http.NewRequest(http.MethodDelete, baseURL()+"/rules/"+ruleID, nil)
	if resp, err := client.Do(req); err == nil {
		resp.Body.Close()
	}
}

func TestHealth(t *testing.T) {
	var health struct {
		Status  string `json:"status"`
		Version string `json:"version"`
	}
	if code := getJSON(t, "/health", &health); code != http.StatusOK {
		t.Fatalf("expected 200 from health endpoint, got %d", code)
	}
	if health.Status == "" {
		t.Error("missing health status")
	}
}
