// Scan tool for scoring a transaction CSV offline, without the server.
//
// Usage:
//
//	go run cmd/scan/main.go -input transactions.csv [-export suspicious.csv]
//
// Reads the batch, runs the full detection pipeline and prints a summary.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
	"github.com/opensource-finance/kestrel/internal/ingest"
	"github.com/opensource-finance/kestrel/internal/report"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/store"
)

func main() {
	input := flag.String("input", "", "Path to transaction CSV file")
	export := flag.String("export", "", "Write suspicious verdicts to this CSV file")
	seed := flag.Int64("seed", 42, "Anomaly model random seed")
	contamination := flag.Float64("contamination", 0.02, "Assumed outlier fraction (0,1)")
	windowHours := flag.Int("window", 24, "Structuring window in hours")
	countThreshold := flag.Int("count-threshold", 3, "Structuring count threshold")
	amountThreshold := flag.Float64("amount-threshold", 3000, "Structuring window sum threshold")
	amountLimit := flag.Float64("amount-limit", 1000, "Structuring per-transaction limit")
	highRisk := flag.String("high-risk", "Offshore,Garissa", "Comma-separated high-risk locations")
	spikeMult := flag.Float64("spike-mult", 3, "Spike stddev multiplier")
	minHistory := flag.Int("min-history", 5, "Spike minimum sender history")
	rulesOnly := flag.Bool("rules-only", false, "Skip the anomaly model")
	skipInvalid := flag.Bool("skip-invalid", false, "Skip invalid rows instead of failing the batch")
	top := flag.Int("top", 10, "Number of top verdicts to print")
	verbose := flag.Bool("verbose", false, "Print every suspicious verdict")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	})))

	if *input == "" {
		fmt.Println("Usage: scan -input transactions.csv [-export suspicious.csv]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	cfg := domain.EngineConfig{
		StructuringWindow:          time.Duration(*windowHours) * time.Hour,
		StructuringCountThreshold:  *countThreshold,
		StructuringAmountThreshold: *amountThreshold,
		StructuringAmountLimit:     *amountLimit,
		HighRiskLocations:          splitList(*highRisk),
		SpikeMultiplier:            *spikeMult,
		SpikeMinHistory:            *minHistory,
		AnomalyContamination:       *contamination,
		RandomSeed:                 *seed,
		ValidationMode:             domain.ValidationReject,
		RulesOnly:                  *rulesOnly,
	}
	if *skipInvalid {
		cfg.ValidationMode = domain.ValidationSkip
	}

	file, err := os.Open(*input)
	if err != nil {
		fmt.Printf("ERROR: failed to open input: %v\n", err)
		os.Exit(1)
	}
	txs, err := ingest.ReadCSV(file)
	file.Close()
	if err != nil {
		fmt.Printf("ERROR: failed to read CSV: %v\n", err)
		os.Exit(1)
	}

	ruleEngine, err := rules.NewEngine(10)
	if err != nil {
		fmt.Printf("ERROR: failed to create rule engine: %v\n", err)
		os.Exit(1)
	}
	eng, err := engine.New(ruleEngine, cfg)
	if err != nil {
		fmt.Printf("ERROR: invalid configuration: %v\n", err)
		os.Exit(1)
	}

	start := time.Now()
	result, err := eng.Run(context.Background(), txs)
	if err != nil {
		fmt.Printf("ERROR: run failed: %v\n", err)
		os.Exit(1)
	}
	duration := time.Since(start)

	// Rebuild the batch view for reporting; rows already passed validation.
	batch, err := store.New(txs, domain.ValidationSkip)
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}

	summary := report.Build(batch, result.Verdicts, *top)
	printSummary(*input, summary, result, duration)

	if *verbose {
		fmt.Println("\nSUSPICIOUS VERDICTS")
		for _, v := range result.Verdicts {
			if !v.IsSuspicious {
				continue
			}
			fmt.Printf("  %-12s severity=%.4f score=%.4f reasons=%s\n",
				v.TxID, v.Severity, v.AnomalyScore, strings.Join(v.Reasons, ","))
		}
	}

	if *export != "" {
		out, err := os.Create(*export)
		if err != nil {
			fmt.Printf("ERROR: failed to create export file: %v\n", err)
			os.Exit(1)
		}
		if err := report.ExportCSV(out, batch, result.Verdicts); err != nil {
			out.Close()
			fmt.Printf("ERROR: failed to export: %v\n", err)
			os.Exit(1)
		}
		out.Close()
		fmt.Printf("\nExported suspicious verdicts to %s\n", *export)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func printSummary(input string, s report.Summary, result *engine.Result, duration time.Duration) {
	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                    KESTREL BATCH SCAN                         ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nInput:       %s\n", input)
	fmt.Printf("Duration:    %v\n", duration.Round(time.Millisecond))

	fmt.Println("\nDATASET")
	fmt.Printf("   Scored:       %d\n", result.TxCount)
	fmt.Printf("   Skipped rows: %d\n", len(result.Skipped))
	fmt.Printf("   Suspicious:   %d (%.2f%%)\n", s.Suspicious, s.SuspiciousPct)
	fmt.Printf("   Risk level:   %s\n", strings.ToUpper(s.RiskLevel))

	if len(s.ByLocation) > 0 {
		fmt.Println("\nSUSPICIOUS BY LOCATION")
		for _, lc := range s.ByLocation {
			fmt.Printf("   %-16s %d\n", lc.Location, lc.Count)
		}
	}

	if len(s.Top) > 0 {
		fmt.Println("\nTOP VERDICTS")
		for i, v := range s.Top {
			fmt.Printf("   %2d. %-12s severity=%.4f reasons=%s\n",
				i+1, v.TxID, v.Severity, strings.Join(v.Reasons, ","))
		}
	}

	if len(result.Skipped) > 0 {
		fmt.Println("\nSKIPPED ROWS")
		for _, sk := range result.Skipped {
			fmt.Printf("   row %d (%s): %s\n", sk.Index, sk.TxID, sk.Reason)
		}
	}

	fmt.Println()
}
