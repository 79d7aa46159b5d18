// Datagen synthesises a seeded transaction CSV with injected structuring
// bursts, for demos and load testing.
//
// Usage:
//
//	go run cmd/datagen/main.go -out transactions.csv -count 5000 -bursts 20
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/opensource-finance/kestrel/internal/generator"
	"github.com/opensource-finance/kestrel/internal/ingest"
)

func main() {
	out := flag.String("out", "transactions.csv", "Output CSV path")
	count := flag.Int("count", 5000, "Number of background transactions")
	bursts := flag.Int("bursts", 20, "Number of injected structuring bursts")
	burstSize := flag.Int("burst-size", 10, "Transfers per burst")
	span := flag.Int("span", 50000, "Background time horizon in minutes")
	seed := flag.Int64("seed", 1, "Random seed")
	locations := flag.String("locations", "", "Comma-separated location pool (default demo set)")
	flag.Parse()

	cfg := generator.Config{
		Count:       *count,
		Bursts:      *bursts,
		BurstSize:   *burstSize,
		SpanMinutes: *span,
		Seed:        *seed,
	}
	if *locations != "" {
		for _, loc := range strings.Split(*locations, ",") {
			if trimmed := strings.TrimSpace(loc); trimmed != "" {
				cfg.Locations = append(cfg.Locations, trimmed)
			}
		}
	}

	txs := generator.New(cfg).Generate()

	file, err := os.Create(*out)
	if err != nil {
		fmt.Printf("ERROR: failed to create output file: %v\n", err)
		os.Exit(1)
	}
	defer file.Close()

	if err := ingest.WriteCSV(file, txs); err != nil {
		fmt.Printf("ERROR: failed to write CSV: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Wrote %d transactions to %s (seed=%d, bursts=%d x %d)\n",
		len(txs), *out, *seed, *bursts, *burstSize)
}
