// metrics-export computes metrics for a list of SKUs and writes them to an
// xlsx workbook, one row per SKU and window.
//
// Usage:
//
//	go run ./cmd/metrics-export --sku A,B --as-of 2026-01-31 --out metrics.xlsx
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mmdatafocus/depletions_backend/config"
	"github.com/mmdatafocus/depletions_backend/ledger"
	"github.com/mmdatafocus/depletions_backend/metrics"
	"github.com/mmdatafocus/depletions_backend/utils"
)

func main() {
	skuList := flag.String("sku", "", "Required: comma separated SKU codes")
	asOfStr := flag.String("as-of", "", "Optional: as-of date (YYYY-MM-DD or RFC3339). Defaults to now.")
	windowList := flag.String("window", "30,90", "Optional: comma separated window lengths in days")
	location := flag.String("location", "", "Optional: restrict to one location")
	segment := flag.String("segment", "", "Optional: restrict windowed sums to one channel")
	out := flag.String("out", "metrics.xlsx", "Output workbook path")
	flag.Parse()

	skus := utils.UniqueSlice(splitAndTrim(*skuList))
	if len(skus) == 0 {
		fmt.Fprintln(os.Stderr, "--sku is required")
		os.Exit(1)
	}

	q := metrics.Query{
		AsOf:     time.Now().UTC(),
		Location: utils.NilIfEmpty(*location),
		Segment:  utils.NilIfEmpty(*segment),
	}
	if strings.TrimSpace(*asOfStr) != "" {
		asOf, err := utils.ParseDateParam(*asOfStr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid as-of date: %v\n", err)
			os.Exit(1)
		}
		q.AsOf = asOf
	}
	for _, w := range splitAndTrim(*windowList) {
		days, err := strconv.Atoi(w)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid window %q\n", w)
			os.Exit(1)
		}
		q.Windows = append(q.Windows, days)
	}
	probe := q
	probe.SKU = skus[0]
	if err := probe.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}

	results := metrics.NewEngine(ledger.New(db)).ComputeBatch(context.Background(), skus, q)

	f, err := os.Create(*out)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create %s: %v\n", *out, err)
		os.Exit(1)
	}
	if err := metrics.WriteWorkbook(f, results); err != nil {
		f.Close()
		fmt.Fprintf(os.Stderr, "write workbook: %v\n", err)
		os.Exit(1)
	}
	if err := f.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "close %s: %v\n", *out, err)
		os.Exit(1)
	}

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	fmt.Printf("wrote %s: skus=%d failed=%d\n", *out, len(results), failed)
	if failed > 0 {
		os.Exit(2)
	}
}

func splitAndTrim(csv string) []string {
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
