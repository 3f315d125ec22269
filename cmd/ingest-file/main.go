// ingest-file runs one local report through the ingest pipeline and prints
// the batch summary as JSON.
//
// Usage:
//
//	go run ./cmd/ingest-file --file march.xlsx --source distributor_depletions
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mmdatafocus/depletions_backend/config"
	"github.com/mmdatafocus/depletions_backend/ingest"
	"github.com/mmdatafocus/depletions_backend/models"
)

func main() {
	file := flag.String("file", "", "Required: path to a .csv or .xlsx report")
	source := flag.String("source", "", "Optional: source id; inferred from the header row when empty")
	migrate := flag.Bool("migrate", false, "Run AutoMigrate before ingesting")
	flag.Parse()

	if strings.TrimSpace(*file) == "" {
		fmt.Fprintln(os.Stderr, "--file is required")
		os.Exit(1)
	}

	f, err := os.Open(*file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open %s: %v\n", *file, err)
		os.Exit(1)
	}
	defer f.Close()

	records, err := ingest.Decode(filepath.Base(*file), f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "decode %s: %v\n", *file, err)
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	if *migrate {
		models.MigrateTable()
	}

	summary, err := ingest.NewService(db).IngestBatch(context.Background(), records, *source)
	if summary != nil {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(summary)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "ingest failed: %v\n", err)
		os.Exit(2)
	}
}
