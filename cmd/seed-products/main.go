// seed-products loads the tracked SKU list. Rows without a code are skipped;
// existing codes are renamed and reactivated.
//
// Usage:
//
//	go run ./cmd/seed-products --file products.csv
//	go run ./cmd/seed-products --codes A-750,B-375
//
// The file needs a "code" column; "name" and "category" are optional.
package main

import (
	"context"
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
	file := flag.String("file", "", "Optional: .csv or .xlsx with code,name,category columns")
	codes := flag.String("codes", "", "Optional: comma separated codes (name defaults to the code)")
	flag.Parse()

	var inputs []models.NewProduct
	if strings.TrimSpace(*file) != "" {
		f, err := os.Open(*file)
		if err != nil {
			fmt.Fprintf(os.Stderr, "open %s: %v\n", *file, err)
			os.Exit(1)
		}
		records, err := ingest.Decode(filepath.Base(*file), f)
		f.Close()
		if err != nil {
			fmt.Fprintf(os.Stderr, "decode %s: %v\n", *file, err)
			os.Exit(1)
		}
		for _, rec := range records {
			row := make(map[string]string, len(rec))
			for k, v := range rec {
				row[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
			}
			if row["code"] == "" {
				continue
			}
			name := row["name"]
			if name == "" {
				name = row["code"]
			}
			inputs = append(inputs, models.NewProduct{Code: row["code"], Name: name, Category: row["category"]})
		}
	}
	for _, code := range strings.Split(*codes, ",") {
		if code = strings.TrimSpace(code); code != "" {
			inputs = append(inputs, models.NewProduct{Code: code, Name: code})
		}
	}
	if len(inputs) == 0 {
		fmt.Fprintln(os.Stderr, "nothing to seed: pass --file or --codes")
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}
	models.MigrateTable()

	ctx := context.Background()
	created, updated, failed := 0, 0, 0
	for i := range inputs {
		_, isNew, err := models.UpsertProduct(ctx, db, &inputs[i])
		switch {
		case err != nil:
			failed++
			fmt.Fprintf(os.Stderr, "skip %q: %v\n", inputs[i].Code, err)
		case isNew:
			created++
		default:
			updated++
		}
	}
	fmt.Printf("products: created=%d updated=%d failed=%d\n", created, updated, failed)
	if failed > 0 {
		os.Exit(2)
	}
}
