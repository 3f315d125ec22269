// Package testhelper opens throwaway SQLite databases carrying the production
// schema, so ledger behaviour is checked against real unique indexes.
package testhelper

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mmdatafocus/depletions_backend/config"
	"github.com/mmdatafocus/depletions_backend/models"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var dbSeq atomic.Int64

// SetupTestDB opens a private in-memory database, migrates it and registers
// the given product codes as the allow-list.
func SetupTestDB(t testing.TB, skus ...string) *gorm.DB {
	t.Helper()

	name := fmt.Sprintf("file:ledger_test_%d?mode=memory&cache=shared&_busy_timeout=5000", dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(name), config.GormConfig())
	if err != nil {
		t.Fatalf("testhelper: open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("testhelper: sql db: %v", err)
	}
	// one connection keeps the shared in-memory database alive and serializes writers
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := models.Migrate(db); err != nil {
		t.Fatalf("testhelper: migrate: %v", err)
	}
	SeedProducts(t, db, skus...)
	return db
}

func SeedProducts(t testing.TB, db *gorm.DB, skus ...string) {
	t.Helper()
	for _, sku := range skus {
		if _, err := models.CreateProduct(context.Background(), db, &models.NewProduct{Code: sku, Name: sku}); err != nil {
			t.Fatalf("testhelper: seed product %s: %v", sku, err)
		}
	}
}

// Day returns midnight UTC of the given date.
func Day(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// Event builds an event with a record id so appends are independent of content.
func Event(sku, location string, typ models.EventType, qty int64, at time.Time, recordID string) *models.InventoryEvent {
	ev := &models.InventoryEvent{
		OccurredAt: at,
		SKU:        sku,
		Location:   location,
		Source:     "test",
		EventType:  typ,
		Quantity:   decimal.NewFromInt(qty),
	}
	if recordID != "" {
		ev.SourceRecordID = &recordID
	}
	return ev
}
