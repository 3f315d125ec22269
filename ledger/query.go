package ledger

import (
	"context"
	"time"

	"github.com/mmdatafocus/depletions_backend/models"
	"github.com/mmdatafocus/depletions_backend/utils"
	"gorm.io/gorm"
)

// RangeQuery selects events for one SKU. The window is [Start, End) unless the
// bound flags say otherwise; a zero Start or End leaves that side open.
type RangeQuery struct {
	SKU            string
	Location       *string
	Source         *string
	Channel        *string
	Types          []models.EventType
	Start          time.Time
	End            time.Time
	StartExclusive bool
	EndInclusive   bool
}

func (q RangeQuery) apply(tx *gorm.DB) *gorm.DB {
	tx = tx.Where("sku = ?", q.SKU)
	if q.Location != nil {
		tx = tx.Where("location = ?", *q.Location)
	}
	if q.Source != nil {
		tx = tx.Where("source = ?", *q.Source)
	}
	if q.Channel != nil {
		tx = tx.Where("channel = ?", *q.Channel)
	}
	if len(q.Types) == 1 {
		tx = tx.Where("event_type = ?", q.Types[0])
	} else if len(q.Types) > 1 {
		tx = tx.Where("event_type IN ?", q.Types)
	}
	if !q.Start.IsZero() {
		if q.StartExclusive {
			tx = tx.Where("occurred_at > ?", q.Start.UTC())
		} else {
			tx = tx.Where("occurred_at >= ?", q.Start.UTC())
		}
	}
	if !q.End.IsZero() {
		if q.EndInclusive {
			tx = tx.Where("occurred_at <= ?", q.End.UTC())
		} else {
			tx = tx.Where("occurred_at < ?", q.End.UTC())
		}
	}
	return tx
}

// Range returns matching events ascending by (event time, ingestion sequence).
// Re-running it against the same frozen bounds returns the same sequence plus
// anything appended since.
func (l *Ledger) Range(ctx context.Context, q RangeQuery) ([]models.InventoryEvent, error) {
	var events []models.InventoryEvent
	err := q.apply(l.db.WithContext(ctx).Model(&models.InventoryEvent{})).
		Order("occurred_at ASC").Order("id ASC").
		Find(&events).Error
	if err != nil {
		uerr := unavailable("range", err)
		uerr.SKU = q.SKU
		uerr.Source = utils.DereferencePtr(q.Source)
		uerr.From = q.Start
		uerr.To = q.End
		return nil, uerr
	}
	return events, nil
}

// LatestSnapshot returns the most recent snapshot at or before at, or nil.
func (l *Ledger) LatestSnapshot(ctx context.Context, sku, location string, at time.Time) (*models.InventoryEvent, error) {
	var rows []models.InventoryEvent
	err := l.db.WithContext(ctx).
		Where("sku = ? AND location = ? AND event_type = ? AND occurred_at <= ?", sku, location, models.EventTypeSnapshot, at.UTC()).
		Order("occurred_at DESC").Order("id DESC").
		Limit(1).
		Find(&rows).Error
	if err != nil {
		uerr := unavailable("latest_snapshot", err)
		uerr.SKU = sku
		uerr.To = at
		return nil, uerr
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// Locations lists the locations holding any event for sku at or before at.
func (l *Ledger) Locations(ctx context.Context, sku string, at time.Time) ([]string, error) {
	var locations []string
	err := l.db.WithContext(ctx).Model(&models.InventoryEvent{}).
		Distinct("location").
		Where("sku = ? AND occurred_at <= ?", sku, at.UTC()).
		Order("location ASC").
		Pluck("location", &locations).Error
	if err != nil {
		uerr := unavailable("locations", err)
		uerr.SKU = sku
		uerr.To = at
		return nil, uerr
	}
	return locations, nil
}

// Watermark identifies the state of one SKU's history. Sequence alone can miss
// an insert that commits after a higher id; Events moves on every insert.
type Watermark struct {
	Sequence uint64 `json:"sequence"`
	Events   uint64 `json:"events"`
}

// Watermark reads the highest ingestion sequence and the event count for sku,
// both 0 when none.
func (l *Ledger) Watermark(ctx context.Context, sku string) (Watermark, error) {
	var w Watermark
	err := l.db.WithContext(ctx).Model(&models.InventoryEvent{}).
		Select("COALESCE(MAX(id), 0) AS sequence, COUNT(*) AS events").
		Where("sku = ?", sku).
		Scan(&w).Error
	if err != nil {
		uerr := unavailable("watermark", err)
		uerr.SKU = sku
		return Watermark{}, uerr
	}
	return w, nil
}
