package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// InventoryEvent is one row of the append-only ledger.
// ID is the ingestion sequence: assigned at insert, monotonic, used to break ties on OccurredAt.
// Rows are never updated or deleted; corrections are new adjustment events.
type InventoryEvent struct {
	ID             uint64            `gorm:"primaryKey;autoIncrement" json:"ingestion_sequence"`
	OccurredAt     time.Time         `gorm:"not null;precision:6;index:idx_inv_event_sku_loc_time,priority:3;index:idx_inv_event_sku_type_time,priority:3" json:"time"`
	SKU            string            `gorm:"column:sku;size:64;not null;index:idx_inv_event_sku_loc_time,priority:1;index:idx_inv_event_sku_type_time,priority:1" json:"sku"`
	Location       string            `gorm:"size:64;not null;index:idx_inv_event_sku_loc_time,priority:2" json:"location"`
	Channel        string            `gorm:"size:64;not null;default:''" json:"channel,omitempty"`
	Source         string            `gorm:"size:100;not null;default:'';uniqueIndex:uniq_inv_event_idem,priority:1" json:"source,omitempty"`
	EventType      EventType         `gorm:"size:16;not null;index:idx_inv_event_sku_type_time,priority:2" json:"event_type"`
	Quantity       decimal.Decimal   `gorm:"type:decimal(20,4);not null" json:"quantity"`
	SourceRecordID *string           `gorm:"size:191" json:"source_record_id,omitempty"`
	IdempotencyKey string            `gorm:"size:191;not null;uniqueIndex:uniq_inv_event_idem,priority:2" json:"-"`
	BatchID        string            `gorm:"size:36;index" json:"batch_id,omitempty"`
	Metadata       datatypes.JSONMap `gorm:"type:json" json:"metadata,omitempty"`
	IngestedAt     time.Time         `gorm:"not null;precision:6" json:"ingested_at"`
}

// MaxQuantityDigits is the integer precision of the quantity column, decimal(20,4).
const MaxQuantityDigits = 16

var (
	EarliestEventTime = time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)
	LatestEventTime   = time.Date(9999, 12, 31, 23, 59, 59, 999999000, time.UTC)
	maxQuantity       = decimal.New(1, MaxQuantityDigits)
)

// EventTimeInRange reports whether t is a plausible event time the ledger can store.
func EventTimeInRange(t time.Time) bool {
	return !t.Before(EarliestEventTime) && !t.After(LatestEventTime)
}

// QuantityInRange reports whether q fits the quantity column.
func QuantityInRange(q decimal.Decimal) bool {
	return q.Abs().LessThan(maxQuantity)
}

// SignedQuantity is the contribution of a delta event to on-hand.
// Snapshots return their absolute quantity.
func (e *InventoryEvent) SignedQuantity() decimal.Decimal {
	if e.EventType == EventTypeDepletion {
		return e.Quantity.Abs().Neg()
	}
	if e.EventType == EventTypeShipment {
		return e.Quantity.Abs()
	}
	return e.Quantity
}

// Before orders events by (event time, ingestion sequence).
func (e *InventoryEvent) Before(other *InventoryEvent) bool {
	if !e.OccurredAt.Equal(other.OccurredAt) {
		return e.OccurredAt.Before(other.OccurredAt)
	}
	return e.ID < other.ID
}
