// Package ledger is the append-only, deduplicated store of inventory events.
//
// The idempotency check and the insert are one statement (insert-or-ignore
// under the (source, idempotency_key) unique index), so concurrent retries of
// the same batch cannot double count. There is no update or delete.
package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mmdatafocus/depletions_backend/config"
	"github.com/mmdatafocus/depletions_backend/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Outcome int

const (
	Inserted Outcome = iota + 1
	DuplicateSkipped
)

func (o Outcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case DuplicateSkipped:
		return "duplicate_skipped"
	}
	return "unknown"
}

type Ledger struct {
	db              *gorm.DB
	collapseContent bool
	now             func() time.Time
}

func New(db *gorm.DB) *Ledger {
	return &Ledger{
		db:              db,
		collapseContent: config.CollapseContentDuplicates(),
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// WithContentCollapse overrides COLLAPSE_CONTENT_DUPLICATES.
func (l *Ledger) WithContentCollapse(collapse bool) *Ledger {
	cp := *l
	cp.collapseContent = collapse
	return &cp
}

func (l *Ledger) DB() *gorm.DB { return l.db }

func validateEvent(ev *models.InventoryEvent) error {
	if strings.TrimSpace(ev.SKU) == "" || strings.TrimSpace(ev.Location) == "" {
		return fmt.Errorf("%w: sku and location are required", ErrInvalidEvent)
	}
	if ev.OccurredAt.IsZero() {
		return fmt.Errorf("%w: event time is required", ErrInvalidEvent)
	}
	if !models.EventTimeInRange(ev.OccurredAt) {
		return fmt.Errorf("%w: event time %s out of range", ErrInvalidEvent, ev.OccurredAt.UTC().Format(time.RFC3339))
	}
	if !models.QuantityInRange(ev.Quantity) {
		return fmt.Errorf("%w: quantity %s out of range", ErrInvalidEvent, ev.Quantity.String())
	}
	switch ev.EventType {
	case models.EventTypeDepletion, models.EventTypeShipment:
		if !ev.Quantity.IsPositive() {
			return fmt.Errorf("%w: %s quantity must be a positive magnitude", ErrInvalidEvent, ev.EventType)
		}
	case models.EventTypeSnapshot:
		if ev.Quantity.IsNegative() {
			return fmt.Errorf("%w: snapshot quantity must not be negative", ErrInvalidEvent)
		}
	case models.EventTypeAdjustment:
		if ev.Quantity.IsZero() {
			return fmt.Errorf("%w: adjustment quantity must not be zero", ErrInvalidEvent)
		}
	default:
		return fmt.Errorf("%w: unknown event type %q", ErrInvalidEvent, ev.EventType)
	}
	return nil
}

// Append stores ev unless an event with the same idempotency key already exists.
// On Inserted, ev.ID holds the assigned ingestion sequence. A lone append is
// the first occurrence of its content, same as the first row of a batch.
func (l *Ledger) Append(ctx context.Context, ev *models.InventoryEvent) (Outcome, error) {
	return l.append(ctx, ev, 1)
}

func (l *Ledger) append(ctx context.Context, ev *models.InventoryEvent, occurrence int) (Outcome, error) {
	if err := validateEvent(ev); err != nil {
		return 0, err
	}
	ev.ID = 0
	ev.OccurredAt = ev.OccurredAt.UTC().Truncate(time.Microsecond)
	ev.IdempotencyKey = idempotencyKey(ev, occurrence)
	ev.IngestedAt = l.now()

	res := l.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(ev)
	if res.Error != nil {
		uerr := unavailable("append", res.Error)
		uerr.SKU = ev.SKU
		uerr.Source = ev.Source
		uerr.From = ev.OccurredAt
		uerr.To = ev.OccurredAt
		return 0, uerr
	}
	if res.RowsAffected == 0 {
		ev.ID = 0
		return DuplicateSkipped, nil
	}
	return Inserted, nil
}

// AppendBatch appends events in order with a fresh occurrence scope and stops
// at the first structural error. outcomes has one entry per event attempted.
func (l *Ledger) AppendBatch(ctx context.Context, events []*models.InventoryEvent) ([]Outcome, error) {
	return l.AppendBatchWithin(ctx, events, NewOccurrences())
}

// AppendBatchWithin is AppendBatch numbering content rows against occ, so
// identical rows split across several batches keep distinct keys.
func (l *Ledger) AppendBatchWithin(ctx context.Context, events []*models.InventoryEvent, occ *Occurrences) ([]Outcome, error) {
	if occ == nil {
		occ = NewOccurrences()
	}
	outcomes := make([]Outcome, 0, len(events))
	for _, ev := range events {
		occurrence := 1
		if !l.collapseContent && !hasRecordID(ev) {
			occurrence = occ.next(contentDigest(ev))
		}
		outcome, err := l.append(ctx, ev, occurrence)
		if err != nil {
			return outcomes, err
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}
