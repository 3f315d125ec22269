// Package projector folds ledger events into on-hand quantities.
//
// A snapshot resets the baseline for its (sku, location); only deltas strictly
// after the snapshot and at or before the requested instant are applied.
// Cross-location totals are sums of per-location projections.
package projector

import (
	"context"
	"sort"
	"time"

	"github.com/mmdatafocus/depletions_backend/ledger"
	"github.com/mmdatafocus/depletions_backend/models"
	"github.com/shopspring/decimal"
)

var deltaTypes = []models.EventType{
	models.EventTypeShipment,
	models.EventTypeDepletion,
	models.EventTypeAdjustment,
}

// Reader is the slice of the ledger the projector reads.
type Reader interface {
	Range(ctx context.Context, q ledger.RangeQuery) ([]models.InventoryEvent, error)
	LatestSnapshot(ctx context.Context, sku, location string, at time.Time) (*models.InventoryEvent, error)
	Locations(ctx context.Context, sku string, at time.Time) ([]string, error)
}

// Fold projects the events of a single (sku, location) at instant at. Events
// may be passed in any order; they are replayed by (time, ingestion sequence).
func Fold(events []models.InventoryEvent, at time.Time) decimal.Decimal {
	ordered := make([]*models.InventoryEvent, 0, len(events))
	for i := range events {
		if !events[i].OccurredAt.After(at) {
			ordered = append(ordered, &events[i])
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Before(ordered[j]) })

	var snapshot *models.InventoryEvent
	for _, ev := range ordered {
		if ev.EventType == models.EventTypeSnapshot {
			snapshot = ev
		}
	}

	total := decimal.Zero
	if snapshot != nil {
		total = snapshot.Quantity
	}
	for _, ev := range ordered {
		if !ev.EventType.IsDelta() {
			continue
		}
		if snapshot != nil && !ev.OccurredAt.After(snapshot.OccurredAt) {
			continue
		}
		total = total.Add(ev.SignedQuantity())
	}
	return total
}

type Projector struct {
	reader Reader
}

func New(reader Reader) *Projector {
	return &Projector{reader: reader}
}

// OnHand projects one (sku, location) at at. The read is bounded by the latest
// snapshot, so it is proportional to activity since that snapshot.
func (p *Projector) OnHand(ctx context.Context, sku, location string, at time.Time) (decimal.Decimal, error) {
	at = at.UTC()
	snapshot, err := p.reader.LatestSnapshot(ctx, sku, location, at)
	if err != nil {
		return decimal.Zero, err
	}

	q := ledger.RangeQuery{
		SKU:          sku,
		Location:     &location,
		Types:        deltaTypes,
		End:          at,
		EndInclusive: true,
	}
	baseline := decimal.Zero
	if snapshot != nil {
		baseline = snapshot.Quantity
		q.Start = snapshot.OccurredAt
		q.StartExclusive = true
	}

	deltas, err := p.reader.Range(ctx, q)
	if err != nil {
		return decimal.Zero, err
	}
	total := baseline
	for i := range deltas {
		total = total.Add(deltas[i].SignedQuantity())
	}
	return total, nil
}

// LocationOnHand is one location's share of a cross-location total.
type LocationOnHand struct {
	Location string          `json:"location"`
	OnHand   decimal.Decimal `json:"on_hand"`
}

// OnHandAll sums independent per-location projections for sku. The breakdown
// is ordered by location code.
func (p *Projector) OnHandAll(ctx context.Context, sku string, at time.Time) (decimal.Decimal, []LocationOnHand, error) {
	locations, err := p.reader.Locations(ctx, sku, at.UTC())
	if err != nil {
		return decimal.Zero, nil, err
	}
	total := decimal.Zero
	breakdown := make([]LocationOnHand, 0, len(locations))
	for _, loc := range locations {
		onHand, err := p.OnHand(ctx, sku, loc, at)
		if err != nil {
			return decimal.Zero, nil, err
		}
		total = total.Add(onHand)
		breakdown = append(breakdown, LocationOnHand{Location: loc, OnHand: onHand})
	}
	return total, breakdown, nil
}
