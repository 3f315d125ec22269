// Package metrics derives operational KPIs (days on hand, ship:dep ratio and
// velocity trend) from the ledger and the projector.
//
// All arithmetic is full-precision decimal; rounding happens only when a Value
// is formatted. Zero denominators yield undefined values, never errors.
package metrics

import (
	"context"
	"time"

	"github.com/mmdatafocus/depletions_backend/config"
	"github.com/mmdatafocus/depletions_backend/ledger"
	"github.com/mmdatafocus/depletions_backend/models"
	"github.com/mmdatafocus/depletions_backend/projector"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("depletions-metrics")

const defaultParallelism = 8

const (
	TrendAccelerating = "accelerating"
	TrendDecelerating = "decelerating"
	TrendStable       = "stable"
	TrendUndefined    = "undefined"
)

// Reader is the ledger surface the engine needs.
type Reader interface {
	projector.Reader
	Watermark(ctx context.Context, sku string) (ledger.Watermark, error)
}

type WindowMetrics struct {
	Days           int             `json:"days"`
	DepletionTotal decimal.Decimal `json:"depletion_total"`
	ShipmentTotal  decimal.Decimal `json:"shipment_total"`
	DepletionRate  Value           `json:"depletion_rate"`
	ShipmentRate   Value           `json:"shipment_rate"`
	DOH            Value           `json:"doh"`
	ShipDepRatio   Value           `json:"ship_dep_ratio"`
}

type Trend struct {
	Ratio     Value  `json:"ratio"`
	Direction string `json:"direction"`
}

// Snapshot is the derived metric set for one query. It is never stored as a
// source of truth.
type Snapshot struct {
	SKU              string                     `json:"sku"`
	Location         *string                    `json:"location,omitempty"`
	Segment          *string                    `json:"segment,omitempty"`
	Source           *string                    `json:"source,omitempty"`
	AsOf             time.Time                  `json:"as_of"`
	OnHand           decimal.Decimal            `json:"on_hand"`
	OnHandByLocation []projector.LocationOnHand `json:"on_hand_by_location,omitempty"`
	Windows          []WindowMetrics            `json:"windows"`
	DepletionTrend   Trend                      `json:"depletion_trend"`
	ShipmentTrend    Trend                      `json:"shipment_trend"`
	Watermark        uint64                     `json:"watermark"`
}

// Window returns the metrics for a requested window length.
func (s *Snapshot) Window(days int) (WindowMetrics, bool) {
	for _, w := range s.Windows {
		if w.Days == days {
			return w, true
		}
	}
	return WindowMetrics{}, false
}

// inputs are the ledger reads behind a snapshot. They are what gets cached,
// so cached results keep full precision.
type inputs struct {
	Watermark        uint64                     `json:"watermark"`
	OnHand           decimal.Decimal            `json:"on_hand"`
	OnHandByLocation []projector.LocationOnHand `json:"on_hand_by_location,omitempty"`
	Depletions       map[int]decimal.Decimal    `json:"depletions"`
	Shipments        map[int]decimal.Decimal    `json:"shipments"`
}

type Engine struct {
	reader      Reader
	projector   *projector.Projector
	cache       Cache
	cacheTTL    time.Duration
	slow        time.Duration
	parallelism int
	logger      *logrus.Logger
}

// NewEngine reads through reader. The Redis cache is installed when
// ENABLE_METRICS_CACHE is set.
func NewEngine(reader Reader) *Engine {
	e := &Engine{
		reader:      reader,
		projector:   projector.New(reader),
		cacheTTL:    config.MetricsCacheTTL(),
		slow:        config.MetricsSlowThreshold(),
		parallelism: defaultParallelism,
		logger:      config.GetLogger(),
	}
	if config.MetricsCacheEnabled() {
		e.cache = RedisCache{}
	}
	return e
}

// WithCache replaces the cache; nil disables caching.
func (e *Engine) WithCache(c Cache) *Engine {
	cp := *e
	cp.cache = c
	return &cp
}

func (e *Engine) WithParallelism(n int) *Engine {
	cp := *e
	if n > 0 {
		cp.parallelism = n
	}
	return &cp
}

// Compute returns the snapshot for q. Only structural failures (invalid query,
// ledger unavailable) are errors.
func (e *Engine) Compute(ctx context.Context, q Query) (*Snapshot, error) {
	q = q.normalized()
	if err := q.Validate(); err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "metrics.Compute", trace.WithAttributes(
		attribute.String("sku", q.SKU),
		attribute.String("as_of", q.AsOf.Format(time.RFC3339)),
	))
	defer span.End()

	start := time.Now()
	in, err := e.load(ctx, q)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	snapshot := derive(q, in)

	if elapsed := time.Since(start); elapsed > e.slow {
		e.logger.WithFields(logrus.Fields{
			"sku":       q.SKU,
			"as_of":     q.AsOf,
			"windows":   q.Windows,
			"elapsedMs": elapsed.Milliseconds(),
		}).Warn("[metrics.slow]")
	}
	return snapshot, nil
}

func (e *Engine) load(ctx context.Context, q Query) (*inputs, error) {
	watermark, err := e.reader.Watermark(ctx, q.SKU)
	if err != nil {
		return nil, err
	}

	var key string
	if e.cache != nil {
		key = q.cacheKey(watermark)
		var cached inputs
		found, err := e.cache.Get(ctx, key, &cached)
		if err != nil {
			config.LogError(e.logger, "metrics", "load", "cache get", key, err)
		} else if found {
			return &cached, nil
		}
	}

	in := &inputs{Watermark: watermark.Sequence}
	if q.Location != nil {
		in.OnHand, err = e.projector.OnHand(ctx, q.SKU, *q.Location, q.AsOf)
	} else {
		in.OnHand, in.OnHandByLocation, err = e.projector.OnHandAll(ctx, q.SKU, q.AsOf)
	}
	if err != nil {
		return nil, err
	}

	in.Depletions, in.Shipments, err = e.windowTotals(ctx, q)
	if err != nil {
		return nil, err
	}

	if e.cache != nil {
		if err := e.cache.Set(ctx, key, in, e.cacheTTL); err != nil {
			config.LogError(e.logger, "metrics", "load", "cache set", key, err)
		}
	}
	return in, nil
}

// windowTotals reads the widest window once through the time index and sums
// every narrower window from the same events.
func (e *Engine) windowTotals(ctx context.Context, q Query) (map[int]decimal.Decimal, map[int]decimal.Decimal, error) {
	events, err := e.reader.Range(ctx, ledger.RangeQuery{
		SKU:      q.SKU,
		Location: q.Location,
		Source:   q.Source,
		Channel:  q.Segment,
		Types:    []models.EventType{models.EventTypeDepletion, models.EventTypeShipment},
		Start:    q.AsOf.AddDate(0, 0, -q.fetchDays()),
		End:      q.AsOf,
	})
	if err != nil {
		return nil, nil, err
	}

	windows := append([]int{trendShortDays, trendLongDays}, q.Windows...)
	depletions := make(map[int]decimal.Decimal, len(windows))
	shipments := make(map[int]decimal.Decimal, len(windows))
	for _, w := range windows {
		if _, done := depletions[w]; done {
			continue
		}
		from := q.AsOf.AddDate(0, 0, -w)
		dep, ship := decimal.Zero, decimal.Zero
		for i := range events {
			ev := &events[i]
			if ev.OccurredAt.Before(from) {
				continue
			}
			switch ev.EventType {
			case models.EventTypeDepletion:
				dep = dep.Add(ev.Quantity.Abs())
			case models.EventTypeShipment:
				ship = ship.Add(ev.Quantity.Abs())
			}
		}
		depletions[w] = dep
		shipments[w] = ship
	}
	return depletions, shipments, nil
}

func derive(q Query, in *inputs) *Snapshot {
	s := &Snapshot{
		SKU:              q.SKU,
		Location:         q.Location,
		Segment:          q.Segment,
		Source:           q.Source,
		AsOf:             q.AsOf,
		OnHand:           in.OnHand,
		OnHandByLocation: in.OnHandByLocation,
		Windows:          make([]WindowMetrics, 0, len(q.Windows)),
		Watermark:        in.Watermark,
	}
	for _, w := range q.Windows {
		s.Windows = append(s.Windows, windowMetrics(w, in.OnHand, in.Depletions[w], in.Shipments[w]))
	}
	s.DepletionTrend = velocityTrend(in.Depletions[trendShortDays], in.Depletions[trendLongDays], ReasonNoDepletionHistory)
	s.ShipmentTrend = velocityTrend(in.Shipments[trendShortDays], in.Shipments[trendLongDays], ReasonNoShipmentHistory)
	return s
}

func windowMetrics(days int, onHand, depletions, shipments decimal.Decimal) WindowMetrics {
	d := decimal.NewFromInt(int64(days))
	m := WindowMetrics{
		Days:           days,
		DepletionTotal: depletions,
		ShipmentTotal:  shipments,
		DepletionRate:  Defined(depletions.Div(d)),
		ShipmentRate:   Defined(shipments.Div(d)),
	}
	if depletions.IsZero() {
		m.DOH = Undefined(ReasonNoDepletion)
		m.ShipDepRatio = Undefined(ReasonNoDepletion)
		return m
	}
	// on_hand / (depletions / days) in a single division
	m.DOH = Defined(onHand.Mul(d).Div(depletions))
	m.ShipDepRatio = Defined(shipments.Div(depletions))
	return m
}

// velocityTrend is rate(30) / rate(90), computed as
// (short * 90) / (long * 30) to keep a single division.
func velocityTrend(short, long decimal.Decimal, reason string) Trend {
	if long.IsZero() {
		return Trend{Ratio: Undefined(reason), Direction: TrendUndefined}
	}
	ratio := short.Mul(decimal.NewFromInt(trendLongDays)).Div(long.Mul(decimal.NewFromInt(trendShortDays)))
	t := Trend{Ratio: Defined(ratio)}
	switch ratio.Cmp(decimal.NewFromInt(1)) {
	case 1:
		t.Direction = TrendAccelerating
	case -1:
		t.Direction = TrendDecelerating
	default:
		t.Direction = TrendStable
	}
	return t
}

// Result is one SKU's outcome inside a batch.
type Result struct {
	SKU      string    `json:"sku"`
	Snapshot *Snapshot `json:"metrics,omitempty"`
	Err      error     `json:"-"`
	Error    string    `json:"error,omitempty"`
}

// ComputeBatch computes q for every SKU in skus. Each SKU gets a result in
// request order; one SKU's failure never affects the others.
func (e *Engine) ComputeBatch(ctx context.Context, skus []string, q Query) []Result {
	results := make([]Result, len(skus))

	var g errgroup.Group
	g.SetLimit(e.parallelism)
	for i, sku := range skus {
		g.Go(func() error {
			sq := q
			sq.SKU = sku
			snapshot, err := e.Compute(ctx, sq)
			results[i] = Result{SKU: sku, Snapshot: snapshot, Err: err}
			if err != nil {
				results[i].Error = err.Error()
				config.LogError(e.logger, "metrics", "ComputeBatch", "compute", sku, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}
