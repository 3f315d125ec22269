// Package ingest runs one batch of raw records through the normalizer and the
// ledger and reports what happened to every row.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/depletions_backend/config"
	"github.com/mmdatafocus/depletions_backend/ledger"
	"github.com/mmdatafocus/depletions_backend/models"
	"github.com/mmdatafocus/depletions_backend/normalizer"
	"github.com/mmdatafocus/depletions_backend/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("depletions-ingest")

// Summary is returned for every batch that got past schema selection, even
// when a ledger failure stopped it part way.
type Summary struct {
	BatchID    string                `json:"batch_id"`
	Source     string                `json:"source"`
	Rows       int                   `json:"rows"`
	Inserted   int                   `json:"inserted_count"`
	Duplicates int                   `json:"duplicate_count"`
	Errors     []normalizer.RowError `json:"errors"`
}

type Service struct {
	db         *gorm.DB
	ledger     *ledger.Ledger
	logger     *logrus.Logger
	lockTTL    time.Duration
	openObject ObjectOpener
}

func NewService(db *gorm.DB) *Service {
	return &Service{
		db:         db,
		ledger:     ledger.New(db),
		logger:     config.GetLogger(),
		lockTTL:    config.IngestLockTTL(),
		openObject: openGCSObject,
	}
}

// WithLedger swaps the ledger, e.g. one with a different content-collapse mode.
func (s *Service) WithLedger(l *ledger.Ledger) *Service {
	cp := *s
	cp.ledger = l
	return &cp
}

func (s *Service) Ledger() *ledger.Ledger { return s.ledger }

// headerUnion collects the field names used anywhere in the batch. API records
// may omit optional fields row by row.
func headerUnion(records []normalizer.RawRecord) []string {
	seen := make(map[string]struct{})
	for _, r := range records {
		for k := range r {
			seen[k] = struct{}{}
		}
	}
	headers := make([]string, 0, len(seen))
	for k := range seen {
		headers = append(headers, k)
	}
	sort.Strings(headers)
	return headers
}

// IngestBatch normalizes and appends records. A *normalizer.SchemaUnrecognizedError
// comes back before any row is touched. Row problems are itemized in the
// summary, numbered from 1. A ledger failure returns the partial summary
// alongside the error.
func (s *Service) IngestBatch(ctx context.Context, records []normalizer.RawRecord, sourceHint string) (*Summary, error) {
	return s.IngestBatchWithin(ctx, records, sourceHint, nil)
}

// IngestBatchWithin is IngestBatch numbering identical content rows against
// occ, which callers share across the pages of one logical upload. A nil occ
// scopes the numbering to this batch.
func (s *Service) IngestBatchWithin(ctx context.Context, records []normalizer.RawRecord, sourceHint string, occ *ledger.Occurrences) (*Summary, error) {
	ctx, correlationID := utils.EnsureCorrelationId(ctx)
	ctx, span := tracer.Start(ctx, "ingest.IngestBatch")
	defer span.End()

	summary := &Summary{Source: sourceHint, Rows: len(records), Errors: []normalizer.RowError{}}
	if len(records) == 0 {
		if hint := strings.TrimSpace(sourceHint); hint != "" {
			if _, ok := normalizer.Lookup(hint); !ok {
				err := &normalizer.SchemaUnrecognizedError{Hint: hint}
				span.SetStatus(codes.Error, err.Error())
				return nil, err
			}
		}
		return summary, nil
	}

	schema, err := normalizer.SelectSchema(headerUnion(records), sourceHint)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	source := schema.Adapter.ID
	summary.Source = source
	summary.BatchID = uuid.NewString()
	span.SetAttributes(
		attribute.String("source", source),
		attribute.String("batch_id", summary.BatchID),
		attribute.Int("rows", len(records)),
	)
	ctx = utils.SetSourceInContext(ctx, source)
	ctx = utils.SetBatchIdInContext(ctx, summary.BatchID)

	lockCtx, release, err := utils.SourceLock(ctx, source, s.lockTTL, "ingest", "IngestBatch")
	if err != nil {
		return nil, err
	}
	defer release()
	ctx = lockCtx

	start := time.Now()
	allowList, err := models.GetActiveProductCodes(ctx, s.db)
	if err != nil {
		return nil, &ledger.UnavailableError{Op: "allow_list", Source: source, Err: err}
	}
	n := normalizer.New(allowList)

	events := make([]*models.InventoryEvent, 0, len(records))
	locations := make(map[string]struct{})
	for i, raw := range records {
		ev, rowErr := n.NormalizeRow(schema, raw)
		if rowErr != nil {
			rowErr.Row = i + 1
			summary.Errors = append(summary.Errors, *rowErr)
			continue
		}
		ev.BatchID = summary.BatchID
		events = append(events, ev)
		locations[ev.Location] = struct{}{}
	}

	if err := s.registerSource(ctx, schema.Adapter, locations); err != nil {
		config.LogError(s.logger, "ingest", "IngestBatch", "register source", source, err)
	}

	outcomes, appendErr := s.ledger.AppendBatchWithin(ctx, events, occ)
	for _, o := range outcomes {
		switch o {
		case ledger.Inserted:
			summary.Inserted++
		case ledger.DuplicateSkipped:
			summary.Duplicates++
		}
	}

	fields := logrus.Fields{
		"correlation_id": correlationID,
		"batch_id":       summary.BatchID,
		"source":         source,
		"rows":           summary.Rows,
		"inserted":       summary.Inserted,
		"duplicates":     summary.Duplicates,
		"row_errors":     len(summary.Errors),
		"elapsedMs":      time.Since(start).Milliseconds(),
	}
	if appendErr != nil && utils.LockLost(ctx) {
		appendErr = fmt.Errorf("%w: %v", utils.ErrSourceLockLost, appendErr)
	}
	if appendErr != nil {
		span.RecordError(appendErr)
		span.SetStatus(codes.Error, appendErr.Error())
		config.LogError(s.logger, "ingest", "IngestBatch", "append batch", fields, appendErr)
		return summary, appendErr
	}
	s.logger.WithFields(fields).Info("[ingest.batch]")
	return summary, nil
}

func (s *Service) registerSource(ctx context.Context, a *normalizer.Adapter, locations map[string]struct{}) error {
	var errs []error
	if err := models.EnsureSource(ctx, s.db, a.ID, a.Kind, a.Description); err != nil {
		errs = append(errs, err)
	}
	for loc := range locations {
		if err := models.EnsureLocation(ctx, s.db, loc, models.LocationKindWarehouse); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
