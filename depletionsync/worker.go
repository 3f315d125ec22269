package depletionsync

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/mmdatafocus/depletions_backend/config"
	"github.com/mmdatafocus/depletions_backend/ingest"
	"github.com/mmdatafocus/depletions_backend/ledger"
	"github.com/mmdatafocus/depletions_backend/models"
	"github.com/mmdatafocus/depletions_backend/normalizer"
	"github.com/mmdatafocus/depletions_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const initialLookback = 30 * 24 * time.Hour

// Worker executes queued sync runs. It only feeds records to the ingest
// service; the ledger tolerates redelivered pages.
type Worker struct {
	db        *gorm.DB
	ingest    *ingest.Service
	newClient func(apiKey string) (*Client, error)
	logger    *logrus.Logger
	now       func() time.Time
}

func NewWorker(db *gorm.DB, svc *ingest.Service) *Worker {
	return &Worker{
		db:        db,
		ingest:    svc,
		newClient: NewClient,
		logger:    config.GetLogger(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

type endpointResult struct {
	inserted   int
	duplicates int
	rowErrors  int
	err        error
}

// ProcessSyncRun runs one queued sync run to completion. Endpoint failures are
// recorded on the run and move the connection to retrying; only storage
// failures of the run bookkeeping itself are returned.
func (w *Worker) ProcessSyncRun(ctx context.Context, runID uint) error {
	if runID == 0 {
		return errors.New("invalid run id")
	}
	db := w.db.WithContext(ctx)

	var run models.SyncRun
	if err := db.Where("id = ?", runID).Take(&run).Error; err != nil {
		return err
	}
	if run.Status == models.SyncRunStatusSuccess || run.Status == models.SyncRunStatusFailed || run.Status == models.SyncRunStatusPartial {
		return nil
	}

	var conn models.SourceConnection
	if err := db.Where("id = ?", run.ConnectionId).Take(&conn).Error; err != nil {
		return err
	}

	from := conn.SyncStatus
	if from == models.SyncStatusSyncing && run.Status == models.SyncRunStatusRunning {
		// redelivery of a run that died mid-way
		from = models.SyncStatusRetrying
	}
	syncing, err := transition(from, eventStart)
	if err != nil {
		return err
	}
	if err := db.Model(&conn).Update("sync_status", syncing).Error; err != nil {
		return err
	}
	conn.SyncStatus = syncing

	startedAt := w.now()
	if run.StartedAt != nil {
		startedAt = *run.StartedAt
	}
	if err := db.Model(&run).Updates(map[string]interface{}{
		"status":     models.SyncRunStatusRunning,
		"started_at": startedAt,
	}).Error; err != nil {
		return err
	}

	cursorState := DecodeCursorState(conn.CursorStateJSON)
	stats := datatypes.JSONMap{}
	totalInserted, totalDuplicates, errorCount, failedEndpoints := 0, 0, 0, 0

	client, clientErr := w.newClient(conn.AuthSecretRef)
	for _, ep := range endpoints {
		var res endpointResult
		if clientErr != nil {
			res.err = clientErr
		} else {
			res = w.syncEndpoint(ctx, run.ID, &conn, client, ep, cursorState.entry(ep.Name), startedAt)
		}
		stats[ep.Name] = map[string]interface{}{
			"inserted":   res.inserted,
			"duplicates": res.duplicates,
			"row_errors": res.rowErrors,
		}
		totalInserted += res.inserted
		totalDuplicates += res.duplicates
		errorCount += res.rowErrors
		if res.err != nil {
			failedEndpoints++
			errorCount++
			w.recordError(ctx, run.ID, ep.Name, "", "", res.err.Error(), isRetryable(res.err))
			config.LogError(w.logger, "depletionsync", "ProcessSyncRun", ep.Name, run.ID, res.err)
		}
	}

	finishedAt := w.now()
	status := models.SyncRunStatusSuccess
	switch {
	case failedEndpoints == len(endpoints) || (failedEndpoints > 0 && totalInserted+totalDuplicates == 0):
		status = models.SyncRunStatusFailed
	case errorCount > 0:
		status = models.SyncRunStatusPartial
	}

	if err := db.Model(&run).Updates(map[string]interface{}{
		"status":         status,
		"finished_at":    finishedAt,
		"duration_ms":    finishedAt.Sub(startedAt).Milliseconds(),
		"records_synced": totalInserted,
		"duplicates":     totalDuplicates,
		"error_count":    errorCount,
		"stats":          stats,
	}).Error; err != nil {
		return err
	}

	event := eventSucceed
	if failedEndpoints > 0 {
		event = eventFail
	}
	next, err := transition(conn.SyncStatus, event)
	if err != nil {
		return err
	}
	connUpdates := map[string]interface{}{
		"sync_status":       next,
		"last_sync_at":      finishedAt,
		"cursor_state_json": EncodeCursorState(cursorState),
	}
	if event == eventSucceed {
		connUpdates["last_success_sync_at"] = finishedAt
		connUpdates["consecutive_fails"] = 0
	} else {
		connUpdates["consecutive_fails"] = gorm.Expr("consecutive_fails + 1")
	}
	if err := db.Model(&models.SourceConnection{}).Where("id = ?", conn.ID).Updates(connUpdates).Error; err != nil {
		return err
	}

	w.logger.WithFields(logrus.Fields{
		"run_id":        run.ID,
		"connection_id": conn.ID,
		"status":        status,
		"inserted":      totalInserted,
		"duplicates":    totalDuplicates,
		"errors":        errorCount,
	}).Info("[depletionsync.run]")
	return nil
}

// syncEndpoint pages through one endpoint. The cursor advances after every
// ingested page, so a failed run resumes where it stopped.
func (w *Worker) syncEndpoint(ctx context.Context, runID uint, conn *models.SourceConnection, client *Client, ep endpoint, cursor *CursorEntry, startedAt time.Time) endpointResult {
	var res endpointResult

	updatedSince := strings.TrimSpace(cursor.UpdatedSince)
	if updatedSince == "" && conn.LastSuccessSyncAt != nil {
		updatedSince = conn.LastSuccessSyncAt.UTC().Format(time.RFC3339)
	}
	if updatedSince == "" {
		updatedSince = startedAt.Add(-initialLookback).UTC().Format(time.RFC3339)
	}
	nextCursor := strings.TrimSpace(cursor.Cursor)

	ctx = utils.SetSourceInContext(ctx, ep.Hint)
	occ := ledger.NewOccurrences()
	for {
		params := url.Values{}
		params.Set("updated_since", updatedSince)
		if nextCursor != "" {
			params.Set("cursor", nextCursor)
		}
		params.Set("limit", pageLimit)

		resp, err := client.getList(ctx, ep.Path, params)
		if err != nil {
			res.err = err
			return res
		}

		page := resp.records()
		records := make([]normalizer.RawRecord, 0, len(page))
		for _, raw := range page {
			rec, err := normalizer.DecodeRecord(raw)
			if err != nil {
				res.rowErrors++
				w.recordError(ctx, runID, ep.Name, "", "", "invalid_payload: "+err.Error(), false)
				continue
			}
			records = append(records, rec)
		}

		summary, err := w.ingest.IngestBatchWithin(ctx, records, ep.Hint, occ)
		if summary != nil {
			res.inserted += summary.Inserted
			res.duplicates += summary.Duplicates
			res.rowErrors += len(summary.Errors)
			for _, rowErr := range summary.Errors {
				w.recordError(ctx, runID, ep.Name, records[rowErr.Row-1]["id"], rowErr.Field, rowErr.Message, false)
			}
		}
		if err != nil {
			res.err = err
			return res
		}

		if resp.done() {
			cursor.UpdatedSince = startedAt.Format(time.RFC3339)
			cursor.Cursor = ""
			return res
		}
		nextCursor = resp.NextCursor
		cursor.UpdatedSince = updatedSince
		cursor.Cursor = nextCursor
	}
}

func (w *Worker) recordError(ctx context.Context, runID uint, endpoint, externalID, field, message string, retryable bool) {
	row := models.SyncError{
		SyncRunId:  runID,
		Endpoint:   endpoint,
		ExternalId: externalID,
		Field:      field,
		Message:    message,
		Retryable:  retryable,
	}
	if err := w.db.WithContext(ctx).Create(&row).Error; err != nil {
		config.LogError(w.logger, "depletionsync", "recordError", endpoint, row, err)
	}
}

func isRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	if errors.Is(err, normalizer.ErrSchemaUnrecognized) {
		return false
	}
	var syntaxErr *json.SyntaxError
	return !errors.As(err, &syntaxErr)
}
