package depletionsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/depletions_backend/config"
	"github.com/mmdatafocus/depletions_backend/ingest"
	"github.com/mmdatafocus/depletions_backend/models"
	"github.com/mmdatafocus/depletions_backend/testhelper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeAPI struct {
	failDepletions atomic.Bool
	calls          atomic.Int32
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.calls.Add(1)
	if r.Header.Get("X-API-Key") != "secret" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case inventoryPath:
		fmt.Fprint(w, `{"data":[{"id":"inv-1","sku":"A","location":"east","quantity":500,"as_of":"2026-02-01T00:00:00Z"}],"has_more":false}`)
	case depletionsPath:
		if f.failDepletions.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, `{"error":"maintenance"}`)
			return
		}
		if r.URL.Query().Get("cursor") == "" {
			fmt.Fprint(w, `{"data":[
				{"id":"dep-1","sku":"A","location":"east","quantity":20,"occurred_at":"2026-02-02T10:00:00Z","channel":"retail"},
				{"id":"dep-2","sku":"A","location":"east","quantity":5,"occurred_at":"2026-02-02T11:00:00Z","order_id":null}
			],"next_cursor":"page-2","has_more":true}`)
			return
		}
		fmt.Fprint(w, `{"data":[
			{"id":"dep-3","sku":"A","location":"east","quantity":7,"occurred_at":"2026-02-03T09:00:00Z"},
			{"id":"dep-9","sku":"UNTRACKED","location":"east","quantity":1,"occurred_at":"2026-02-03T09:30:00Z"}
		],"next_cursor":"","has_more":false}`)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func setupWorker(t *testing.T) (*gorm.DB, *Worker, *fakeAPI, models.SourceConnection) {
	t.Helper()
	api := &fakeAPI{}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	t.Setenv("DEPLETION_API_BASE_URL", srv.URL)
	t.Setenv("DEPLETION_API_RATE_LIMIT_PER_MIN", "600000")

	db := testhelper.SetupTestDB(t, "A")
	conn := models.SourceConnection{
		Provider:      models.IntegrationProviderDepletionAPI,
		AccountId:     "acct-1",
		AuthSecretRef: "secret",
		SyncStatus:    models.SyncStatusNeverSynced,
	}
	require.NoError(t, db.Create(&conn).Error)
	return db, NewWorker(db, ingest.NewService(db)), api, conn
}

func queue(t *testing.T, db *gorm.DB, connID uint) models.SyncRun {
	t.Helper()
	run := models.SyncRun{ConnectionId: connID, Status: models.SyncRunStatusQueued, TriggeredBy: models.SyncTriggeredManual}
	require.NoError(t, db.Create(&run).Error)
	return run
}

func reload[T any](t *testing.T, db *gorm.DB, id uint) T {
	t.Helper()
	var out T
	require.NoError(t, db.Where("id = ?", id).Take(&out).Error)
	return out
}

func TestProcessSyncRunIngestsBothEndpoints(t *testing.T) {
	ctx := context.Background()
	db, worker, _, conn := setupWorker(t)
	run := queue(t, db, conn.ID)

	require.NoError(t, worker.ProcessSyncRun(ctx, run.ID))

	run = reload[models.SyncRun](t, db, run.ID)
	assert.Equal(t, models.SyncRunStatusPartial, run.Status)
	assert.Equal(t, 4, run.RecordsSynced)
	assert.Equal(t, 1, run.ErrorCount)
	require.NotNil(t, run.FinishedAt)

	var syncErrors []models.SyncError
	require.NoError(t, db.Where("sync_run_id = ?", run.ID).Find(&syncErrors).Error)
	require.Len(t, syncErrors, 1)
	assert.Equal(t, "dep-9", syncErrors[0].ExternalId)
	assert.Equal(t, "sku", syncErrors[0].Field)
	assert.Equal(t, "unknown SKU: UNTRACKED", syncErrors[0].Message)

	conn = reload[models.SourceConnection](t, db, conn.ID)
	assert.Equal(t, models.SyncStatusSynced, conn.SyncStatus)
	assert.NotNil(t, conn.LastSuccessSyncAt)
	cursor := DecodeCursorState(conn.CursorStateJSON)
	assert.Empty(t, cursor.Depletions.Cursor)
	assert.NotEmpty(t, cursor.Depletions.UpdatedSince)

	var snapshot models.InventoryEvent
	require.NoError(t, db.Where("source = ? AND event_type = ?", "api:inventory", models.EventTypeSnapshot).Take(&snapshot).Error)
	assert.Equal(t, "500", snapshot.Quantity.String())

	var retail models.InventoryEvent
	require.NoError(t, db.Where("source_record_id = ?", "dep-1").Take(&retail).Error)
	assert.Equal(t, "retail", retail.Channel)

	// redelivered pages are absorbed by the ledger
	again := queue(t, db, conn.ID)
	require.NoError(t, worker.ProcessSyncRun(ctx, again.ID))
	again = reload[models.SyncRun](t, db, again.ID)
	assert.Equal(t, 0, again.RecordsSynced)
	assert.Equal(t, 4, again.Duplicates)

	var n int64
	require.NoError(t, db.Model(&models.InventoryEvent{}).Count(&n).Error)
	assert.EqualValues(t, 4, n)
}

func TestProcessSyncRunEndpointFailureMovesToRetrying(t *testing.T) {
	ctx := context.Background()
	db, worker, api, conn := setupWorker(t)
	api.failDepletions.Store(true)
	run := queue(t, db, conn.ID)

	require.NoError(t, worker.ProcessSyncRun(ctx, run.ID))

	run = reload[models.SyncRun](t, db, run.ID)
	assert.Equal(t, models.SyncRunStatusPartial, run.Status)
	assert.Equal(t, 1, run.RecordsSynced)

	var syncErr models.SyncError
	require.NoError(t, db.Where("sync_run_id = ? AND endpoint = ?", run.ID, "depletions").Take(&syncErr).Error)
	assert.True(t, syncErr.Retryable)
	assert.Contains(t, syncErr.Message, "503")

	conn = reload[models.SourceConnection](t, db, conn.ID)
	assert.Equal(t, models.SyncStatusRetrying, conn.SyncStatus)
	assert.Equal(t, 1, conn.ConsecutiveFails)
	assert.Nil(t, conn.LastSuccessSyncAt)

	api.failDepletions.Store(false)
	retry := queue(t, db, conn.ID)
	require.NoError(t, worker.ProcessSyncRun(ctx, retry.ID))
	conn = reload[models.SourceConnection](t, db, conn.ID)
	assert.Equal(t, models.SyncStatusSynced, conn.SyncStatus)
	assert.Equal(t, 0, conn.ConsecutiveFails)
}

func TestProcessSyncRunSkipsFinishedRuns(t *testing.T) {
	db, worker, api, conn := setupWorker(t)
	run := models.SyncRun{ConnectionId: conn.ID, Status: models.SyncRunStatusSuccess}
	require.NoError(t, db.Create(&run).Error)

	require.NoError(t, worker.ProcessSyncRun(context.Background(), run.ID))
	assert.EqualValues(t, 0, api.calls.Load())
}

func TestProcessSyncRunRefusesConcurrentRun(t *testing.T) {
	db, worker, _, conn := setupWorker(t)
	require.NoError(t, db.Model(&conn).Update("sync_status", models.SyncStatusSyncing).Error)
	run := queue(t, db, conn.ID)

	err := worker.ProcessSyncRun(context.Background(), run.ID)
	assert.ErrorIs(t, err, ErrSyncInProgress)
}

func TestPubSubPushHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db, worker, _, conn := setupWorker(t)
	run := queue(t, db, conn.ID)

	r := gin.New()
	r.POST("/pubsub/depletion-sync", PubSubPushHandler(worker))

	data, err := json.Marshal(SyncPubSubPayload{RunId: run.ID, ConnectionId: conn.ID})
	require.NoError(t, err)
	var envelope PubSubPushEnvelope
	envelope.Message.Data = data
	envelope.Message.ID = "msg-1"
	body, err := json.Marshal(envelope)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/pubsub/depletion-sync", bytes.NewReader(body)))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, models.SyncRunStatusPartial, reload[models.SyncRun](t, db, run.ID).Status)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/pubsub/depletion-sync", bytes.NewReader([]byte("not json"))))
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestTriggerSyncHandlerQueuesAndPublishes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db, _, _, conn := setupWorker(t)
	prevDB := config.GetDB()
	config.SetDB(db)
	t.Cleanup(func() { config.SetDB(prevDB) })

	var published []uint
	prevPublish := publishSyncRun
	publishSyncRun = func(_ context.Context, runID uint, _ uint) error {
		published = append(published, runID)
		return nil
	}
	t.Cleanup(func() { publishSyncRun = prevPublish })

	r := gin.New()
	r.POST("/api/sync/trigger", TriggerSyncHandler())
	r.GET("/api/sync/runs/:id", SyncRunDetailHandler())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/sync/trigger", bytes.NewReader([]byte(fmt.Sprintf(`{"connectionId":%d}`, conn.ID)))))
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp struct {
		ID uint `json:"id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, []uint{resp.ID}, published)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/sync/runs/%d", resp.ID), nil))
	require.Equal(t, http.StatusOK, w.Code)
	var detail SyncRunDetailResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &detail))
	assert.Equal(t, models.SyncRunStatusQueued, detail.Status)
	assert.Empty(t, detail.Errors)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/sync/trigger", bytes.NewReader([]byte(`{}`))))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
