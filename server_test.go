package main

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/depletions_backend/config"
	"github.com/mmdatafocus/depletions_backend/ingest"
	"github.com/mmdatafocus/depletions_backend/testhelper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type windowJSON struct {
	Days         int               `json:"days"`
	DOH          map[string]string `json:"doh"`
	ShipDepRatio map[string]string `json:"ship_dep_ratio"`
}

type metricsJSON struct {
	Results []struct {
		SKU     string `json:"sku"`
		Error   string `json:"error"`
		Metrics *struct {
			OnHand  string       `json:"on_hand"`
			Windows []windowJSON `json:"windows"`
		} `json:"metrics"`
	} `json:"results"`
}

func setupRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := testhelper.SetupTestDB(t, "A", "B")
	prev := config.GetDB()
	config.SetDB(db)
	t.Cleanup(func() { config.SetDB(prev) })
	return newRouter(newApp(db))
}

func do(t *testing.T, r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func postJSON(t *testing.T, r http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	return do(t, r, req)
}

func TestIngestThenMetricsAndSeries(t *testing.T) {
	r := setupRouter(t)

	w := postJSON(t, r, "/api/ingest/records", `{"source":"api:inventory","records":[
		{"id":"s-1","sku":"A","location":"east","quantity":300,"as_of":"2026-03-01T00:00:00Z"}
	]}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var summary ingest.Summary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summary))
	assert.Equal(t, 1, summary.Inserted)
	assert.Equal(t, "api:inventory", summary.Source)

	w = postJSON(t, r, "/api/ingest/records", `{"source":"api:depletions","records":[
		{"id":"d-1","sku":"A","location":"east","quantity":60,"occurred_at":"2026-03-10T12:00:00Z","channel":"retail"},
		{"id":"d-2","sku":"A","location":"east","quantity":30,"occurred_at":"2026-03-20T12:00:00Z"}
	]}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, r, httptest.NewRequest(http.MethodGet, "/api/metrics?sku=A,B&as_of=2026-04-01&window=30", nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp metricsJSON
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 2)

	a := resp.Results[0]
	assert.Equal(t, "A", a.SKU)
	require.NotNil(t, a.Metrics)
	assert.Equal(t, "210", a.Metrics.OnHand)
	require.Len(t, a.Metrics.Windows, 1)
	assert.Equal(t, 30, a.Metrics.Windows[0].Days)
	assert.Equal(t, map[string]string{"status": "ok", "value": "70.00"}, a.Metrics.Windows[0].DOH)
	assert.Equal(t, map[string]string{"status": "ok", "value": "0.00"}, a.Metrics.Windows[0].ShipDepRatio)

	b := resp.Results[1]
	assert.Equal(t, "B", b.SKU)
	assert.Empty(t, b.Error)
	require.NotNil(t, b.Metrics)
	assert.Equal(t, "no_data", b.Metrics.Windows[0].DOH["status"])
	assert.Equal(t, "no_depletion_in_window", b.Metrics.Windows[0].DOH["reason"])

	w = do(t, r, httptest.NewRequest(http.MethodGet, "/api/series?sku=A&to=2026-03-15", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var series struct {
		Count  int `json:"count"`
		Events []struct {
			EventType string `json:"event_type"`
			Quantity  string `json:"quantity"`
		} `json:"events"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &series))
	require.Equal(t, 2, series.Count)
	assert.Equal(t, "snapshot", series.Events[0].EventType)
	assert.Equal(t, "depletion", series.Events[1].EventType)
	assert.Equal(t, "60", series.Events[1].Quantity)

	w = do(t, r, httptest.NewRequest(http.MethodGet, "/api/series?sku=A&segment=retail", nil))
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &series))
	assert.Equal(t, 1, series.Count)
}

func TestIngestRecordsRejectsUnknownLayout(t *testing.T) {
	r := setupRouter(t)

	w := postJSON(t, r, "/api/ingest/records", `{"records":[{"foo":"bar"}]}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "schema unrecognized")

	w = postJSON(t, r, "/api/ingest/records", `{"records":[42]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUploadReport(t *testing.T) {
	r := setupRouter(t)

	upload := func(name, content string) *httptest.ResponseRecorder {
		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		fw, err := mw.CreateFormFile("file", name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
		require.NoError(t, mw.WriteField("source", "distributor_depletions"))
		require.NoError(t, mw.Close())
		req := httptest.NewRequest(http.MethodPost, "/api/ingest/upload", &body)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		return do(t, r, req)
	}

	w := upload("march.csv", "SKU,Qty,Ship Date\nA,5,03/15/2026\nQ,1,03/15/2026\n")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var summary ingest.Summary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summary))
	assert.Equal(t, 2, summary.Rows)
	assert.Equal(t, 1, summary.Inserted)
	require.Len(t, summary.Errors, 1)
	assert.Equal(t, 2, summary.Errors[0].Row)

	w = upload("march.pdf", "%PDF")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMetricsRequestValidation(t *testing.T) {
	r := setupRouter(t)

	for _, path := range []string{
		"/api/metrics",
		"/api/metrics?sku=A&window=abc",
		"/api/metrics?sku=A&window=0",
		"/api/metrics?sku=A&as_of=yesterday",
	} {
		w := do(t, r, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusBadRequest, w.Code, path)
	}

	w := do(t, r, httptest.NewRequest(http.MethodGet, "/api/series?sku=A&type=refund", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRoutesAndCorrelationID(t *testing.T) {
	r := setupRouter(t)

	w := do(t, r, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.NotEmpty(t, w.Header().Get("x-correlation-id"))

	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	req.Header.Set("x-correlation-id", "cid-1")
	w = do(t, r, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "cid-1", w.Header().Get("x-correlation-id"))

	w = do(t, bootRouter(), httptest.NewRequest(http.MethodGet, "/api/metrics?sku=A", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestSplitParams(t *testing.T) {
	assert.Equal(t, []string{"A", "B", "C"}, splitParams([]string{"A, B", "C", "A"}))
	assert.Empty(t, splitParams(nil))
}
