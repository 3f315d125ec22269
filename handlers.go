package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/depletions_backend/ingest"
	"github.com/mmdatafocus/depletions_backend/ledger"
	"github.com/mmdatafocus/depletions_backend/metrics"
	"github.com/mmdatafocus/depletions_backend/models"
	"github.com/mmdatafocus/depletions_backend/normalizer"
	"github.com/mmdatafocus/depletions_backend/utils"
)

type ingestRecordsRequest struct {
	Source  string            `json:"source"`
	Records []json.RawMessage `json:"records"`
}

type metricsResponse struct {
	AsOf    time.Time        `json:"as_of"`
	Results []metrics.Result `json:"results"`
}

type seriesResponse struct {
	SKU    string                  `json:"sku"`
	Count  int                     `json:"count"`
	Events []models.InventoryEvent `json:"events"`
}

func (a *app) ingestRecordsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ingestRecordsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		records := make([]normalizer.RawRecord, 0, len(req.Records))
		for i, raw := range req.Records {
			rec, err := normalizer.DecodeRecord(raw)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("record %d: %v", i+1, err)})
				return
			}
			records = append(records, rec)
		}
		summary, err := a.ingest.IngestBatch(c.Request.Context(), records, req.Source)
		if err != nil {
			writeIngestError(c, summary, err)
			return
		}
		c.JSON(http.StatusOK, summary)
	}
}

// writeIngestError maps batch failures onto status codes. A partial summary is
// returned alongside ledger failures so callers can see what was stored.
func writeIngestError(c *gin.Context, summary *ingest.Summary, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, normalizer.ErrSchemaUnrecognized):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, ingest.ErrUnsupportedFile), errors.Is(err, utils.ErrUnsupportedReportType):
		status = http.StatusBadRequest
	case errors.Is(err, utils.ErrSourceBusy), errors.Is(err, utils.ErrSourceLockLost):
		status = http.StatusConflict
	case errors.Is(err, ledger.ErrLedgerUnavailable):
		status = http.StatusServiceUnavailable
	}
	body := gin.H{"error": err.Error()}
	if summary != nil {
		body["summary"] = summary
	}
	c.JSON(status, body)
}

// metricsHandler serves GET /api/metrics. sku may repeat or be comma separated;
// every SKU gets its own result and failures stay inline.
func (a *app) metricsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		skus := splitParams(c.QueryArray("sku"))
		if len(skus) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "sku is required"})
			return
		}
		q, err := metricsQueryFromRequest(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		probe := q
		probe.SKU = skus[0]
		if err := probe.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, metricsResponse{
			AsOf:    q.AsOf,
			Results: a.engine.ComputeBatch(c.Request.Context(), skus, q),
		})
	}
}

func metricsQueryFromRequest(c *gin.Context) (metrics.Query, error) {
	q := metrics.Query{
		Location: utils.NilIfEmpty(c.Query("location")),
		Segment:  utils.NilIfEmpty(c.Query("segment")),
		Source:   utils.NilIfEmpty(c.Query("source")),
		AsOf:     time.Now().UTC(),
	}
	if raw := strings.TrimSpace(c.Query("as_of")); raw != "" {
		asOf, err := utils.ParseDateParam(raw)
		if err != nil {
			return q, fmt.Errorf("invalid as_of: %q", raw)
		}
		q.AsOf = asOf
	}
	for _, raw := range splitParams(c.QueryArray("window")) {
		days, err := strconv.Atoi(raw)
		if err != nil {
			return q, fmt.Errorf("invalid window: %q", raw)
		}
		q.Windows = append(q.Windows, days)
	}
	return q, nil
}

// seriesHandler serves GET /api/series: the ordered events behind a metric.
func (a *app) seriesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		sku := strings.TrimSpace(c.Query("sku"))
		if sku == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "sku is required"})
			return
		}
		q := ledger.RangeQuery{
			SKU:      sku,
			Location: utils.NilIfEmpty(c.Query("location")),
			Source:   utils.NilIfEmpty(c.Query("source")),
			Channel:  utils.NilIfEmpty(c.Query("segment")),
		}
		for _, t := range splitParams(c.QueryArray("type")) {
			typ, err := models.ParseEventType(t)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			q.Types = append(q.Types, typ)
		}
		var err error
		if q.Start, err = optionalDate(c.Query("from")); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid from"})
			return
		}
		if q.End, err = optionalDate(c.Query("to")); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid to"})
			return
		}

		events, err := a.ledger.Range(c.Request.Context(), q)
		if err != nil {
			writeIngestError(c, nil, err)
			return
		}
		if events == nil {
			events = []models.InventoryEvent{}
		}
		c.JSON(http.StatusOK, seriesResponse{SKU: sku, Count: len(events), Events: events})
	}
}

func optionalDate(raw string) (time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return time.Time{}, nil
	}
	return utils.ParseDateParam(raw)
}

func splitParams(values []string) []string {
	var out []string
	for _, v := range values {
		out = append(out, splitAndTrim(v)...)
	}
	return utils.UniqueSlice(out)
}
