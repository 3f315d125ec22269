package depletionsync

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/mmdatafocus/depletions_backend/config"
	"github.com/mmdatafocus/depletions_backend/models"
	"gorm.io/gorm"
)

var validate = validator.New()

func ConnectHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ConnectRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		req.AccountId = strings.TrimSpace(req.AccountId)
		req.APIKey = strings.TrimSpace(req.APIKey)
		if err := validate.Struct(req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "accountId and apiKey are required"})
			return
		}

		db := config.GetDB().WithContext(c.Request.Context())
		var conn models.SourceConnection
		err := db.Where("provider = ? AND account_id = ?", models.IntegrationProviderDepletionAPI, req.AccountId).Take(&conn).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			conn = models.SourceConnection{
				Provider:      models.IntegrationProviderDepletionAPI,
				AccountId:     req.AccountId,
				AuthSecretRef: req.APIKey,
				SyncStatus:    models.SyncStatusNeverSynced,
			}
			if err := db.Create(&conn).Error; err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		default:
			if err := db.Model(&conn).Update("auth_secret_ref", req.APIKey).Error; err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"id": conn.ID})
	}
}

func StatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := uintParam(c, "id")
		if !ok {
			return
		}
		var conn models.SourceConnection
		if err := config.GetDB().WithContext(c.Request.Context()).Where("id = ?", id).Take(&conn).Error; err != nil {
			notFoundOrError(c, err)
			return
		}
		c.JSON(http.StatusOK, StatusResponse{
			ID:                conn.ID,
			AccountId:         conn.AccountId,
			SyncStatus:        conn.SyncStatus,
			LastSyncAt:        formatTime(conn.LastSyncAt),
			LastSuccessSyncAt: formatTime(conn.LastSuccessSyncAt),
			ConsecutiveFails:  conn.ConsecutiveFails,
		})
	}
}

// TriggerSyncHandler queues a run and hands it to the worker over Pub/Sub.
func TriggerSyncHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req TriggerSyncRequest
		if err := c.ShouldBindJSON(&req); err != nil || validate.Struct(req) != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "connectionId is required"})
			return
		}
		db := config.GetDB().WithContext(c.Request.Context())

		var conn models.SourceConnection
		if err := db.Where("id = ?", req.ConnectionId).Take(&conn).Error; err != nil {
			notFoundOrError(c, err)
			return
		}
		if conn.SyncStatus == models.SyncStatusSyncing {
			c.JSON(http.StatusConflict, gin.H{"error": ErrSyncInProgress.Error()})
			return
		}
		queueRun(c, db, conn.ID, models.SyncTriggeredManual)
	}
}

func RetrySyncRunHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := uintParam(c, "id")
		if !ok {
			return
		}
		db := config.GetDB().WithContext(c.Request.Context())
		var run models.SyncRun
		if err := db.Where("id = ?", id).Take(&run).Error; err != nil {
			notFoundOrError(c, err)
			return
		}
		if run.Status != models.SyncRunStatusFailed && run.Status != models.SyncRunStatusPartial {
			c.JSON(http.StatusConflict, gin.H{"error": "only failed or partial runs can be retried"})
			return
		}
		queueRun(c, db, run.ConnectionId, models.SyncTriggeredRetry)
	}
}

func queueRun(c *gin.Context, db *gorm.DB, connectionID uint, triggeredBy string) {
	run := models.SyncRun{
		ConnectionId: connectionID,
		Status:       models.SyncRunStatusQueued,
		TriggeredBy:  triggeredBy,
	}
	if err := db.Create(&run).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := publishSyncRun(c.Request.Context(), run.ID, connectionID); err != nil {
		config.LogError(config.GetLogger(), "depletionsync", "queueRun", "publish sync run", run.ID, err)
		c.JSON(http.StatusBadGateway, gin.H{"id": run.ID, "error": "sync run queued but not dispatched"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": run.ID})
}

func SyncRunDetailHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := uintParam(c, "id")
		if !ok {
			return
		}
		db := config.GetDB().WithContext(c.Request.Context())
		var run models.SyncRun
		if err := db.Where("id = ?", id).Take(&run).Error; err != nil {
			notFoundOrError(c, err)
			return
		}
		var rows []models.SyncError
		if err := db.Where("sync_run_id = ?", run.ID).Order("id ASC").Find(&rows).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		resp := SyncRunDetailResponse{SyncRunResponse: toRunResponse(run), Errors: make([]SyncErrorResponse, 0, len(rows))}
		for _, r := range rows {
			resp.Errors = append(resp.Errors, SyncErrorResponse{
				ID:         r.ID,
				Endpoint:   r.Endpoint,
				ExternalId: r.ExternalId,
				Field:      r.Field,
				Message:    r.Message,
				Retryable:  r.Retryable,
			})
		}
		c.JSON(http.StatusOK, resp)
	}
}

func uintParam(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return uint(id), true
}

func notFoundOrError(c *gin.Context, err error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
