package depletionsync

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/depletions_backend/config"
	"github.com/mmdatafocus/depletions_backend/utils"
	"github.com/sirupsen/logrus"
)

// publishSyncRun is swapped out in tests.
var publishSyncRun = PublishSyncRun

func PublishSyncRun(ctx context.Context, runId uint, connectionId uint) error {
	topicName := config.EnvString("DEPLETION_SYNC_TOPIC", "depletion-sync")
	cid, _ := utils.GetCorrelationIdFromContext(ctx)
	payload := SyncPubSubPayload{
		RunId:         runId,
		ConnectionId:  connectionId,
		CorrelationId: cid,
	}
	attrs := map[string]string{"connection_id": strconv.FormatUint(uint64(connectionId), 10)}
	if cid != "" {
		attrs["correlation_id"] = cid
	}
	msgID, err := config.PublishJSON(ctx, topicName, payload, attrs, config.EnvBool("DEPLETION_SYNC_CREATE_TOPIC", false))
	if err != nil {
		return err
	}
	config.GetLogger().WithFields(logrus.Fields{
		"run_id":     runId,
		"topic":      topicName,
		"message_id": msgID,
	}).Info("[depletionsync.published]")
	return nil
}

// PubSubPushHandler receives push deliveries. Malformed messages are acked;
// a run that failed on its own bookkeeping is nacked so Pub/Sub redelivers it.
func PubSubPushHandler(worker *Worker) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !config.EnvBool("ENABLE_DEPLETION_PUBSUB_PUSH_ENDPOINT", true) {
			c.Status(http.StatusNoContent)
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.Status(http.StatusNoContent)
			return
		}

		var envelope PubSubPushEnvelope
		if err := json.Unmarshal(body, &envelope); err != nil {
			c.Status(http.StatusNoContent)
			return
		}

		var payload SyncPubSubPayload
		if err := json.Unmarshal(envelope.Message.Data, &payload); err != nil || payload.RunId == 0 {
			c.Status(http.StatusNoContent)
			return
		}

		ctx := c.Request.Context()
		if payload.CorrelationId != "" {
			ctx = utils.SetCorrelationIdInContext(ctx, payload.CorrelationId)
		} else {
			ctx = utils.SetCorrelationIdInContext(ctx, envelope.Message.ID)
		}
		if err := worker.ProcessSyncRun(ctx, payload.RunId); err != nil {
			config.LogError(config.GetLogger(), "depletionsync", "PubSubPushHandler", "process sync run", payload, err)
			if errors.Is(err, ErrSyncInProgress) {
				c.Status(http.StatusNoContent)
				return
			}
			c.Status(http.StatusInternalServerError)
			return
		}
		c.Status(http.StatusNoContent)
	}
}
