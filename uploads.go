package main

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/depletions_backend/ingest"
	"github.com/mmdatafocus/depletions_backend/utils"
	"github.com/sirupsen/logrus"
)

const maxReportSizeBytes int64 = 32 * 1024 * 1024

type reportSignRequest struct {
	FileName string `json:"fileName"`
	Size     int64  `json:"size"`
	Source   string `json:"source"`
}

type reportSignResponse struct {
	UploadURL string            `json:"uploadUrl"`
	Method    string            `json:"method"`
	Headers   map[string]string `json:"headers"`
	ObjectKey string            `json:"objectKey"`
	AccessURL string            `json:"accessUrl"`
	ExpiresAt string            `json:"expiresAt"`
}

type ingestObjectRequest struct {
	ObjectKey string `json:"objectKey"`
	Source    string `json:"source"`
}

// signReportUploadHandler hands out a signed PUT URL; the client uploads the
// report straight to the bucket and then calls /api/ingest/object.
func (a *app) signReportUploadHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req reportSignRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if req.FileName == "" || req.Size <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "fileName and size are required"})
			return
		}
		if req.Size > maxReportSizeBytes {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file size exceeds 32MB limit"})
			return
		}
		contentType, err := utils.ReportContentType(req.FileName)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		objectKey, err := utils.ReportObjectKey(req.Source, req.FileName, time.Now())
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		signed, err := utils.SignReportUpload(c.Request.Context(), objectKey, contentType, 15*time.Minute)
		if err != nil {
			logUploadError(a.logger, err, requestIDFromHeaders(c))
			message := "failed to sign upload"
			if !strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
				message = fmt.Sprintf("failed to sign upload: %v", err)
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": message})
			return
		}

		a.logger.WithFields(logrus.Fields{
			"source":     req.Source,
			"size":       req.Size,
			"object_key": objectKey,
		}).Info("[upload.sign]")

		c.JSON(http.StatusOK, gin.H{
			"data": reportSignResponse{
				UploadURL: signed.UploadURL,
				Method:    signed.Method,
				Headers:   signed.Headers,
				ObjectKey: signed.ObjectKey,
				AccessURL: signed.AccessURL,
				ExpiresAt: signed.ExpiresAt.UTC().Format(time.RFC3339),
			},
		})
	}
}

func (a *app) ingestObjectHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ingestObjectRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		key := strings.TrimSpace(req.ObjectKey)
		if key == "" || strings.Contains(key, "..") {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid objectKey"})
			return
		}
		summary, err := a.ingest.IngestObject(c.Request.Context(), key, req.Source)
		if err != nil {
			writeIngestError(c, summary, err)
			return
		}
		c.JSON(http.StatusOK, summary)
	}
}

// uploadReportHandler ingests a multipart "file" (.csv or .xlsx) in one request.
func (a *app) uploadReportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxReportSizeBytes)
		fh, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
			return
		}
		f, err := fh.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable file"})
			return
		}
		defer f.Close()

		records, err := ingest.Decode(fh.Filename, f)
		if err != nil {
			writeIngestError(c, nil, err)
			return
		}
		summary, err := a.ingest.IngestBatch(c.Request.Context(), records, c.PostForm("source"))
		if err != nil {
			writeIngestError(c, summary, err)
			return
		}
		a.logger.WithFields(logrus.Fields{
			"file":     fh.Filename,
			"size":     fh.Size,
			"batch_id": summary.BatchID,
		}).Info("[upload.ingest]")
		c.JSON(http.StatusOK, summary)
	}
}

func logUploadError(logger *logrus.Logger, err error, requestID string) {
	logger.WithFields(logrus.Fields{
		"error":      err.Error(),
		"request_id": requestID,
	}).Error("[upload.error]")
}

func requestIDFromHeaders(c *gin.Context) string {
	if id := strings.TrimSpace(c.GetHeader("X-Correlation-Id")); id != "" {
		return id
	}
	if id := strings.TrimSpace(c.GetHeader("X-Request-Id")); id != "" {
		return id
	}
	return fmt.Sprintf("upload-%d", time.Now().UnixNano())
}
