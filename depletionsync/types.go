package depletionsync

import (
	"encoding/json"
	"time"

	"github.com/mmdatafocus/depletions_backend/models"
	"github.com/mmdatafocus/depletions_backend/normalizer"
)

// endpoint pairs an API path with the source hint its records are read with.
type endpoint struct {
	Name string
	Path string
	Hint string
}

var endpoints = []endpoint{
	{Name: "inventory", Path: inventoryPath, Hint: normalizer.SourceAPIInventory},
	{Name: "depletions", Path: depletionsPath, Hint: normalizer.SourceAPIDepletions},
}

type CursorEntry struct {
	UpdatedSince string `json:"updated_since"`
	Cursor       string `json:"cursor"`
}

type CursorState struct {
	Inventory  CursorEntry `json:"inventory"`
	Depletions CursorEntry `json:"depletions"`
}

func (s *CursorState) entry(name string) *CursorEntry {
	if name == "inventory" {
		return &s.Inventory
	}
	return &s.Depletions
}

func DecodeCursorState(raw []byte) CursorState {
	if len(raw) == 0 {
		return CursorState{}
	}
	var state CursorState
	if err := json.Unmarshal(raw, &state); err != nil {
		return CursorState{}
	}
	return state
}

func EncodeCursorState(state CursorState) []byte {
	b, _ := json.Marshal(state)
	return b
}

type ConnectRequest struct {
	AccountId string `json:"accountId" validate:"required,max=100"`
	APIKey    string `json:"apiKey" validate:"required"`
}

type TriggerSyncRequest struct {
	ConnectionId uint `json:"connectionId" validate:"required"`
}

type StatusResponse struct {
	ID                uint              `json:"id"`
	AccountId         string            `json:"accountId"`
	SyncStatus        models.SyncStatus `json:"syncStatus"`
	LastSyncAt        *string           `json:"lastSyncAt"`
	LastSuccessSyncAt *string           `json:"lastSuccessSyncAt"`
	ConsecutiveFails  int               `json:"consecutiveFails"`
}

type SyncRunResponse struct {
	ID            uint    `json:"id"`
	Status        string  `json:"status"`
	StartedAt     *string `json:"startedAt"`
	FinishedAt    *string `json:"finishedAt"`
	DurationMs    int64   `json:"durationMs"`
	RecordsSynced int     `json:"recordsSynced"`
	Duplicates    int     `json:"duplicates"`
	ErrorCount    int     `json:"errorCount"`
	TriggeredBy   string  `json:"triggeredBy"`
}

type SyncRunDetailResponse struct {
	SyncRunResponse
	Errors []SyncErrorResponse `json:"errors"`
}

type SyncErrorResponse struct {
	ID         uint   `json:"id"`
	Endpoint   string `json:"endpoint"`
	ExternalId string `json:"externalId"`
	Field      string `json:"field"`
	Message    string `json:"message"`
	Retryable  bool   `json:"retryable"`
}

type PubSubPushEnvelope struct {
	Message struct {
		Data []byte `json:"data"`
		ID   string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

type SyncPubSubPayload struct {
	RunId         uint   `json:"run_id"`
	ConnectionId  uint   `json:"connection_id"`
	CorrelationId string `json:"correlation_id,omitempty"`
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

func toRunResponse(run models.SyncRun) SyncRunResponse {
	return SyncRunResponse{
		ID:            run.ID,
		Status:        run.Status,
		StartedAt:     formatTime(run.StartedAt),
		FinishedAt:    formatTime(run.FinishedAt),
		DurationMs:    run.DurationMs,
		RecordsSynced: run.RecordsSynced,
		Duplicates:    run.Duplicates,
		ErrorCount:    run.ErrorCount,
		TriggeredBy:   run.TriggeredBy,
	}
}
