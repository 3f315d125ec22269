package models

import (
	"time"

	"gorm.io/datatypes"
)

const IntegrationProviderDepletionAPI = "depletion_api"

// SourceConnection holds the polling collaborator's state for one API account.
// The ledger core never reads it.
type SourceConnection struct {
	ID                uint       `gorm:"primary_key" json:"id"`
	Provider          string     `gorm:"index;size:50;not null" json:"provider"`
	AccountId         string     `gorm:"size:100;not null" json:"account_id"`
	AuthSecretRef     string     `gorm:"type:text" json:"-"`
	SyncStatus        SyncStatus `gorm:"size:20;not null;default:'never_synced'" json:"sync_status"`
	CursorStateJSON   []byte     `gorm:"type:json" json:"cursor_state"`
	LastSyncAt        *time.Time `json:"last_sync_at"`
	LastSuccessSyncAt *time.Time `json:"last_success_sync_at"`
	ConsecutiveFails  int        `gorm:"not null;default:0" json:"consecutive_fails"`
	CreatedAt         time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

type SyncRun struct {
	ID            uint              `gorm:"primary_key" json:"id"`
	ConnectionId  uint              `gorm:"index;not null" json:"connection_id"`
	Status        string            `gorm:"size:20;not null" json:"status"`
	TriggeredBy   string            `gorm:"size:20" json:"triggered_by"`
	Stats         datatypes.JSONMap `gorm:"type:json" json:"stats"`
	RecordsSynced int               `json:"records_synced"`
	Duplicates    int               `json:"duplicates"`
	ErrorCount    int               `json:"error_count"`
	StartedAt     *time.Time        `json:"started_at"`
	FinishedAt    *time.Time        `json:"finished_at"`
	DurationMs    int64             `json:"duration_ms"`
	CreatedAt     time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

type SyncError struct {
	ID         uint      `gorm:"primary_key" json:"id"`
	SyncRunId  uint      `gorm:"index;not null" json:"sync_run_id"`
	Endpoint   string    `gorm:"size:50" json:"endpoint"`
	ExternalId string    `gorm:"size:128" json:"external_id"`
	Field      string    `gorm:"size:64" json:"field"`
	Message    string    `gorm:"type:text" json:"message"`
	Retryable  bool      `gorm:"default:false" json:"retryable"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}
