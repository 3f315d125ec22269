package models

import (
	"fmt"
	"strings"
)

type EventType string

const (
	EventTypeSnapshot   EventType = "snapshot"
	EventTypeShipment   EventType = "shipment"
	EventTypeDepletion  EventType = "depletion"
	EventTypeAdjustment EventType = "adjustment"
)

func (t EventType) IsValid() bool {
	switch t {
	case EventTypeSnapshot, EventTypeShipment, EventTypeDepletion, EventTypeAdjustment:
		return true
	}
	return false
}

// IsDelta reports whether the event changes on-hand relative to the running total.
func (t EventType) IsDelta() bool {
	return t == EventTypeShipment || t == EventTypeDepletion || t == EventTypeAdjustment
}

func ParseEventType(s string) (EventType, error) {
	t := EventType(strings.ToLower(strings.TrimSpace(s)))
	if !t.IsValid() {
		return "", fmt.Errorf("invalid event type: %q", s)
	}
	return t, nil
}

type SourceKind string

const (
	SourceKindAPI  SourceKind = "api"
	SourceKindFile SourceKind = "file"
)

type LocationKind string

const (
	LocationKindWarehouse LocationKind = "warehouse"
	LocationKindChannel   LocationKind = "channel"
)

// Sync status of one polling connection.
// never_synced -> syncing -> synced | retrying; retrying -> syncing.
type SyncStatus string

const (
	SyncStatusNeverSynced SyncStatus = "never_synced"
	SyncStatusSyncing     SyncStatus = "syncing"
	SyncStatusSynced      SyncStatus = "synced"
	SyncStatusRetrying    SyncStatus = "retrying"
)

const (
	SyncRunStatusQueued  = "queued"
	SyncRunStatusRunning = "running"
	SyncRunStatusSuccess = "success"
	SyncRunStatusFailed  = "failed"
	SyncRunStatusPartial = "partial"
)

const (
	SyncTriggeredManual = "manual"
	SyncTriggeredRetry  = "retry"
	SyncTriggeredSystem = "system"
)
