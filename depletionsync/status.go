package depletionsync

import (
	"errors"
	"fmt"

	"github.com/mmdatafocus/depletions_backend/models"
)

var ErrSyncInProgress = errors.New("a sync run is already in progress for this connection")

type syncEvent string

const (
	eventStart   syncEvent = "start"
	eventSucceed syncEvent = "succeed"
	eventFail    syncEvent = "fail"
)

// transition is the connection state machine:
// never_synced | synced | retrying --start--> syncing --succeed--> synced
// syncing --fail--> retrying
func transition(from models.SyncStatus, ev syncEvent) (models.SyncStatus, error) {
	switch ev {
	case eventStart:
		switch from {
		case models.SyncStatusNeverSynced, models.SyncStatusSynced, models.SyncStatusRetrying, "":
			return models.SyncStatusSyncing, nil
		case models.SyncStatusSyncing:
			return "", ErrSyncInProgress
		}
	case eventSucceed:
		if from == models.SyncStatusSyncing {
			return models.SyncStatusSynced, nil
		}
	case eventFail:
		if from == models.SyncStatusSyncing {
			return models.SyncStatusRetrying, nil
		}
	}
	return "", fmt.Errorf("invalid sync transition %q from %q", ev, from)
}
