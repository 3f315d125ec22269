package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mmdatafocus/depletions_backend/models"
)

// IdempotencyKey is the natural key when the source gave a record id, otherwise
// a digest of (sku, location, event_type, quantity, time to the second, source).
func IdempotencyKey(ev *models.InventoryEvent) string {
	return idempotencyKey(ev, 1)
}

func hasRecordID(ev *models.InventoryEvent) bool {
	return ev.SourceRecordID != nil && strings.TrimSpace(*ev.SourceRecordID) != ""
}

// The first occurrence of a content row always gets the bare digest; the n-th
// identical row of one occurrence scope gets "#n".
func idempotencyKey(ev *models.InventoryEvent, occurrence int) string {
	if hasRecordID(ev) {
		return "rid:" + strings.TrimSpace(*ev.SourceRecordID)
	}
	key := "content:" + contentDigest(ev)
	if occurrence > 1 {
		key += "#" + strconv.Itoa(occurrence)
	}
	return key
}

// Occurrences numbers identical content rows across every append that shares
// it, e.g. all pages of one sync run. It is only consulted when content
// duplicates are not collapsed.
type Occurrences struct {
	mu   sync.Mutex
	seen map[string]int
}

func NewOccurrences() *Occurrences {
	return &Occurrences{seen: make(map[string]int)}
}

func (o *Occurrences) next(digest string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.seen[digest]++
	return o.seen[digest]
}

func contentDigest(ev *models.InventoryEvent) string {
	parts := []string{
		ev.SKU,
		ev.Location,
		string(ev.EventType),
		ev.Quantity.StringFixed(4),
		ev.OccurredAt.UTC().Truncate(time.Second).Format(time.RFC3339),
		ev.Source,
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}
