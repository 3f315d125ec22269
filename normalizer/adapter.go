package normalizer

import (
	"strings"

	"github.com/mmdatafocus/depletions_backend/models"
)

// Field is a logical column every adapter maps its own header spelling onto.
type Field string

const (
	FieldSKU          Field = "sku"
	FieldQuantity     Field = "quantity"
	FieldDate         Field = "date"
	FieldLocation     Field = "location"
	FieldChannel      Field = "channel"
	FieldRecordID     Field = "record_id"
	FieldOrderID      Field = "order_id"
	FieldCounterparty Field = "counterparty"
	FieldUnitPrice    Field = "unit_price"
	FieldReason       Field = "reason"
)

// metadata fields are carried through without validation.
var metadataFields = []Field{FieldOrderID, FieldCounterparty, FieldUnitPrice, FieldReason}

type FieldSpec struct {
	Field    Field
	Synonyms []string
	Required bool
}

type QuantityRule int

const (
	QuantityPositive QuantityRule = iota
	QuantityNonNegative
	QuantitySignedNonZero
)

// Adapter declares one source layout: its columns, the accepted date formats
// and the event type every row of that source produces.
type Adapter struct {
	ID              string
	Kind            models.SourceKind
	Description     string
	EventType       models.EventType
	Fields          []FieldSpec
	DateFormats     []string
	DefaultLocation string
	DefaultChannel  string
	Quantity        QuantityRule
	// Inferable adapters take part in header inference; the rest need an explicit hint.
	Inferable bool
}

// Binding maps each resolved logical field to the header key present in the records.
type Binding map[Field]string

// Resolve matches the adapter's fields against headers. missing lists required
// fields that no header satisfies.
func (a *Adapter) Resolve(headers []string) (Binding, []string) {
	byNorm := make(map[string]string, len(headers))
	for _, h := range headers {
		n := normalizeHeader(h)
		if _, dup := byNorm[n]; !dup {
			byNorm[n] = h
		}
	}
	binding := make(Binding, len(a.Fields))
	var missing []string
	for _, spec := range a.Fields {
		found := false
		for _, syn := range spec.Synonyms {
			if key, ok := byNorm[normalizeHeader(syn)]; ok {
				binding[spec.Field] = key
				found = true
				break
			}
		}
		if !found && spec.Required {
			missing = append(missing, string(spec.Field))
		}
	}
	return binding, missing
}

func normalizeHeader(h string) string {
	h = strings.TrimPrefix(h, "\ufeff")
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.ReplaceAll(h, "_", " ")
	return strings.Join(strings.Fields(h), " ")
}
