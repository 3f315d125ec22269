// Package normalizer turns raw source records into canonical inventory events.
//
// Every record is read through exactly one Adapter from a closed set. A batch
// picks its adapter once, either from the caller's source hint or by header
// inference in declared priority order, and never mixes adapters.
package normalizer

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/mmdatafocus/depletions_backend/models"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type RawRecord map[string]string

// Headers returns the record's keys in sorted order.
func (r RawRecord) Headers() []string {
	out := make([]string, 0, len(r))
	for k := range r {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Schema is an adapter bound to the headers of one batch.
type Schema struct {
	Adapter *Adapter
	Binding Binding
}

// SelectSchema picks the adapter for a batch. With a hint the adapter is looked
// up directly; without one, inferable adapters are tried in priority order and
// the first whose required fields all resolve wins.
func SelectSchema(headers []string, hint string) (*Schema, error) {
	hint = strings.TrimSpace(hint)
	if hint != "" {
		a, ok := Lookup(hint)
		if !ok {
			return nil, &SchemaUnrecognizedError{Hint: hint, Headers: headers}
		}
		binding, missing := a.Resolve(headers)
		if len(missing) > 0 {
			return nil, &SchemaUnrecognizedError{Hint: hint, Headers: headers, Missing: map[string][]string{a.ID: missing}}
		}
		return &Schema{Adapter: a, Binding: binding}, nil
	}

	unresolved := make(map[string][]string)
	for _, a := range registry {
		if !a.Inferable {
			continue
		}
		binding, missing := a.Resolve(headers)
		if len(missing) == 0 {
			return &Schema{Adapter: a, Binding: binding}, nil
		}
		unresolved[a.ID] = missing
	}
	return nil, &SchemaUnrecognizedError{Headers: headers, Missing: unresolved}
}

type Normalizer struct {
	allowList map[string]struct{}
}

// New builds a normalizer over a fixed, case-sensitive SKU allow-list.
func New(allowList map[string]struct{}) *Normalizer {
	return &Normalizer{allowList: allowList}
}

// Normalize reads a single record. Exactly one of the results is non-nil; the
// error is a *SchemaUnrecognizedError or a *RowError.
func (n *Normalizer) Normalize(raw RawRecord, hint string) (*models.InventoryEvent, error) {
	schema, err := SelectSchema(raw.Headers(), hint)
	if err != nil {
		return nil, err
	}
	ev, rowErr := n.NormalizeRow(schema, raw)
	if rowErr != nil {
		return nil, rowErr
	}
	return ev, nil
}

// NormalizeRow applies the schema to one row. Business-normal bad input comes
// back as a *RowError; the caller sets RowError.Row.
func (n *Normalizer) NormalizeRow(schema *Schema, raw RawRecord) (*models.InventoryEvent, *RowError) {
	a := schema.Adapter
	get := func(f Field) string {
		key, ok := schema.Binding[f]
		if !ok {
			return ""
		}
		return strings.TrimSpace(raw[key])
	}

	sku := get(FieldSKU)
	if sku == "" {
		return nil, rowError(FieldSKU, "missing SKU")
	}
	if _, ok := n.allowList[sku]; !ok {
		return nil, rowError(FieldSKU, "unknown SKU: %s", sku)
	}

	rawQty := get(FieldQuantity)
	qty, err := ParseQuantity(rawQty, a.Quantity)
	if err != nil {
		return nil, rowError(FieldQuantity, "%s", err.Error())
	}

	rawDate := get(FieldDate)
	occurredAt, ok := ParseDate(rawDate, a.DateFormats)
	if !ok {
		return nil, rowError(FieldDate, "unparseable date: %q", rawDate)
	}
	if !models.EventTimeInRange(occurredAt) {
		return nil, rowError(FieldDate, "date out of range: %q", rawDate)
	}

	location := get(FieldLocation)
	if location == "" {
		location = a.DefaultLocation
	}
	if location == "" {
		return nil, rowError(FieldLocation, "missing location")
	}

	channel := get(FieldChannel)
	if channel == "" {
		channel = a.DefaultChannel
	}

	ev := &models.InventoryEvent{
		OccurredAt: occurredAt,
		SKU:        sku,
		Location:   location,
		Channel:    channel,
		Source:     a.ID,
		EventType:  a.EventType,
		Quantity:   qty,
	}
	if rid := get(FieldRecordID); rid != "" {
		ev.SourceRecordID = &rid
	}
	for _, f := range metadataFields {
		if v := get(f); v != "" {
			if ev.Metadata == nil {
				ev.Metadata = datatypes.JSONMap{}
			}
			ev.Metadata[string(f)] = v
		}
	}
	return ev, nil
}

var (
	plainQuantity   = regexp.MustCompile(`^\d+$`)
	groupedQuantity = regexp.MustCompile(`^\d{1,3}(?:[,_ \x{00a0}]\d{3})+$`)
	decimalQuantity = regexp.MustCompile(`^\d+\.\d+$`)
)

// ParseQuantity accepts a whole number with an optional sign and optional
// thousands separators (comma, underscore, space) in groups of three, then
// enforces the adapter's rule.
func ParseQuantity(raw string, rule QuantityRule) (decimal.Decimal, error) {
	body := strings.TrimSpace(raw)
	if body == "" {
		return decimal.Zero, quantityError("missing quantity")
	}
	negative := false
	switch body[0] {
	case '-':
		negative = true
		body = body[1:]
	case '+':
		body = body[1:]
	}

	var digits string
	switch {
	case plainQuantity.MatchString(body):
		digits = body
	case groupedQuantity.MatchString(body):
		digits = strings.NewReplacer(",", "", "_", "", " ", "", "\u00a0", "").Replace(body)
	case decimalQuantity.MatchString(body):
		return decimal.Zero, quantityError("quantity must be a whole number: " + raw)
	default:
		return decimal.Zero, quantityError("invalid quantity: " + raw)
	}
	if len(strings.TrimLeft(digits, "0")) > models.MaxQuantityDigits {
		return decimal.Zero, quantityError("quantity out of range: " + raw)
	}
	d, err := decimal.NewFromString(digits)
	if err != nil {
		return decimal.Zero, quantityError("invalid quantity: " + raw)
	}
	if negative {
		d = d.Neg()
	}

	switch rule {
	case QuantityPositive:
		if !d.IsPositive() {
			return decimal.Zero, quantityError("quantity must be positive: " + raw)
		}
	case QuantityNonNegative:
		if d.IsNegative() {
			return decimal.Zero, quantityError("quantity must not be negative: " + raw)
		}
	case QuantitySignedNonZero:
		if d.IsZero() {
			return decimal.Zero, quantityError("adjustment quantity must not be zero")
		}
	}
	return d, nil
}

type quantityError string

func (e quantityError) Error() string { return string(e) }

// ParseDate tries formats in order; the first match wins. Results are UTC with
// microsecond precision, which is what the ledger column stores.
func ParseDate(raw string, formats []string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range formats {
		t, err := time.ParseInLocation(layout, raw, time.UTC)
		if err == nil {
			return t.UTC().Truncate(time.Microsecond), true
		}
	}
	return time.Time{}, false
}
