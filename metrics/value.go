package metrics

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

const displayPlaces = 2

const (
	StatusOK     = "ok"
	StatusNoData = "no_data"
)

// Reasons carried by undefined values.
const (
	ReasonNoDepletion        = "no_depletion_in_window"
	ReasonNoDepletionHistory = "no_depletion_in_baseline_window"
	ReasonNoShipmentHistory  = "no_shipment_in_baseline_window"
)

// Value is a metric result that is either a full-precision decimal or an
// explicit no-data marker. The zero Value is undefined.
type Value struct {
	value   decimal.Decimal
	defined bool
	reason  string
}

func Defined(d decimal.Decimal) Value {
	return Value{value: d, defined: true}
}

func Undefined(reason string) Value {
	return Value{reason: reason}
}

func (v Value) IsDefined() bool { return v.defined }

func (v Value) Reason() string { return v.reason }

// Decimal returns the unrounded value.
func (v Value) Decimal() (decimal.Decimal, bool) {
	return v.value, v.defined
}

// Rounded is the display value, half away from zero at two places.
func (v Value) Rounded() (decimal.Decimal, bool) {
	if !v.defined {
		return decimal.Zero, false
	}
	return v.value.Round(displayPlaces), true
}

func (v Value) String() string {
	if !v.defined {
		return "n/a"
	}
	return v.value.StringFixed(displayPlaces)
}

type valueJSON struct {
	Status string `json:"status"`
	Value  string `json:"value,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func (v Value) MarshalJSON() ([]byte, error) {
	if !v.defined {
		return json.Marshal(valueJSON{Status: StatusNoData, Reason: v.reason})
	}
	return json.Marshal(valueJSON{Status: StatusOK, Value: v.value.StringFixed(displayPlaces)})
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var raw valueJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Status != StatusOK {
		*v = Undefined(raw.Reason)
		return nil
	}
	d, err := decimal.NewFromString(raw.Value)
	if err != nil {
		return err
	}
	*v = Defined(d)
	return nil
}
