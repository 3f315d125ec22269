package normalizer

import (
	"bytes"
	"encoding/json"
	"errors"
)

var errNotObject = errors.New("record is not an object")

// DecodeRecord flattens one JSON object into field -> text. Numbers keep their
// literal spelling; nulls and nested values are dropped.
func DecodeRecord(raw json.RawMessage) (RawRecord, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, errNotObject
	}
	rec := make(RawRecord, len(obj))
	for k, v := range obj {
		switch val := v.(type) {
		case string:
			rec[k] = val
		case json.Number:
			rec[k] = val.String()
		case bool:
			if val {
				rec[k] = "true"
			} else {
				rec[k] = "false"
			}
		}
	}
	return rec, nil
}
