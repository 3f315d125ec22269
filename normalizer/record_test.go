package normalizer

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRecordKeepsLiteralNumbers(t *testing.T) {
	rec, err := DecodeRecord(json.RawMessage(`{"sku":"A","quantity":1200,"price":"3.50","promo":true,"order_id":null,"tags":["x"]}`))
	require.NoError(t, err)
	assert.Equal(t, RawRecord{"sku": "A", "quantity": "1200", "price": "3.50", "promo": "true"}, rec)

	_, err = DecodeRecord(json.RawMessage(`null`))
	assert.Error(t, err)
	_, err = DecodeRecord(json.RawMessage(`[1,2]`))
	assert.Error(t, err)
}
