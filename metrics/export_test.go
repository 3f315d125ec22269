package metrics

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestWriteWorkbook(t *testing.T) {
	asOf := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	results := []Result{
		{SKU: "A", Snapshot: &Snapshot{
			SKU:    "A",
			AsOf:   asOf,
			OnHand: decimal.NewFromInt(300),
			Windows: []WindowMetrics{
				windowMetrics(30, decimal.NewFromInt(300), decimal.NewFromInt(90), decimal.Zero),
				windowMetrics(90, decimal.NewFromInt(300), decimal.Zero, decimal.Zero),
			},
			DepletionTrend: velocityTrend(decimal.NewFromInt(90), decimal.NewFromInt(180), ReasonNoDepletionHistory),
		}},
		{SKU: "BAD", Err: errors.New("ledger unavailable"), Error: "ledger unavailable"},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteWorkbook(&buf, results))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(exportSheet)
	require.NoError(t, err)
	require.Len(t, rows, 4)

	assert.Equal(t, exportHeadings, rows[0])
	assert.Equal(t, []string{"A", "2026-04-01", "300", "30", "90", "0", "100.00", "0.00", "1.50", TrendAccelerating}, rows[1])
	assert.Equal(t, "n/a", rows[2][6])
	assert.Equal(t, "n/a", rows[2][7])
	assert.Equal(t, "BAD", rows[3][0])
	assert.Equal(t, "ledger unavailable", rows[3][10])
}
