package metrics

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mmdatafocus/depletions_backend/ledger"
)

var DefaultWindows = []int{30, 90}

// Velocity trend always compares these two windows.
const (
	trendShortDays = 30
	trendLongDays  = 90
)

var ErrInvalidQuery = errors.New("invalid metrics query")

var validate = validator.New()

// Query selects one SKU. Location narrows both on-hand and windowed sums;
// Segment (channel) and Source narrow windowed sums only.
type Query struct {
	SKU      string    `json:"sku" validate:"required,max=64"`
	Location *string   `json:"location,omitempty"`
	Segment  *string   `json:"segment,omitempty"`
	Source   *string   `json:"source,omitempty"`
	AsOf     time.Time `json:"as_of" validate:"required"`
	Windows  []int     `json:"windows" validate:"omitempty,dive,gt=0,lte=3650"`
}

func (q Query) normalized() Query {
	q.AsOf = q.AsOf.UTC().Truncate(time.Microsecond)
	if len(q.Windows) == 0 {
		q.Windows = DefaultWindows
	}
	return q
}

func (q Query) Validate() error {
	if err := validate.Struct(q); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	return nil
}

// fetchDays is the widest window read for q, trend windows included.
func (q Query) fetchDays() int {
	days := trendLongDays
	for _, w := range q.Windows {
		if w > days {
			days = w
		}
	}
	return days
}

func (q Query) cacheKey(watermark ledger.Watermark) string {
	windows := make([]int, len(q.Windows))
	copy(windows, q.Windows)
	sort.Ints(windows)
	ws := make([]string, len(windows))
	for i, w := range windows {
		ws[i] = strconv.Itoa(w)
	}
	opt := func(s *string) string {
		if s == nil {
			return "*"
		}
		return *s
	}
	return strings.Join([]string{
		"metrics:v2",
		q.SKU,
		opt(q.Location),
		opt(q.Segment),
		opt(q.Source),
		q.AsOf.Format(time.RFC3339Nano),
		strings.Join(ws, ","),
		strconv.FormatUint(watermark.Sequence, 10),
		strconv.FormatUint(watermark.Events, 10),
	}, "|")
}
