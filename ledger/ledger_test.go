package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mmdatafocus/depletions_backend/ledger"
	"github.com/mmdatafocus/depletions_backend/models"
	"github.com/mmdatafocus/depletions_backend/testhelper"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendSameRecordIdIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db := testhelper.SetupTestDB(t, "A")
	l := ledger.New(db)

	const attempts = 5
	inserted, duplicates := 0, 0
	for i := 0; i < attempts; i++ {
		ev := testhelper.Event("A", "east", models.EventTypeDepletion, 10, testhelper.Day(2026, 1, 5), "rec-1")
		outcome, err := l.Append(ctx, ev)
		require.NoError(t, err)
		switch outcome {
		case ledger.Inserted:
			inserted++
			assert.NotZero(t, ev.ID)
		case ledger.DuplicateSkipped:
			duplicates++
			assert.Zero(t, ev.ID)
		}
	}
	assert.Equal(t, 1, inserted)
	assert.Equal(t, attempts-1, duplicates)

	var count int64
	require.NoError(t, db.Model(&models.InventoryEvent{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestAppendConcurrentRetriesNeverDoubleCount(t *testing.T) {
	ctx := context.Background()
	db := testhelper.SetupTestDB(t, "A")
	l := ledger.New(db)

	var wg sync.WaitGroup
	var mu sync.Mutex
	outcomes := map[ledger.Outcome]int{}
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ev := testhelper.Event("A", "east", models.EventTypeShipment, 3, testhelper.Day(2026, 1, 5), "same")
			outcome, err := l.Append(ctx, ev)
			if err != nil {
				t.Errorf("append: %v", err)
				return
			}
			mu.Lock()
			outcomes[outcome]++
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, outcomes[ledger.Inserted])
	assert.Equal(t, 7, outcomes[ledger.DuplicateSkipped])
}

func TestRecordIdScopedPerSource(t *testing.T) {
	ctx := context.Background()
	l := ledger.New(testhelper.SetupTestDB(t, "A"))

	a := testhelper.Event("A", "east", models.EventTypeDepletion, 1, testhelper.Day(2026, 1, 1), "r1")
	b := testhelper.Event("A", "east", models.EventTypeDepletion, 1, testhelper.Day(2026, 1, 1), "r1")
	b.Source = "other"

	out, err := l.Append(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, ledger.Inserted, out)
	out, err = l.Append(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, ledger.Inserted, out)
}

func TestContentKeyCollapsesWithinSameSecond(t *testing.T) {
	ctx := context.Background()
	l := ledger.New(testhelper.SetupTestDB(t, "A")).WithContentCollapse(true)

	at := time.Date(2026, 1, 1, 9, 30, 15, 0, time.UTC)
	first := testhelper.Event("A", "east", models.EventTypeDepletion, 4, at, "")
	second := testhelper.Event("A", "east", models.EventTypeDepletion, 4, at.Add(400*time.Millisecond), "")
	third := testhelper.Event("A", "east", models.EventTypeDepletion, 4, at.Add(time.Second), "")

	outcomes, err := l.AppendBatch(ctx, []*models.InventoryEvent{first, second, third})
	require.NoError(t, err)
	assert.Equal(t, []ledger.Outcome{ledger.Inserted, ledger.DuplicateSkipped, ledger.Inserted}, outcomes)
}

func TestContentDuplicatesKeptWhenNotCollapsingButReingestionStaysIdempotent(t *testing.T) {
	ctx := context.Background()
	l := ledger.New(testhelper.SetupTestDB(t, "A")).WithContentCollapse(false)

	at := testhelper.Day(2026, 2, 1)
	batch := func() []*models.InventoryEvent {
		return []*models.InventoryEvent{
			testhelper.Event("A", "east", models.EventTypeDepletion, 4, at, ""),
			testhelper.Event("A", "east", models.EventTypeDepletion, 4, at, ""),
		}
	}
	outcomes, err := l.AppendBatch(ctx, batch())
	require.NoError(t, err)
	assert.Equal(t, []ledger.Outcome{ledger.Inserted, ledger.Inserted}, outcomes)

	outcomes, err = l.AppendBatch(ctx, batch())
	require.NoError(t, err)
	assert.Equal(t, []ledger.Outcome{ledger.DuplicateSkipped, ledger.DuplicateSkipped}, outcomes)
}

func TestSingleAppendAndBatchShareContentKeys(t *testing.T) {
	ctx := context.Background()
	db := testhelper.SetupTestDB(t, "A")
	l := ledger.New(db).WithContentCollapse(false)

	at := testhelper.Day(2026, 2, 1)
	out, err := l.Append(ctx, testhelper.Event("A", "east", models.EventTypeDepletion, 4, at, ""))
	require.NoError(t, err)
	assert.Equal(t, ledger.Inserted, out)

	outcomes, err := l.AppendBatch(ctx, []*models.InventoryEvent{
		testhelper.Event("A", "east", models.EventTypeDepletion, 4, at, ""),
	})
	require.NoError(t, err)
	assert.Equal(t, []ledger.Outcome{ledger.DuplicateSkipped}, outcomes)

	var count int64
	require.NoError(t, db.Model(&models.InventoryEvent{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestOccurrencesSpanSeveralBatches(t *testing.T) {
	ctx := context.Background()
	at := testhelper.Day(2026, 2, 1)
	row := func() *models.InventoryEvent {
		return testhelper.Event("A", "east", models.EventTypeDepletion, 4, at, "")
	}

	// one page holding both rows
	onePage := ledger.New(testhelper.SetupTestDB(t, "A")).WithContentCollapse(false)
	outcomes, err := onePage.AppendBatch(ctx, []*models.InventoryEvent{row(), row()})
	require.NoError(t, err)
	assert.Equal(t, []ledger.Outcome{ledger.Inserted, ledger.Inserted}, outcomes)

	// the same rows split across two pages of one run
	twoPages := ledger.New(testhelper.SetupTestDB(t, "A")).WithContentCollapse(false)
	occ := ledger.NewOccurrences()
	first, err := twoPages.AppendBatchWithin(ctx, []*models.InventoryEvent{row()}, occ)
	require.NoError(t, err)
	second, err := twoPages.AppendBatchWithin(ctx, []*models.InventoryEvent{row()}, occ)
	require.NoError(t, err)
	assert.Equal(t, []ledger.Outcome{ledger.Inserted}, first)
	assert.Equal(t, []ledger.Outcome{ledger.Inserted}, second)

	// replaying the run with a new scope stores nothing new
	replay := ledger.NewOccurrences()
	for i := 0; i < 2; i++ {
		again, err := twoPages.AppendBatchWithin(ctx, []*models.InventoryEvent{row()}, replay)
		require.NoError(t, err)
		assert.Equal(t, []ledger.Outcome{ledger.DuplicateSkipped}, again)
	}
}

func TestAppendRejectsOutOfRangeEvents(t *testing.T) {
	ctx := context.Background()
	l := ledger.New(testhelper.SetupTestDB(t, "A"))

	ancient := testhelper.Event("A", "east", models.EventTypeDepletion, 3, time.Date(1, 1, 1, 0, 0, 1, 0, time.UTC), "old")
	_, err := l.Append(ctx, ancient)
	assert.ErrorIs(t, err, ledger.ErrInvalidEvent)

	huge := testhelper.Event("A", "east", models.EventTypeShipment, 1, testhelper.Day(2026, 1, 1), "huge")
	huge.Quantity = decimal.RequireFromString("10000000000000000")
	_, err = l.Append(ctx, huge)
	assert.ErrorIs(t, err, ledger.ErrInvalidEvent)
}

func TestAppendRejectsInvalidEvents(t *testing.T) {
	ctx := context.Background()
	l := ledger.New(testhelper.SetupTestDB(t, "A"))

	bad := testhelper.Event("A", "east", models.EventTypeDepletion, -3, testhelper.Day(2026, 1, 1), "x")
	_, err := l.Append(ctx, bad)
	assert.ErrorIs(t, err, ledger.ErrInvalidEvent)

	zeroAdj := testhelper.Event("A", "east", models.EventTypeAdjustment, 0, testhelper.Day(2026, 1, 1), "y")
	_, err = l.Append(ctx, zeroAdj)
	assert.ErrorIs(t, err, ledger.ErrInvalidEvent)
}

func TestRangeOrdersByEventTimeThenSequence(t *testing.T) {
	ctx := context.Background()
	l := ledger.New(testhelper.SetupTestDB(t, "A"))

	late := testhelper.Event("A", "east", models.EventTypeDepletion, 1, testhelper.Day(2026, 1, 20), "late")
	tieFirst := testhelper.Event("A", "east", models.EventTypeDepletion, 2, testhelper.Day(2026, 1, 10), "tie-1")
	tieSecond := testhelper.Event("A", "east", models.EventTypeShipment, 3, testhelper.Day(2026, 1, 10), "tie-2")
	early := testhelper.Event("A", "east", models.EventTypeDepletion, 4, testhelper.Day(2026, 1, 2), "early")
	for _, ev := range []*models.InventoryEvent{late, tieFirst, tieSecond, early} {
		_, err := l.Append(ctx, ev)
		require.NoError(t, err)
	}

	events, err := l.Range(ctx, ledger.RangeQuery{SKU: "A", Start: testhelper.Day(2026, 1, 1), End: testhelper.Day(2026, 2, 1)})
	require.NoError(t, err)
	require.Len(t, events, 4)
	got := make([]string, 0, len(events))
	for _, ev := range events {
		got = append(got, *ev.SourceRecordID)
	}
	assert.Equal(t, []string{"early", "tie-1", "tie-2", "late"}, got)

	// half-open window excludes the end instant
	events, err = l.Range(ctx, ledger.RangeQuery{SKU: "A", Start: testhelper.Day(2026, 1, 2), End: testhelper.Day(2026, 1, 10)})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "early", *events[0].SourceRecordID)

	again, err := l.Range(ctx, ledger.RangeQuery{SKU: "A", Start: testhelper.Day(2026, 1, 2), End: testhelper.Day(2026, 1, 10)})
	require.NoError(t, err)
	assert.Equal(t, events, again)
}

func TestRangeFilters(t *testing.T) {
	ctx := context.Background()
	l := ledger.New(testhelper.SetupTestDB(t, "A"))

	east := testhelper.Event("A", "east", models.EventTypeDepletion, 5, testhelper.Day(2026, 1, 3), "1")
	east.Channel = "retail"
	west := testhelper.Event("A", "west", models.EventTypeDepletion, 7, testhelper.Day(2026, 1, 3), "2")
	ship := testhelper.Event("A", "east", models.EventTypeShipment, 9, testhelper.Day(2026, 1, 4), "3")
	for _, ev := range []*models.InventoryEvent{east, west, ship} {
		_, err := l.Append(ctx, ev)
		require.NoError(t, err)
	}

	loc := "east"
	events, err := l.Range(ctx, ledger.RangeQuery{SKU: "A", Location: &loc, Types: []models.EventType{models.EventTypeDepletion}})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.True(t, decimal.NewFromInt(5).Equal(events[0].Quantity))

	channel := "retail"
	events, err = l.Range(ctx, ledger.RangeQuery{SKU: "A", Channel: &channel})
	require.NoError(t, err)
	assert.Len(t, events, 1)

	locations, err := l.Locations(ctx, "A", testhelper.Day(2026, 2, 1))
	require.NoError(t, err)
	assert.Equal(t, []string{"east", "west"}, locations)

	w, err := l.Watermark(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, ship.ID, w.Sequence)
	assert.EqualValues(t, 3, w.Events)
}

func TestLatestSnapshot(t *testing.T) {
	ctx := context.Background()
	l := ledger.New(testhelper.SetupTestDB(t, "A"))

	s1 := testhelper.Event("A", "east", models.EventTypeSnapshot, 100, testhelper.Day(2026, 1, 1), "s1")
	s2 := testhelper.Event("A", "east", models.EventTypeSnapshot, 80, testhelper.Day(2026, 1, 15), "s2")
	for _, ev := range []*models.InventoryEvent{s1, s2} {
		_, err := l.Append(ctx, ev)
		require.NoError(t, err)
	}

	snap, err := l.LatestSnapshot(ctx, "A", "east", testhelper.Day(2026, 1, 10))
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, "s1", *snap.SourceRecordID)

	snap, err = l.LatestSnapshot(ctx, "A", "east", testhelper.Day(2026, 1, 15))
	require.NoError(t, err)
	assert.Equal(t, "s2", *snap.SourceRecordID)

	snap, err = l.LatestSnapshot(ctx, "A", "west", testhelper.Day(2026, 1, 15))
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestUnavailableErrorWhenStorageIsGone(t *testing.T) {
	ctx := context.Background()
	db := testhelper.SetupTestDB(t, "A")
	l := ledger.New(db)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	_, err = l.Range(ctx, ledger.RangeQuery{SKU: "A", Start: testhelper.Day(2026, 1, 1), End: testhelper.Day(2026, 2, 1)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ledger.ErrLedgerUnavailable))

	var uerr *ledger.UnavailableError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, "range", uerr.Op)
	assert.Equal(t, "A", uerr.SKU)
	assert.Equal(t, testhelper.Day(2026, 1, 1), uerr.From)
	assert.Empty(t, uerr.Source)

	source := "distributor_depletions"
	_, err = l.Range(ctx, ledger.RangeQuery{SKU: "A", Source: &source})
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, source, uerr.Source)

	_, err = l.Append(ctx, testhelper.Event("A", "east", models.EventTypeDepletion, 1, testhelper.Day(2026, 1, 1), "z"))
	assert.ErrorIs(t, err, ledger.ErrLedgerUnavailable)
}

func TestIdempotencyKeyPrefersRecordId(t *testing.T) {
	ev := testhelper.Event("A", "east", models.EventTypeDepletion, 1, testhelper.Day(2026, 1, 1), "abc")
	assert.Equal(t, "rid:abc", ledger.IdempotencyKey(ev))

	noID := testhelper.Event("A", "east", models.EventTypeDepletion, 1, testhelper.Day(2026, 1, 1), "")
	other := testhelper.Event("A", "east", models.EventTypeDepletion, 1, testhelper.Day(2026, 1, 1).Add(999*time.Millisecond), "")
	assert.Equal(t, ledger.IdempotencyKey(noID), ledger.IdempotencyKey(other))
}
