package portfolio

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dkruglov/flatten/internal/domain"
)

type memStore struct {
	doc      domain.HistoryDocument
	saves    int
	failSave bool
}

func (m *memStore) Load() (domain.HistoryDocument, error) {
	return m.doc, nil
}

func (m *memStore) Save(doc domain.HistoryDocument) error {
	if m.failSave {
		return errors.New("disk full")
	}
	m.doc = doc
	m.saves++
	return nil
}

type fakePricer struct {
	prices map[string]float64
	calls  int
	fail   bool
}

func (p *fakePricer) HistoricalPrices(ctx context.Context, symbols []string, ts int64) (map[string]float64, error) {
	p.calls++
	if p.fail {
		return nil, errors.New("venue unavailable")
	}
	return p.prices, nil
}

func newTestHistory(store Store, pricer HistoricalPricer) (*History, *time.Time) {
	h := NewHistory(store, pricer, "USDT", zap.NewNop(), time.UTC)
	now := time.Unix(1_750_000_000, 0).UTC()
	h.now = func() time.Time { return now }
	return h, &now
}

func TestAddSnapshotDuplicateSuppression(t *testing.T) {
	h, _ := newTestHistory(&memStore{}, nil)
	base := int64(1_750_000_000)

	// backfilled writes bypass the live debounce, isolating the dup window
	require.True(t, h.AddSnapshot(base, 100, 100, 1, nil, true))
	require.False(t, h.AddSnapshot(base+29, 101, 101, 1, nil, true), "within 30s is a duplicate")
	require.True(t, h.AddSnapshot(base+30, 102, 102, 1, nil, true), "30s apart is distinct")

	require.Len(t, h.GetHistory(0, 0), 2)
}

func TestAddSnapshotLiveDebounce(t *testing.T) {
	h, now := newTestHistory(&memStore{}, nil)
	base := now.Unix()

	require.True(t, h.AddSnapshot(base, 100, 100, 1, nil, false))

	*now = now.Add(30 * time.Second)
	require.False(t, h.AddSnapshot(base+100, 101, 101, 1, nil, false), "live write within 60s is dropped")

	// backfilled writes are exempt from the debounce
	require.True(t, h.AddSnapshot(base+200, 102, 102, 1, nil, true))

	*now = now.Add(31 * time.Second)
	require.True(t, h.AddSnapshot(base+300, 103, 103, 1, nil, false))
}

func TestSnapshotsKeptSorted(t *testing.T) {
	h, _ := newTestHistory(&memStore{}, nil)

	require.True(t, h.AddSnapshot(3000, 3, 3, 1, nil, true))
	require.True(t, h.AddSnapshot(1000, 1, 1, 1, nil, true))
	require.True(t, h.AddSnapshot(2000, 2, 2, 1, nil, true))

	snaps := h.GetHistory(0, 0)
	require.Len(t, snaps, 3)
	require.Equal(t, int64(1000), snaps[0].Timestamp)
	require.Equal(t, int64(2000), snaps[1].Timestamp)
	require.Equal(t, int64(3000), snaps[2].Timestamp)
}

func TestGetHistoryRangeIsInclusive(t *testing.T) {
	h, _ := newTestHistory(&memStore{}, nil)
	for _, ts := range []int64{1000, 2000, 3000, 4000} {
		require.True(t, h.AddSnapshot(ts, 1, 1, 1, nil, true))
	}

	snaps := h.GetHistory(2000, 3000)
	require.Len(t, snaps, 2)
	require.Equal(t, int64(2000), snaps[0].Timestamp)
	require.Equal(t, int64(3000), snaps[1].Timestamp)
}

func TestRangeStartTime(t *testing.T) {
	h, now := newTestHistory(&memStore{}, nil)

	require.InDelta(t, now.Unix()-604800, h.RangeStartTime(domain.RangeWeek), 1)
	require.InDelta(t, now.Unix()-86400, h.RangeStartTime(domain.RangeDay), 1)

	yearStart := time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, time.UTC).Unix()
	require.Equal(t, yearStart, h.RangeStartTime(domain.RangeYTD))

	// no data: all falls back to one year ago
	require.Equal(t, now.Unix()-31536000, h.RangeStartTime(domain.RangeAll))

	require.True(t, h.AddSnapshot(now.Unix()-5000, 100, 100, 1, nil, true))
	require.Equal(t, now.Unix()-5000, h.RangeStartTime(domain.RangeAll))

	// unrecognized range defaults to one week
	require.Equal(t, now.Unix()-604800, h.RangeStartTime(domain.TimeRange("2w")))
}

func TestIntervalForRange(t *testing.T) {
	require.Equal(t, IntervalQuarterHour, IntervalForRange(domain.RangeDay))
	require.Equal(t, IntervalHour, IntervalForRange(domain.RangeWeek))
	require.Equal(t, IntervalFourHours, IntervalForRange(domain.RangeMonth))
	require.Equal(t, IntervalDay, IntervalForRange(domain.RangeYear))
	require.Equal(t, IntervalDay, IntervalForRange(domain.RangeYTD))
	require.Equal(t, IntervalHour, IntervalForRange(domain.TimeRange("bogus")))

	require.Equal(t, int64(900), IntervalQuarterHour.Seconds())
	require.Equal(t, int64(3600), Interval("unknown").Seconds())
}

func TestCalculateStats(t *testing.T) {
	snaps := []domain.Snapshot{
		{Timestamp: 4, TotalValue: 120},
		{Timestamp: 1, TotalValue: 100},
		{Timestamp: 3, TotalValue: 90},
		{Timestamp: 2, TotalValue: 150},
	}

	stats := CalculateStats(snaps)
	require.Equal(t, 100.0, stats.StartValue)
	require.Equal(t, 120.0, stats.EndValue)
	require.Equal(t, 20.0, stats.ChangePercent)
	require.Equal(t, 90.0, stats.MinValue)
	require.Equal(t, 150.0, stats.MaxValue)
}

func TestCalculateStatsZeroStart(t *testing.T) {
	stats := CalculateStats([]domain.Snapshot{
		{Timestamp: 1, TotalValue: 0},
		{Timestamp: 2, TotalValue: 50},
	})
	require.Equal(t, 0.0, stats.ChangePercent)

	require.Equal(t, Stats{}, CalculateStats(nil))
}

func TestShouldBackfill(t *testing.T) {
	pricer := &fakePricer{prices: map[string]float64{}}
	h, now := newTestHistory(&memStore{}, pricer)

	// empty window: 0 < 20% of ~96 expected points
	require.True(t, h.ShouldBackfill(domain.RangeDay))

	// densely covered window: 24 of ~96 expected is over 20%
	for i := int64(0); i < 24; i++ {
		require.True(t, h.AddSnapshot(now.Unix()-i*3600, 100, 100, 1, nil, true))
	}
	require.False(t, h.ShouldBackfill(domain.RangeDay))
}

func TestShouldBackfillWithoutPricer(t *testing.T) {
	h, _ := newTestHistory(&memStore{}, nil)
	require.False(t, h.ShouldBackfill(domain.RangeDay))
}

func TestBackfillComputesValueFromHoldings(t *testing.T) {
	pricer := &fakePricer{prices: map[string]float64{"BTCUSDT": 40000}}
	h, _ := newTestHistory(&memStore{}, pricer)

	holdings := domain.Holdings{Assets: map[string]float64{"USDT": 100, "BTC": 0.5}}
	start := int64(1_749_000_000)
	end := start + 10*3600

	added := h.Backfill(context.Background(), holdings, start, end, IntervalHour)
	require.Equal(t, 11, added)

	snaps := h.GetHistory(start, end)
	require.Len(t, snaps, 11)
	require.Equal(t, 20100.0, snaps[0].TotalValue) // 100 + 0.5*40000
	require.True(t, snaps[0].IsBackfilled)
}

func TestBackfillSkipsCoveredTimestamps(t *testing.T) {
	pricer := &fakePricer{prices: map[string]float64{"BTCUSDT": 40000}}
	h, _ := newTestHistory(&memStore{}, pricer)

	start := int64(1_749_000_000)
	end := start + 10*3600

	// pre-cover four grid points
	for i := int64(0); i < 4; i++ {
		require.True(t, h.AddSnapshot(start+i*3600, 100, 100, 1, nil, true))
	}

	holdings := domain.Holdings{Assets: map[string]float64{"USDT": 100, "BTC": 0.5}}
	added := h.Backfill(context.Background(), holdings, start, end, IntervalHour)
	require.Equal(t, 7, added)
}

func TestBackfillCapsGridAtFiveHundredPoints(t *testing.T) {
	pricer := &fakePricer{prices: map[string]float64{"BTCUSDT": 40000}}
	h, _ := newTestHistory(&memStore{}, pricer)

	holdings := domain.Holdings{Assets: map[string]float64{"USDT": 100, "BTC": 0.5}}
	start := int64(1_700_000_000)
	end := start + 2000*3600 // 2001 expected points

	added := h.Backfill(context.Background(), holdings, start, end, IntervalHour)
	require.Equal(t, 500, added)
	require.LessOrEqual(t, pricer.calls, 500)
}

func TestBackfillSurvivesFetchFailures(t *testing.T) {
	pricer := &fakePricer{fail: true}
	h, _ := newTestHistory(&memStore{}, pricer)

	holdings := domain.Holdings{Assets: map[string]float64{"USDT": 100, "BTC": 0.5}}
	added := h.Backfill(context.Background(), holdings, 1_749_000_000, 1_749_000_000+5*3600, IntervalHour)
	require.Zero(t, added)
	require.Empty(t, h.GetHistory(0, 0))
}

func TestPruneOldData(t *testing.T) {
	h, now := newTestHistory(&memStore{}, nil)

	old := now.Unix() - 400*86400
	recent := now.Unix() - 10*86400
	require.True(t, h.AddSnapshot(old, 100, 100, 1, nil, true))
	require.True(t, h.AddSnapshot(recent, 200, 200, 1, nil, true))

	removed := h.PruneOldData(365)
	require.Equal(t, 1, removed)

	snaps := h.GetHistory(0, 0)
	require.Len(t, snaps, 1)
	require.Equal(t, recent, snaps[0].Timestamp)
	require.Zero(t, h.PruneOldData(365), "second prune removes nothing")
}

func TestSaveFailureKeepsInMemoryState(t *testing.T) {
	store := &memStore{failSave: true}
	h, _ := newTestHistory(store, nil)

	require.True(t, h.AddSnapshot(1000, 100, 100, 1, nil, true))
	require.Len(t, h.GetHistory(0, 0), 1)
	require.Zero(t, store.saves)
}

func TestUpdateHoldings(t *testing.T) {
	store := &memStore{}
	h, now := newTestHistory(store, nil)

	h.UpdateHoldings(map[string]domain.AssetDetail{
		"BTC":  {Quantity: 0.5, Value: 20000},
		"USDT": {Quantity: 100, Value: 100},
	})

	holdings := h.Holdings()
	require.Equal(t, 0.5, holdings.Assets["BTC"])
	require.Equal(t, 100.0, holdings.Assets["USDT"])
	require.Equal(t, now.Unix(), holdings.LastUpdated)
	require.Equal(t, 1, store.saves)
}

func TestMetadataTracksSeries(t *testing.T) {
	store := &memStore{}
	h, _ := newTestHistory(store, nil)

	require.True(t, h.AddSnapshot(1000, 100, 100, 1, nil, true))
	require.True(t, h.AddSnapshot(2000, 110, 100, 1, nil, false))

	require.Equal(t, int64(1000), store.doc.Metadata.FirstSnapshot)
	require.Equal(t, int64(2000), store.doc.Metadata.LastSnapshot)
	require.Equal(t, 2, store.doc.Metadata.TotalSnapshots)
	require.Equal(t, 1, store.doc.Metadata.BackfilledSnapshots)
}

func TestStatsDescribe(t *testing.T) {
	stats := Stats{StartValue: 100, EndValue: 120, ChangePercent: 20, MinValue: 90, MaxValue: 150}
	require.Equal(t, "start=100.00 end=120.00 change=20.00% min=90.00 max=150.00", stats.Describe())
}
