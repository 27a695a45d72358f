package portfolio

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dkruglov/flatten/internal/domain"
)

const (
	// liveDebounce throttles high-frequency refresh triggers: a live write
	// within this window of the previous accepted live write is dropped.
	liveDebounce = 60 * time.Second

	// dupWindow treats snapshots closer than this as duplicates; the later
	// write is dropped, not merged.
	dupWindow = 30

	// maxBackfillPoints caps one backfill pass to bound historical price
	// fetches; larger grids are subsampled evenly across the window.
	maxBackfillPoints = 500

	// backfillCoverage is the fraction of expected points below which a
	// range is considered too sparse and gets backfilled.
	backfillCoverage = 0.2
)

// Store persists the history document. Implementations replace the whole
// document on every save.
type Store interface {
	Load() (domain.HistoryDocument, error)
	Save(doc domain.HistoryDocument) error
}

// HistoricalPricer supplies point-in-time prices for backfilling.
type HistoricalPricer interface {
	HistoricalPrices(ctx context.Context, symbols []string, ts int64) (map[string]float64, error)
}

// Stats summarizes a snapshot series.
type Stats struct {
	StartValue    float64 `json:"start_value"`
	EndValue      float64 `json:"end_value"`
	ChangePercent float64 `json:"change_percent"`
	MinValue      float64 `json:"min_value"`
	MaxValue      float64 `json:"max_value"`
}

// History is the portfolio value series: append-only, deduplicated,
// debounced, and backfillable from historical prices.
type History struct {
	store  Store
	pricer HistoricalPricer
	quote  string
	log    *zap.Logger
	loc    *time.Location
	now    func() time.Time

	mu            sync.Mutex
	doc           domain.HistoryDocument
	lastLiveWrite time.Time
}

// NewHistory loads the persisted series and returns the store around it.
// A load failure starts an empty in-memory series rather than failing.
func NewHistory(store Store, pricer HistoricalPricer, quote string, log *zap.Logger, loc *time.Location) *History {
	doc, err := store.Load()
	if err != nil {
		log.Warn("failed to load portfolio history, starting empty", zap.Error(err))
		doc = domain.HistoryDocument{}
	}
	if doc.CurrentHoldings.Assets == nil {
		doc.CurrentHoldings.Assets = make(map[string]float64)
	}
	if loc == nil {
		loc = time.Local
	}

	return &History{
		store:  store,
		pricer: pricer,
		quote:  quote,
		log:    log,
		loc:    loc,
		now:    time.Now,
		doc:    doc,
	}
}

// AddSnapshot appends one snapshot, keeping the series sorted. It reports
// whether the write was accepted: live writes are debounced against the
// previous accepted live write, and any write within the duplicate window of
// an existing snapshot is dropped.
func (h *History) AddSnapshot(ts int64, totalValue, usdtBalance float64, assetCount int, assets map[string]domain.AssetDetail, backfilled bool) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.addLocked(ts, totalValue, usdtBalance, assetCount, assets, backfilled)
}

func (h *History) addLocked(ts int64, totalValue, usdtBalance float64, assetCount int, assets map[string]domain.AssetDetail, backfilled bool) bool {
	if !backfilled {
		now := h.now()
		if now.Sub(h.lastLiveWrite) < liveDebounce {
			return false
		}
		h.lastLiveWrite = now
	}

	for _, s := range h.doc.Snapshots {
		if abs64(s.Timestamp-ts) < dupWindow {
			return false
		}
	}

	h.doc.Snapshots = append(h.doc.Snapshots, domain.NewSnapshot(ts, totalValue, usdtBalance, assetCount, assets, backfilled))
	sort.Slice(h.doc.Snapshots, func(i, j int) bool {
		return h.doc.Snapshots[i].Timestamp < h.doc.Snapshots[j].Timestamp
	})

	h.updateMetadataLocked()
	h.saveLocked()
	return true
}

// UpdateHoldings records the last-known asset quantities used to extrapolate
// value during backfill.
func (h *History) UpdateHoldings(assets map[string]domain.AssetDetail) {
	h.mu.Lock()
	defer h.mu.Unlock()

	holdings := make(map[string]float64, len(assets))
	for asset, detail := range assets {
		holdings[asset] = detail.Quantity
	}

	h.doc.CurrentHoldings = domain.Holdings{
		Assets:      holdings,
		LastUpdated: h.now().Unix(),
	}
	h.saveLocked()
}

// Holdings returns the last-known asset quantity map.
func (h *History) Holdings() domain.Holdings {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.doc.CurrentHoldings
}

// GetHistory returns snapshots within the inclusive [start, end] range in
// ascending time order. A zero bound means unbounded on that side.
func (h *History) GetHistory(start, end int64) []domain.Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.historyLocked(start, end)
}

func (h *History) historyLocked(start, end int64) []domain.Snapshot {
	out := make([]domain.Snapshot, 0, len(h.doc.Snapshots))
	for _, s := range h.doc.Snapshots {
		if start != 0 && s.Timestamp < start {
			continue
		}
		if end != 0 && s.Timestamp > end {
			continue
		}
		out = append(out, s)
	}
	return out
}

// LatestSnapshot returns the most recent snapshot, or nil when empty.
func (h *History) LatestSnapshot() *domain.Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.doc.Snapshots) == 0 {
		return nil
	}
	s := h.doc.Snapshots[len(h.doc.Snapshots)-1]
	return &s
}

// FirstSnapshotTime returns the earliest stored timestamp, or 0 when empty.
func (h *History) FirstSnapshotTime() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.doc.Metadata.FirstSnapshot
}

// RangeStartTime computes the window start for a range. Fixed-duration
// ranges subtract from now; ytd starts at January 1 of the current year in
// the configured location; all starts at the earliest snapshot, falling back
// to one year ago when no data exists.
func (h *History) RangeStartTime(r domain.TimeRange) int64 {
	now := h.now()

	switch r {
	case domain.RangeYTD:
		return time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, h.loc).Unix()
	case domain.RangeAll:
		if first := h.FirstSnapshotTime(); first > 0 {
			return first
		}
		return now.Unix() - domain.RangeYear.Seconds()
	}

	secs := r.Seconds()
	if secs == 0 {
		secs = domain.RangeWeek.Seconds()
	}
	return now.Unix() - secs
}

// ShouldBackfill reports whether the range's window is too sparsely covered
// by existing snapshots: under 20% of the point count expected at the
// range's sampling interval.
func (h *History) ShouldBackfill(r domain.TimeRange) bool {
	if h.pricer == nil {
		return false
	}

	start := h.RangeStartTime(r)
	end := h.now().Unix()

	h.mu.Lock()
	actual := len(h.historyLocked(start, end))
	h.mu.Unlock()

	expected := float64(end-start) / float64(IntervalForRange(r).Seconds())
	return float64(actual) < expected*backfillCoverage
}

// Backfill synthesizes snapshots across [start, end] at the given interval
// using historical prices against the current holdings' quantities. It
// returns the number of snapshots added. Per-timestamp fetch failures are
// logged and skipped.
func (h *History) Backfill(ctx context.Context, holdings domain.Holdings, start, end int64, interval Interval) int {
	if h.pricer == nil {
		return 0
	}

	step := interval.Seconds()

	h.mu.Lock()
	existing := make([]int64, 0, len(h.doc.Snapshots))
	for _, s := range h.doc.Snapshots {
		existing = append(existing, s.Timestamp)
	}
	h.mu.Unlock()

	var grid []int64
	for ts := start; ts <= end; ts += step {
		covered := false
		for _, et := range existing {
			if abs64(ts-et) < step/2 {
				covered = true
				break
			}
		}
		if !covered {
			grid = append(grid, ts)
		}
	}

	if len(grid) == 0 {
		return 0
	}

	if len(grid) > maxBackfillPoints {
		sampled := make([]int64, 0, maxBackfillPoints)
		stride := len(grid) / maxBackfillPoints
		for i := 0; i < len(grid) && len(sampled) < maxBackfillPoints; i += stride {
			sampled = append(sampled, grid[i])
		}
		grid = sampled
	}

	symbols := make([]string, 0, len(holdings.Assets))
	for asset := range holdings.Assets {
		if asset != h.quote {
			symbols = append(symbols, domain.Pair{Base: asset, Quote: h.quote}.Symbol())
		}
	}
	sort.Strings(symbols)

	added := 0
	for _, ts := range grid {
		prices, err := h.pricer.HistoricalPrices(ctx, symbols, ts)
		if err != nil {
			h.log.Warn("failed to backfill timestamp",
				zap.Int64("timestamp", ts), zap.Error(err))
			continue
		}

		quoteBalance := holdings.Assets[h.quote]
		total := quoteBalance
		for asset, qty := range holdings.Assets {
			if asset == h.quote {
				continue
			}
			total += qty * prices[domain.Pair{Base: asset, Quote: h.quote}.Symbol()]
		}

		if total <= 0 {
			continue
		}

		if h.AddSnapshot(ts, total, quoteBalance, len(holdings.Assets), nil, true) {
			added++
		}
	}

	return added
}

// CalculateStats computes the summary of a snapshot series, sorted by
// timestamp. Change percent is zero when the start value is not positive.
func CalculateStats(snapshots []domain.Snapshot) Stats {
	if len(snapshots) == 0 {
		return Stats{}
	}

	sorted := make([]domain.Snapshot, len(snapshots))
	copy(sorted, snapshots)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Timestamp < sorted[j].Timestamp
	})

	start := sorted[0].TotalValue
	end := sorted[len(sorted)-1].TotalValue
	minValue, maxValue := start, start
	for _, s := range sorted {
		minValue = math.Min(minValue, s.TotalValue)
		maxValue = math.Max(maxValue, s.TotalValue)
	}

	var change float64
	if start > 0 {
		change = (end - start) / start * 100
	}

	return Stats{
		StartValue:    round2(start),
		EndValue:      round2(end),
		ChangePercent: round2(change),
		MinValue:      round2(minValue),
		MaxValue:      round2(maxValue),
	}
}

// PruneOldData removes snapshots older than daysToKeep days and returns the
// number removed.
func (h *History) PruneOldData(daysToKeep int) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	cutoff := h.now().Unix() - int64(daysToKeep)*86400

	kept := h.doc.Snapshots[:0]
	for _, s := range h.doc.Snapshots {
		if s.Timestamp >= cutoff {
			kept = append(kept, s)
		}
	}

	removed := len(h.doc.Snapshots) - len(kept)
	h.doc.Snapshots = kept

	if removed > 0 {
		h.updateMetadataLocked()
		h.saveLocked()
	}
	return removed
}

func (h *History) updateMetadataLocked() {
	meta := domain.HistoryMetadata{TotalSnapshots: len(h.doc.Snapshots)}
	if len(h.doc.Snapshots) > 0 {
		meta.FirstSnapshot = h.doc.Snapshots[0].Timestamp
		meta.LastSnapshot = h.doc.Snapshots[len(h.doc.Snapshots)-1].Timestamp
	}
	for _, s := range h.doc.Snapshots {
		if s.IsBackfilled {
			meta.BackfilledSnapshots++
		}
	}
	h.doc.Metadata = meta
}

// saveLocked persists the document; IO failures are logged and the store
// keeps operating with in-memory state.
func (h *History) saveLocked() {
	if err := h.store.Save(h.doc); err != nil {
		h.log.Warn("failed to save portfolio history", zap.Error(err))
	}
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Describe renders a short human summary of the stats, used by logs.
func (s Stats) Describe() string {
	return fmt.Sprintf("start=%.2f end=%.2f change=%.2f%% min=%.2f max=%.2f",
		s.StartValue, s.EndValue, s.ChangePercent, s.MinValue, s.MaxValue)
}
