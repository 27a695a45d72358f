package domain

import (
	"math"
	"time"
)

// AssetDetail is the per-asset breakdown stored with a snapshot.
type AssetDetail struct {
	Quantity float64 `json:"quantity"`
	Value    float64 `json:"value_usdt"`
}

// Snapshot is a single point of the portfolio value series.
//
// The series invariant: snapshots are kept sorted by Timestamp ascending and
// no two snapshots lie within 30 seconds of each other. Snapshots are never
// mutated after creation, only pruned by age.
type Snapshot struct {
	Timestamp    int64                  `json:"timestamp"`
	Datetime     string                 `json:"datetime"`
	TotalValue   float64                `json:"total_value"`
	USDTBalance  float64                `json:"usdt_balance"`
	AssetCount   int                    `json:"asset_count"`
	Assets       map[string]AssetDetail `json:"assets,omitempty"`
	IsBackfilled bool                   `json:"is_backfilled"`
}

// NewSnapshot builds a snapshot with the derived ISO datetime and values
// rounded to two decimal places.
func NewSnapshot(ts int64, totalValue, usdtBalance float64, assetCount int, assets map[string]AssetDetail, backfilled bool) Snapshot {
	return Snapshot{
		Timestamp:    ts,
		Datetime:     time.Unix(ts, 0).UTC().Format("2006-01-02T15:04:05") + "Z",
		TotalValue:   round2(totalValue),
		USDTBalance:  round2(usdtBalance),
		AssetCount:   assetCount,
		Assets:       assets,
		IsBackfilled: backfilled,
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Holdings is the last-known asset quantity map used to extrapolate value at
// historical timestamps during backfill. Quantities are not time-varying in
// that extrapolation.
type Holdings struct {
	Assets      map[string]float64 `json:"assets"`
	LastUpdated int64              `json:"last_updated"`
}

// HistoryMetadata summarizes the stored snapshot series.
type HistoryMetadata struct {
	FirstSnapshot       int64 `json:"first_snapshot"`
	LastSnapshot        int64 `json:"last_snapshot"`
	TotalSnapshots      int   `json:"total_snapshots"`
	BackfilledSnapshots int   `json:"backfilled_snapshots"`
}

// HistoryDocument is the persisted shape of the portfolio history store.
type HistoryDocument struct {
	Snapshots       []Snapshot      `json:"snapshots"`
	CurrentHoldings Holdings        `json:"current_holdings"`
	Metadata        HistoryMetadata `json:"metadata"`
}
