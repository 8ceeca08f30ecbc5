// Package analytics holds the pure transforms applied to normalized market
// data: YES/NO price normalization, price-change ranking, arbitrage spread
// detection, ending-soon filtering, and YES/NO history synchronization.
// Nothing here performs I/O or holds state.
package analytics

import (
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/alanyoungcy/opinionproxy/internal/domain"
)

// ArbThreshold is the minimum |arbPct| for a spread to count as an
// opportunity.
const ArbThreshold = 4.0

// ParsePrice converts an upstream decimal price string to a float. Malformed
// strings parse as 0, matching the zero-price fallback convention.
func ParsePrice(s string) float64 {
	p, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return p
}

// NoToYes converts a NO-token price to its YES-equivalent.
func NoToYes(price float64) float64 {
	return 1 - price
}

// ChangePct returns the percentage change from previous to current. A zero
// previous price yields 0 rather than a division blowup.
func ChangePct(current, previous float64) float64 {
	if previous == 0 {
		return 0
	}
	return (current - previous) / previous * 100
}

// ArbPct returns the arbitrage spread percentage: nonzero when the YES and NO
// prices do not sum to 1.
func ArbPct(yesPrice, noPrice float64) float64 {
	return (yesPrice + noPrice - 1) * 100
}

// SortMovers orders movers by absolute price change descending, 24h volume
// descending as the tiebreak.
func SortMovers(movers []domain.MarketMover) {
	sort.SliceStable(movers, func(i, j int) bool {
		ci, cj := math.Abs(movers[i].ChangePct), math.Abs(movers[j].ChangePct)
		if ci != cj {
			return ci > cj
		}
		return movers[i].Volume24h > movers[j].Volume24h
	})
}

// FindArbitrage scans markets with their current prices and returns the
// opportunities whose |arbPct| meets ArbThreshold, largest spread first.
func FindArbitrage(markets []domain.Market, prices map[string]domain.PriceData) []domain.ArbitrageOpportunity {
	opportunities := make([]domain.ArbitrageOpportunity, 0)
	for _, m := range markets {
		if !m.IsBinary() {
			continue
		}
		yes := ParsePrice(prices[m.YesTokenID].Price)
		no := ParsePrice(prices[m.NoTokenID].Price)
		if yes == 0 && no == 0 {
			continue
		}
		pct := ArbPct(yes, no)
		if math.Abs(pct) < ArbThreshold {
			continue
		}
		opportunities = append(opportunities, domain.ArbitrageOpportunity{
			MarketID: m.ID,
			Title:    m.Title,
			YesPrice: yes,
			NoPrice:  no,
			ArbPct:   pct,
		})
	}
	sort.SliceStable(opportunities, func(i, j int) bool {
		return math.Abs(opportunities[i].ArbPct) > math.Abs(opportunities[j].ArbPct)
	})
	return opportunities
}

// EndingSoon returns the markets whose cutoff falls within the next `hours`,
// soonest first. Markets already past cutoff are excluded.
func EndingSoon(markets []domain.Market, prices map[string]domain.PriceData, now time.Time, hours int) []domain.EndingSoonMarket {
	deadline := now.Add(time.Duration(hours) * time.Hour)
	ending := make([]domain.EndingSoonMarket, 0)
	for _, m := range markets {
		cutoff := time.Unix(m.CutoffAt, 0)
		if !cutoff.After(now) || cutoff.After(deadline) {
			continue
		}
		ending = append(ending, domain.EndingSoonMarket{
			MarketID:  m.ID,
			Title:     m.Title,
			CutoffAt:  m.CutoffAt,
			HoursLeft: cutoff.Sub(now).Hours(),
			YesPrice:  ParsePrice(prices[m.YesTokenID].Price),
			NoPrice:   ParsePrice(prices[m.NoTokenID].Price),
		})
	}
	sort.SliceStable(ending, func(i, j int) bool {
		return ending[i].CutoffAt < ending[j].CutoffAt
	})
	return ending
}

// SyncedHistory is a YES/NO price-history pair reduced to the timestamps both
// series share, with the NO leg transformed to its YES-equivalent.
type SyncedHistory struct {
	Timestamps    []int64   `json:"timestamps"`
	YesPrices     []float64 `json:"yesPrices"`
	NoAsYesPrices []float64 `json:"noAsYesPrices"`
}

// SyncHistories intersects the YES and NO series on timestamp. Upstream series
// are assumed ascending but re-sorted defensively before merging. Disjoint
// timestamp sets produce empty (non-nil) arrays.
func SyncHistories(yes, no []domain.PriceHistoryPoint) SyncedHistory {
	synced := SyncedHistory{
		Timestamps:    []int64{},
		YesPrices:     []float64{},
		NoAsYesPrices: []float64{},
	}

	noByTime := make(map[int64]float64, len(no))
	for _, pt := range no {
		noByTime[pt.T] = ParsePrice(pt.P)
	}

	sorted := make([]domain.PriceHistoryPoint, len(yes))
	copy(sorted, yes)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].T < sorted[j].T })

	for _, pt := range sorted {
		noPrice, ok := noByTime[pt.T]
		if !ok {
			continue
		}
		synced.Timestamps = append(synced.Timestamps, pt.T)
		synced.YesPrices = append(synced.YesPrices, ParsePrice(pt.P))
		synced.NoAsYesPrices = append(synced.NoAsYesPrices, NoToYes(noPrice))
	}
	return synced
}
