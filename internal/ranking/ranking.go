package ranking

import "sort"

// Mover is one gainer/loser row
type Mover struct {
	Symbol        string  `json:"symbol"`
	CurrentPrice  float64 `json:"current_price"`
	ChangePercent float64 `json:"change_percent"`
}

// VolumeRow is one volume table row
type VolumeRow struct {
	Symbol          string  `json:"symbol"`
	LastPrice       float64 `json:"last_price"`
	TimeframeVolume float64 `json:"timeframe_volume"`
	Volume24h       float64 `json:"volume_24h"`
	PriceChange     float64 `json:"price_change"`
}

// FundingRow is one funding table row
type FundingRow struct {
	Symbol         string  `json:"symbol"`
	FundingRate    float64 `json:"funding_rate"`
	FundingRatePct float64 `json:"funding_rate_pct"`
	LastPrice      float64 `json:"last_price"`
}

// PercentChange returns the change from reference to current in percent.
// A zero or negative reference yields 0.
func PercentChange(current, reference float64) float64 {
	if reference <= 0 {
		return 0
	}
	return (current - reference) / reference * 100
}

// RankMovers sorts by change descending and returns the top n as gainers
// and the bottom n, most negative first, as losers. With fewer than 2n rows
// the two tables overlap.
func RankMovers(rows []Mover, n int) (gainers, losers []Mover) {
	sorted := append([]Mover(nil), rows...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].ChangePercent != sorted[j].ChangePercent {
			return sorted[i].ChangePercent > sorted[j].ChangePercent
		}
		return sorted[i].Symbol < sorted[j].Symbol
	})

	gainers = head(sorted, n)
	losers = reversed(tail(sorted, n))
	return gainers, losers
}

// RankVolume drops excluded and zero-volume rows, sorts by timeframe volume
// descending and keeps the first n rising and the first n falling rows.
// Flat rows appear in neither table.
func RankVolume(rows []VolumeRow, n int, excluded func(symbol string) bool) (gaining, losing []VolumeRow) {
	sorted := SortByVolume(rows)

	gaining = make([]VolumeRow, 0, n)
	losing = make([]VolumeRow, 0, n)
	for _, r := range sorted {
		if excluded != nil && excluded(r.Symbol) {
			continue
		}
		switch {
		case r.PriceChange > 0 && len(gaining) < n:
			gaining = append(gaining, r)
		case r.PriceChange < 0 && len(losing) < n:
			losing = append(losing, r)
		}
		if len(gaining) == n && len(losing) == n {
			break
		}
	}
	return gaining, losing
}

// SortByVolume returns the rows with positive timeframe volume, highest first
func SortByVolume(rows []VolumeRow) []VolumeRow {
	sorted := make([]VolumeRow, 0, len(rows))
	for _, r := range rows {
		if r.TimeframeVolume > 0 {
			sorted = append(sorted, r)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].TimeframeVolume != sorted[j].TimeframeVolume {
			return sorted[i].TimeframeVolume > sorted[j].TimeframeVolume
		}
		return sorted[i].Symbol < sorted[j].Symbol
	})
	return sorted
}

// TopByVolume returns the symbols of the n highest-volume rows, unfiltered
func TopByVolume(rows []VolumeRow, n int) []string {
	sorted := SortByVolume(rows)
	top := head(sorted, n)
	out := make([]string, len(top))
	for i, r := range top {
		out[i] = r.Symbol
	}
	return out
}

// RankFunding sorts by signed rate descending; positive is the top n and
// negative the bottom n, most negative first
func RankFunding(rows []FundingRow, n int) (positive, negative []FundingRow) {
	sorted := append([]FundingRow(nil), rows...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].FundingRate != sorted[j].FundingRate {
			return sorted[i].FundingRate > sorted[j].FundingRate
		}
		return sorted[i].Symbol < sorted[j].Symbol
	})

	return head(sorted, n), reversed(tail(sorted, n))
}

func head[T any](s []T, n int) []T {
	if n > len(s) {
		n = len(s)
	}
	if n < 0 {
		n = 0
	}
	return append([]T(nil), s[:n]...)
}

func tail[T any](s []T, n int) []T {
	if n > len(s) {
		n = len(s)
	}
	if n < 0 {
		n = 0
	}
	return s[len(s)-n:]
}

func reversed[T any](s []T) []T {
	out := make([]T, len(s))
	for i, v := range s {
		out[len(s)-1-i] = v
	}
	return out
}
