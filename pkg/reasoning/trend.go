// Package reasoning derives customer journeys and business insights from a
// transaction stream using ordered rule tables.
//
// The rule tables in this package are plain data. Each table is evaluated top
// to bottom; journey stages and next-best actions take the first match, while
// insight tables report every match.
package reasoning

// Trend is the direction of a least-squares fit.
type Trend string

const (
	TrendUp     Trend = "up"
	TrendDown   Trend = "down"
	TrendStable Trend = "stable"
)

// trendTolerance is the fraction of the mean a slope must exceed to count as
// a direction rather than noise.
const trendTolerance = 0.05

// slope returns the least-squares slope of ys over xs. It returns 0 with
// fewer than two points or when every x is equal.
func slope(xs, ys []float64) float64 {
	n := float64(len(xs))
	if len(xs) < 2 || len(xs) != len(ys) {
		return 0
	}
	var sx, sy, sxx, sxy float64
	for i := range xs {
		sx += xs[i]
		sy += ys[i]
		sxx += xs[i] * xs[i]
		sxy += xs[i] * ys[i]
	}
	den := n*sxx - sx*sx
	if den == 0 {
		return 0
	}
	return (n*sxy - sx*sy) / den
}

func mean(ys []float64) float64 {
	if len(ys) == 0 {
		return 0
	}
	var s float64
	for _, y := range ys {
		s += y
	}
	return s / float64(len(ys))
}

// direction classifies s against trendTolerance × |mean|; TrendStable is
// returned inside the band.
func direction(s, m float64) Trend {
	band := trendTolerance * m
	if band < 0 {
		band = -band
	}
	switch {
	case s > band:
		return TrendUp
	case s < -band:
		return TrendDown
	default:
		return TrendStable
	}
}
