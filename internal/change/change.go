// Package change computes rolling market-change statistics over persisted
// price history.
package change

import "time"

// Point is a single historical price observation. Points handed to
// Compute must be sorted ascending by timestamp.
type Point struct {
	Timestamp time.Time
	Price     float64
}

// Stats holds the derived statistics for one trailing window.
//
// The delta is defined as current price minus the price at the start of
// the window, where "current" always means the market's most recent known
// price, which may lie outside the window set itself.
type Stats struct {
	WindowDays       int
	PriceChange      float64
	MinPrice         float64
	MaxPrice         float64
	ChangePercentage float64
	Defined          bool
}

// Compute derives the statistics for one trailing window of windowDays
// ending at now. Fewer than two in-window points make the window
// undefined: a zero-valued record is returned rather than an error, so
// callers persist it as-is.
func Compute(points []Point, currentPrice float64, now time.Time, windowDays int) Stats {
	stats := Stats{WindowDays: windowDays}

	windowStart := now.AddDate(0, 0, -windowDays)
	windowed := inWindow(points, windowStart)
	if len(windowed) < 2 {
		return stats
	}

	startPrice := windowed[0].Price
	minPrice, maxPrice := windowed[0].Price, windowed[0].Price
	for _, p := range windowed[1:] {
		if p.Price < minPrice {
			minPrice = p.Price
		}
		if p.Price > maxPrice {
			maxPrice = p.Price
		}
	}

	stats.Defined = true
	stats.PriceChange = currentPrice - startPrice
	stats.MinPrice = minPrice
	stats.MaxPrice = maxPrice
	if startPrice > 0 {
		stats.ChangePercentage = stats.PriceChange / startPrice * 100
	}

	return stats
}

// ComputeAll derives statistics for each requested window.
func ComputeAll(points []Point, currentPrice float64, now time.Time, windows []int) []Stats {
	out := make([]Stats, 0, len(windows))
	for _, w := range windows {
		out = append(out, Compute(points, currentPrice, now, w))
	}
	return out
}

// inWindow returns the suffix of ascending points at or after start.
func inWindow(points []Point, start time.Time) []Point {
	for i, p := range points {
		if !p.Timestamp.Before(start) {
			return points[i:]
		}
	}
	return nil
}
