package change

import (
	"math"
	"testing"
	"time"
)

var now = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func pt(daysAgo float64, price float64) Point {
	return Point{
		Timestamp: now.Add(-time.Duration(daysAgo * 24 * float64(time.Hour))),
		Price:     price,
	}
}

func approx(t *testing.T, name string, got, want float64) {
	t.Helper()
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("%s = %v, want %v", name, got, want)
	}
}

func TestComputeStartOfWindowDelta(t *testing.T) {
	// Two points inside a 7-day window, current price equals the latest.
	points := []Point{pt(5, 0.40), pt(1, 0.55)}

	stats := Compute(points, 0.55, now, 7)

	if !stats.Defined {
		t.Fatal("stats undefined with 2 in-window points")
	}
	approx(t, "PriceChange", stats.PriceChange, 0.15)
	approx(t, "MinPrice", stats.MinPrice, 0.40)
	approx(t, "MaxPrice", stats.MaxPrice, 0.55)
	approx(t, "ChangePercentage", stats.ChangePercentage, 0.15/0.40*100)
}

func TestComputeCurrentOutsideWindowSet(t *testing.T) {
	// "Current" is the most recent known price, not the last windowed
	// point; extrema still come from the windowed set only.
	points := []Point{pt(6, 0.30), pt(3, 0.70)}

	stats := Compute(points, 0.50, now, 7)

	approx(t, "PriceChange", stats.PriceChange, 0.20)
	approx(t, "MinPrice", stats.MinPrice, 0.30)
	approx(t, "MaxPrice", stats.MaxPrice, 0.70)
}

func TestComputeExcludesPointsBeforeWindow(t *testing.T) {
	// The 30-day-old extreme must not leak into a 7-day window.
	points := []Point{pt(30, 0.05), pt(5, 0.40), pt(1, 0.55)}

	stats := Compute(points, 0.55, now, 7)

	approx(t, "MinPrice", stats.MinPrice, 0.40)
	approx(t, "PriceChange", stats.PriceChange, 0.15)

	wide := Compute(points, 0.55, now, 90)
	approx(t, "wide MinPrice", wide.MinPrice, 0.05)
	approx(t, "wide PriceChange", wide.PriceChange, 0.50)
}

func TestComputeUndefinedWindows(t *testing.T) {
	tests := []struct {
		name   string
		points []Point
	}{
		{"no points", nil},
		{"one point", []Point{pt(2, 0.50)}},
		{"points all before window", []Point{pt(20, 0.30), pt(15, 0.40)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stats := Compute(tt.points, 0.50, now, 7)
			if stats.Defined {
				t.Error("Defined = true, want undefined")
			}
			if stats.PriceChange != 0 || stats.MinPrice != 0 || stats.MaxPrice != 0 || stats.ChangePercentage != 0 {
				t.Errorf("undefined stats not zero-valued: %+v", stats)
			}
		})
	}
}

func TestComputeZeroStartPriceNoDivisionFault(t *testing.T) {
	points := []Point{pt(5, 0.0), pt(1, 0.25)}

	stats := Compute(points, 0.25, now, 7)

	if !stats.Defined {
		t.Fatal("stats undefined")
	}
	approx(t, "PriceChange", stats.PriceChange, 0.25)
	if stats.ChangePercentage != 0 {
		t.Errorf("ChangePercentage = %v, want 0 for zero start price", stats.ChangePercentage)
	}
}

func TestComputeNegativeChange(t *testing.T) {
	points := []Point{pt(5, 0.80), pt(1, 0.20)}

	stats := Compute(points, 0.20, now, 7)

	approx(t, "PriceChange", stats.PriceChange, -0.60)
	approx(t, "ChangePercentage", stats.ChangePercentage, -75.0)
}

func TestComputeAll(t *testing.T) {
	points := []Point{pt(60, 0.10), pt(5, 0.40), pt(1, 0.55)}

	all := ComputeAll(points, 0.55, now, []int{1, 7, 30, 90})
	if len(all) != 4 {
		t.Fatalf("ComputeAll returned %d stats, want 4", len(all))
	}

	byWindow := map[int]Stats{}
	for _, s := range all {
		byWindow[s.WindowDays] = s
	}

	if byWindow[1].Defined {
		t.Error("1-day window defined with a single in-window point")
	}
	if !byWindow[7].Defined || !byWindow[90].Defined {
		t.Error("7- and 90-day windows should be defined")
	}
	approx(t, "90d PriceChange", byWindow[90].PriceChange, 0.45)
}

func TestComputeDeterministic(t *testing.T) {
	// Replaying the same history must reproduce identical values.
	points := []Point{pt(6, 0.33), pt(4, 0.47), pt(2, 0.51)}

	a := Compute(points, 0.51, now, 7)
	b := Compute(points, 0.51, now, 7)
	if a != b {
		t.Errorf("repeated computation differs: %+v vs %+v", a, b)
	}
}
