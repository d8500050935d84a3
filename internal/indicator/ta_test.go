package indicator

import (
	"math"
	"testing"
)

func TestRSIWilderSmoothing(t *testing.T) {
	got := RSI([]float64{1, 2, 3, 2}, 2)
	want := []float64{100, 50}
	if len(got) != len(want) {
		t.Fatalf("expected %d values, got %v", len(want), got)
	}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-9 {
			t.Fatalf("rsi[%d]: expected %.4f got %.4f", i, want[i], got[i])
		}
	}
}

func TestRSITooShort(t *testing.T) {
	if got := RSI([]float64{1, 2, 3}, 14); got != nil {
		t.Fatalf("expected nil for short input, got %v", got)
	}
}

func TestRSIFallingSeriesIsZero(t *testing.T) {
	values := make([]float64, 30)
	for i := range values {
		values[i] = float64(100 - i)
	}
	got := RSI(values, 14)
	if got[len(got)-1] != 0 {
		t.Fatalf("expected 0 rsi for monotonically falling series, got %.4f", got[len(got)-1])
	}
}

func TestRSIFlatSeriesIsNeutral(t *testing.T) {
	values := []float64{5, 5, 5, 5, 6}
	got := RSI(values, 2)
	if len(got) != 3 || got[0] != 50 || got[1] != 50 {
		t.Fatalf("expected neutral rsi while flat, got %v", got)
	}
	if got[2] != 100 {
		t.Fatalf("expected 100 after the first gain, got %v", got[2])
	}
}

func TestSMAUsesLastPeriodValues(t *testing.T) {
	got := SMA([]float64{100, 1, 2, 3}, 3)
	if len(got) != 2 || math.Abs(got[0]-(103.0/3)) > 1e-9 || math.Abs(got[1]-2) > 1e-9 {
		t.Fatalf("unexpected sma series %v", got)
	}
	if SMA([]float64{1}, 3) != nil {
		t.Fatalf("expected no result before period values")
	}
}

func TestBollingerBandsPopulationDeviation(t *testing.T) {
	bands := BollingerBands([]float64{50, 2, 4, 4, 6}, 4, 2)
	if len(bands) != 2 {
		t.Fatalf("expected 2 readings, got %d", len(bands))
	}
	last := bands[len(bands)-1]
	// window 2,4,4,6: mean 4, population sd sqrt(2)
	sd := math.Sqrt2
	if math.Abs(last.Middle-4) > 1e-9 || math.Abs(last.Upper-(4+2*sd)) > 1e-9 || math.Abs(last.Lower-(4-2*sd)) > 1e-9 {
		t.Fatalf("unexpected bands %+v", last)
	}
	if BollingerBands([]float64{1, 2}, 4, 2) != nil {
		t.Fatalf("expected nil for short input")
	}
}

func TestFloorNeverRoundsUp(t *testing.T) {
	cases := []struct {
		in     float64
		places int32
		want   float64
	}{
		{66.789, 2, 66.78},
		{66.781, 2, 66.78},
		{0.1234569, 6, 0.123456},
		{148.0, 6, 148},
		{-1.005, 2, -1.01},
	}
	for _, tc := range cases {
		if got := Floor(tc.in, tc.places); got != tc.want {
			t.Fatalf("Floor(%v, %d): expected %v got %v", tc.in, tc.places, tc.want, got)
		}
	}
	if !math.IsNaN(Floor(math.NaN(), 2)) {
		t.Fatalf("expected NaN passthrough")
	}
}
