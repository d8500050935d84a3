// Package indicator derives normalized indicator snapshots from candles or provider series.
package indicator

import (
	"math"

	"github.com/markcheno/go-talib"
	"github.com/shopspring/decimal"
)

// RSI computes the Wilder-smoothed relative strength index. The result holds one value
// per input after the first period changes; it is empty when values is too short.
// Readings taken while the series has not moved yet are 50.
func RSI(values []float64, period int) []float64 {
	if period < 2 || len(values) <= period {
		return nil
	}
	out := talib.Rsi(values, period)[period:]

	moved := len(values)
	for i, v := range values {
		if v != values[0] {
			moved = i
			break
		}
	}
	for i := range out {
		if i+period < moved {
			out[i] = 50
		}
	}
	return out
}

// SMA returns the simple moving average of every full window, oldest first.
func SMA(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}
	if period == 1 {
		return append([]float64(nil), values...)
	}
	return talib.Sma(values, period)[period-1:]
}

// Bands is one Bollinger reading.
type Bands struct {
	Upper  float64
	Middle float64
	Lower  float64
}

// BollingerBands returns SMA-centred bands using the population deviation, one per full window.
func BollingerBands(values []float64, period int, multiplier float64) []Bands {
	if period < 2 || len(values) < period {
		return nil
	}
	if multiplier <= 0 {
		multiplier = 2
	}
	upper, middle, lower := talib.BBands(values, period, multiplier, multiplier, talib.SMA)
	out := make([]Bands, 0, len(values)-period+1)
	for i := period - 1; i < len(values); i++ {
		out = append(out, Bands{Upper: upper[i], Middle: middle[i], Lower: lower[i]})
	}
	return out
}

// Floor truncates v toward negative infinity at the given number of decimals.
func Floor(v float64, places int32) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	return decimal.NewFromFloat(v).RoundFloor(places).InexactFloat64()
}
