package indicator

import (
	"context"
	"errors"
	"fmt"

	"alertbot-go/internal/signal"
)

// ErrIndicatorUnavailable marks a successful provider reply that lacked a required series.
var ErrIndicatorUnavailable = errors.New("indicator unavailable")

const (
	rsiPlaces  = 2
	bandPlaces = 6

	DefaultRSIPeriod    = 14
	DefaultBandPeriod   = 14
	DefaultBandStdDev   = 2.0
	DefaultSMAPeriod    = 50
	DefaultCandleLength = 200
)

// Builder turns provider data plus an externally supplied quote into a snapshot.
type Builder interface {
	Build(ctx context.Context, symbol string, quote float64) (signal.Snapshot, error)
}

// CandleSource supplies closing prices ordered oldest to newest.
type CandleSource interface {
	Closes(ctx context.Context, symbol string) ([]float64, error)
}

// IndicatorSource supplies provider-computed indicator series.
type IndicatorSource interface {
	RSI(ctx context.Context, symbol string) ([]float64, error)
	BollingerBands(ctx context.Context, symbol string) (upper, lower []float64, err error)
	SMA(ctx context.Context, symbol string, period int) ([]float64, error)
}

// CandleBuilder derives every reading locally from a closing-price series.
type CandleBuilder struct {
	src        CandleSource
	rsiPeriod  int
	bandPeriod int
	bandStdDev float64
	smaPeriod  int
}

// NewCandleBuilder uses RSI(14), BB(14, 2) and SMA(50).
func NewCandleBuilder(src CandleSource) *CandleBuilder {
	return &CandleBuilder{
		src:        src,
		rsiPeriod:  DefaultRSIPeriod,
		bandPeriod: DefaultBandPeriod,
		bandStdDev: DefaultBandStdDev,
		smaPeriod:  DefaultSMAPeriod,
	}
}

// Build fetches closes for symbol and derives the snapshot.
func (b *CandleBuilder) Build(ctx context.Context, symbol string, quote float64) (signal.Snapshot, error) {
	closes, err := b.src.Closes(ctx, symbol)
	if err != nil {
		return signal.Snapshot{}, err
	}
	return b.FromCloses(symbol, closes, quote)
}

// FromCloses derives a snapshot from an already fetched series.
func (b *CandleBuilder) FromCloses(symbol string, closes []float64, quote float64) (signal.Snapshot, error) {
	need := max(b.rsiPeriod+1, b.bandPeriod, b.smaPeriod)
	if len(closes) < need {
		return signal.Snapshot{}, fmt.Errorf("%s: %d closes, need %d: %w", symbol, len(closes), need, ErrIndicatorUnavailable)
	}

	rsi := RSI(closes, b.rsiPeriod)
	if len(rsi) == 0 {
		return signal.Snapshot{}, fmt.Errorf("%s rsi: %w", symbol, ErrIndicatorUnavailable)
	}

	bands := BollingerBands(closes, b.bandPeriod, b.bandStdDev)
	if len(bands) == 0 {
		return signal.Snapshot{}, fmt.Errorf("%s bollinger bands: %w", symbol, ErrIndicatorUnavailable)
	}
	latest := bands[len(bands)-1]

	sma := SMA(closes, b.smaPeriod)
	if len(sma) == 0 {
		return signal.Snapshot{}, fmt.Errorf("%s sma: %w", symbol, ErrIndicatorUnavailable)
	}

	return signal.Snapshot{
		Symbol:  symbol,
		RSI:     Floor(rsi[len(rsi)-1], rsiPlaces),
		BBUpper: Floor(latest.Upper, bandPlaces),
		BBLower: Floor(latest.Lower, bandPlaces),
		SMA50:   Floor(sma[len(sma)-1], bandPlaces),
		Quote:   quote,
	}, nil
}

// ProviderBuilder reads the last element of provider-computed series.
type ProviderBuilder struct {
	src       IndicatorSource
	smaPeriod int
}

// NewProviderBuilder reads SMA with the given period (50 when zero).
func NewProviderBuilder(src IndicatorSource, smaPeriod int) *ProviderBuilder {
	if smaPeriod <= 0 {
		smaPeriod = DefaultSMAPeriod
	}
	return &ProviderBuilder{src: src, smaPeriod: smaPeriod}
}

// Build issues the three indicator requests and keeps the newest value of each.
func (b *ProviderBuilder) Build(ctx context.Context, symbol string, quote float64) (signal.Snapshot, error) {
	rsi, err := b.src.RSI(ctx, symbol)
	if err != nil {
		return signal.Snapshot{}, err
	}
	lastRSI, err := last(symbol, "rsi", rsi)
	if err != nil {
		return signal.Snapshot{}, err
	}

	upper, lower, err := b.src.BollingerBands(ctx, symbol)
	if err != nil {
		return signal.Snapshot{}, err
	}
	lastUpper, err := last(symbol, "upperband", upper)
	if err != nil {
		return signal.Snapshot{}, err
	}
	lastLower, err := last(symbol, "lowerband", lower)
	if err != nil {
		return signal.Snapshot{}, err
	}

	sma, err := b.src.SMA(ctx, symbol, b.smaPeriod)
	if err != nil {
		return signal.Snapshot{}, err
	}
	lastSMA, err := last(symbol, "sma", sma)
	if err != nil {
		return signal.Snapshot{}, err
	}

	return signal.Snapshot{
		Symbol:  symbol,
		RSI:     Floor(lastRSI, rsiPlaces),
		BBUpper: Floor(lastUpper, bandPlaces),
		BBLower: Floor(lastLower, bandPlaces),
		SMA50:   Floor(lastSMA, bandPlaces),
		Quote:   quote,
	}, nil
}

func last(symbol, name string, series []float64) (float64, error) {
	if len(series) == 0 {
		return 0, fmt.Errorf("%s %s series empty: %w", symbol, name, ErrIndicatorUnavailable)
	}
	return series[len(series)-1], nil
}
