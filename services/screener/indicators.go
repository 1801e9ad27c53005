package screener

import (
	"fmt"
	"time"
)

// Moving-average windows used by the alignment/convergence screen.
const (
	WindowShort  = 5
	WindowMedium = 10
	WindowLong   = 20
	WindowTrend  = 60
	WindowVolume = 5
)

// MAValue is one moving-average sample. Valid is false while the window has
// not yet accumulated enough observations; an invalid value must never be
// read as zero.
type MAValue struct {
	Value float64 `json:"value"`
	Valid bool    `json:"valid"`
}

// IndicatorRow pairs a bar's date with the derived moving averages,
// aligned index-for-index with the input series.
type IndicatorRow struct {
	Date   time.Time `json:"date"`
	MA5    MAValue   `json:"ma5"`
	MA10   MAValue   `json:"ma10"`
	MA20   MAValue   `json:"ma20"`
	MA60   MAValue   `json:"ma60"`
	VolMA5 MAValue   `json:"vol_ma5"`
}

// ComputeIndicators computes the close-price SMAs (5/10/20/60) and the
// 5-day volume SMA for a normalized series. The output has the same length
// and date alignment as the input; the first window-1 rows of each average
// are marked invalid. The series must hold at least MinSeriesLength rows.
func ComputeIndicators(series []Bar) ([]IndicatorRow, error) {
	if len(series) < MinSeriesLength {
		return nil, fmt.Errorf("%w: got %d rows, need %d", ErrInsufficientHistory, len(series), MinSeriesLength)
	}
	return ComputeChartIndicators(series), nil
}

// ComputeChartIndicators is the relaxed variant used for chart display,
// where short listings are still worth plotting. Averages simply stay
// invalid until their window fills.
func ComputeChartIndicators(series []Bar) []IndicatorRow {
	closes := make([]float64, len(series))
	volumes := make([]float64, len(series))
	for i, b := range series {
		closes[i] = b.Close
		volumes[i] = float64(b.Volume)
	}

	ma5 := rollingMean(closes, WindowShort)
	ma10 := rollingMean(closes, WindowMedium)
	ma20 := rollingMean(closes, WindowLong)
	ma60 := rollingMean(closes, WindowTrend)
	volMA5 := rollingMean(volumes, WindowVolume)

	rows := make([]IndicatorRow, len(series))
	for i := range series {
		rows[i] = IndicatorRow{
			Date:   series[i].Date,
			MA5:    ma5[i],
			MA10:   ma10[i],
			MA20:   ma20[i],
			MA60:   ma60[i],
			VolMA5: volMA5[i],
		}
	}
	return rows
}

// rollingMean computes a simple moving average with a running-sum window.
// Positions before the window fills are returned invalid.
func rollingMean(values []float64, window int) []MAValue {
	out := make([]MAValue, len(values))
	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= window {
			sum -= values[i-window]
		}
		if i >= window-1 {
			out[i] = MAValue{Value: sum / float64(window), Valid: true}
		}
	}
	return out
}
