package screener

import (
	"errors"
	"sort"
	"time"
)

// MinSeriesLength is the shortest series the calculator accepts. It equals
// the longest moving-average window (60 trading days).
const MinSeriesLength = 60

// Per-symbol failure sentinels. The screening session maps these to the
// failure reasons recorded in the outcome.
var (
	ErrFetchFailed         = errors.New("fetch failed")
	ErrNoData              = errors.New("no usable price data")
	ErrInsufficientHistory = errors.New("insufficient price history")
)

// Bar represents one trading day of OHLCV data for a single symbol.
type Bar struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// RawBar is one row as delivered by a data source. Fields are pointers
// because feeds mark untraded or partial days with nulls; a nil field
// disqualifies the whole row rather than being filled in.
type RawBar struct {
	Date   time.Time
	Open   *float64
	High   *float64
	Low    *float64
	Close  *float64
	Volume *int64
}

// Clean converts raw rows into an ascending, gap-free daily series.
// Rows with any missing field, a non-positive close, or a negative volume
// are dropped outright; nothing is interpolated or forward-filled.
// Duplicate dates keep the first occurrence after sorting.
func Clean(raw []RawBar) []Bar {
	bars := make([]Bar, 0, len(raw))
	for _, r := range raw {
		if r.Open == nil || r.High == nil || r.Low == nil || r.Close == nil || r.Volume == nil {
			continue
		}
		if *r.Close <= 0 || *r.Volume < 0 {
			continue
		}
		bars = append(bars, Bar{
			Date:   r.Date,
			Open:   *r.Open,
			High:   *r.High,
			Low:    *r.Low,
			Close:  *r.Close,
			Volume: *r.Volume,
		})
	}

	sort.Slice(bars, func(i, j int) bool {
		return bars[i].Date.Before(bars[j].Date)
	})

	// Drop duplicate dates, keeping the earliest row.
	out := bars[:0]
	for i, b := range bars {
		if i > 0 && !b.Date.After(out[len(out)-1].Date) {
			continue
		}
		out = append(out, b)
	}
	return out
}

// Normalize cleans raw rows and enforces the minimum history required for
// indicator computation. It returns ErrNoData when nothing usable remains
// and ErrInsufficientHistory when fewer than MinSeriesLength rows survive.
func Normalize(raw []RawBar) ([]Bar, error) {
	bars := Clean(raw)
	if len(bars) == 0 {
		return nil, ErrNoData
	}
	if len(bars) < MinSeriesLength {
		return nil, ErrInsufficientHistory
	}
	return bars, nil
}
