package screener

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeUniverse struct {
	symbols []string
	err     error
}

func (f *fakeUniverse) Symbols(ctx context.Context) ([]string, error) {
	return f.symbols, f.err
}

type fakeFetcher struct {
	results map[string]SeriesResult
	err     error
	calls   int
}

func (f *fakeFetcher) FetchSeries(ctx context.Context, symbols []string, lookbackDays int) (map[string]SeriesResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

type progressRecorder struct {
	symbols []string
	last    int
}

func (p *progressRecorder) ScanProgress(processed, total, matches int, symbol string) {
	p.symbols = append(p.symbols, symbol)
	p.last = processed
}

// matchingSeries builds a series whose final rows satisfy all three
// conditions: tangled averages yesterday, strict bullish order today.
func matchingSeries() []Bar {
	bars := make([]Bar, 0, 70)
	// Long flat base keeps the averages tangled through the second-to-last
	// row while MA60 stays below the shorter windows after the breakout.
	for i := 0; i < 68; i++ {
		bars = append(bars, Bar{Date: day(i), Open: 100, High: 100, Low: 100, Close: 100, Volume: 3000000})
	}
	for i, c := range []float64{103, 112} {
		bars = append(bars, Bar{Date: day(68 + i), Open: c, High: c, Low: c, Close: c, Volume: 4000000})
	}
	return bars
}

// laggardSeries never aligns: price drifts down the whole window.
func laggardSeries() []Bar {
	bars := make([]Bar, 0, 70)
	for i := 0; i < 70; i++ {
		c := 200 - float64(i)
		bars = append(bars, Bar{Date: day(i), Open: c, High: c, Low: c, Close: c, Volume: 3000000})
	}
	return bars
}

func testCriteria() Criteria {
	return Criteria{ConvergenceThresholdPercent: 3.0, VolumeFloorShares: 2000000}
}

func TestRunScreenFindsMatches(t *testing.T) {
	uni := &fakeUniverse{symbols: []string{"1101.TW", "2330.TW", "2603.TW"}}
	fetcher := &fakeFetcher{results: map[string]SeriesResult{
		"1101.TW": {Bars: laggardSeries()},
		"2330.TW": {Bars: matchingSeries()},
		"2603.TW": {Bars: matchingSeries()},
	}}

	session := NewSession(uni, fetcher, DefaultLookbackDays, nil)
	outcome, err := session.RunScreen(context.Background(), testCriteria())

	require.NoError(t, err)
	assert.Equal(t, 3, outcome.UniverseSize)
	require.Len(t, outcome.Matches, 2)
	assert.Equal(t, "2330.TW", outcome.Matches[0].Symbol)
	assert.Equal(t, "2603.TW", outcome.Matches[1].Symbol)
	assert.Empty(t, outcome.Failures)
	assert.Greater(t, outcome.Matches[0].ConvergenceGapPercent, 0.0)
	assert.Equal(t, 112.0, outcome.Matches[0].LastClose)
}

func TestRunScreenPreservesUniverseOrder(t *testing.T) {
	symbols := []string{"9910.TW", "1101.TW", "5880.TW", "2330.TW"}
	results := make(map[string]SeriesResult, len(symbols))
	for _, s := range symbols {
		results[s] = SeriesResult{Bars: matchingSeries()}
	}

	session := NewSession(&fakeUniverse{symbols: symbols}, &fakeFetcher{results: results}, 0, nil)
	outcome, err := session.RunScreen(context.Background(), testCriteria())

	require.NoError(t, err)
	got := make([]string, len(outcome.Matches))
	for i, m := range outcome.Matches {
		got[i] = m.Symbol
	}
	assert.Equal(t, symbols, got)
}

func TestRunScreenContainsPerSymbolFailures(t *testing.T) {
	uni := &fakeUniverse{symbols: []string{"1101.TW", "2330.TW", "2412.TW", "3008.TW", "9999.TW"}}
	fetcher := &fakeFetcher{results: map[string]SeriesResult{
		"1101.TW": {Err: ErrFetchFailed},
		"2330.TW": {Bars: matchingSeries()},
		"2412.TW": {Err: ErrNoData},
		"3008.TW": {Err: ErrInsufficientHistory},
		// 9999.TW absent from the batch entirely.
	}}

	session := NewSession(uni, fetcher, DefaultLookbackDays, nil)
	outcome, err := session.RunScreen(context.Background(), testCriteria())

	require.NoError(t, err)
	require.Len(t, outcome.Matches, 1)
	assert.Equal(t, "2330.TW", outcome.Matches[0].Symbol)

	assert.Equal(t, FailureFetchFailed, outcome.Failures["1101.TW"])
	assert.Equal(t, FailureNoData, outcome.Failures["2412.TW"])
	assert.Equal(t, FailureInsufficientHistory, outcome.Failures["3008.TW"])
	assert.Equal(t, FailureNoData, outcome.Failures["9999.TW"])
}

func TestRunScreenUniverseUnavailable(t *testing.T) {
	session := NewSession(&fakeUniverse{err: errors.New("listing page down")}, &fakeFetcher{}, 0, nil)
	_, err := session.RunScreen(context.Background(), testCriteria())
	assert.ErrorIs(t, err, ErrUniverseUnavailable)

	session = NewSession(&fakeUniverse{symbols: nil}, &fakeFetcher{}, 0, nil)
	_, err = session.RunScreen(context.Background(), testCriteria())
	assert.ErrorIs(t, err, ErrUniverseUnavailable)
}

func TestRunScreenInvalidCriteria(t *testing.T) {
	fetcher := &fakeFetcher{}
	session := NewSession(&fakeUniverse{symbols: []string{"2330.TW"}}, fetcher, 0, nil)

	_, err := session.RunScreen(context.Background(), Criteria{ConvergenceThresholdPercent: 0, VolumeFloorShares: 1})

	assert.Error(t, err)
	assert.Zero(t, fetcher.calls)
}

func TestRunScreenCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	uni := &fakeUniverse{symbols: []string{"2330.TW"}}
	fetcher := &fakeFetcher{results: map[string]SeriesResult{"2330.TW": {Bars: matchingSeries()}}}
	session := NewSession(uni, fetcher, DefaultLookbackDays, nil)

	_, err := session.RunScreen(ctx, testCriteria())

	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunScreenReportsProgress(t *testing.T) {
	symbols := []string{"1101.TW", "2330.TW"}
	results := map[string]SeriesResult{
		"1101.TW": {Bars: laggardSeries()},
		"2330.TW": {Bars: matchingSeries()},
	}
	rec := &progressRecorder{}

	session := NewSession(&fakeUniverse{symbols: symbols}, &fakeFetcher{results: results}, 0, rec)
	_, err := session.RunScreen(context.Background(), testCriteria())

	require.NoError(t, err)
	assert.Equal(t, symbols, rec.symbols)
	assert.Equal(t, 2, rec.last)
}

func TestRunScreenIsIdempotent(t *testing.T) {
	uni := &fakeUniverse{symbols: []string{"1101.TW", "2330.TW"}}
	fetcher := &fakeFetcher{results: map[string]SeriesResult{
		"1101.TW": {Bars: laggardSeries()},
		"2330.TW": {Bars: matchingSeries()},
	}}
	session := NewSession(uni, fetcher, DefaultLookbackDays, nil)

	first, err := session.RunScreen(context.Background(), testCriteria())
	require.NoError(t, err)
	second, err := session.RunScreen(context.Background(), testCriteria())
	require.NoError(t, err)

	require.Equal(t, len(first.Matches), len(second.Matches))
	for i := range first.Matches {
		assert.Equal(t, first.Matches[i].Symbol, second.Matches[i].Symbol)
		assert.InDelta(t, first.Matches[i].ConvergenceGapPercent, second.Matches[i].ConvergenceGapPercent, 1e-9)
		assert.InDelta(t, first.Matches[i].LastClose, second.Matches[i].LastClose, 1e-9)
	}
}
