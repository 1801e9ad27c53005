package screener

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultLookbackDays is the retrieval window in trading days. It is
// deliberately wider than the 60 days the calculator needs so that
// holidays and untraded days do not starve the longest window.
const DefaultLookbackDays = 80

// ErrUniverseUnavailable is returned when the ticker universe cannot be
// produced; nothing was screened. It is distinct from a successful run
// that simply found zero matches.
var ErrUniverseUnavailable = errors.New("ticker universe unavailable")

// FailureReason tags why a symbol produced no match candidate.
type FailureReason string

const (
	FailureFetchFailed         FailureReason = "fetch_failed"
	FailureNoData              FailureReason = "no_data"
	FailureInsufficientHistory FailureReason = "insufficient_history"
	FailureComputationSkipped  FailureReason = "computation_skipped"
)

// SeriesResult is the per-symbol outcome of a batch retrieval: either a
// normalized series or the error that prevented one.
type SeriesResult struct {
	Bars []Bar
	Err  error
}

// SeriesFetcher retrieves daily series for many symbols in one logical
// batch. Implementations must contain per-symbol failures inside the
// returned map and must never cross-assign data between symbols.
type SeriesFetcher interface {
	FetchSeries(ctx context.Context, symbols []string, lookbackDays int) (map[string]SeriesResult, error)
}

// UniverseProvider produces the set of symbols eligible for screening.
type UniverseProvider interface {
	Symbols(ctx context.Context) ([]string, error)
}

// ProgressSink receives per-symbol progress while a run is scoring. The
// sink only sees counters; the outcome itself is not visible until the
// run has fully completed.
type ProgressSink interface {
	ScanProgress(processed, total, matches int, symbol string)
}

// MatchResult is one symbol that passed all three conditions.
type MatchResult struct {
	Symbol                 string  `json:"symbol"`
	LastClose              float64 `json:"last_close"`
	FiveDayAvgVolumeShares int64   `json:"five_day_avg_volume_shares"`
	ConvergenceGapPercent  float64 `json:"convergence_gap_percent"`
}

// Outcome is the complete result of one screening run. Matches keep the
// universe iteration order; Failures records every symbol that could not
// be scored and why. An Outcome is built fresh per run and never mutated
// afterwards.
type Outcome struct {
	Criteria     Criteria                 `json:"criteria"`
	StartedAt    time.Time                `json:"started_at"`
	FinishedAt   time.Time                `json:"finished_at"`
	UniverseSize int                      `json:"universe_size"`
	Matches      []MatchResult            `json:"matches"`
	Failures     map[string]FailureReason `json:"failures"`
}

// Session orchestrates one end-to-end screening run: universe fetch,
// batch retrieval, per-symbol indicator computation and evaluation. A
// Session holds no state between runs; every call to RunScreen builds a
// new Outcome.
type Session struct {
	universe     UniverseProvider
	fetcher      SeriesFetcher
	lookbackDays int
	progress     ProgressSink
}

// NewSession creates a screening session. progress may be nil.
func NewSession(universe UniverseProvider, fetcher SeriesFetcher, lookbackDays int, progress ProgressSink) *Session {
	if lookbackDays < MinSeriesLength {
		lookbackDays = DefaultLookbackDays
	}
	return &Session{
		universe:     universe,
		fetcher:      fetcher,
		lookbackDays: lookbackDays,
		progress:     progress,
	}
}

// RunScreen executes one screening run. Universe failure (or an empty
// universe) aborts the run with ErrUniverseUnavailable; per-symbol
// failures are contained and reported in the outcome's failure map.
// Cancellation is observed between symbols: a cancelled run returns
// ctx.Err() and discards the partial outcome.
func (s *Session) RunScreen(ctx context.Context, criteria Criteria) (*Outcome, error) {
	if err := criteria.Validate(); err != nil {
		return nil, fmt.Errorf("invalid criteria: %w", err)
	}

	symbols, err := s.universe.Symbols(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUniverseUnavailable, err)
	}
	if len(symbols) == 0 {
		return nil, fmt.Errorf("%w: universe is empty", ErrUniverseUnavailable)
	}

	outcome := &Outcome{
		Criteria:     criteria,
		StartedAt:    time.Now(),
		UniverseSize: len(symbols),
		Matches:      []MatchResult{},
		Failures:     make(map[string]FailureReason),
	}

	results, err := s.fetcher.FetchSeries(ctx, symbols, s.lookbackDays)
	if err != nil {
		return nil, fmt.Errorf("batch retrieval failed: %w", err)
	}

	// Iterate in universe order so concurrent retrieval cannot leak into
	// result ordering.
	for i, symbol := range symbols {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if reason, ok := s.scoreSymbol(symbol, results, criteria, outcome); ok {
			outcome.Failures[symbol] = reason
		}

		if s.progress != nil {
			s.progress.ScanProgress(i+1, len(symbols), len(outcome.Matches), symbol)
		}
	}

	outcome.FinishedAt = time.Now()
	return outcome, nil
}

// scoreSymbol runs one symbol through calculation and evaluation,
// appending a MatchResult on success. It returns a failure reason and
// true when the symbol could not produce a candidate.
func (s *Session) scoreSymbol(symbol string, results map[string]SeriesResult, criteria Criteria, outcome *Outcome) (FailureReason, bool) {
	res, ok := results[symbol]
	if !ok {
		// Absent from the batch result: delisted, halted, or no trades
		// in the window.
		return FailureNoData, true
	}
	if res.Err != nil {
		return classifyFailure(res.Err), true
	}

	rows, err := ComputeIndicators(res.Bars)
	if err != nil {
		return FailureInsufficientHistory, true
	}

	curr := rows[len(rows)-1]
	prev := rows[len(rows)-2]
	if !curr.MA60.Valid || !curr.VolMA5.Valid || !prev.MA20.Valid {
		return FailureComputationSkipped, true
	}

	ev := Evaluate(curr, prev, criteria)
	if !ev.Match {
		return "", false
	}

	last := res.Bars[len(res.Bars)-1]
	outcome.Matches = append(outcome.Matches, MatchResult{
		Symbol:                 symbol,
		LastClose:              last.Close,
		FiveDayAvgVolumeShares: int64(curr.VolMA5.Value),
		ConvergenceGapPercent:  ev.Gap * 100,
	})
	return "", false
}

func classifyFailure(err error) FailureReason {
	switch {
	case errors.Is(err, ErrNoData):
		return FailureNoData
	case errors.Is(err, ErrInsufficientHistory):
		return FailureInsufficientHistory
	default:
		return FailureFetchFailed
	}
}
