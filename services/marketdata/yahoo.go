package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"tw_screener_backend/services/screener"
)

// Yahoo Finance chart API constants
const (
	YahooChartBaseURL  = "https://query1.finance.yahoo.com/v8/finance/chart"
	DefaultConcurrency = 8
	DefaultHTTPTimeout = 30 * time.Second
	requestSpacing     = 10 * time.Millisecond
)

// BarCache is the optional write-through cache for fetched series. The
// SQLite market cache implements it; chart requests read back through it
// when the network path fails.
type BarCache interface {
	SaveBars(symbol string, bars []screener.Bar) error
	LoadBars(symbol string, limit int) ([]screener.Bar, error)
}

// YahooClient fetches daily OHLCV series from the Yahoo Finance v8 chart
// API. It implements screener.SeriesFetcher: many symbols are retrieved in
// one logical batch with bounded concurrency, and one symbol's failure
// never aborts the batch.
type YahooClient struct {
	baseURL     string
	httpClient  *http.Client
	concurrency int
	cache       BarCache
}

// NewYahooClient creates a Yahoo market data client. cache may be nil.
func NewYahooClient(concurrency int, cache BarCache) *YahooClient {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &YahooClient{
		baseURL:     YahooChartBaseURL,
		httpClient:  &http.Client{Timeout: DefaultHTTPTimeout},
		concurrency: concurrency,
		cache:       cache,
	}
}

// chartResponse mirrors the subset of the Yahoo v8 chart payload the
// screener needs. Quote columns are pointer slices because untraded days
// come back as nulls.
type chartResponse struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*int64   `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// FetchSeries retrieves normalized daily series for all symbols using a
// bounded worker pool. Every requested symbol gets an entry in the result
// map: a series on success, a tagged error otherwise. Cancelling ctx stops
// scheduling further fetches.
func (yc *YahooClient) FetchSeries(ctx context.Context, symbols []string, lookbackDays int) (map[string]screener.SeriesResult, error) {
	results := make(map[string]screener.SeriesResult, len(symbols))
	if len(symbols) == 0 {
		return results, nil
	}
	if lookbackDays < screener.MinSeriesLength {
		lookbackDays = screener.DefaultLookbackDays
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, yc.concurrency)

	for _, symbol := range symbols {
		select {
		case <-ctx.Done():
			wg.Wait()
			return nil, ctx.Err()
		default:
		}

		wg.Add(1)
		go func(sym string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			// Spacing keeps the burst below Yahoo's rate limiter.
			time.Sleep(requestSpacing)

			bars, err := yc.FetchSymbol(ctx, sym, lookbackDays)
			mu.Lock()
			if err != nil {
				results[sym] = screener.SeriesResult{Err: err}
			} else {
				results[sym] = screener.SeriesResult{Bars: bars}
			}
			mu.Unlock()
		}(symbol)
	}

	wg.Wait()

	ok := 0
	for _, r := range results {
		if r.Err == nil {
			ok++
		}
	}
	log.Printf("Yahoo batch fetch: %d/%d symbols succeeded", ok, len(symbols))

	return results, nil
}

// FetchSymbol retrieves and normalizes one symbol's daily series. The
// returned error wraps the screener sentinels so the session can classify
// the failure.
func (yc *YahooClient) FetchSymbol(ctx context.Context, symbol string, lookbackDays int) ([]screener.Bar, error) {
	raw, err := yc.fetchRaw(ctx, symbol, lookbackDays)
	if err != nil {
		return nil, err
	}

	bars, err := screener.Normalize(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", err, symbol)
	}

	if yc.cache != nil {
		if err := yc.cache.SaveBars(symbol, bars); err != nil {
			log.Printf("Warning: failed to cache bars for %s: %v", symbol, err)
		}
	}
	return bars, nil
}

// FetchChartSeries retrieves one symbol's series for chart display. Short
// histories are acceptable here; on network failure it falls back to the
// local cache.
func (yc *YahooClient) FetchChartSeries(ctx context.Context, symbol string, days int) ([]screener.Bar, error) {
	raw, err := yc.fetchRaw(ctx, symbol, days)
	if err != nil {
		if yc.cache != nil {
			if cached, cacheErr := yc.cache.LoadBars(symbol, days); cacheErr == nil && len(cached) > 0 {
				log.Printf("Serving %s chart from local cache: %v", symbol, err)
				return cached, nil
			}
		}
		return nil, err
	}

	bars := screener.Clean(raw)
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: %s", screener.ErrNoData, symbol)
	}

	if yc.cache != nil {
		if err := yc.cache.SaveBars(symbol, bars); err != nil {
			log.Printf("Warning: failed to cache bars for %s: %v", symbol, err)
		}
	}
	return bars, nil
}

// fetchRaw performs the HTTP request and converts the chart payload into
// raw rows. Dates are truncated to day precision in UTC.
func (yc *YahooClient) fetchRaw(ctx context.Context, symbol string, lookbackDays int) ([]screener.RawBar, error) {
	url := fmt.Sprintf("%s/%s?interval=1d&range=%dd&includePrePost=false", yc.baseURL, symbol, lookbackDays)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", screener.ErrFetchFailed, err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	req.Header.Set("Accept", "application/json")

	resp, err := yc.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", screener.ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s not found", screener.ErrNoData, symbol)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: status %d: %s", screener.ErrFetchFailed, resp.StatusCode, string(body))
	}

	var chart chartResponse
	if err := json.NewDecoder(resp.Body).Decode(&chart); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", screener.ErrFetchFailed, err)
	}

	if chart.Chart.Error != nil {
		return nil, fmt.Errorf("%w: %s: %s", screener.ErrFetchFailed, chart.Chart.Error.Code, chart.Chart.Error.Description)
	}
	if len(chart.Chart.Result) == 0 {
		return nil, fmt.Errorf("%w: empty result for %s", screener.ErrNoData, symbol)
	}

	result := chart.Chart.Result[0]
	if len(result.Timestamp) == 0 || len(result.Indicators.Quote) == 0 {
		return nil, fmt.Errorf("%w: no quotes for %s", screener.ErrNoData, symbol)
	}

	quote := result.Indicators.Quote[0]
	if len(quote.Open) != len(result.Timestamp) ||
		len(quote.High) != len(result.Timestamp) ||
		len(quote.Low) != len(result.Timestamp) ||
		len(quote.Close) != len(result.Timestamp) ||
		len(quote.Volume) != len(result.Timestamp) {
		return nil, fmt.Errorf("%w: misaligned quote arrays for %s", screener.ErrFetchFailed, symbol)
	}

	raw := make([]screener.RawBar, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		raw[i] = screener.RawBar{
			Date:   time.Unix(ts, 0).UTC().Truncate(24 * time.Hour),
			Open:   quote.Open[i],
			High:   quote.High[i],
			Low:    quote.Low[i],
			Close:  quote.Close[i],
			Volume: quote.Volume[i],
		}
	}
	return raw, nil
}
