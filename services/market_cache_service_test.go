package services

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tw_screener_backend/services/screener"
)

func newTestCache(t *testing.T) *MarketCacheClient {
	t.Helper()

	prev := GlobalMarketCache
	path := filepath.Join(t.TempDir(), "cache.db")
	require.NoError(t, InitMarketCache(path))

	cache := GlobalMarketCache
	t.Cleanup(func() {
		cache.Close()
		GlobalMarketCache = prev
	})
	return cache
}

func cacheBars(n int, start time.Time) []screener.Bar {
	bars := make([]screener.Bar, n)
	for i := range bars {
		c := 100.0 + float64(i)
		bars[i] = screener.Bar{
			Date:   start.AddDate(0, 0, i),
			Open:   c,
			High:   c + 1,
			Low:    c - 1,
			Close:  c,
			Volume: int64(1000 * (i + 1)),
		}
	}
	return bars
}

func TestMarketCacheRoundtrip(t *testing.T) {
	cache := newTestCache(t)
	start := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)

	saved := cacheBars(10, start)
	require.NoError(t, cache.SaveBars("2330.TW", saved))

	loaded, err := cache.LoadBars("2330.TW", 100)
	require.NoError(t, err)
	require.Len(t, loaded, 10)

	for i, b := range loaded {
		assert.True(t, b.Date.Equal(saved[i].Date), "date %d", i)
		assert.Equal(t, saved[i].Close, b.Close)
		assert.Equal(t, saved[i].Volume, b.Volume)
	}
}

func TestMarketCacheLimitReturnsMostRecent(t *testing.T) {
	cache := newTestCache(t)
	start := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, cache.SaveBars("1101.TW", cacheBars(10, start)))

	loaded, err := cache.LoadBars("1101.TW", 3)
	require.NoError(t, err)
	require.Len(t, loaded, 3)

	// The newest three days, still ascending.
	assert.True(t, loaded[0].Date.Equal(start.AddDate(0, 0, 7)))
	assert.True(t, loaded[2].Date.Equal(start.AddDate(0, 0, 9)))
}

func TestMarketCacheUpsertDeduplicatesDates(t *testing.T) {
	cache := newTestCache(t)
	start := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, cache.SaveBars("2603.TW", cacheBars(5, start)))

	// Re-fetch with a revised close for the same days.
	revised := cacheBars(5, start)
	for i := range revised {
		revised[i].Close = 999
	}
	require.NoError(t, cache.SaveBars("2603.TW", revised))

	loaded, err := cache.LoadBars("2603.TW", 100)
	require.NoError(t, err)
	require.Len(t, loaded, 5)
	for _, b := range loaded {
		assert.Equal(t, 999.0, b.Close)
	}
}

func TestMarketCacheSymbolsAreIsolated(t *testing.T) {
	cache := newTestCache(t)
	start := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, cache.SaveBars("2330.TW", cacheBars(5, start)))

	loaded, err := cache.LoadBars("9999.TW", 100)
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestMarketCachePruneBefore(t *testing.T) {
	cache := newTestCache(t)
	start := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, cache.SaveBars("2330.TW", cacheBars(10, start)))

	pruned, err := cache.PruneBefore(start.AddDate(0, 0, 5))
	require.NoError(t, err)
	assert.Equal(t, int64(5), pruned)

	loaded, err := cache.LoadBars("2330.TW", 100)
	require.NoError(t, err)
	require.Len(t, loaded, 5)
	assert.True(t, loaded[0].Date.Equal(start.AddDate(0, 0, 5)))
}

func TestMarketCacheStats(t *testing.T) {
	cache := newTestCache(t)
	start := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, cache.SaveBars("2330.TW", cacheBars(10, start)))
	require.NoError(t, cache.SaveBars("1101.TW", cacheBars(5, start)))

	stats, err := cache.CacheStats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats["symbols"])
	assert.Equal(t, 15, stats["total_bars"])
	assert.NotEmpty(t, stats["last_fetch"])
}
