package universe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/traditionalchinese"
	"golang.org/x/text/transform"
)

// listingPageHTML mirrors the ISIN page layout: one table with a leading
// header row, code and name joined by a full-width space, and non-share
// instruments mixed in with longer codes.
const listingPageHTML = `<html><body>
<table>
<tr><td>有價證券代號及名稱</td><td>國際證券辨識號碼</td></tr>
<tr><td>1101　台泥</td><td>TW0001101004</td></tr>
<tr><td>2330　台積電</td><td>TW0002330008</td></tr>
<tr><td>2330　台積電</td><td>TW0002330008</td></tr>
<tr><td>0050　元大台灣50</td><td>TW0000050004</td></tr>
<tr><td>020000　臺股指數</td><td>TW000020000X</td></tr>
<tr><td>2603　長榮</td><td>TW0002603009</td></tr>
<tr><td>712323　國泰A5購01</td><td>TW21Z7123238</td></tr>
</table>
</body></html>`

func newListingServer(t *testing.T, status int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		// The real page is served in Big5.
		encoded, _, err := transform.String(traditionalchinese.Big5.NewEncoder(), listingPageHTML)
		require.NoError(t, err)
		w.Header().Set("Content-Type", "text/html; charset=big5")
		w.Write([]byte(encoded))
	}))
}

func newTestProvider(t *testing.T, url string) *TWSEProvider {
	t.Helper()
	p := NewTWSEProvider(filepath.Join(t.TempDir(), "universe.json"))
	p.listingURL = url
	return p
}

func TestListingsParsesBig5Page(t *testing.T) {
	server := newListingServer(t, http.StatusOK)
	defer server.Close()

	p := newTestProvider(t, server.URL)
	listings, err := p.Listings(context.Background())

	require.NoError(t, err)
	// ETF code 0050 is 4 digits and therefore kept; index and warrant
	// codes are longer and skipped, the duplicate 2330 row collapses.
	require.Len(t, listings, 4)
	assert.Equal(t, Listing{Code: "1101", Name: "台泥"}, listings[0])
	assert.Equal(t, Listing{Code: "2330", Name: "台積電"}, listings[1])
	assert.Equal(t, Listing{Code: "0050", Name: "元大台灣50"}, listings[2])
	assert.Equal(t, Listing{Code: "2603", Name: "長榮"}, listings[3])
}

func TestSymbolsCarryYahooSuffix(t *testing.T) {
	server := newListingServer(t, http.StatusOK)
	defer server.Close()

	p := newTestProvider(t, server.URL)
	symbols, err := p.Symbols(context.Background())

	require.NoError(t, err)
	assert.Contains(t, symbols, "2330.TW")
	assert.Contains(t, symbols, "1101.TW")
}

func TestListingsUsesMemoryCacheWithinTTL(t *testing.T) {
	hits := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		encoded, _, err := transform.String(traditionalchinese.Big5.NewEncoder(), listingPageHTML)
		require.NoError(t, err)
		w.Write([]byte(encoded))
	}))
	defer server.Close()

	p := newTestProvider(t, server.URL)

	_, err := p.Listings(context.Background())
	require.NoError(t, err)
	_, err = p.Listings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, hits)

	p.ForceRefresh()
	_, err = p.Listings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, hits)
}

func TestListingsFallsBackToStaleMemoryOnScrapeFailure(t *testing.T) {
	server := newListingServer(t, http.StatusOK)
	p := newTestProvider(t, server.URL)

	first, err := p.Listings(context.Background())
	require.NoError(t, err)

	server.Close()
	p.ForceRefresh()

	second, err := p.Listings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestListingsFallsBackToFile(t *testing.T) {
	server := newListingServer(t, http.StatusOK)
	file := filepath.Join(t.TempDir(), "universe.json")

	// Warm the file with a successful scrape.
	warm := NewTWSEProvider(file)
	warm.listingURL = server.URL
	warmed, err := warm.Listings(context.Background())
	require.NoError(t, err)
	server.Close()

	// A fresh provider with no memory cache and a dead server must load
	// the saved file.
	cold := NewTWSEProvider(file)
	cold.listingURL = server.URL
	loaded, err := cold.Listings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, warmed, loaded)
}

func TestListingsErrorWhenNothingAvailable(t *testing.T) {
	server := newListingServer(t, http.StatusInternalServerError)
	defer server.Close()

	p := newTestProvider(t, server.URL)
	_, err := p.Listings(context.Background())

	assert.Error(t, err)
}

func TestScrapeRespectsContext(t *testing.T) {
	server := newListingServer(t, http.StatusOK)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)

	p := newTestProvider(t, server.URL)
	_, err := p.Listings(ctx)

	assert.Error(t, err)
}
