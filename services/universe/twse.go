// Package universe produces the set of TWSE-listed common shares eligible
// for screening. The listing is scraped from the exchange's ISIN page and
// cached both in memory and in a local JSON file so a scrape outage does
// not take the screener down.
package universe

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/encoding/traditionalchinese"
	"golang.org/x/text/transform"
)

// TWSE listing constants
const (
	// TWSEListingURL lists all TWSE-listed instruments; strMode=2 selects
	// the listed (as opposed to OTC) market.
	TWSEListingURL = "https://isin.twse.com.tw/isin/C_public.jsp?strMode=2"
	// YahooSuffix qualifies a TWSE code for the Yahoo Finance chart API.
	YahooSuffix = ".TW"
	// DefaultCacheTTL matches the one-day refresh cadence of the listing.
	DefaultCacheTTL = 24 * time.Hour
	// DefaultUniverseFile is the local fallback copy of the listing.
	DefaultUniverseFile = "data/twse_universe.json"
)

// Listing is one listed common share from the TWSE ISIN page.
type Listing struct {
	Code string `json:"code"` // 4-digit exchange code, e.g. "2330"
	Name string `json:"name"` // company short name
}

// Symbol returns the exchange-qualified ticker used by the data source.
func (l Listing) Symbol() string {
	return l.Code + YahooSuffix
}

// TWSEProvider scrapes and caches the ticker universe. It implements
// screener.UniverseProvider.
type TWSEProvider struct {
	listingURL string
	cacheFile  string
	cacheTTL   time.Duration
	httpClient *http.Client

	mu        sync.Mutex
	cached    []Listing
	fetchedAt time.Time
}

// NewTWSEProvider creates a universe provider. cacheFile falls back to
// DefaultUniverseFile when empty.
func NewTWSEProvider(cacheFile string) *TWSEProvider {
	if cacheFile == "" {
		cacheFile = DefaultUniverseFile
	}
	return &TWSEProvider{
		listingURL: TWSEListingURL,
		cacheFile:  cacheFile,
		cacheTTL:   DefaultCacheTTL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Symbols returns the exchange-qualified tickers of the current universe.
func (p *TWSEProvider) Symbols(ctx context.Context) ([]string, error) {
	listings, err := p.Listings(ctx)
	if err != nil {
		return nil, err
	}
	symbols := make([]string, len(listings))
	for i, l := range listings {
		symbols[i] = l.Symbol()
	}
	return symbols, nil
}

// Listings returns the current universe, refreshing the scrape when the
// in-memory copy is older than the cache TTL. A failed scrape falls back
// first to the stale in-memory copy, then to the local file.
func (p *TWSEProvider) Listings(ctx context.Context) ([]Listing, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.cached) > 0 && time.Since(p.fetchedAt) < p.cacheTTL {
		return p.cached, nil
	}

	listings, err := p.scrape(ctx)
	if err != nil {
		log.Printf("TWSE listing scrape failed: %v", err)
		if len(p.cached) > 0 {
			log.Printf("Using stale in-memory universe (%d listings)", len(p.cached))
			return p.cached, nil
		}
		return p.loadFromFile()
	}

	p.cached = listings
	p.fetchedAt = time.Now()

	// Persist for offline use; scrape success should not depend on it.
	if err := p.saveToFile(listings); err != nil {
		log.Printf("Warning: failed to save universe file: %v", err)
	}

	log.Printf("TWSE universe refreshed: %d listed common shares", len(listings))
	return listings, nil
}

// ForceRefresh drops the in-memory copy so the next Listings call scrapes.
func (p *TWSEProvider) ForceRefresh() {
	p.mu.Lock()
	p.fetchedAt = time.Time{}
	p.mu.Unlock()
}

// scrape downloads and parses the ISIN listing page. The page is served
// in Big5; rows look like "2330　台積電" with a full-width space between
// code and name. Only 4-digit codes are common shares; warrants, ETFs and
// special instruments carry longer codes and are skipped.
func (p *TWSEProvider) scrape(ctx context.Context) ([]Listing, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.listingURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("listing page returned status %d", resp.StatusCode)
	}

	decoded := transform.NewReader(resp.Body, traditionalchinese.Big5.NewDecoder())
	doc, err := goquery.NewDocumentFromReader(decoded)
	if err != nil {
		return nil, fmt.Errorf("failed to parse listing page: %w", err)
	}

	return parseListingDocument(doc)
}

// parseListingDocument extracts listed common shares from the decoded
// ISIN table.
func parseListingDocument(doc *goquery.Document) ([]Listing, error) {
	var listings []Listing
	seen := make(map[string]bool)

	doc.Find("table tr").Each(func(_ int, row *goquery.Selection) {
		cell := strings.TrimSpace(row.Find("td").First().Text())
		if cell == "" {
			return
		}

		// Cells look like "2330　台積電", code and name joined by a
		// full-width space.
		parts := strings.SplitN(cell, "　", 2)
		if len(parts) != 2 {
			return
		}

		code := strings.TrimSpace(parts[0])
		name := strings.TrimSpace(parts[1])
		if len(code) != 4 || !isDigits(code) || seen[code] {
			return
		}

		seen[code] = true
		listings = append(listings, Listing{Code: code, Name: name})
	})

	if len(listings) == 0 {
		return nil, fmt.Errorf("no listed common shares found in listing page")
	}
	return listings, nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// loadFromFile loads the universe from the local JSON fallback file.
func (p *TWSEProvider) loadFromFile() ([]Listing, error) {
	data, err := os.ReadFile(p.cacheFile)
	if err != nil {
		return nil, fmt.Errorf("universe file not found: %w", err)
	}

	var listings []Listing
	if err := json.Unmarshal(data, &listings); err != nil {
		return nil, fmt.Errorf("failed to parse universe file: %w", err)
	}

	log.Printf("Loaded %d listings from file: %s", len(listings), p.cacheFile)
	return listings, nil
}

// saveToFile saves the universe to the local JSON fallback file.
func (p *TWSEProvider) saveToFile(listings []Listing) error {
	dir := filepath.Dir(p.cacheFile)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	data, err := json.MarshalIndent(listings, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal listings: %w", err)
	}

	if err := os.WriteFile(p.cacheFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write universe file: %w", err)
	}
	return nil
}
