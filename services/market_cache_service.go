package services

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"tw_screener_backend/services/screener"
)

// Market cache constants
const (
	DefaultMarketCachePath = "data/market_cache.db"
)

// MarketCacheClient stores fetched daily bars in a local SQLite database
// so chart requests can be served when the data source is unreachable and
// repeated scans do not re-download unchanged history.
type MarketCacheClient struct {
	db *sql.DB
	mu sync.RWMutex
}

// Global market cache client
var GlobalMarketCache *MarketCacheClient

// InitMarketCache initializes the SQLite market cache at the given path.
func InitMarketCache(path string) error {
	if path == "" {
		path = DefaultMarketCachePath
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return fmt.Errorf("failed to open market cache: %w", err)
	}

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to ping market cache: %w", err)
	}

	GlobalMarketCache = &MarketCacheClient{db: db}

	if err := GlobalMarketCache.createTables(); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}

	log.Printf("Market cache initialized at %s", path)
	return nil
}

// Close closes the market cache connection.
func (c *MarketCacheClient) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// createTables creates the required tables.
func (c *MarketCacheClient) createTables() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	barsTable := `
		CREATE TABLE IF NOT EXISTS daily_bars (
			symbol VARCHAR NOT NULL,
			date VARCHAR NOT NULL,
			open DOUBLE,
			high DOUBLE,
			low DOUBLE,
			close DOUBLE,
			volume INTEGER,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (symbol, date)
		)
	`
	if _, err := c.db.Exec(barsTable); err != nil {
		return fmt.Errorf("failed to create daily_bars table: %w", err)
	}

	syncTable := `
		CREATE TABLE IF NOT EXISTS fetch_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol VARCHAR,
			bar_count INTEGER,
			fetched_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`
	if _, err := c.db.Exec(syncTable); err != nil {
		return fmt.Errorf("failed to create fetch_history table: %w", err)
	}

	log.Println("Market cache tables created/verified")
	return nil
}

// SaveBars upserts one symbol's daily bars. Dates are stored as
// YYYY-MM-DD so the primary key deduplicates re-fetched days.
func (c *MarketCacheClient) SaveBars(symbol string, bars []screener.Bar) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO daily_bars (symbol, date, open, high, low, close, volume, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	for _, b := range bars {
		if _, err := stmt.Exec(symbol, b.Date.Format("2006-01-02"), b.Open, b.High, b.Low, b.Close, b.Volume, now); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to insert bar for %s: %w", symbol, err)
		}
	}

	if _, err := tx.Exec(`INSERT INTO fetch_history (symbol, bar_count) VALUES (?, ?)`, symbol, len(bars)); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to record fetch: %w", err)
	}

	return tx.Commit()
}

// LoadBars returns up to limit of the most recent cached bars for a
// symbol, in ascending date order.
func (c *MarketCacheClient) LoadBars(symbol string, limit int) ([]screener.Bar, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	query := `
		SELECT date, open, high, low, close, volume
		FROM (
			SELECT date, open, high, low, close, volume
			FROM daily_bars WHERE symbol = ?
			ORDER BY date DESC LIMIT ?
		) ORDER BY date ASC
	`
	rows, err := c.db.Query(query, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query bars for %s: %w", symbol, err)
	}
	defer rows.Close()

	var bars []screener.Bar
	for rows.Next() {
		var dateStr string
		var b screener.Bar
		if err := rows.Scan(&dateStr, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan bar for %s: %w", symbol, err)
		}
		date, err := time.Parse("2006-01-02", dateStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse cached date %q: %w", dateStr, err)
		}
		b.Date = date
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// CacheStats summarizes the cache contents for the admin stats endpoint.
func (c *MarketCacheClient) CacheStats() (map[string]interface{}, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var symbols, barCount int
	if err := c.db.QueryRow(`SELECT COUNT(DISTINCT symbol), COUNT(*) FROM daily_bars`).Scan(&symbols, &barCount); err != nil {
		return nil, err
	}

	var lastFetch sql.NullString
	if err := c.db.QueryRow(`SELECT MAX(fetched_at) FROM fetch_history`).Scan(&lastFetch); err != nil {
		return nil, err
	}

	stats := map[string]interface{}{
		"symbols":    symbols,
		"total_bars": barCount,
	}
	if lastFetch.Valid {
		stats["last_fetch"] = lastFetch.String
	}
	return stats, nil
}

// PruneBefore deletes cached bars older than the cutoff date.
func (c *MarketCacheClient) PruneBefore(cutoff time.Time) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	res, err := c.db.Exec(`DELETE FROM daily_bars WHERE date < ?`, cutoff.Format("2006-01-02"))
	if err != nil {
		return 0, fmt.Errorf("failed to prune bars: %w", err)
	}
	return res.RowsAffected()
}
