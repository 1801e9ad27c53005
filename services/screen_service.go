package services

import (
	"context"
	"fmt"
	"log"
	"sync"

	"tw_screener_backend/config"
	"tw_screener_backend/services/marketdata"
	"tw_screener_backend/services/screener"
	"tw_screener_backend/services/universe"
)

// ScreenRequest carries user-facing screening parameters. Volume is
// expressed in lots, matching how Taiwanese brokers quote turnover.
type ScreenRequest struct {
	ConvergenceThresholdPercent float64 `json:"convergence_threshold_percent"`
	VolumeFloorLots             int64   `json:"volume_floor_lots"`
}

// ScreenService orchestrates screening runs: universe resolution, batch
// fetching and the scan session. At most one run is active at a time.
type ScreenService struct {
	universe *universe.TWSEProvider
	fetcher  *marketdata.YahooClient
	lotSize  int64
	lookback int

	mu          sync.Mutex
	isRunning   bool
	lastOutcome *screener.Outcome
	lastError   string
}

// Global screen service
var GlobalScreenService *ScreenService

// InitScreenService initializes the screening orchestrator from config.
func InitScreenService(cfg *config.Config) error {
	if GlobalScanProgress == nil {
		return fmt.Errorf("scan progress service must be initialized first")
	}

	var cache marketdata.BarCache
	if GlobalMarketCache != nil {
		cache = GlobalMarketCache
	}

	GlobalScreenService = &ScreenService{
		universe: universe.NewTWSEProvider(cfg.UniverseFile),
		fetcher:  marketdata.NewYahooClient(cfg.FetchConcurrency, cache),
		lotSize:  cfg.LotSizeShares,
		lookback: cfg.LookbackDays,
	}

	log.Println("Screen Service initialized")
	return nil
}

// IsRunning reports whether a screening run is in progress.
func (s *ScreenService) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}

// LastOutcome returns the outcome of the most recent completed run, or
// nil when no run has completed since startup.
func (s *ScreenService) LastOutcome() *screener.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastOutcome
}

// LastError returns the failure message of the most recent run, empty
// when the last run succeeded or none has run yet.
func (s *ScreenService) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

// Universe exposes the listing provider for refresh and chart lookups.
func (s *ScreenService) Universe() *universe.TWSEProvider {
	return s.universe
}

// Fetcher exposes the market data client for chart endpoints.
func (s *ScreenService) Fetcher() *marketdata.YahooClient {
	return s.fetcher
}

// LotSizeShares returns the configured shares-per-lot conversion factor.
func (s *ScreenService) LotSizeShares() int64 {
	return s.lotSize
}

// RunScreen executes a full screening pass over the listed universe.
// Returns an error immediately if another run is already in progress.
func (s *ScreenService) RunScreen(ctx context.Context, req ScreenRequest) (*screener.Outcome, error) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil, fmt.Errorf("scan already in progress")
	}
	s.isRunning = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()
	}()

	// Users specify the floor in lots; the evaluator compares against
	// raw share counts, so convert up front.
	criteria := screener.Criteria{
		ConvergenceThresholdPercent: req.ConvergenceThresholdPercent,
		VolumeFloorShares:           req.VolumeFloorLots * s.lotSize,
	}

	log.Printf("Starting screen: threshold=%.2f%% volume_floor=%d lots",
		req.ConvergenceThresholdPercent, req.VolumeFloorLots)

	session := screener.NewSession(s.universe, s.fetcher, s.lookback, GlobalScanProgress)
	outcome, err := session.RunScreen(ctx, criteria)
	if err != nil {
		GlobalScanProgress.Reset()
		s.mu.Lock()
		s.lastError = err.Error()
		s.mu.Unlock()
		return nil, fmt.Errorf("screen run failed: %w", err)
	}

	s.mu.Lock()
	s.lastOutcome = outcome
	s.lastError = ""
	s.mu.Unlock()

	log.Printf("Screen finished: universe=%d matches=%d failures=%d elapsed=%s",
		outcome.UniverseSize, len(outcome.Matches), len(outcome.Failures),
		outcome.FinishedAt.Sub(outcome.StartedAt))

	return outcome, nil
}
