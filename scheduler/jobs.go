package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron"
	"gorm.io/gorm"

	"tw_screener_backend/config"
	"tw_screener_backend/controllers"
	"tw_screener_backend/models"
	"tw_screener_backend/services"
)

// Scheduler manages scheduled jobs
type Scheduler struct {
	cron *gocron.Scheduler
	db   *gorm.DB
}

// NewScheduler creates a new scheduler instance running on Taipei time
func NewScheduler(db *gorm.DB) *Scheduler {
	loc, err := time.LoadLocation("Asia/Taipei")
	if err != nil {
		log.Printf("Failed to load Asia/Taipei timezone, falling back to UTC: %v", err)
		loc = time.UTC
	}
	return &Scheduler{
		cron: gocron.NewScheduler(loc),
		db:   db,
	}
}

// Start starts all scheduled jobs
func (s *Scheduler) Start() {
	log.Println("Starting scheduler...")

	// Refresh the listing universe each morning before the open
	s.cron.Every(1).Day().At("08:00").Do(func() {
		s.refreshUniverse()
	})

	// Run the daily screen after the TWSE close (13:30) with settled data
	s.cron.Every(1).Day().At("14:30").Do(func() {
		s.runDailyScreen()
	})

	// Prune stale cached bars weekly on Sunday at 01:00
	s.cron.Every(1).Week().Sunday().At("01:00").Do(func() {
		s.pruneMarketCache()
	})

	s.cron.StartAsync()
	log.Println("Scheduler started successfully")
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	s.cron.Stop()
	log.Println("Scheduler stopped")
}

// runDailyScreen runs a full screening pass with the configured defaults
func (s *Scheduler) runDailyScreen() {
	log.Println("Running scheduled daily screen...")

	if services.GlobalScreenService.IsRunning() {
		log.Println("Skipping scheduled screen: a scan is already in progress")
		return
	}

	req := services.ScreenRequest{
		ConvergenceThresholdPercent: config.AppConfig.DefaultConvergenceThreshold,
		VolumeFloorLots:             config.AppConfig.DefaultVolumeFloorLots,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Hour)
	defer cancel()

	outcome, err := services.GlobalScreenService.RunScreen(ctx, req)
	if err != nil {
		log.Printf("Scheduled screen failed: %v", err)
		return
	}

	if s.db != nil {
		if _, err := models.RecordScreenRun(s.db, outcome, req.VolumeFloorLots,
			services.GlobalScreenService.LotSizeShares(), "scheduled"); err != nil {
			log.Printf("Failed to persist scheduled screen run: %v", err)
		}
	}

	log.Printf("Scheduled screen complete: %d matches from %d symbols",
		len(outcome.Matches), outcome.UniverseSize)
}

// refreshUniverse re-scrapes the listing page and syncs the stocks table
func (s *Scheduler) refreshUniverse() {
	log.Println("Refreshing listing universe...")

	provider := services.GlobalScreenService.Universe()
	provider.ForceRefresh()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	listings, err := provider.Listings(ctx)
	if err != nil {
		log.Printf("Universe refresh failed: %v", err)
		return
	}

	if s.db != nil {
		if err := controllers.SyncListings(s.db, listings); err != nil {
			log.Printf("Failed to sync listings: %v", err)
			return
		}
	}

	log.Printf("Universe refreshed: %d listings", len(listings))
}

// pruneMarketCache drops cached bars older than a year
func (s *Scheduler) pruneMarketCache() {
	if services.GlobalMarketCache == nil {
		return
	}

	cutoff := time.Now().AddDate(-1, 0, 0)
	pruned, err := services.GlobalMarketCache.PruneBefore(cutoff)
	if err != nil {
		log.Printf("Market cache prune failed: %v", err)
		return
	}
	log.Printf("Market cache pruned: %d rows removed", pruned)
}
