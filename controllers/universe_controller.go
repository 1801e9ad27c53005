package controllers

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"tw_screener_backend/models"
	"tw_screener_backend/services"
	"tw_screener_backend/services/universe"
)

// UniverseController handles listing universe maintenance
type UniverseController struct {
	db *gorm.DB
}

// NewUniverseController creates a new universe controller
func NewUniverseController(db *gorm.DB) *UniverseController {
	return &UniverseController{db: db}
}

// RefreshUniverse re-scrapes the exchange listing page and syncs the
// stocks table
// POST /api/v1/universe/refresh
func (uc *UniverseController) RefreshUniverse(c *gin.Context) {
	provider := services.GlobalScreenService.Universe()
	provider.ForceRefresh()

	listings, err := provider.Listings(c.Request.Context())
	if err != nil {
		log.Printf("Universe refresh failed: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to refresh listings"})
		return
	}

	synced := 0
	if uc.db != nil {
		if err := SyncListings(uc.db, listings); err != nil {
			log.Printf("Failed to sync listings to database: %v", err)
		} else {
			synced = len(listings)
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"message":      "Universe refreshed",
		"listings":     len(listings),
		"synced":       synced,
		"refreshed_at": time.Now().Format(time.RFC3339),
	})
}

// GetCacheStats reports the local market cache contents
// GET /api/v1/admin/cache-stats
func (uc *UniverseController) GetCacheStats(c *gin.Context) {
	if services.GlobalMarketCache == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Market cache not initialized"})
		return
	}

	stats, err := services.GlobalMarketCache.CacheStats()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read cache stats"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": stats})
}

// SyncListings upserts scraped listings into the stocks table
func SyncListings(db *gorm.DB, listings []universe.Listing) error {
	stocks := make([]models.Stock, 0, len(listings))
	for _, l := range listings {
		stocks = append(stocks, models.Stock{
			Code:   l.Code,
			Symbol: l.Symbol(),
			Name:   l.Name,
			Market: "TWSE",
			Status: "active",
		})
	}
	return models.UpsertStocks(db, stocks)
}
