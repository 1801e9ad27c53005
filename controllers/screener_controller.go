package controllers

import (
	"context"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"tw_screener_backend/config"
	"tw_screener_backend/models"
	"tw_screener_backend/services"
)

// ScreenerController handles screening run requests
type ScreenerController struct {
	db *gorm.DB
}

// NewScreenerController creates a new screener controller
func NewScreenerController(db *gorm.DB) *ScreenerController {
	return &ScreenerController{db: db}
}

// RunScreenRequest is the payload for triggering a screen. Both fields
// are optional; zero values fall back to configured defaults.
type RunScreenRequest struct {
	ConvergenceThresholdPercent float64 `json:"convergence_threshold_percent"`
	VolumeFloorLots             int64   `json:"volume_floor_lots"`
}

// RunScreen triggers a full screening pass over the universe
// POST /api/v1/screener/run
func (sc *ScreenerController) RunScreen(c *gin.Context) {
	var req RunScreenRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	if req.ConvergenceThresholdPercent == 0 {
		req.ConvergenceThresholdPercent = config.AppConfig.DefaultConvergenceThreshold
	}
	if req.VolumeFloorLots == 0 {
		req.VolumeFloorLots = config.AppConfig.DefaultVolumeFloorLots
	}

	if req.ConvergenceThresholdPercent <= 0 || req.ConvergenceThresholdPercent > 100 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "convergence_threshold_percent must be in (0, 100]"})
		return
	}
	if req.VolumeFloorLots < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "volume_floor_lots must not be negative"})
		return
	}

	if services.GlobalScreenService.IsRunning() {
		c.JSON(http.StatusConflict, gin.H{"error": "A scan is already in progress"})
		return
	}

	// Long-running; detach from the request context so a client
	// disconnect does not abort the scan.
	go func() {
		outcome, err := services.GlobalScreenService.RunScreen(context.Background(), services.ScreenRequest{
			ConvergenceThresholdPercent: req.ConvergenceThresholdPercent,
			VolumeFloorLots:             req.VolumeFloorLots,
		})
		if err != nil {
			log.Printf("Screen run failed: %v", err)
			return
		}

		if sc.db != nil {
			if _, err := models.RecordScreenRun(sc.db, outcome, req.VolumeFloorLots,
				services.GlobalScreenService.LotSizeShares(), "manual"); err != nil {
				log.Printf("Failed to persist screen run: %v", err)
			}
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{
		"message": "Scan started",
		"parameters": gin.H{
			"convergence_threshold_percent": req.ConvergenceThresholdPercent,
			"volume_floor_lots":             req.VolumeFloorLots,
		},
	})
}

// GetRuns returns past screening runs, newest first
// GET /api/v1/screener/runs
func (sc *ScreenerController) GetRuns(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	offset := (page - 1) * limit

	var total int64
	sc.db.Model(&models.ScreenRun{}).Count(&total)

	var runs []models.ScreenRun
	if err := sc.db.Order("started_at DESC").Limit(limit).Offset(offset).Find(&runs).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch runs"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": runs,
		"pagination": gin.H{
			"page":  page,
			"limit": limit,
			"total": total,
		},
	})
}

// GetLatestRun returns the most recent run with its matches
// GET /api/v1/screener/runs/latest
func (sc *ScreenerController) GetLatestRun(c *gin.Context) {
	var run models.ScreenRun
	if err := sc.db.Preload("Matches").Order("started_at DESC").First(&run).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "No runs recorded yet"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch latest run"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": run})
}

// GetProgress returns the live progress of the current scan
// GET /api/v1/screener/progress
func (sc *ScreenerController) GetProgress(c *gin.Context) {
	resp := gin.H{
		"running":  services.GlobalScreenService.IsRunning(),
		"progress": services.GlobalScanProgress.GetProgress(),
	}
	if lastErr := services.GlobalScreenService.LastError(); lastErr != "" {
		resp["last_error"] = lastErr
	}
	c.JSON(http.StatusOK, resp)
}
