package controllers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"tw_screener_backend/config"
	"tw_screener_backend/models"
	"tw_screener_backend/services"
	"tw_screener_backend/services/screener"
	"tw_screener_backend/services/universe"
)

// StockController handles stock listing and chart requests
type StockController struct {
	db *gorm.DB
}

// NewStockController creates a new stock controller
func NewStockController(db *gorm.DB) *StockController {
	return &StockController{db: db}
}

// GetStocks returns the known universe of listed stocks
// GET /api/v1/stocks
func (sc *StockController) GetStocks(c *gin.Context) {
	var stocks []models.Stock

	search := c.Query("search")
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 200 {
		limit = 50
	}
	offset := (page - 1) * limit

	query := sc.db.Model(&models.Stock{}).Where("status = ?", "active")
	if search != "" {
		like := "%" + search + "%"
		query = query.Where("code LIKE ? OR name LIKE ?", like, like)
	}

	var total int64
	query.Count(&total)

	if err := query.Order("code").Limit(limit).Offset(offset).Find(&stocks).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch stocks"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": stocks,
		"pagination": gin.H{
			"page":  page,
			"limit": limit,
			"total": total,
		},
	})
}

// GetStockChart returns daily bars with moving averages for one symbol
// GET /api/v1/stocks/:symbol/chart
func (sc *StockController) GetStockChart(c *gin.Context) {
	symbol := normalizeSymbol(c.Param("symbol"))
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid symbol"})
		return
	}

	days, _ := strconv.Atoi(c.DefaultQuery("days", strconv.Itoa(config.AppConfig.ChartDays)))
	if days < 1 || days > 1000 {
		days = config.AppConfig.ChartDays
	}

	bars, err := services.GlobalScreenService.Fetcher().FetchChartSeries(c.Request.Context(), symbol, days)
	if err != nil {
		if errors.Is(err, screener.ErrNoData) {
			c.JSON(http.StatusNotFound, gin.H{"error": "No data for symbol"})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to fetch chart data"})
		return
	}

	indicators := screener.ComputeChartIndicators(bars)

	c.JSON(http.StatusOK, gin.H{
		"symbol":     symbol,
		"bars":       bars,
		"indicators": indicators,
	})
}

// normalizeSymbol maps bare TWSE codes to Yahoo symbols
func normalizeSymbol(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" {
		return ""
	}
	if strings.HasSuffix(s, universe.YahooSuffix) {
		return s
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return ""
		}
	}
	return s + universe.YahooSuffix
}
