package controllers

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"tw_screener_backend/middleware"
	"tw_screener_backend/models"
)

// AuthController handles operator authentication
type AuthController struct {
	db *gorm.DB
}

// NewAuthController creates a new auth controller
func NewAuthController(db *gorm.DB) *AuthController {
	return &AuthController{db: db}
}

// LoginRequest is the login payload
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login authenticates an operator and issues an access token
// POST /api/v1/auth/login
func (ac *AuthController) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Username and password are required"})
		return
	}

	var user models.AdminUser
	if err := ac.db.Where("username = ? AND is_active = ?", req.Username, true).First(&user).Error; err != nil {
		middleware.RecordLoginAttempt(c.ClientIP(), false)
		// Same response for unknown user and bad password
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}

	if !user.CheckPassword(req.Password) {
		middleware.RecordLoginAttempt(c.ClientIP(), false)
		log.Printf("Failed login attempt for user %s from %s", req.Username, c.ClientIP())
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}

	middleware.RecordLoginAttempt(c.ClientIP(), true)

	token, err := middleware.IssueToken(user.Username, user.Role)
	if err != nil {
		log.Printf("Failed to issue token: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to issue token"})
		return
	}

	now := time.Now()
	ac.db.Model(&user).Update("last_login_at", &now)

	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"token_type": "Bearer",
		"expires_in": int(middleware.TokenLifetime.Seconds()),
		"user": gin.H{
			"username": user.Username,
			"role":     user.Role,
		},
	})
}
