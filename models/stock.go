package models

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Stock represents a Taiwanese listed equity
type Stock struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Code      string    `gorm:"uniqueIndex;not null" json:"code"`   // 4-digit TWSE code, e.g. 2330
	Symbol    string    `gorm:"uniqueIndex;not null" json:"symbol"` // Yahoo symbol, e.g. 2330.TW
	Name      string    `json:"name"`
	Market    string    `gorm:"default:'TWSE'" json:"market"`
	Status    string    `gorm:"default:'active'" json:"status"` // active, delisted
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MigrateStockModels runs database migrations for stock-related models
func MigrateStockModels(db *gorm.DB) error {
	return db.AutoMigrate(
		&Stock{},
	)
}

// UpsertStocks inserts or updates listings keyed by code
func UpsertStocks(db *gorm.DB, stocks []Stock) error {
	if len(stocks) == 0 {
		return nil
	}
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "code"}},
		DoUpdates: clause.AssignmentColumns([]string{"symbol", "name", "market", "status", "updated_at"}),
	}).Create(&stocks).Error
}
