package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"tw_screener_backend/services/screener"
)

// ScreenRun records one completed screening pass and its parameters
type ScreenRun struct {
	ID                   uint            `gorm:"primaryKey" json:"id"`
	StartedAt            time.Time       `json:"started_at"`
	FinishedAt           time.Time       `json:"finished_at"`
	ConvergenceThreshold decimal.Decimal `gorm:"type:decimal(6,3)" json:"convergence_threshold"`
	VolumeFloorLots      int64           `json:"volume_floor_lots"`
	UniverseSize         int             `json:"universe_size"`
	MatchCount           int             `json:"match_count"`
	FailureCount         int             `json:"failure_count"`
	Trigger              string          `gorm:"default:'manual'" json:"trigger"` // manual, scheduled
	Matches              []ScreenMatch   `gorm:"foreignKey:ScreenRunID" json:"matches,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
}

// ScreenMatch is one symbol that satisfied all conditions in a run
type ScreenMatch struct {
	ID                 uint            `gorm:"primaryKey" json:"id"`
	ScreenRunID        uint            `gorm:"index" json:"screen_run_id"`
	Symbol             string          `gorm:"index" json:"symbol"`
	LastClose          decimal.Decimal `gorm:"type:decimal(15,2)" json:"last_close"`
	FiveDayAvgVolLots  decimal.Decimal `gorm:"type:decimal(15,2)" json:"five_day_avg_vol_lots"`
	ConvergenceGapPct  decimal.Decimal `gorm:"type:decimal(8,4)" json:"convergence_gap_pct"`
	CreatedAt          time.Time       `json:"created_at"`
}

// ScreenFailure records a symbol skipped during a run and why
type ScreenFailure struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	ScreenRunID uint      `gorm:"index" json:"screen_run_id"`
	Symbol      string    `json:"symbol"`
	Reason      string    `json:"reason"` // fetch_failed, no_data, insufficient_history, computation_skipped
	CreatedAt   time.Time `json:"created_at"`
}

// MigrateScreenModels runs database migrations for screening models
func MigrateScreenModels(db *gorm.DB) error {
	return db.AutoMigrate(
		&ScreenRun{},
		&ScreenMatch{},
		&ScreenFailure{},
	)
}

// RecordScreenRun persists a completed outcome with its matches and
// failures. Volumes are converted from shares back to lots for display.
func RecordScreenRun(db *gorm.DB, outcome *screener.Outcome, volumeFloorLots, lotSizeShares int64, trigger string) (*ScreenRun, error) {
	run := &ScreenRun{
		StartedAt:            outcome.StartedAt,
		FinishedAt:           outcome.FinishedAt,
		ConvergenceThreshold: decimal.NewFromFloat(outcome.Criteria.ConvergenceThresholdPercent),
		VolumeFloorLots:      volumeFloorLots,
		UniverseSize:         outcome.UniverseSize,
		MatchCount:           len(outcome.Matches),
		FailureCount:         len(outcome.Failures),
		Trigger:              trigger,
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(run).Error; err != nil {
			return err
		}

		for _, m := range outcome.Matches {
			lots := decimal.NewFromInt(m.FiveDayAvgVolumeShares).
				Div(decimal.NewFromInt(lotSizeShares))
			match := ScreenMatch{
				ScreenRunID:       run.ID,
				Symbol:            m.Symbol,
				LastClose:         decimal.NewFromFloat(m.LastClose).Round(2),
				FiveDayAvgVolLots: lots.Round(2),
				ConvergenceGapPct: decimal.NewFromFloat(m.ConvergenceGapPercent).Round(4),
			}
			if err := tx.Create(&match).Error; err != nil {
				return err
			}
		}

		for symbol, reason := range outcome.Failures {
			failure := ScreenFailure{
				ScreenRunID: run.ID,
				Symbol:      symbol,
				Reason:      string(reason),
			}
			if err := tx.Create(&failure).Error; err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return run, nil
}
