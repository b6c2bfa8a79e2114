package database

import (
	"fmt"

	"gorm.io/gorm"

	"realtor/ingest/internal/models"
)

// runningRunIndex allows at most one running run per source.
const runningRunIndex = `CREATE UNIQUE INDEX IF NOT EXISTS idx_ingestion_runs_running
	ON ingestion_runs (source_id) WHERE status = 'running'`

// MigrateSchema creates the tables and indexes the writer relies on.
func MigrateSchema(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.PropertyRecord{},
		&models.SalesEvent{},
		&models.RentalMedian{},
		&models.IngestionRun{},
	); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	if err := db.Exec(runningRunIndex).Error; err != nil {
		return fmt.Errorf("failed to create running run index: %w", err)
	}
	return nil
}
