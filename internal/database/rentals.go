package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"realtor/ingest/internal/models"
)

// WriteRentalMedians upserts a batch of medians in one transaction.
func (d *Database) WriteRentalMedians(ctx context.Context, batch []models.RentalMedian) (models.WriteCounts, error) {
	var counts models.WriteCounts
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		counts, err = UpsertRentalMedians(tx, batch, d.stamp())
		return err
	})
	if err != nil {
		return models.WriteCounts{}, wrapWrite(ctx, "rental medians", err)
	}
	return counts, nil
}

// UpsertRentalMedians inserts new medians, updates changed ones and counts
// identical ones as skipped.
func UpsertRentalMedians(tx *gorm.DB, batch []models.RentalMedian, now time.Time) (models.WriteCounts, error) {
	var counts models.WriteCounts
	for i := range batch {
		m := batch[i]
		m.ID = 0
		m.UpdatedAt = now

		var existing models.RentalMedian
		err := tx.Where("region = ? AND postcode = ? AND bedrooms = ? AND period = ? AND source_id = ?",
			m.Region, m.Postcode, m.Bedrooms, m.Period, m.SourceID).
			Take(&existing).Error

		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			err = tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{
					{Name: "region"}, {Name: "postcode"}, {Name: "bedrooms"}, {Name: "period"}, {Name: "source_id"},
				},
				DoUpdates: clause.AssignmentColumns([]string{"suburb", "median_weekly_rent", "sample_size", "updated_at"}),
			}).Create(&m).Error
			if err != nil {
				return models.WriteCounts{}, fmt.Errorf("failed to insert rental median %s/%d: %w", m.Postcode, m.Bedrooms, err)
			}
			counts.Inserted++
		case err != nil:
			return models.WriteCounts{}, fmt.Errorf("failed to look up rental median %s/%d: %w", m.Postcode, m.Bedrooms, err)
		case sameMedian(existing, m):
			counts.Skipped++
		default:
			m.ID = existing.ID
			if err := tx.Save(&m).Error; err != nil {
				return models.WriteCounts{}, fmt.Errorf("failed to update rental median %s/%d: %w", m.Postcode, m.Bedrooms, err)
			}
			counts.Updated++
		}
	}
	return counts, nil
}

func sameMedian(a, b models.RentalMedian) bool {
	return a.MedianWeeklyRent == b.MedianWeeklyRent &&
		equalPtr(a.SampleSize, b.SampleSize) &&
		equalPtr(a.Suburb, b.Suburb)
}

func equalPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// RentalMedians returns every stored median for region, newest period first.
// Callers pick the preferred median per key.
func (d *Database) RentalMedians(ctx context.Context, region models.Region) ([]models.RentalMedian, error) {
	var medians []models.RentalMedian
	err := d.db.WithContext(ctx).
		Where("region = ?", region).
		Order("period DESC").
		Find(&medians).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load rental medians: %w", err)
	}
	return medians, nil
}
