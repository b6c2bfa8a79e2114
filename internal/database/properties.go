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

var naturalKeyColumns = []clause.Column{
	{Name: "address"}, {Name: "suburb"}, {Name: "region"}, {Name: "postcode"},
}

// WriteProperties reconciles a batch of records in one transaction.
func (d *Database) WriteProperties(ctx context.Context, batch []models.PropertyRecord) (models.WriteCounts, error) {
	var counts models.WriteCounts
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		counts, err = UpsertProperties(tx, batch, d.stamp())
		return err
	})
	if err != nil {
		return models.WriteCounts{}, wrapWrite(ctx, "properties", err)
	}
	return counts, nil
}

// UpsertProperties applies the replacement rule to each record within tx.
// New keys are inserted; existing keys are replaced only when the incoming
// record scores above ReplaceThreshold times the stored score. Inserted and
// replacing records carrying a sale price and date append a sales event;
// retained observations leave the history alone.
func UpsertProperties(tx *gorm.DB, batch []models.PropertyRecord, now time.Time) (models.WriteCounts, error) {
	var counts models.WriteCounts
	for i := range batch {
		rec := batch[i]
		rec.ID = 0
		rec.LastUpdated = now

		propertyID, outcome, err := upsertProperty(tx, &rec)
		if err != nil {
			return models.WriteCounts{}, err
		}
		switch outcome {
		case outcomeInserted:
			counts.Inserted++
		case outcomeUpdated:
			counts.Updated++
		default:
			counts.Skipped++
			continue
		}

		if err := appendSalesEvent(tx, propertyID, rec, now); err != nil {
			return models.WriteCounts{}, err
		}
	}
	return counts, nil
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeInserted
	outcomeUpdated
)

func upsertProperty(tx *gorm.DB, rec *models.PropertyRecord) (uint, outcome, error) {
	existing, found, err := findByKey(tx, rec.Key())
	if err != nil {
		return 0, outcomeSkipped, err
	}

	if !found {
		result := tx.Clauses(clause.OnConflict{Columns: naturalKeyColumns, DoNothing: true}).Create(rec)
		if result.Error != nil {
			return 0, outcomeSkipped, fmt.Errorf("failed to insert property %s: %w", rec.Address, result.Error)
		}
		if result.RowsAffected == 1 {
			return rec.ID, outcomeInserted, nil
		}

		// A concurrent writer inserted the key first; reconcile against it.
		rec.ID = 0
		existing, found, err = findByKey(tx, rec.Key())
		if err != nil {
			return 0, outcomeSkipped, err
		}
		if !found {
			return 0, outcomeSkipped, fmt.Errorf("property %s vanished after conflicting insert", rec.Address)
		}
	}

	if !ShouldReplace(existing, *rec) {
		return existing.ID, outcomeSkipped, nil
	}

	rec.ID = existing.ID
	if err := tx.Save(rec).Error; err != nil {
		return 0, outcomeSkipped, fmt.Errorf("failed to replace property %s: %w", rec.Address, err)
	}
	return existing.ID, outcomeUpdated, nil
}

func findByKey(tx *gorm.DB, key models.NaturalKey) (models.PropertyRecord, bool, error) {
	q := tx
	if isPostgres(tx) {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var existing models.PropertyRecord
	err := q.Where("address = ? AND suburb = ? AND region = ? AND postcode = ?",
		key.Address, key.Suburb, key.Region, key.Postcode).
		Take(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.PropertyRecord{}, false, nil
	}
	if err != nil {
		return models.PropertyRecord{}, false, fmt.Errorf("failed to look up property %s: %w", key.Address, err)
	}
	return existing, true, nil
}

func appendSalesEvent(tx *gorm.DB, propertyID uint, rec models.PropertyRecord, now time.Time) error {
	event, ok := models.NewSalesEvent(propertyID, rec, now)
	if !ok {
		return nil
	}
	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "property_id"}, {Name: "sale_date"}, {Name: "sale_price"}},
		DoNothing: true,
	}).Create(&event).Error
	if err != nil {
		return fmt.Errorf("failed to append sales event for %s: %w", rec.Address, err)
	}
	return nil
}

// PropertyByKey returns the live record for key, or nil when none exists.
func (d *Database) PropertyByKey(ctx context.Context, key models.NaturalKey) (*models.PropertyRecord, error) {
	rec, found, err := findByKey(d.db.WithContext(ctx), key)
	if err != nil || !found {
		return nil, err
	}
	return &rec, nil
}

// SalesHistory returns the sales events of a property, oldest first.
func (d *Database) SalesHistory(ctx context.Context, propertyID uint) ([]models.SalesEvent, error) {
	var events []models.SalesEvent
	err := d.db.WithContext(ctx).
		Where("property_id = ?", propertyID).
		Order("sale_date ASC, id ASC").
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load sales history: %w", err)
	}
	return events, nil
}

func wrapWrite(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return err
	}
	return &WriteError{Op: op, Err: err}
}
