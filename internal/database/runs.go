package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"realtor/ingest/internal/models"
)

// StartRun records a new running run for source. It fails with
// ErrRunInProgress when the source already has one.
func (d *Database) StartRun(ctx context.Context, sourceID string) (*models.IngestionRun, error) {
	run := &models.IngestionRun{
		RunID:     uuid.NewString(),
		SourceID:  sourceID,
		Status:    models.RunStatusRunning,
		StartedAt: d.stamp(),
	}

	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var running int64
		if err := tx.Model(&models.IngestionRun{}).
			Where("source_id = ? AND status = ?", sourceID, models.RunStatusRunning).
			Count(&running).Error; err != nil {
			return err
		}
		if running > 0 {
			return ErrRunInProgress
		}
		return tx.Create(run).Error
	})
	switch {
	case errors.Is(err, ErrRunInProgress):
		return nil, fmt.Errorf("source %s: %w", sourceID, ErrRunInProgress)
	case isUniqueViolation(err):
		return nil, fmt.Errorf("source %s: %w", sourceID, ErrRunInProgress)
	case err != nil:
		return nil, &WriteError{Op: "start run", Err: err}
	}
	return run, nil
}

// FinishRun moves a running run to its terminal status exactly once. The
// passed run is updated to match the stored record.
func (d *Database) FinishRun(ctx context.Context, run *models.IngestionRun, status models.RunStatus, counts models.RunCounts, runErr error) error {
	if !status.IsTerminal() {
		return fmt.Errorf("cannot finish run with status %q", status)
	}

	ended := d.stamp()
	var message *string
	if runErr != nil {
		m := runErr.Error()
		message = &m
	}

	result := d.db.WithContext(ctx).Model(&models.IngestionRun{}).
		Where("id = ? AND status = ?", run.ID, models.RunStatusRunning).
		Updates(map[string]any{
			"status":        status,
			"ended_at":      ended,
			"bytes_fetched": counts.BytesFetched,
			"fetched":       counts.Fetched,
			"inserted":      counts.Inserted,
			"updated":       counts.Updated,
			"skipped":       counts.Skipped,
			"rejected":      counts.Rejected,
			"error_message": message,
		})
	if result.Error != nil {
		return &WriteError{Op: "finish run", Err: result.Error}
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("run %s: %w", run.RunID, ErrRunNotRunning)
	}

	run.Status = status
	run.EndedAt = &ended
	run.ErrorMessage = message
	run.Apply(counts)
	return nil
}

// AbandonStaleRuns fails running runs of source started before cutoff. They
// belong to processes that died without finishing them.
func (d *Database) AbandonStaleRuns(ctx context.Context, sourceID string, cutoff time.Time) (int64, error) {
	message := "abandoned: run did not finish"
	result := d.db.WithContext(ctx).Model(&models.IngestionRun{}).
		Where("source_id = ? AND status = ? AND started_at < ?", sourceID, models.RunStatusRunning, cutoff.UTC()).
		Updates(map[string]any{
			"status":        models.RunStatusFailed,
			"ended_at":      d.stamp(),
			"error_message": message,
		})
	if result.Error != nil {
		return 0, &WriteError{Op: "abandon stale runs", Err: result.Error}
	}
	return result.RowsAffected, nil
}

// RunFilter narrows ListRuns. Zero values match everything.
type RunFilter struct {
	SourceID string
	Status   models.RunStatus
	Limit    int
}

// ListRuns returns runs newest first.
func (d *Database) ListRuns(ctx context.Context, filter RunFilter) ([]models.IngestionRun, error) {
	q := d.db.WithContext(ctx).Model(&models.IngestionRun{})
	if filter.SourceID != "" {
		q = q.Where("source_id = ?", filter.SourceID)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var runs []models.IngestionRun
	if err := q.Order("started_at DESC, id DESC").Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

// LatestRun returns the most recent run of source, or nil if it never ran.
func (d *Database) LatestRun(ctx context.Context, sourceID string) (*models.IngestionRun, error) {
	runs, err := d.ListRuns(ctx, RunFilter{SourceID: sourceID, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return &runs[0], nil
}
