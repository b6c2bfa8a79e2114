package models

import (
	"fmt"
	"time"
)

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// IngestionRun is one execution of one named source through the pipeline.
type IngestionRun struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	RunID        string     `gorm:"type:varchar(36);not null;uniqueIndex" json:"run_id"`
	SourceID     string     `gorm:"not null;uniqueIndex:idx_ingestion_runs_source_start,priority:1" json:"source_id"`
	Status       RunStatus  `gorm:"type:varchar(16);not null;index" json:"status"`
	StartedAt    time.Time  `gorm:"not null;uniqueIndex:idx_ingestion_runs_source_start,priority:2" json:"started_at"`
	EndedAt      *time.Time `json:"ended_at"`
	BytesFetched int64      `json:"bytes_fetched"`
	Fetched      int        `json:"fetched"`
	Inserted     int        `json:"inserted"`
	Updated      int        `json:"updated"`
	Skipped      int        `json:"skipped"`
	Rejected     int        `json:"rejected"`
	ErrorMessage *string    `json:"error_message"`
}

func (IngestionRun) TableName() string { return "ingestion_runs" }

// Apply copies the counters of c onto the run.
func (r *IngestionRun) Apply(c RunCounts) {
	r.BytesFetched = c.BytesFetched
	r.Fetched = c.Fetched
	r.Inserted = c.Inserted
	r.Updated = c.Updated
	r.Skipped = c.Skipped
	r.Rejected = c.Rejected
}

// WriteCounts tallies writer outcomes for one or more batches.
type WriteCounts struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Skipped  int `json:"skipped"`
}

func (c *WriteCounts) Add(o WriteCounts) {
	c.Inserted += o.Inserted
	c.Updated += o.Updated
	c.Skipped += o.Skipped
}

func (c WriteCounts) Total() int {
	return c.Inserted + c.Updated + c.Skipped
}

func (c WriteCounts) String() string {
	return fmt.Sprintf("inserted: %d, updated: %d, skipped: %d", c.Inserted, c.Updated, c.Skipped)
}

// RunCounts aggregates everything a run observed.
type RunCounts struct {
	WriteCounts
	BytesFetched int64 `json:"bytes_fetched"`
	Fetched      int   `json:"fetched"`
	Rejected     int   `json:"rejected"`
}
