package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"realtor/ingest/config"
	"realtor/ingest/internal/fetch"
	"realtor/ingest/internal/models"
	"realtor/ingest/internal/notify"
)

// finishTimeout bounds recording the terminal state after the run context
// is gone.
const finishTimeout = 30 * time.Second

// Store is the persistence the orchestrator drives.
type Store interface {
	StartRun(ctx context.Context, sourceID string) (*models.IngestionRun, error)
	FinishRun(ctx context.Context, run *models.IngestionRun, status models.RunStatus, counts models.RunCounts, runErr error) error
	AbandonStaleRuns(ctx context.Context, sourceID string, cutoff time.Time) (int64, error)
	RentalMedians(ctx context.Context, region models.Region) ([]models.RentalMedian, error)
	WriteProperties(ctx context.Context, batch []models.PropertyRecord) (models.WriteCounts, error)
	WriteRentalMedians(ctx context.Context, batch []models.RentalMedian) (models.WriteCounts, error)
}

// Fetcher retrieves a source payload.
type Fetcher interface {
	Fetch(ctx context.Context, src config.Source) (*fetch.Payload, error)
}

// Result is the outcome of one requested source.
type Result struct {
	Source string
	// Run is nil when the run was refused before a record was created.
	Run *models.IngestionRun
	Err error
}

func (r Result) Failed() bool { return r.Err != nil }

// Failed reports whether any result failed.
func Failed(results []Result) bool {
	for _, r := range results {
		if r.Failed() {
			return true
		}
	}
	return false
}

// Runner executes source pipelines and tracks their runs.
type Runner struct {
	store    Store
	fetcher  Fetcher
	notifier notify.Notifier
	config   *config.Config
	logger   *logrus.Logger
	now      func() time.Time
}

func NewRunner(store Store, fetcher Fetcher, notifier notify.Notifier, cfg *config.Config, logger *logrus.Logger) *Runner {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Runner{
		store:    store,
		fetcher:  fetcher,
		notifier: notifier,
		config:   cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// Run executes every source, up to SourceConcurrency at a time. A failing
// source never stops the others; results keep the order of sources.
func (r *Runner) Run(ctx context.Context, sources []config.Source) []Result {
	results := make([]Result, len(sources))

	var g errgroup.Group
	g.SetLimit(max(r.config.SourceConcurrency, 1))
	for i, src := range sources {
		g.Go(func() error {
			results[i] = r.RunSource(ctx, src)
			return nil
		})
	}
	g.Wait()

	return results
}

// RunSource drives one source through fetch, parse, enrich and write, and
// records the run.
func (r *Runner) RunSource(ctx context.Context, src config.Source) Result {
	log := r.logger.WithFields(logrus.Fields{"source": src.ID})

	if r.config.RunStaleAfter > 0 {
		cutoff := r.now().Add(-r.config.RunStaleAfter)
		n, err := r.store.AbandonStaleRuns(ctx, src.ID, cutoff)
		if err != nil {
			log.WithError(err).Warn("Failed to abandon stale runs")
		} else if n > 0 {
			log.WithField("abandoned", n).Warn("Marked stale running runs as failed")
		}
	}

	run, err := r.store.StartRun(ctx, src.ID)
	if err != nil {
		log.WithError(err).Error("Refusing to start run")
		return Result{Source: src.ID, Err: err}
	}

	log = log.WithField("run_id", run.RunID)
	log.Info("Starting ingestion run")
	start := r.now()

	counts, runErr := r.execute(ctx, src, log)
	if runErr != nil && ctx.Err() != nil {
		runErr = fmt.Errorf("cancelled: %w", context.Cause(ctx))
	}

	status := models.RunStatusCompleted
	if runErr != nil {
		status = models.RunStatusFailed
	}

	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()
	if err := r.store.FinishRun(finishCtx, run, status, counts, runErr); err != nil {
		log.WithError(err).Error("Failed to record run outcome")
		runErr = errors.Join(runErr, err)
	}

	fields := logrus.Fields{
		"status":        status,
		"duration":      r.now().Sub(start).String(),
		"bytes_fetched": counts.BytesFetched,
		"fetched":       counts.Fetched,
		"inserted":      counts.Inserted,
		"updated":       counts.Updated,
		"skipped":       counts.Skipped,
		"rejected":      counts.Rejected,
	}
	if runErr != nil {
		log.WithFields(fields).WithError(runErr).Error("Ingestion run failed")
		if err := r.notifier.RunFailed(finishCtx, *run); err != nil {
			log.WithError(err).Warn("Failed to send failure notification")
		}
		return Result{Source: src.ID, Run: run, Err: runErr}
	}

	log.WithFields(fields).Info("Ingestion run completed")
	return Result{Source: src.ID, Run: run}
}
