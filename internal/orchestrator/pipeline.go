package orchestrator

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"realtor/ingest/config"
	"realtor/ingest/internal/enrich"
	"realtor/ingest/internal/fetch"
	"realtor/ingest/internal/models"
	"realtor/ingest/internal/parse"
	"realtor/ingest/internal/processor"
	"realtor/ingest/internal/queue"
)

// loggedSkips is how many skipped rows per run are logged at warn level.
const loggedSkips = 10

func (r *Runner) execute(ctx context.Context, src config.Source, log *logrus.Entry) (models.RunCounts, error) {
	var counts models.RunCounts

	payload, err := r.fetcher.Fetch(ctx, src)
	if err != nil {
		return counts, err
	}
	defer func() {
		if err := payload.Close(); err != nil {
			log.WithError(err).Warn("Failed to clean up payload")
		}
	}()
	counts.BytesFetched = payload.Size

	rc, err := payload.Open()
	if err != nil {
		return counts, fmt.Errorf("failed to open payload: %w", err)
	}

	switch payload.Shape {
	case fetch.ShapeDelimited:
		stream, err := parse.NewSalesStream(rc, src, payload.FetchedAt)
		if err != nil {
			return counts, err
		}
		defer stream.Close()

		medians, err := r.store.RentalMedians(ctx, src.Region)
		if err != nil {
			return counts, err
		}
		index := enrich.NewRentalIndex(medians)
		log.WithField("rental_keys", index.Len()).Info("Loaded rental medians")

		enricher := enrich.NewEnricher(index, log)
		err = runPipeline(ctx, r, stream, enricher.Enrich, r.store.WriteProperties, &counts, log)
		stats := enricher.Stats()
		log.WithFields(logrus.Fields{
			"bedrooms_estimated": stats.BedroomsEstimated,
			"rents_matched":      stats.RentsMatched,
			"yields_calculated":  stats.YieldsCalculated,
		}).Info("Enrichment summary")
		return counts, err

	case fetch.ShapeWorkbook:
		stream, err := parse.NewRentalStream(rc, src, payload.FetchedAt)
		if err != nil {
			return counts, err
		}
		defer stream.Close()
		return counts, runPipeline(ctx, r, stream, nil, r.store.WriteRentalMedians, &counts, log)

	default:
		rc.Close()
		return counts, fmt.Errorf("source %s: unsupported payload shape %s", src.ID, payload.Shape)
	}
}

// runPipeline pulls parse results, transforms them, and hands batches to a
// processor through a bounded queue. A fatal write error cancels the pull.
func runPipeline[T any](
	ctx context.Context,
	r *Runner,
	stream parse.Stream[T],
	transform func(T) T,
	write processor.WriteFunc[T],
	counts *models.RunCounts,
	log *logrus.Entry,
) error {
	pipeCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	q := queue.NewBatchQueue[T](r.config.BatchProcessing.QueueDepth, log)
	p := processor.NewBatchProcessor(write, q, r.config, log)
	p.Start(pipeCtx, cancel)

	pullErr := pull(pipeCtx, r.config, stream, transform, q, counts, log)
	q.Close()

	written, writeErr := p.Wait()
	counts.WriteCounts = written
	if writeErr != nil {
		return writeErr
	}
	return pullErr
}

func pull[T any](
	ctx context.Context,
	cfg *config.Config,
	stream parse.Stream[T],
	transform func(T) T,
	q *queue.BatchQueue[T],
	counts *models.RunCounts,
	log *logrus.Entry,
) error {
	batchSize := max(cfg.BatchProcessing.MaxBatchSize, 1)
	batch := make([]T, 0, batchSize)

	for stream.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}

		res := stream.Result()
		counts.Fetched++
		if res.Skipped != nil {
			counts.Rejected++
			entry := log.WithFields(logrus.Fields{"line": res.Skipped.Line, "reason": res.Skipped.Reason})
			if counts.Rejected <= loggedSkips {
				entry.Warn(res.Skipped.Detail)
			} else {
				entry.Debug(res.Skipped.Detail)
			}
		} else {
			rec := res.Record
			if transform != nil {
				rec = transform(rec)
			}
			batch = append(batch, rec)
		}

		if len(batch) >= batchSize {
			if err := q.Push(ctx, batch); err != nil {
				return err
			}
			batch = make([]T, 0, batchSize)
		}

		if cfg.LimitRecords > 0 && counts.Fetched >= cfg.LimitRecords {
			log.WithField("limit", cfg.LimitRecords).Info("Record limit reached")
			break
		}
	}
	if err := stream.Err(); err != nil {
		return err
	}

	if len(batch) > 0 {
		return q.Push(ctx, batch)
	}
	return nil
}
