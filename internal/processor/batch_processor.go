package processor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"realtor/ingest/config"
	"realtor/ingest/internal/database"
	"realtor/ingest/internal/models"
	"realtor/ingest/internal/queue"
)

// WriteFunc persists one batch atomically.
type WriteFunc[T any] func(ctx context.Context, batch []T) (models.WriteCounts, error)

// BatchProcessor drains a queue into the store, retrying batches that fail
// with transient store errors. After the first fatal error it keeps draining
// the queue without writing so the producer never blocks forever.
type BatchProcessor[T any] struct {
	write       WriteFunc[T]
	queue       *queue.BatchQueue[T]
	config      *config.Config
	logger      *logrus.Entry
	isTransient func(error) bool
	sleep       func(ctx context.Context, d time.Duration) error

	waitGroup sync.WaitGroup
	mu        sync.Mutex
	counts    models.WriteCounts
	batches   int
	err       error
}

// NewBatchProcessor creates a new batch processor instance
func NewBatchProcessor[T any](write WriteFunc[T], q *queue.BatchQueue[T], cfg *config.Config, logger *logrus.Entry) *BatchProcessor[T] {
	return &BatchProcessor[T]{
		write:       write,
		queue:       q,
		config:      cfg,
		logger:      logger,
		isTransient: database.IsTransient,
		sleep:       sleepContext,
	}
}

// Start begins processing batches from the queue. onFatal is called once
// with the first error that cannot be retried.
func (p *BatchProcessor[T]) Start(ctx context.Context, onFatal func(error)) {
	p.waitGroup.Add(1)
	go p.processLoop(ctx, onFatal)
}

// Wait blocks until the queue is closed and drained, then returns the
// accumulated counts and the first fatal error.
func (p *BatchProcessor[T]) Wait() (models.WriteCounts, error) {
	p.waitGroup.Wait()
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counts, p.err
}

func (p *BatchProcessor[T]) processLoop(ctx context.Context, onFatal func(error)) {
	defer p.waitGroup.Done()

	for batch := range p.queue.Batches() {
		if p.failed() {
			continue
		}

		counts, err := p.processBatch(ctx, batch)
		p.mu.Lock()
		if err != nil {
			p.err = err
		} else {
			p.counts.Add(counts)
			p.batches++
		}
		p.mu.Unlock()

		if err != nil && onFatal != nil {
			onFatal(err)
		}
	}
}

func (p *BatchProcessor[T]) failed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err != nil
}

// processBatch writes a single batch with retry on transient errors
func (p *BatchProcessor[T]) processBatch(ctx context.Context, batch []T) (models.WriteCounts, error) {
	maxRetries := p.config.BatchProcessing.MaxRetries
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			p.logger.WithField("attempt", attempt).Infof("Retrying batch, attempt %d of %d", attempt, maxRetries)
			if sleepErr := p.sleep(ctx, p.config.BatchProcessing.RetryDelay); sleepErr != nil {
				return models.WriteCounts{}, sleepErr
			}
		}

		var counts models.WriteCounts
		counts, err = p.write(ctx, batch)
		if err == nil {
			p.logger.WithFields(logrus.Fields{
				"batch_size": len(batch),
				"inserted":   counts.Inserted,
				"updated":    counts.Updated,
				"skipped":    counts.Skipped,
			}).Debug("Wrote batch")
			return counts, nil
		}

		if ctx.Err() != nil || !p.isTransient(err) {
			return models.WriteCounts{}, err
		}
		p.logger.WithError(err).Warn("Batch write failed with transient error")
	}

	return models.WriteCounts{}, fmt.Errorf("failed to process batch after %d attempts: %w", maxRetries+1, err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
