package queue

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
)

var ErrQueueClosed = errors.New("queue is closed")

// BatchQueue is a bounded in-memory queue of record batches between the
// parse/enrich stage and the writer. Push blocks while the queue is full.
type BatchQueue[T any] struct {
	items   chan []T
	maxSize int
	closed  bool
	mu      sync.RWMutex
	logger  *logrus.Entry
}

// NewBatchQueue creates a queue holding up to bufferSize batches.
func NewBatchQueue[T any](bufferSize int, logger *logrus.Entry) *BatchQueue[T] {
	if bufferSize < 1 {
		bufferSize = 1
	}
	return &BatchQueue[T]{
		items:   make(chan []T, bufferSize),
		maxSize: bufferSize,
		logger:  logger,
	}
}

// Push adds a batch, waiting for room or for ctx to end.
func (q *BatchQueue[T]) Push(ctx context.Context, batch []T) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.items <- batch:
		q.logger.WithField("batch_size", len(batch)).Debug("Pushed batch to queue")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Batches returns the receive side. It is closed by Close once drained.
func (q *BatchQueue[T]) Batches() <-chan []T {
	return q.items
}

// Close stops the queue and prevents new batches from being added. Batches
// already queued remain readable.
func (q *BatchQueue[T]) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}

	q.closed = true
	close(q.items)
	return nil
}
