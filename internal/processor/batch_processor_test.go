package processor

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"realtor/ingest/config"
	"realtor/ingest/internal/models"
	"realtor/ingest/internal/queue"
)

var errTransient = errors.New("database is locked")

// MockWriter is a mock implementation of a batch writer
type MockWriter struct {
	mock.Mock
}

func (m *MockWriter) Write(ctx context.Context, batch []models.PropertyRecord) (models.WriteCounts, error) {
	args := m.Called(batch)
	return args.Get(0).(models.WriteCounts), args.Error(1)
}

func testLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

func newTestProcessor(writer *MockWriter, q *queue.BatchQueue[models.PropertyRecord]) *BatchProcessor[models.PropertyRecord] {
	cfg := &config.Config{}
	cfg.BatchProcessing.MaxRetries = 3
	cfg.BatchProcessing.RetryDelay = time.Millisecond

	p := NewBatchProcessor(writer.Write, q, cfg, testLogger())
	p.isTransient = func(err error) bool { return errors.Is(err, errTransient) }
	p.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return p
}

func TestNewBatchProcessor(t *testing.T) {
	writer := &MockWriter{}
	q := queue.NewBatchQueue[models.PropertyRecord](10, testLogger())
	cfg := &config.Config{}
	logger := testLogger()

	processor := NewBatchProcessor(writer.Write, q, cfg, logger)

	assert.NotNil(t, processor)
	assert.Equal(t, q, processor.queue)
	assert.Equal(t, cfg, processor.config)
	assert.Equal(t, logger, processor.logger)
}

func TestBatchProcessor_ProcessBatch(t *testing.T) {
	writer := &MockWriter{}
	processor := newTestProcessor(writer, queue.NewBatchQueue[models.PropertyRecord](10, testLogger()))
	ctx := context.Background()

	batch := []models.PropertyRecord{
		{Address: "1 TEST STREET"},
		{Address: "2 TEST STREET"},
	}

	// Successful write
	writer.On("Write", batch).Return(models.WriteCounts{Inserted: 2}, nil).Once()
	counts, err := processor.processBatch(ctx, batch)
	assert.NoError(t, err)
	assert.Equal(t, models.WriteCounts{Inserted: 2}, counts)

	// Transient errors exhaust the retry budget
	writer.On("Write", batch).Return(models.WriteCounts{}, errTransient).Times(4)
	_, err = processor.processBatch(ctx, batch)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to process batch after 4 attempts")
	assert.True(t, errors.Is(err, errTransient))
	writer.AssertExpectations(t)
}

func TestBatchProcessor_RetriesTransientThenSucceeds(t *testing.T) {
	writer := &MockWriter{}
	processor := newTestProcessor(writer, queue.NewBatchQueue[models.PropertyRecord](10, testLogger()))
	batch := []models.PropertyRecord{{Address: "1 TEST STREET"}}

	writer.On("Write", batch).Return(models.WriteCounts{}, errTransient).Twice()
	writer.On("Write", batch).Return(models.WriteCounts{Updated: 1}, nil).Once()

	counts, err := processor.processBatch(context.Background(), batch)
	require.NoError(t, err)
	assert.Equal(t, models.WriteCounts{Updated: 1}, counts)
	writer.AssertNumberOfCalls(t, "Write", 3)
}

func TestBatchProcessor_FatalErrorIsNotRetried(t *testing.T) {
	writer := &MockWriter{}
	processor := newTestProcessor(writer, queue.NewBatchQueue[models.PropertyRecord](10, testLogger()))
	batch := []models.PropertyRecord{{Address: "1 TEST STREET"}}

	writer.On("Write", batch).Return(models.WriteCounts{}, errors.New("constraint failed")).Once()

	_, err := processor.processBatch(context.Background(), batch)
	assert.EqualError(t, err, "constraint failed")
	writer.AssertNumberOfCalls(t, "Write", 1)
}

func TestBatchProcessor_StartWait(t *testing.T) {
	writer := &MockWriter{}
	q := queue.NewBatchQueue[models.PropertyRecord](10, testLogger())
	processor := newTestProcessor(writer, q)
	ctx := context.Background()

	first := []models.PropertyRecord{{Address: "1 TEST STREET"}}
	second := []models.PropertyRecord{{Address: "2 TEST STREET"}, {Address: "3 TEST STREET"}}
	writer.On("Write", first).Return(models.WriteCounts{Inserted: 1}, nil)
	writer.On("Write", second).Return(models.WriteCounts{Inserted: 1, Skipped: 1}, nil)

	processor.Start(ctx, nil)
	require.NoError(t, q.Push(ctx, first))
	require.NoError(t, q.Push(ctx, second))
	require.NoError(t, q.Close())

	counts, err := processor.Wait()
	require.NoError(t, err)
	assert.Equal(t, models.WriteCounts{Inserted: 2, Skipped: 1}, counts)
}

func TestBatchProcessor_DrainsAfterFatalError(t *testing.T) {
	writer := &MockWriter{}
	q := queue.NewBatchQueue[models.PropertyRecord](1, testLogger())
	processor := newTestProcessor(writer, q)
	ctx := context.Background()

	bad := []models.PropertyRecord{{Address: "1 BAD STREET"}}
	writer.On("Write", bad).Return(models.WriteCounts{}, errors.New("disk full")).Once()

	var fatal []error
	processor.Start(ctx, func(err error) { fatal = append(fatal, err) })

	require.NoError(t, q.Push(ctx, bad))
	for i := 0; i < 3; i++ {
		require.NoError(t, q.Push(ctx, []models.PropertyRecord{{Address: "OK STREET"}}))
	}
	require.NoError(t, q.Close())

	counts, err := processor.Wait()
	assert.EqualError(t, err, "disk full")
	assert.Equal(t, models.WriteCounts{}, counts)
	assert.Len(t, fatal, 1)
	writer.AssertNumberOfCalls(t, "Write", 1)
}
