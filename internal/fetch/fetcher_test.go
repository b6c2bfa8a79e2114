package fetch

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"realtor/ingest/config"
	"realtor/ingest/internal/models"
)

func newTestFetcher(t *testing.T) (*Fetcher, string) {
	t.Helper()
	dir := t.TempDir()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	f := NewFetcher(dir, logger)
	f.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return f, dir
}

func testSource(url string) config.Source {
	return config.Source{
		ID:         "test_sales",
		Kind:       config.KindSalesCSV,
		URL:        url,
		Region:     models.RegionNSW,
		Tier:       models.TierIndividual,
		Confidence: 1,
		Timeout:    5 * time.Second,
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
		Enabled:    true,
	}
}

func zipBytes(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func readPayload(t *testing.T, p *Payload) string {
	t.Helper()
	rc, err := p.Open()
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(data)
}

func dirEntries(t *testing.T, dir string) []os.DirEntry {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	return entries
}

func TestFetcher_PlainDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("a,b\n1,2\n"))
	}))
	defer srv.Close()

	f, workDir := newTestFetcher(t)
	payload, err := f.Fetch(context.Background(), testSource(srv.URL))
	require.NoError(t, err)

	assert.Equal(t, "test_sales", payload.SourceID)
	assert.Equal(t, ShapeDelimited, payload.Shape)
	assert.Equal(t, int64(8), payload.Size)
	assert.Equal(t, "a,b\n1,2\n", readPayload(t, payload))
	assert.Len(t, dirEntries(t, workDir), 1)

	require.NoError(t, payload.Close())
	assert.Empty(t, dirEntries(t, workDir))
	assert.NoError(t, payload.Close())
}

func TestFetcher_ExtractsArchiveMember(t *testing.T) {
	archive := zipBytes(t, map[string]string{
		"readme.txt":        "ignore me",
		"2024/sales_q1.csv": "id\n1\n",
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(archive)
	}))
	defer srv.Close()

	f, _ := newTestFetcher(t)
	src := testSource(srv.URL)
	src.ArchiveMember = "*.csv"

	payload, err := f.Fetch(context.Background(), src)
	require.NoError(t, err)
	defer payload.Close()

	assert.Equal(t, "2024/sales_q1.csv", payload.Member)
	assert.Equal(t, "id\n1\n", readPayload(t, payload))
}

func TestFetcher_ArchiveMemberErrors(t *testing.T) {
	tests := []struct {
		name    string
		files   map[string]string
		pattern string
		want    string
	}{
		{
			name:    "no match",
			files:   map[string]string{"readme.txt": "x"},
			pattern: "*.csv",
			want:    "not found",
		},
		{
			name:    "ambiguous",
			files:   map[string]string{"a.csv": "x", "b.csv": "y"},
			pattern: "*.csv",
			want:    "matches 2 members",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			archive := zipBytes(t, tt.files)
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write(archive)
			}))
			defer srv.Close()

			f, workDir := newTestFetcher(t)
			src := testSource(srv.URL)
			src.ArchiveMember = tt.pattern

			payload, err := f.Fetch(context.Background(), src)
			assert.Nil(t, payload)
			require.Error(t, err)

			var fe *FetchError
			require.True(t, errors.As(err, &fe))
			assert.Equal(t, "extract", fe.Op)
			assert.Contains(t, err.Error(), tt.want)
			assert.Empty(t, dirEntries(t, workDir))
		})
	}
}

func TestFetcher_RetriesTransientStatus(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f, _ := newTestFetcher(t)
	payload, err := f.Fetch(context.Background(), testSource(srv.URL))
	require.NoError(t, err)
	defer payload.Close()

	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, "ok", readPayload(t, payload))
}

func TestFetcher_GivesUpAfterMaxRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	f, workDir := newTestFetcher(t)
	_, err := f.Fetch(context.Background(), testSource(srv.URL))
	require.Error(t, err)

	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Contains(t, err.Error(), "giving up after 3 attempts")
	assert.Empty(t, dirEntries(t, workDir))
}

func TestFetcher_DoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f, _ := newTestFetcher(t)
	_, err := f.Fetch(context.Background(), testSource(srv.URL))
	require.Error(t, err)

	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.False(t, fe.Retryable)
	assert.Equal(t, "test_sales", fe.Source)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestFetcher_Cancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("late"))
	}))
	defer srv.Close()

	f, workDir := newTestFetcher(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.Fetch(ctx, testSource(srv.URL))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Empty(t, dirEntries(t, workDir))
}

func TestShapeFor(t *testing.T) {
	assert.Equal(t, ShapeDelimited, ShapeFor(config.KindSalesCSV))
	assert.Equal(t, ShapeWorkbook, ShapeFor(config.KindRentalWorkbook))
	assert.Equal(t, "workbook", ShapeWorkbook.String())
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, time.Second, backoff(time.Second, 1))
	assert.Equal(t, 2*time.Second, backoff(time.Second, 2))
	assert.Equal(t, 4*time.Second, backoff(time.Second, 3))
}
