package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"realtor/ingest/config"
)

// Shape tags the layout of a payload.
type Shape int

const (
	ShapeDelimited Shape = iota
	ShapeWorkbook
)

func (s Shape) String() string {
	switch s {
	case ShapeDelimited:
		return "delimited"
	case ShapeWorkbook:
		return "workbook"
	default:
		return "unknown"
	}
}

// ShapeFor returns the payload shape produced for a source kind.
func ShapeFor(kind config.SourceKind) Shape {
	if kind == config.KindRentalWorkbook {
		return ShapeWorkbook
	}
	return ShapeDelimited
}

// Payload is a complete raw payload on disk. It owns a scoped temporary
// directory that Close removes.
type Payload struct {
	SourceID  string
	Shape     Shape
	Member    string
	Size      int64
	FetchedAt time.Time

	path string
	dir  string
}

// Open returns a reader over the payload bytes.
func (p *Payload) Open() (io.ReadCloser, error) {
	return os.Open(p.path)
}

// Close releases the payload's temporary artifacts.
func (p *Payload) Close() error {
	if p == nil || p.dir == "" {
		return nil
	}
	err := os.RemoveAll(p.dir)
	p.dir = ""
	return err
}

// Fetcher downloads source payloads into a working directory.
type Fetcher struct {
	client  *http.Client
	workDir string
	logger  *logrus.Logger
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewFetcher creates a fetcher writing temporary artifacts under workDir.
func NewFetcher(workDir string, logger *logrus.Logger) *Fetcher {
	return &Fetcher{
		client:  &http.Client{},
		workDir: workDir,
		logger:  logger,
		now:     time.Now,
		sleep:   sleepContext,
	}
}

// WithClient replaces the HTTP client.
func (f *Fetcher) WithClient(client *http.Client) *Fetcher {
	f.client = client
	return f
}

// Fetch retrieves the payload for src. On error no temporary artifact is
// left behind.
func (f *Fetcher) Fetch(ctx context.Context, src config.Source) (payload *Payload, err error) {
	log := f.logger.WithFields(logrus.Fields{"source": src.ID, "stage": "fetch"})

	if err := os.MkdirAll(f.workDir, 0o755); err != nil {
		return nil, &FetchError{Source: src.ID, URL: src.URL, Op: "prepare", Err: err}
	}
	dir, err := os.MkdirTemp(f.workDir, src.ID+"-*")
	if err != nil {
		return nil, &FetchError{Source: src.ID, URL: src.URL, Op: "prepare", Err: err}
	}
	defer func() {
		if err != nil {
			if rmErr := os.RemoveAll(dir); rmErr != nil {
				log.WithError(rmErr).Warn("Failed to remove fetch directory")
			}
		}
	}()

	download := filepath.Join(dir, "download")
	size, err := f.downloadWithRetry(ctx, src, download, log)
	if err != nil {
		return nil, err
	}

	payload = &Payload{
		SourceID:  src.ID,
		Shape:     ShapeFor(src.Kind),
		Size:      size,
		FetchedAt: f.now().UTC(),
		path:      download,
		dir:       dir,
	}

	if src.ArchiveMember != "" {
		member, path, err := extractMember(ctx, download, src.ArchiveMember, dir)
		if err != nil {
			return nil, &FetchError{Source: src.ID, URL: src.URL, Op: "extract", Err: err}
		}
		if err := os.Remove(download); err != nil {
			log.WithError(err).Warn("Failed to remove downloaded archive")
		}
		payload.Member = member
		payload.path = path
		log.WithField("member", member).Info("Extracted archive member")
	}

	log.WithFields(logrus.Fields{
		"bytes": size,
		"shape": payload.Shape.String(),
	}).Info("Fetched payload")
	return payload, nil
}

func (f *Fetcher) downloadWithRetry(ctx context.Context, src config.Source, dest string, log *logrus.Entry) (int64, error) {
	retries := max(src.MaxRetries, 0)
	var lastErr *FetchError
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			delay := backoff(src.RetryDelay, attempt)
			log.WithFields(logrus.Fields{
				"attempt": attempt,
				"delay":   delay.String(),
			}).WithError(lastErr.Err).Warn("Retrying download")
			if err := f.sleep(ctx, delay); err != nil {
				return 0, &FetchError{Source: src.ID, URL: src.URL, Op: "download", Err: err}
			}
		}

		size, err := f.download(ctx, src, dest)
		if err == nil {
			return size, nil
		}

		var fe *FetchError
		if !errors.As(err, &fe) {
			fe = &FetchError{Source: src.ID, URL: src.URL, Op: "download", Err: err}
		}
		if ctx.Err() != nil {
			fe.Err = fmt.Errorf("%w (%v)", ctx.Err(), fe.Err)
			return 0, fe
		}
		if !fe.Retryable {
			return 0, fe
		}
		lastErr = fe
	}
	lastErr.Err = fmt.Errorf("giving up after %d attempts: %w", retries+1, lastErr.Err)
	return 0, lastErr
}

func (f *Fetcher) download(ctx context.Context, src config.Source, dest string) (int64, error) {
	if src.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, src.Timeout)
		defer cancel()
	}

	fail := func(err error, retryable bool) error {
		return &FetchError{Source: src.ID, URL: src.URL, Op: "download", Err: err, Retryable: retryable}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return 0, fail(fmt.Errorf("failed to create request: %w", err), false)
	}
	req.Header.Set("User-Agent", "realtor-ingest/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, fail(err, true)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return 0, fail(fmt.Errorf("unexpected status %d", resp.StatusCode), retryableStatus(resp.StatusCode))
	}

	out, err := os.Create(dest)
	if err != nil {
		return 0, fail(err, false)
	}
	n, copyErr := io.Copy(out, resp.Body)
	closeErr := out.Close()
	if copyErr != nil {
		return 0, fail(fmt.Errorf("failed to read body: %w", copyErr), true)
	}
	if closeErr != nil {
		return 0, fail(closeErr, false)
	}
	if resp.ContentLength > 0 && n != resp.ContentLength {
		return 0, fail(fmt.Errorf("short body: got %d of %d bytes", n, resp.ContentLength), true)
	}
	return n, nil
}

func retryableStatus(code int) bool {
	return code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= 500
}

// backoff doubles base for every attempt after the first.
func backoff(base time.Duration, attempt int) time.Duration {
	if attempt <= 1 {
		return base
	}
	return base << (attempt - 1)
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
