package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"realtor/ingest/config"
	"realtor/ingest/internal/models"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func failedRun() models.IngestionRun {
	msg := "fetch nsw_sales: download <url>: unexpected status 503"
	return models.IngestionRun{
		RunID:        "2d1f7c1e-1111-4a4a-9c9c-000000000001",
		SourceID:     "nsw_sales",
		Status:       models.RunStatusFailed,
		StartedAt:    time.Date(2024, 12, 15, 10, 0, 0, 0, time.UTC),
		Fetched:      10,
		Rejected:     2,
		ErrorMessage: &msg,
	}
}

func TestNew(t *testing.T) {
	cfg := &config.Config{}
	n, err := New(cfg, testLogger())
	require.NoError(t, err)
	assert.IsType(t, Nop{}, n)
	assert.NoError(t, n.RunFailed(context.Background(), failedRun()))

	cfg.Telegram.Enabled = true
	_, err = New(cfg, testLogger())
	assert.Error(t, err)

	cfg.Telegram.BotToken = "token"
	cfg.Telegram.ChatID = "42"
	n, err = New(cfg, testLogger())
	require.NoError(t, err)
	assert.IsType(t, &Telegram{}, n)
}

func TestTelegram_RunFailed(t *testing.T) {
	var got map[string]interface{}
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tg := NewTelegram(srv.URL, "abc", "42", testLogger())
	require.NoError(t, tg.RunFailed(context.Background(), failedRun()))

	assert.Equal(t, "/botabc/sendMessage", path)
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "HTML", got["parse_mode"])
	assert.Contains(t, got["text"], "nsw_sales")
	assert.Contains(t, got["text"], "&lt;url&gt;")
}

func TestTelegram_StatusErrors(t *testing.T) {
	tests := []struct {
		status int
		want   string
	}{
		{http.StatusUnauthorized, "invalid bot token"},
		{http.StatusForbidden, "bot was blocked"},
		{http.StatusNotFound, "bot not found"},
		{http.StatusBadRequest, "invalid chat ID"},
		{http.StatusInternalServerError, "status 500"},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			err := NewTelegram(srv.URL, "abc", "42", testLogger()).SendMessage(context.Background(), "hi")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestFormatRunFailure(t *testing.T) {
	run := failedRun()
	run.ErrorMessage = nil
	msg := FormatRunFailure(run)
	assert.Contains(t, msg, "unknown error")
	assert.Contains(t, msg, "2024-12-15T10:00:00Z")
	assert.Contains(t, msg, "Fetched: 10")
}
