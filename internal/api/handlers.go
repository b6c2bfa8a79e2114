package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"realtor/ingest/config"
	"realtor/ingest/internal/database"
	"realtor/ingest/internal/models"
)

const (
	defaultRunLimit = 20
	maxRunLimit     = 200
	pingTimeout     = 2 * time.Second
)

// RunStore is the read side of the run record store.
type RunStore interface {
	ListRuns(ctx context.Context, filter database.RunFilter) ([]models.IngestionRun, error)
	LatestRun(ctx context.Context, sourceID string) (*models.IngestionRun, error)
	Ping(ctx context.Context) error
}

type Handler struct {
	store   RunStore
	catalog config.Catalog
	logger  *logrus.Logger
}

// SourceView is the public shape of a catalog entry.
type SourceView struct {
	ID         string             `json:"id"`
	Kind       config.SourceKind  `json:"kind"`
	URL        string             `json:"url"`
	Region     models.Region      `json:"region"`
	Tier       models.QualityTier `json:"tier"`
	Confidence float64            `json:"confidence"`
	Enabled    bool               `json:"enabled"`
}

func NewHandler(store RunStore, catalog config.Catalog, logger *logrus.Logger) *Handler {
	return &Handler{
		store:   store,
		catalog: catalog,
		logger:  logger,
	}
}

func (h *Handler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), pingTimeout)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		h.logger.WithError(err).Error("Store health check failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) GetSources(c *gin.Context) {
	sources := h.catalog.All()
	views := make([]SourceView, 0, len(sources))
	for _, s := range sources {
		views = append(views, SourceView{
			ID:         s.ID,
			Kind:       s.Kind,
			URL:        s.URL,
			Region:     s.Region,
			Tier:       s.Tier,
			Confidence: s.Confidence,
			Enabled:    s.Enabled,
		})
	}
	c.JSON(http.StatusOK, views)
}

func (h *Handler) GetRuns(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultRunLimit)))
	if err != nil || limit <= 0 {
		limit = defaultRunLimit
	}
	limit = min(limit, maxRunLimit)

	status := models.RunStatus(c.Query("status"))
	switch status {
	case "", models.RunStatusRunning, models.RunStatusCompleted, models.RunStatusFailed:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "status must be running, completed or failed"})
		return
	}

	runs, err := h.store.ListRuns(c.Request.Context(), database.RunFilter{
		SourceID: c.Query("source"),
		Status:   status,
		Limit:    limit,
	})
	if err != nil {
		h.logger.WithError(err).Error("Failed to list runs")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list runs"})
		return
	}

	c.JSON(http.StatusOK, runs)
}

func (h *Handler) GetLatestRun(c *gin.Context) {
	sourceID := c.Param("source")
	if _, ok := h.catalog.Get(sourceID); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": config.ErrUnknownSource.Error()})
		return
	}

	run, err := h.store.LatestRun(c.Request.Context(), sourceID)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		h.logger.WithError(err).WithField("source", sourceID).Error("Failed to get latest run")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get latest run"})
		return
	}
	if run == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no runs recorded for source"})
		return
	}

	c.JSON(http.StatusOK, run)
}
