// Package handler implements the dashboard read API.
package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/alekslucenko/planit-analytics/internal/domain"
	"github.com/alekslucenko/planit-analytics/internal/logger"
	"github.com/alekslucenko/planit-analytics/internal/snapshot"
	"github.com/alekslucenko/planit-analytics/internal/stream"
)

// TimeframeSwitcher is the aggregator surface the API needs.
type TimeframeSwitcher interface {
	Timeframe() domain.Timeframe
	SetTimeframe(ctx context.Context, tf domain.Timeframe) error
}

// MetricsHandler serves snapshot reads, timeframe switching, and the
// live event stream.
type MetricsHandler struct {
	snapshots  *snapshot.Store
	aggregator TimeframeSwitcher
	broker     *stream.Broker
	log        logger.Logger
}

// NewMetricsHandler creates a MetricsHandler.
func NewMetricsHandler(
	snapshots *snapshot.Store,
	aggregator TimeframeSwitcher,
	broker *stream.Broker,
	log logger.Logger,
) *MetricsHandler {
	return &MetricsHandler{
		snapshots:  snapshots,
		aggregator: aggregator,
		broker:     broker,
		log:        log,
	}
}

// GetSnapshot handles GET /api/v1/metrics/snapshot.
func (h *MetricsHandler) GetSnapshot(c *gin.Context) {
	p, ready := h.snapshots.Get()
	if !ready {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no snapshot computed yet"})
		return
	}
	c.JSON(http.StatusOK, p.Snapshot)
}

// GetBuckets handles GET /api/v1/metrics/buckets.
func (h *MetricsHandler) GetBuckets(c *gin.Context) {
	p, ready := h.snapshots.Get()
	if !ready {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no snapshot computed yet"})
		return
	}
	buckets := p.Buckets
	if buckets == nil {
		buckets = []domain.DailyBucket{}
	}
	c.JSON(http.StatusOK, gin.H{
		"timeframe": p.Snapshot.Timeframe,
		"buckets":   buckets,
	})
}

// timeframeRequest is the PUT /metrics/timeframe body.
type timeframeRequest struct {
	Timeframe string `json:"timeframe" binding:"required"`
}

// PutTimeframe handles PUT /api/v1/metrics/timeframe.
func (h *MetricsHandler) PutTimeframe(c *gin.Context) {
	var req timeframeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "timeframe is required"})
		return
	}

	tf, err := domain.ParseTimeframe(req.Timeframe)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.aggregator.SetTimeframe(c.Request.Context(), tf); err != nil {
		h.log.Error("Timeframe switch failed",
			logger.String("timeframe", string(tf)),
			logger.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "timeframe switch failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"timeframe": tf})
}

// Stream handles GET /api/v1/metrics/stream (SSE). The current
// publication is replayed first so a fresh client renders immediately.
func (h *MetricsHandler) Stream(c *gin.Context) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
		return
	}

	events, cleanup, err := h.broker.Subscribe(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "stream capacity reached"})
		return
	}
	defer cleanup()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)

	if p, ready := h.snapshots.Get(); ready {
		h.writeEvent(c, stream.NewSnapshotEvent(p))
		flusher.Flush()
	}

	for {
		select {
		case event, open := <-events:
			if !open {
				return
			}
			h.writeEvent(c, event)
			flusher.Flush()
		case <-c.Request.Context().Done():
			return
		}
	}
}

func (h *MetricsHandler) writeEvent(c *gin.Context, event stream.Event) {
	payload, err := json.Marshal(event.Data)
	if err != nil {
		h.log.Error("SSE payload marshal failed", logger.Error(err))
		return
	}
	_, _ = c.Writer.WriteString("event: " + event.Type + "\n")
	_, _ = c.Writer.WriteString("data: " + string(payload) + "\n\n")
}
