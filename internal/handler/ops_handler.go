package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-digest-notifier/internal/models"
	"github.com/noah-isme/sma-digest-notifier/internal/service"
	appErrors "github.com/noah-isme/sma-digest-notifier/pkg/errors"
	"github.com/noah-isme/sma-digest-notifier/pkg/response"
)

type readiness interface {
	Ready() bool
	Snapshot() *service.Snapshot
}

type previewRenderer interface {
	Render(req service.PreviewRequest) (*service.PreviewResult, error)
}

type deliveryLister interface {
	List(ctx context.Context, filter models.DeliveryFilter) ([]models.DeliveryRecord, error)
}

// OpsHandler exposes probes, metrics, previews and the delivery audit log.
type OpsHandler struct {
	state      readiness
	preview    previewRenderer
	deliveries deliveryLister
	metrics    http.Handler
}

// NewOpsHandler constructs an OpsHandler. metrics may be nil.
func NewOpsHandler(state readiness, preview previewRenderer, deliveries deliveryLister, metrics http.Handler) *OpsHandler {
	return &OpsHandler{state: state, preview: preview, deliveries: deliveries, metrics: metrics}
}

// Health is the liveness probe.
func (h *OpsHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Metrics serves the Prometheus scrape endpoint.
func (h *OpsHandler) Metrics(c *gin.Context) {
	if h.metrics == nil {
		c.Status(http.StatusNotFound)
		return
	}
	h.metrics.ServeHTTP(c.Writer, c.Request)
}

// Ready reports whether the catalog and directory have been loaded.
func (h *OpsHandler) Ready(c *gin.Context) {
	if !h.state.Ready() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "loading"})
		return
	}
	snap := h.state.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"status":      "ready",
		"sessions":    snap.Catalog.Len(),
		"subscribers": len(snap.Subscribers),
		"loaded_at":   snap.LoadedAt.Format(time.RFC3339),
	})
}

type previewQuery struct {
	URL    string `form:"url" binding:"required"`
	Date   string `form:"date" binding:"omitempty,datetime=2006-01-02"`
	Slot   int    `form:"slot" binding:"omitempty,min=1,max=5"`
	Format string `form:"format" binding:"omitempty,oneof=text csv pdf"`
}

// Preview renders the view a subscription link resolves to.
func (h *OpsHandler) Preview(c *gin.Context) {
	var q previewQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid preview query"))
		return
	}
	req := service.PreviewRequest{Link: q.URL, Date: q.Date, Slot: q.Slot, Format: service.PreviewFormat(q.Format)}
	if req.Format == "" {
		req.Format = service.PreviewText
	}

	result, err := h.preview.Render(req)
	if err != nil {
		response.Error(c, err)
		return
	}
	if req.Format == service.PreviewText {
		response.JSON(c, http.StatusOK, gin.H{"title": result.Title, "body": string(result.Content)},
			map[string]interface{}{"sessions": result.Sessions})
		return
	}
	response.File(c, result.ContentType, result.Filename, result.Content)
}

// Timetable lists the daily lesson slots.
func (h *OpsHandler) Timetable(c *gin.Context) {
	response.JSON(c, http.StatusOK, service.Timetable())
}

type deliveriesQuery struct {
	Date   string `form:"date" binding:"omitempty,datetime=2006-01-02"`
	Job    string `form:"job" binding:"omitempty,oneof=refresh morning_digest slot_digest evening_digest calendar"`
	UserID string `form:"userId"`
	Limit  int    `form:"limit" binding:"omitempty,min=1,max=1000"`
}

// Deliveries lists recorded notification outcomes.
func (h *OpsHandler) Deliveries(c *gin.Context) {
	var q deliveriesQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid deliveries query"))
		return
	}
	filter := models.DeliveryFilter{TargetDate: q.Date, Job: models.JobKind(q.Job), UserID: q.UserID, Limit: q.Limit}

	records, err := h.deliveries.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, records, map[string]interface{}{"count": len(records)})
}
