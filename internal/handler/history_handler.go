package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-attendance-core/internal/models"
	"github.com/noah-isme/sma-attendance-core/internal/service"
	"github.com/noah-isme/sma-attendance-core/pkg/response"
)

type historyReader interface {
	GetHistory(ctx context.Context, id string) (*models.TermHistory, error)
	FindHistory(ctx context.Context, label string, half int) (*models.TermHistory, error)
	ListHistories(ctx context.Context, filter models.TermHistoryFilter) ([]models.TermHistory, error)
	ExportHistory(ctx context.Context, id, format string) (*service.HistoryExport, error)
}

// HistoryHandler serves archived term histories.
type HistoryHandler struct {
	archiver historyReader
}

// NewHistoryHandler constructs the handler.
func NewHistoryHandler(archiver historyReader) *HistoryHandler {
	return &HistoryHandler{archiver: archiver}
}

// List godoc
// @Summary List term histories
// @Description Lists archived terms. Supplying both term and half returns the single matching history.
// @Tags Histories
// @Produce json
// @Param term query string false "Term label"
// @Param half query int false "Term half"
// @Success 200 {object} response.Envelope
// @Router /term-histories [get]
func (h *HistoryHandler) List(c *gin.Context) {
	label := c.Query("term")
	if half, err := strconv.Atoi(c.Query("half")); err == nil && label != "" {
		history, err := h.archiver.FindHistory(c.Request.Context(), label, half)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.JSON(c, http.StatusOK, []models.TermHistory{*history}, nil)
		return
	}
	records, err := h.archiver.ListHistories(c.Request.Context(), models.TermHistoryFilter{TermLabel: label})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, records, nil)
}

// Get godoc
// @Summary Get term history
// @Tags Histories
// @Produce json
// @Param id path string true "History ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /term-histories/{id} [get]
func (h *HistoryHandler) Get(c *gin.Context) {
	history, err := h.archiver.GetHistory(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, history, nil)
}

// Export godoc
// @Summary Export term history
// @Tags Histories
// @Produce text/csv
// @Produce application/pdf
// @Param id path string true "History ID"
// @Param format query string false "csv or pdf" default(csv)
// @Success 200 {file} file
// @Failure 503 {object} response.Envelope
// @Router /term-histories/{id}/export [get]
func (h *HistoryHandler) Export(c *gin.Context) {
	out, err := h.archiver.ExportHistory(c.Request.Context(), c.Param("id"), c.DefaultQuery("format", "csv"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.File(c, out.Filename, out.ContentType, out.Body)
}
