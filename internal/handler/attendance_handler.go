package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-attendance-core/internal/dto"
	"github.com/noah-isme/sma-attendance-core/internal/models"
	appErrors "github.com/noah-isme/sma-attendance-core/pkg/errors"
	"github.com/noah-isme/sma-attendance-core/pkg/response"
)

type attendanceCoordinator interface {
	RecordEvent(ctx context.Context, req dto.RecordEventRequest) (*dto.EventMutationResponse, error)
	UpdateEvent(ctx context.Context, id string, req dto.UpdateEventRequest) (*dto.EventMutationResponse, error)
	DeleteEvent(ctx context.Context, id string) (*dto.EventMutationResponse, error)
	QueryEvents(ctx context.Context, key models.SummaryKey) ([]models.AttendanceEvent, error)
	GetSummary(ctx context.Context, key models.SummaryKey) (*models.AttendanceSummary, error)
	RecomputeSummary(ctx context.Context, key models.SummaryKey) (*models.AttendanceSummary, error)
}

// AttendanceHandler exposes attendance event and summary endpoints.
type AttendanceHandler struct {
	coordinator attendanceCoordinator
}

// NewAttendanceHandler constructs an attendance handler.
func NewAttendanceHandler(coordinator attendanceCoordinator) *AttendanceHandler {
	return &AttendanceHandler{coordinator: coordinator}
}

// RecordEvent godoc
// @Summary Record attendance event
// @Description Stores one attendance mark and refreshes the student's term summary
// @Tags Attendance
// @Accept json
// @Produce json
// @Param payload body dto.RecordEventRequest true "Attendance event"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /attendance/events [post]
func (h *AttendanceHandler) RecordEvent(c *gin.Context) {
	var req dto.RecordEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.coordinator.RecordEvent(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// ListEvents godoc
// @Summary List attendance events
// @Tags Attendance
// @Produce json
// @Param studentId query string true "Student ID"
// @Param term query string true "Term label (YYYY/YYYY)"
// @Param half query int true "Term half (1 or 2)"
// @Success 200 {object} response.Envelope
// @Router /attendance/events [get]
func (h *AttendanceHandler) ListEvents(c *gin.Context) {
	key, ok := bindSummaryKey(c)
	if !ok {
		return
	}
	events, err := h.coordinator.QueryEvents(c.Request.Context(), key)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, events, nil)
}

// UpdateEvent godoc
// @Summary Correct attendance event
// @Description Applies a partial correction and refreshes the affected summaries
// @Tags Attendance
// @Accept json
// @Produce json
// @Param id path string true "Event ID"
// @Param payload body dto.UpdateEventRequest true "Fields to change"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /attendance/events/{id} [patch]
func (h *AttendanceHandler) UpdateEvent(c *gin.Context) {
	var req dto.UpdateEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.coordinator.UpdateEvent(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// DeleteEvent godoc
// @Summary Delete attendance event
// @Tags Attendance
// @Produce json
// @Param id path string true "Event ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /attendance/events/{id} [delete]
func (h *AttendanceHandler) DeleteEvent(c *gin.Context) {
	result, err := h.coordinator.DeleteEvent(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// GetSummary godoc
// @Summary Get attendance summary
// @Description Returns the student's summary for a term half, creating it from events on first access
// @Tags Attendance
// @Produce json
// @Param studentId query string true "Student ID"
// @Param term query string true "Term label (YYYY/YYYY)"
// @Param half query int true "Term half (1 or 2)"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /attendance/summaries [get]
func (h *AttendanceHandler) GetSummary(c *gin.Context) {
	key, ok := bindSummaryKey(c)
	if !ok {
		return
	}
	summary, err := h.coordinator.GetSummary(c.Request.Context(), key)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary, nil)
}

// RecomputeSummary godoc
// @Summary Recompute attendance summary
// @Tags Attendance
// @Accept json
// @Produce json
// @Param payload body dto.SummaryKeyRequest true "Summary key"
// @Success 200 {object} response.Envelope
// @Router /attendance/summaries/recompute [post]
func (h *AttendanceHandler) RecomputeSummary(c *gin.Context) {
	var req dto.SummaryKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	summary, err := h.coordinator.RecomputeSummary(c.Request.Context(), req.Key())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary, nil)
}

func bindSummaryKey(c *gin.Context) (models.SummaryKey, bool) {
	var req dto.SummaryKeyRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query parameters"))
		return models.SummaryKey{}, false
	}
	return req.Key(), true
}
