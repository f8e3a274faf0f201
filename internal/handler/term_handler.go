package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-attendance-core/internal/dto"
	"github.com/noah-isme/sma-attendance-core/internal/models"
	appErrors "github.com/noah-isme/sma-attendance-core/pkg/errors"
	"github.com/noah-isme/sma-attendance-core/pkg/response"
)

type termCoordinator interface {
	ListTerms(ctx context.Context, filter models.TermFilter) ([]models.AcademicTerm, *models.Pagination, error)
	GetTerm(ctx context.Context, termID string) (*models.AcademicTerm, error)
	GetActiveTerm(ctx context.Context) (*models.AcademicTerm, error)
	CreateTerm(ctx context.Context, req dto.CreateTermRequest) (*models.AcademicTerm, error)
	ActivateTerm(ctx context.Context, termID string) (*models.TermActivation, error)
	DeleteTerm(ctx context.Context, termID string) (*models.TermHistory, error)
}

type reconcileRequester interface {
	Request(ctx context.Context, termID string) (*dto.ReconcileResponse, error)
}

// TermHandler exposes term endpoints.
type TermHandler struct {
	coordinator termCoordinator
	reconciler  reconcileRequester
}

// NewTermHandler constructs a term handler.
func NewTermHandler(coordinator termCoordinator, reconciler reconcileRequester) *TermHandler {
	return &TermHandler{coordinator: coordinator, reconciler: reconciler}
}

// List godoc
// @Summary List terms
// @Description List terms with filters
// @Tags Terms
// @Produce json
// @Param label query string false "Filter by label"
// @Param half query int false "Filter by half"
// @Param isActive query bool false "Filter by active flag"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Param sort query string false "Sort column"
// @Param order query string false "asc or desc"
// @Success 200 {object} response.Envelope
// @Router /terms [get]
func (h *TermHandler) List(c *gin.Context) {
	var filter models.TermFilter
	filter.Label = c.Query("label")
	if half, err := strconv.Atoi(c.Query("half")); err == nil {
		filter.Half = half
	}
	if isActive := c.Query("isActive"); isActive != "" {
		if val, err := strconv.ParseBool(isActive); err == nil {
			filter.IsActive = &val
		}
	}
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")

	terms, pagination, err := h.coordinator.ListTerms(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, terms, pagination)
}

// GetActive godoc
// @Summary Get active term
// @Tags Terms
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /terms/active [get]
func (h *TermHandler) GetActive(c *gin.Context) {
	term, err := h.coordinator.GetActiveTerm(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, term, nil)
}

// Get godoc
// @Summary Get term
// @Tags Terms
// @Produce json
// @Param id path string true "Term ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /terms/{id} [get]
func (h *TermHandler) Get(c *gin.Context) {
	term, err := h.coordinator.GetTerm(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, term, nil)
}

// Create godoc
// @Summary Create term
// @Tags Terms
// @Accept json
// @Produce json
// @Param payload body dto.CreateTermRequest true "Term payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /terms [post]
func (h *TermHandler) Create(c *gin.Context) {
	var req dto.CreateTermRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	term, err := h.coordinator.CreateTerm(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, term)
}

// Activate godoc
// @Summary Activate term
// @Description Makes the term the single active term and creates zeroed summaries for eligible students
// @Tags Terms
// @Produce json
// @Param id path string true "Term ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /terms/{id}/activate [post]
func (h *TermHandler) Activate(c *gin.Context) {
	activation, err := h.coordinator.ActivateTerm(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, activation, nil)
}

// Delete godoc
// @Summary Archive and delete term
// @Description Writes the term history then purges the term's events, summaries and row
// @Tags Terms
// @Produce json
// @Param id path string true "Term ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /terms/{id} [delete]
func (h *TermHandler) Delete(c *gin.Context) {
	history, err := h.coordinator.DeleteTerm(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, history, nil)
}

// Reconcile godoc
// @Summary Reconcile term summaries
// @Description Recomputes every summary of the term from its events, queued when the reconciler is enabled
// @Tags Terms
// @Produce json
// @Param id path string true "Term ID"
// @Success 200 {object} response.Envelope
// @Success 202 {object} response.Envelope
// @Router /terms/{id}/reconcile [post]
func (h *TermHandler) Reconcile(c *gin.Context) {
	res, err := h.reconciler.Request(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	status := http.StatusOK
	if res.Queued {
		status = http.StatusAccepted
	}
	response.JSON(c, status, res, nil)
}
