package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-attendance-core/internal/dto"
	"github.com/noah-isme/sma-attendance-core/internal/models"
	"github.com/noah-isme/sma-attendance-core/pkg/database"
	appErrors "github.com/noah-isme/sma-attendance-core/pkg/errors"
	"github.com/noah-isme/sma-attendance-core/pkg/logger"
)

type termRepository interface {
	List(ctx context.Context, filter models.TermFilter) ([]models.AcademicTerm, int, error)
	FindByID(ctx context.Context, exec sqlx.ExtContext, id string, forUpdate bool) (*models.AcademicTerm, error)
	FindByLabelHalf(ctx context.Context, exec sqlx.ExtContext, label string, half int) (*models.AcademicTerm, error)
	FindActive(ctx context.Context, exec sqlx.ExtContext) (*models.AcademicTerm, error)
	ExistsByLabelAndHalf(ctx context.Context, exec sqlx.ExtContext, label string, half int) (bool, error)
	Create(ctx context.Context, exec sqlx.ExtContext, term *models.AcademicTerm) error
	LockAll(ctx context.Context, exec sqlx.ExtContext) error
	SetActive(ctx context.Context, exec sqlx.ExtContext, id string) error
}

type readCache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// TermRegistry orchestrates academic term workflows.
type TermRegistry struct {
	repo      termRepository
	cache     readCache
	validator *validator.Validate
	logger    *zap.Logger
}

// NewTermRegistry creates a new term registry instance.
func NewTermRegistry(repo termRepository, cache readCache, validate *validator.Validate, logger *zap.Logger) *TermRegistry {
	if validate == nil {
		validate = dto.NewValidator()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TermRegistry{repo: repo, cache: cache, validator: validate, logger: logger}
}

// List returns paginated terms.
func (s *TermRegistry) List(ctx context.Context, filter models.TermFilter) ([]models.AcademicTerm, *models.Pagination, error) {
	terms, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to list terms")
	}
	if terms == nil {
		terms = []models.AcademicTerm{}
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}

	pagination := &models.Pagination{
		Page:       page,
		PageSize:   size,
		TotalCount: total,
	}
	return terms, pagination, nil
}

// Get returns a term by ID.
func (s *TermRegistry) Get(ctx context.Context, exec sqlx.ExtContext, id string) (*models.AcademicTerm, error) {
	term, err := s.repo.FindByID(ctx, exec, id, false)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "term not found")
		}
		return nil, appErrors.Internal(err, "failed to load term")
	}
	return term, nil
}

// GetActive returns the currently active term, served from cache when enabled.
func (s *TermRegistry) GetActive(ctx context.Context) (*models.AcademicTerm, error) {
	if s.cache != nil {
		var cached models.AcademicTerm
		if hit, _ := s.cache.Get(ctx, ActiveTermCacheKey, &cached); hit {
			return &cached, nil
		}
	}

	term, err := s.repo.FindActive(ctx, nil)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNoActiveTerm
		}
		return nil, appErrors.Internal(err, "failed to load active term")
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, ActiveTermCacheKey, term, 0); err != nil {
			logger.FromContext(ctx, s.logger).Warn("active term not cached", zap.String("term_id", term.ID), zap.Error(err))
		}
	}
	return term, nil
}

// InvalidateActive drops the cached active term. Call it only after the unit that
// changed the active term has committed.
func (s *TermRegistry) InvalidateActive(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, ActiveTermCacheKey); err != nil {
		logger.FromContext(ctx, s.logger).Warn("active term cache eviction failed; entry stays stale until TTL", zap.Error(err))
	}
}

// Create adds a new inactive term ensuring uniqueness and date validation.
func (s *TermRegistry) Create(ctx context.Context, exec sqlx.ExtContext, req dto.CreateTermRequest) (*models.AcademicTerm, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid term payload")
	}
	start, err := dto.ParseDate(req.StartDate)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "start_date must use YYYY-MM-DD")
	}
	end, err := dto.ParseDate(req.EndDate)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "end_date must use YYYY-MM-DD")
	}
	if !start.Before(end) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "start_date must be before end_date")
	}

	exists, err := s.repo.ExistsByLabelAndHalf(ctx, exec, req.Label, req.Half)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to check term uniqueness")
	}
	if exists {
		return nil, appErrors.ErrDuplicateTerm
	}

	term := &models.AcademicTerm{
		Label:              req.Label,
		Half:               req.Half,
		StartDate:          start,
		EndDate:            end,
		TotalEffectiveDays: req.TotalEffectiveDays,
	}
	if err := s.repo.Create(ctx, exec, term); err != nil {
		if database.IsUniqueViolation(err, database.ConstraintTermUnique) {
			return nil, appErrors.ErrDuplicateTerm
		}
		return nil, appErrors.Internal(err, "failed to create term")
	}
	return term, nil
}

// Activate designates a term as the single active term. Every term row is locked
// first so concurrent activations serialize.
func (s *TermRegistry) Activate(ctx context.Context, exec sqlx.ExtContext, id string) (*models.AcademicTerm, error) {
	if err := s.repo.LockAll(ctx, exec); err != nil {
		return nil, appErrors.Internal(err, "failed to lock terms")
	}

	term, err := s.repo.FindByID(ctx, exec, id, false)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "term not found")
		}
		return nil, appErrors.Internal(err, "failed to load term")
	}

	if err := s.repo.SetActive(ctx, exec, term.ID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "term not found")
		}
		return nil, appErrors.Internal(err, "failed to activate term")
	}
	term.IsActive = true
	s.logger.Info("academic term activated", zap.String("term_id", term.ID), zap.String("label", term.Label), zap.Int("half", term.Half))
	return term, nil
}
