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
)

type eventRepository interface {
	Create(ctx context.Context, exec sqlx.ExtContext, event *models.AttendanceEvent) error
	FindByID(ctx context.Context, exec sqlx.ExtContext, id string, forUpdate bool) (*models.AttendanceEvent, error)
	ExistsForSlot(ctx context.Context, exec sqlx.ExtContext, studentID string, date time.Time, subject, excludeID string) (bool, error)
	Update(ctx context.Context, exec sqlx.ExtContext, event *models.AttendanceEvent) error
	Delete(ctx context.Context, exec sqlx.ExtContext, id string) error
	ListByKey(ctx context.Context, exec sqlx.ExtContext, key models.SummaryKey) ([]models.AttendanceEvent, error)
}

type studentLookup interface {
	Exists(ctx context.Context, exec sqlx.ExtContext, id string) (bool, error)
}

// EventStore owns attendance events. It never touches summaries; the coordinator
// pairs every mutation with a recompute inside the same transaction.
type EventStore struct {
	repo      eventRepository
	students  studentLookup
	validator *validator.Validate
	logger    *zap.Logger
}

// NewEventStore constructs the event store. A nil students lookup skips the directory check.
func NewEventStore(repo eventRepository, students studentLookup, validate *validator.Validate, logger *zap.Logger) *EventStore {
	if validate == nil {
		validate = dto.NewValidator()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventStore{repo: repo, students: students, validator: validate, logger: logger}
}

// Record stores a new attendance mark.
func (s *EventStore) Record(ctx context.Context, exec sqlx.ExtContext, req dto.RecordEventRequest) (*models.AttendanceEvent, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid attendance event payload")
	}
	date, err := dto.ParseDate(req.Date)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "date must use YYYY-MM-DD")
	}
	if s.students != nil {
		known, err := s.students.Exists(ctx, exec, req.StudentID)
		if err != nil {
			return nil, appErrors.Internal(err, "failed to check student")
		}
		if !known {
			return nil, appErrors.ErrStudentUnknown
		}
	}

	exists, err := s.repo.ExistsForSlot(ctx, exec, req.StudentID, date, req.Subject, "")
	if err != nil {
		return nil, appErrors.Internal(err, "failed to check attendance uniqueness")
	}
	if exists {
		return nil, appErrors.ErrDuplicateEvent
	}

	event := &models.AttendanceEvent{
		StudentID:    req.StudentID,
		Date:         date,
		ClassSection: req.ClassSection,
		Subject:      req.Subject,
		Status:       req.Status,
		TermLabel:    req.TermLabel,
		TermHalf:     req.TermHalf,
	}
	if err := s.repo.Create(ctx, exec, event); err != nil {
		switch {
		case database.IsUniqueViolation(err, database.ConstraintEventUnique):
			return nil, appErrors.ErrDuplicateEvent
		case database.IsForeignKeyViolation(err, database.ConstraintEventStudent):
			return nil, appErrors.ErrStudentUnknown
		}
		return nil, appErrors.Internal(err, "failed to record attendance event")
	}
	return event, nil
}

// Update applies a correction and reports the summary keys before and after.
func (s *EventStore) Update(ctx context.Context, exec sqlx.ExtContext, id string, req dto.UpdateEventRequest) (*dto.EventChange, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid attendance event patch")
	}
	patch, err := buildPatch(req)
	if err != nil {
		return nil, err
	}

	current, err := s.repo.FindByID(ctx, exec, id, true)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "attendance event not found")
		}
		return nil, appErrors.Internal(err, "failed to load attendance event")
	}

	change := &dto.EventChange{Event: current, Previous: current.Key(), Current: current.Key()}
	if patch.Empty() {
		return change, nil
	}

	updated := patch.Apply(*current)
	slotChanged := updated.StudentID != current.StudentID || !updated.Date.Equal(current.Date) || updated.Subject != current.Subject
	if slotChanged {
		exists, err := s.repo.ExistsForSlot(ctx, exec, updated.StudentID, updated.Date, updated.Subject, id)
		if err != nil {
			return nil, appErrors.Internal(err, "failed to check attendance uniqueness")
		}
		if exists {
			return nil, appErrors.ErrDuplicateEvent
		}
	}

	if err := s.repo.Update(ctx, exec, &updated); err != nil {
		switch {
		case database.IsUniqueViolation(err, database.ConstraintEventUnique):
			return nil, appErrors.ErrDuplicateEvent
		case errors.Is(err, sql.ErrNoRows):
			return nil, appErrors.Clone(appErrors.ErrNotFound, "attendance event not found")
		}
		return nil, appErrors.Internal(err, "failed to update attendance event")
	}

	change.Event = &updated
	change.Current = updated.Key()
	return change, nil
}

// Delete removes an event and returns it as it was before deletion.
func (s *EventStore) Delete(ctx context.Context, exec sqlx.ExtContext, id string) (*models.AttendanceEvent, error) {
	event, err := s.repo.FindByID(ctx, exec, id, true)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "attendance event not found")
		}
		return nil, appErrors.Internal(err, "failed to load attendance event")
	}
	if err := s.repo.Delete(ctx, exec, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "attendance event not found")
		}
		return nil, appErrors.Internal(err, "failed to delete attendance event")
	}
	return event, nil
}

// Query lists a student's events for a term half ordered by date, subject and id.
func (s *EventStore) Query(ctx context.Context, exec sqlx.ExtContext, key models.SummaryKey) ([]models.AttendanceEvent, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	events, err := s.repo.ListByKey(ctx, exec, key)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list attendance events")
	}
	if events == nil {
		events = []models.AttendanceEvent{}
	}
	return events, nil
}

func buildPatch(req dto.UpdateEventRequest) (models.AttendanceEventPatch, error) {
	patch := models.AttendanceEventPatch{
		Status:       req.Status,
		Subject:      req.Subject,
		ClassSection: req.ClassSection,
		TermLabel:    req.TermLabel,
		TermHalf:     req.TermHalf,
	}
	if req.Date != nil {
		date, err := dto.ParseDate(*req.Date)
		if err != nil {
			return patch, appErrors.Clone(appErrors.ErrValidation, "date must use YYYY-MM-DD")
		}
		patch.Date = &date
	}
	return patch, nil
}

func validateKey(key models.SummaryKey) error {
	if key.StudentID == "" {
		return appErrors.Clone(appErrors.ErrValidation, "student_id is required")
	}
	if !models.ValidTermLabel(key.TermLabel) {
		return appErrors.Clone(appErrors.ErrValidation, "term must use YYYY/YYYY")
	}
	if !models.ValidTermHalf(key.TermHalf) {
		return appErrors.Clone(appErrors.ErrValidation, "half must be 1 or 2")
	}
	return nil
}
