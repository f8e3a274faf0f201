package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-attendance-core/internal/models"
	"github.com/noah-isme/sma-attendance-core/pkg/database"
	appErrors "github.com/noah-isme/sma-attendance-core/pkg/errors"
)

type summaryRepository interface {
	Find(ctx context.Context, exec sqlx.ExtContext, key models.SummaryKey, forUpdate bool) (*models.AttendanceSummary, error)
	Upsert(ctx context.Context, exec sqlx.ExtContext, summary *models.AttendanceSummary) (*models.AttendanceSummary, error)
	InsertIfAbsent(ctx context.Context, exec sqlx.ExtContext, summary *models.AttendanceSummary) (bool, error)
	StudentIDsInTerm(ctx context.Context, exec sqlx.ExtContext, label string, half int) ([]string, error)
}

type termLookup interface {
	FindByLabelHalf(ctx context.Context, exec sqlx.ExtContext, label string, half int) (*models.AcademicTerm, error)
}

type eventLister interface {
	ListByKey(ctx context.Context, exec sqlx.ExtContext, key models.SummaryKey) ([]models.AttendanceEvent, error)
}

// SummaryMaintainer derives attendance summaries from events.
type SummaryMaintainer struct {
	summaries summaryRepository
	terms     termLookup
	events    eventLister
	logger    *zap.Logger
}

// NewSummaryMaintainer constructs the maintainer.
func NewSummaryMaintainer(summaries summaryRepository, terms termLookup, events eventLister, logger *zap.Logger) *SummaryMaintainer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SummaryMaintainer{summaries: summaries, terms: terms, events: events, logger: logger}
}

// Recompute rebuilds the summary for key from the current events. A stored row whose
// figures already match is returned as-is without a write.
func (s *SummaryMaintainer) Recompute(ctx context.Context, exec sqlx.ExtContext, key models.SummaryKey) (*models.AttendanceSummary, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	term, err := s.terms.FindByLabelHalf(ctx, exec, key.TermLabel, key.TermHalf)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrTermNotFound, fmt.Sprintf("academic term %s half %d not found", key.TermLabel, key.TermHalf))
		}
		return nil, appErrors.Internal(err, "failed to load academic term")
	}

	events, err := s.events.ListByKey(ctx, exec, key)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load attendance events")
	}

	counts := models.CountEvents(events)
	next := models.AttendanceSummary{
		StudentID:          key.StudentID,
		TermLabel:          key.TermLabel,
		TermHalf:           key.TermHalf,
		AttendanceCounts:   counts,
		TotalEffectiveDays: term.TotalEffectiveDays,
		Percentage:         models.AttendancePercentage(counts.Present, term.TotalEffectiveDays),
	}

	existing, err := s.summaries.Find(ctx, exec, key, true)
	switch {
	case err == nil:
		if existing.SameFigures(next) {
			return existing, nil
		}
		next.ID = existing.ID
		next.CreatedAt = existing.CreatedAt
	case !errors.Is(err, sql.ErrNoRows):
		return nil, appErrors.Internal(err, "failed to load attendance summary")
	}

	stored, err := s.summaries.Upsert(ctx, exec, &next)
	if err != nil {
		if database.IsForeignKeyViolation(err, database.ConstraintSummaryStudent) {
			return nil, appErrors.ErrStudentUnknown
		}
		return nil, appErrors.Internal(err, "failed to store attendance summary")
	}
	s.logger.Debug("attendance summary recomputed",
		zap.String("summary_key", key.String()),
		zap.Int("present", counts.Present),
		zap.Int("events", counts.Total()))
	return stored, nil
}

// Get returns the stored summary or ErrNotFound.
func (s *SummaryMaintainer) Get(ctx context.Context, exec sqlx.ExtContext, key models.SummaryKey) (*models.AttendanceSummary, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	summary, err := s.summaries.Find(ctx, exec, key, false)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "attendance summary not found")
		}
		return nil, appErrors.Internal(err, "failed to load attendance summary")
	}
	return summary, nil
}

// Bootstrap creates zeroed summaries for students lacking one in term and returns how many were created.
func (s *SummaryMaintainer) Bootstrap(ctx context.Context, exec sqlx.ExtContext, term *models.AcademicTerm, studentIDs []string) (int, error) {
	created := 0
	for _, id := range studentIDs {
		ok, err := s.summaries.InsertIfAbsent(ctx, exec, &models.AttendanceSummary{
			StudentID:          id,
			TermLabel:          term.Label,
			TermHalf:           term.Half,
			TotalEffectiveDays: term.TotalEffectiveDays,
		})
		if err != nil {
			return created, appErrors.Internal(err, "failed to bootstrap attendance summaries")
		}
		if ok {
			created++
		}
	}
	return created, nil
}

// StudentsInTerm lists students holding a summary or events in the term half.
func (s *SummaryMaintainer) StudentsInTerm(ctx context.Context, exec sqlx.ExtContext, label string, half int) ([]string, error) {
	ids, err := s.summaries.StudentIDsInTerm(ctx, exec, label, half)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list term students")
	}
	return ids, nil
}
