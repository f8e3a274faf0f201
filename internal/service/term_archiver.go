package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-attendance-core/internal/models"
	"github.com/noah-isme/sma-attendance-core/pkg/database"
	appErrors "github.com/noah-isme/sma-attendance-core/pkg/errors"
	"github.com/noah-isme/sma-attendance-core/pkg/export"
)

type archiveTermRepository interface {
	FindByID(ctx context.Context, exec sqlx.ExtContext, id string, forUpdate bool) (*models.AcademicTerm, error)
	Delete(ctx context.Context, exec sqlx.ExtContext, id string) error
}

type archiveEventRepository interface {
	ListByTerm(ctx context.Context, exec sqlx.ExtContext, label string, half int) ([]models.AttendanceEvent, error)
	DeleteByTerm(ctx context.Context, exec sqlx.ExtContext, label string, half int) (int64, error)
}

type archiveSummaryRepository interface {
	ListByTerm(ctx context.Context, exec sqlx.ExtContext, label string, half int) ([]models.AttendanceSummary, error)
	DeleteByTerm(ctx context.Context, exec sqlx.ExtContext, label string, half int) (int64, error)
}

type historyStore interface {
	Create(ctx context.Context, exec sqlx.ExtContext, history *models.TermHistory) error
	GetByID(ctx context.Context, id string) (*models.TermHistory, error)
	FindByTerm(ctx context.Context, label string, half int) (*models.TermHistory, error)
	List(ctx context.Context, filter models.TermHistoryFilter) ([]models.TermHistory, error)
}

// HistoryExport is a rendered term history document.
type HistoryExport struct {
	Filename    string
	ContentType string
	Body        []byte
}

// TermArchiverConfig toggles optional archiver features.
type TermArchiverConfig struct {
	ExportEnabled bool
}

// TermArchiver snapshots a finished term into an immutable history and purges its live data.
type TermArchiver struct {
	terms     archiveTermRepository
	events    archiveEventRepository
	summaries archiveSummaryRepository
	histories historyStore
	renderers map[string]export.Renderer
	cfg       TermArchiverConfig
	logger    *zap.Logger
}

// NewTermArchiver constructs the archiver with CSV and PDF renderers.
func NewTermArchiver(terms archiveTermRepository, events archiveEventRepository, summaries archiveSummaryRepository, histories historyStore, cfg TermArchiverConfig, logger *zap.Logger) *TermArchiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TermArchiver{
		terms:     terms,
		events:    events,
		summaries: summaries,
		histories: histories,
		renderers: map[string]export.Renderer{
			"csv": export.NewCSVExporter(),
			"pdf": export.NewPDFExporter(),
		},
		cfg:    cfg,
		logger: logger,
	}
}

// ArchiveAndPurge writes the history for termID then deletes its events, summaries and
// the term itself. Active terms are refused before any write.
func (s *TermArchiver) ArchiveAndPurge(ctx context.Context, exec sqlx.ExtContext, termID string) (*models.TermHistory, error) {
	term, err := s.terms.FindByID(ctx, exec, termID, true)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "term not found")
		}
		return nil, appErrors.Internal(err, "failed to load term")
	}
	if term.IsActive {
		return nil, appErrors.ErrTermIsActive
	}

	summaries, err := s.summaries.ListByTerm(ctx, exec, term.Label, term.Half)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to snapshot attendance summaries")
	}
	events, err := s.events.ListByTerm(ctx, exec, term.Label, term.Half)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to snapshot attendance events")
	}

	history := &models.TermHistory{
		TermLabel:          term.Label,
		TermHalf:           term.Half,
		TotalEffectiveDays: term.TotalEffectiveDays,
		StartDate:          term.StartDate,
		EndDate:            term.EndDate,
		ArchivedAt:         time.Now().UTC(),
		Students:           buildHistoryStudents(term, summaries, events),
	}
	if err := s.histories.Create(ctx, exec, history); err != nil {
		if database.IsUniqueViolation(err, database.ConstraintHistoryUnique) {
			return nil, appErrors.ErrHistoryExists
		}
		return nil, appErrors.Internal(err, "failed to write term history")
	}

	purgedEvents, err := s.events.DeleteByTerm(ctx, exec, term.Label, term.Half)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to purge attendance events")
	}
	purgedSummaries, err := s.summaries.DeleteByTerm(ctx, exec, term.Label, term.Half)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to purge attendance summaries")
	}
	if err := s.terms.Delete(ctx, exec, term.ID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "term not found")
		}
		return nil, appErrors.Internal(err, "failed to delete term")
	}

	s.logger.Info("academic term archived",
		zap.String("term_id", term.ID),
		zap.String("label", term.Label),
		zap.Int("half", term.Half),
		zap.Int64("events_purged", purgedEvents),
		zap.Int64("summaries_purged", purgedSummaries))
	return history, nil
}

// buildHistoryStudents merges summaries with their events, one entry per student in id order.
// Students holding events without a summary are tallied from the events.
func buildHistoryStudents(term *models.AcademicTerm, summaries []models.AttendanceSummary, events []models.AttendanceEvent) []models.TermHistoryStudent {
	byStudent := make(map[string]*models.TermHistoryStudent, len(summaries))
	for _, summary := range summaries {
		byStudent[summary.StudentID] = &models.TermHistoryStudent{
			StudentID:          summary.StudentID,
			AttendanceCounts:   summary.AttendanceCounts,
			TotalEffectiveDays: summary.TotalEffectiveDays,
			Percentage:         summary.Percentage,
			Events:             []models.TermHistoryEvent{},
		}
	}

	orphans := make(map[string]bool)
	for _, event := range events {
		entry, ok := byStudent[event.StudentID]
		if !ok {
			entry = &models.TermHistoryStudent{
				StudentID:          event.StudentID,
				TotalEffectiveDays: term.TotalEffectiveDays,
				Events:             []models.TermHistoryEvent{},
			}
			byStudent[event.StudentID] = entry
			orphans[event.StudentID] = true
		}
		if orphans[event.StudentID] {
			entry.AttendanceCounts.Add(event.Status)
		}
		entry.Events = append(entry.Events, models.TermHistoryEvent{
			Date:         event.Date.Format(models.DateLayout),
			Status:       event.Status,
			Subject:      event.Subject,
			ClassSection: event.ClassSection,
		})
	}

	students := make([]models.TermHistoryStudent, 0, len(byStudent))
	for id, entry := range byStudent {
		if orphans[id] {
			entry.Percentage = models.AttendancePercentage(entry.Present, entry.TotalEffectiveDays)
		}
		sort.SliceStable(entry.Events, func(i, j int) bool {
			a, b := entry.Events[i], entry.Events[j]
			if a.Date != b.Date {
				return a.Date < b.Date
			}
			return a.Subject < b.Subject
		})
		students = append(students, *entry)
	}
	sort.Slice(students, func(i, j int) bool { return students[i].StudentID < students[j].StudentID })
	return students
}

// GetHistory returns one archived term by id.
func (s *TermArchiver) GetHistory(ctx context.Context, id string) (*models.TermHistory, error) {
	history, err := s.histories.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "term history not found")
		}
		return nil, appErrors.Internal(err, "failed to load term history")
	}
	return history, nil
}

// FindHistory returns the archived term for label and half.
func (s *TermArchiver) FindHistory(ctx context.Context, label string, half int) (*models.TermHistory, error) {
	if !models.ValidTermLabel(label) || !models.ValidTermHalf(half) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "term must use YYYY/YYYY and half must be 1 or 2")
	}
	history, err := s.histories.FindByTerm(ctx, label, half)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "term history not found")
		}
		return nil, appErrors.Internal(err, "failed to load term history")
	}
	return history, nil
}

// ListHistories returns archived term headers.
func (s *TermArchiver) ListHistories(ctx context.Context, filter models.TermHistoryFilter) ([]models.TermHistory, error) {
	records, err := s.histories.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list term histories")
	}
	if records == nil {
		records = []models.TermHistory{}
	}
	return records, nil
}

// ExportHistory renders an archived term as csv or pdf, one row per student.
func (s *TermArchiver) ExportHistory(ctx context.Context, id, format string) (*HistoryExport, error) {
	if !s.cfg.ExportEnabled {
		return nil, appErrors.Clone(appErrors.ErrUnavailable, "history export is disabled")
	}
	renderer, ok := s.renderers[strings.ToLower(format)]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}
	history, err := s.GetHistory(ctx, id)
	if err != nil {
		return nil, err
	}

	body, err := renderer.Render(historyDataset(history))
	if err != nil {
		return nil, appErrors.Internal(err, "failed to render term history")
	}
	filename := fmt.Sprintf("term-history-%s-h%d.%s", strings.ReplaceAll(history.TermLabel, "/", "-"), history.TermHalf, renderer.Extension())
	return &HistoryExport{Filename: filename, ContentType: renderer.ContentType(), Body: body}, nil
}

func historyDataset(history *models.TermHistory) export.Dataset {
	data := export.Dataset{
		Title:   fmt.Sprintf("Attendance history %s half %d", history.TermLabel, history.TermHalf),
		Headers: []string{"student_id", "present", "sick", "excused", "absent", "total_effective_days", "percentage", "events"},
	}
	for _, student := range history.Students {
		data.Rows = append(data.Rows, map[string]string{
			"student_id":           student.StudentID,
			"present":              strconv.Itoa(student.Present),
			"sick":                 strconv.Itoa(student.Sick),
			"excused":              strconv.Itoa(student.Excused),
			"absent":               strconv.Itoa(student.Absent),
			"total_effective_days": strconv.Itoa(student.TotalEffectiveDays),
			"percentage":           strconv.FormatFloat(student.Percentage, 'f', 2, 64),
			"events":               strconv.Itoa(len(student.Events)),
		})
	}
	return data
}
