package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-attendance-core/internal/models"
)

const summaryColumns = `id, student_id, term_label, term_half, present, sick, excused, absent, total_effective_days, percentage, created_at, updated_at`

// AttendanceSummaryRepository persists the denormalized per-student tallies.
type AttendanceSummaryRepository struct {
	db *sqlx.DB
}

// NewAttendanceSummaryRepository constructs the repository.
func NewAttendanceSummaryRepository(db *sqlx.DB) *AttendanceSummaryRepository {
	return &AttendanceSummaryRepository{db: db}
}

func (r *AttendanceSummaryRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// Find loads the summary for key, optionally locking it.
func (r *AttendanceSummaryRepository) Find(ctx context.Context, exec sqlx.ExtContext, key models.SummaryKey, forUpdate bool) (*models.AttendanceSummary, error) {
	query := `SELECT ` + summaryColumns + ` FROM attendance_summaries WHERE student_id = $1 AND term_label = $2 AND term_half = $3`
	if forUpdate {
		query += " FOR UPDATE"
	}
	var summary models.AttendanceSummary
	if err := sqlx.GetContext(ctx, r.exec(exec), &summary, query, key.StudentID, key.TermLabel, key.TermHalf); err != nil {
		return nil, err
	}
	return &summary, nil
}

// Upsert writes the summary, replacing the figures of an existing row for the same key.
func (r *AttendanceSummaryRepository) Upsert(ctx context.Context, exec sqlx.ExtContext, summary *models.AttendanceSummary) (*models.AttendanceSummary, error) {
	now := time.Now().UTC()
	if summary.ID == "" {
		summary.ID = uuid.NewString()
	}
	if summary.CreatedAt.IsZero() {
		summary.CreatedAt = now
	}
	summary.UpdatedAt = now

	const query = `INSERT INTO attendance_summaries (` + summaryColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (student_id, term_label, term_half)
DO UPDATE SET present = EXCLUDED.present, sick = EXCLUDED.sick, excused = EXCLUDED.excused, absent = EXCLUDED.absent,
	total_effective_days = EXCLUDED.total_effective_days, percentage = EXCLUDED.percentage, updated_at = EXCLUDED.updated_at
RETURNING ` + summaryColumns
	var stored models.AttendanceSummary
	err := sqlx.GetContext(ctx, r.exec(exec), &stored, query,
		summary.ID, summary.StudentID, summary.TermLabel, summary.TermHalf,
		summary.Present, summary.Sick, summary.Excused, summary.Absent,
		summary.TotalEffectiveDays, summary.Percentage, summary.CreatedAt, summary.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("upsert attendance summary: %w", err)
	}
	return &stored, nil
}

// InsertIfAbsent creates a zeroed summary unless one already exists. It reports whether a row was created.
func (r *AttendanceSummaryRepository) InsertIfAbsent(ctx context.Context, exec sqlx.ExtContext, summary *models.AttendanceSummary) (bool, error) {
	now := time.Now().UTC()
	if summary.ID == "" {
		summary.ID = uuid.NewString()
	}
	summary.CreatedAt = now
	summary.UpdatedAt = now

	const query = `INSERT INTO attendance_summaries (` + summaryColumns + `)
VALUES (:id, :student_id, :term_label, :term_half, :present, :sick, :excused, :absent, :total_effective_days, :percentage, :created_at, :updated_at)
ON CONFLICT (student_id, term_label, term_half) DO NOTHING`
	result, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, summary)
	if err != nil {
		return false, fmt.Errorf("bootstrap attendance summary: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("attendance summary rows affected: %w", err)
	}
	return affected > 0, nil
}

// ListByTerm returns all summaries of a term half ordered by student.
func (r *AttendanceSummaryRepository) ListByTerm(ctx context.Context, exec sqlx.ExtContext, label string, half int) ([]models.AttendanceSummary, error) {
	const query = `SELECT ` + summaryColumns + ` FROM attendance_summaries WHERE term_label = $1 AND term_half = $2 ORDER BY student_id`
	var summaries []models.AttendanceSummary
	if err := sqlx.SelectContext(ctx, r.exec(exec), &summaries, query, label, half); err != nil {
		return nil, fmt.Errorf("list term attendance summaries: %w", err)
	}
	return summaries, nil
}

// StudentIDsInTerm returns every student holding a summary or an event in the term half.
func (r *AttendanceSummaryRepository) StudentIDsInTerm(ctx context.Context, exec sqlx.ExtContext, label string, half int) ([]string, error) {
	const query = `SELECT student_id FROM attendance_summaries WHERE term_label = $1 AND term_half = $2
UNION
SELECT student_id FROM attendance_events WHERE term_label = $1 AND term_half = $2
ORDER BY student_id`
	var ids []string
	if err := sqlx.SelectContext(ctx, r.exec(exec), &ids, query, label, half); err != nil {
		return nil, fmt.Errorf("list term students: %w", err)
	}
	return ids, nil
}

// DeleteByTerm purges the summaries of a term half.
func (r *AttendanceSummaryRepository) DeleteByTerm(ctx context.Context, exec sqlx.ExtContext, label string, half int) (int64, error) {
	result, err := r.exec(exec).ExecContext(ctx, `DELETE FROM attendance_summaries WHERE term_label = $1 AND term_half = $2`, label, half)
	if err != nil {
		return 0, fmt.Errorf("purge attendance summaries: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("attendance summary rows affected: %w", err)
	}
	return affected, nil
}
