package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-attendance-core/internal/models"
)

const eventColumns = `id, student_id, date, class_section, subject, status, term_label, term_half, created_at, updated_at`

// AttendanceEventRepository persists individual attendance marks.
type AttendanceEventRepository struct {
	db *sqlx.DB
}

// NewAttendanceEventRepository constructs the repository.
func NewAttendanceEventRepository(db *sqlx.DB) *AttendanceEventRepository {
	return &AttendanceEventRepository{db: db}
}

func (r *AttendanceEventRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// Create inserts a new attendance event.
func (r *AttendanceEventRepository) Create(ctx context.Context, exec sqlx.ExtContext, event *models.AttendanceEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = now
	}
	event.UpdatedAt = now

	const query = `INSERT INTO attendance_events (` + eventColumns + `)
VALUES (:id, :student_id, :date, :class_section, :subject, :status, :term_label, :term_half, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, event); err != nil {
		return fmt.Errorf("create attendance event: %w", err)
	}
	return nil
}

// FindByID loads an event, optionally locking the row for the rest of the transaction.
func (r *AttendanceEventRepository) FindByID(ctx context.Context, exec sqlx.ExtContext, id string, forUpdate bool) (*models.AttendanceEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM attendance_events WHERE id = $1`
	if forUpdate {
		query += " FOR UPDATE"
	}
	var event models.AttendanceEvent
	if err := sqlx.GetContext(ctx, r.exec(exec), &event, query, id); err != nil {
		return nil, err
	}
	return &event, nil
}

// ExistsForSlot checks whether a student already has a mark for the subject on the date.
func (r *AttendanceEventRepository) ExistsForSlot(ctx context.Context, exec sqlx.ExtContext, studentID string, date time.Time, subject, excludeID string) (bool, error) {
	query := `SELECT 1 FROM attendance_events WHERE student_id = $1 AND date = $2 AND subject = $3`
	args := []interface{}{studentID, date, subject}
	if excludeID != "" {
		query += " AND id <> $4"
		args = append(args, excludeID)
	}
	var exists int
	if err := sqlx.GetContext(ctx, r.exec(exec), &exists, query+" LIMIT 1", args...); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check attendance event uniqueness: %w", err)
	}
	return true, nil
}

// Update persists the mutable columns of an event.
func (r *AttendanceEventRepository) Update(ctx context.Context, exec sqlx.ExtContext, event *models.AttendanceEvent) error {
	event.UpdatedAt = time.Now().UTC()
	const query = `UPDATE attendance_events SET date = :date, class_section = :class_section, subject = :subject, status = :status,
term_label = :term_label, term_half = :term_half, updated_at = :updated_at WHERE id = :id`
	result, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, event)
	if err != nil {
		return fmt.Errorf("update attendance event: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("attendance event rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Delete removes an event.
func (r *AttendanceEventRepository) Delete(ctx context.Context, exec sqlx.ExtContext, id string) error {
	result, err := r.exec(exec).ExecContext(ctx, `DELETE FROM attendance_events WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete attendance event: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("attendance event rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListByKey returns a student's events for a term half in a stable order.
func (r *AttendanceEventRepository) ListByKey(ctx context.Context, exec sqlx.ExtContext, key models.SummaryKey) ([]models.AttendanceEvent, error) {
	const query = `SELECT ` + eventColumns + ` FROM attendance_events
WHERE student_id = $1 AND term_label = $2 AND term_half = $3
ORDER BY date, subject, id`
	var events []models.AttendanceEvent
	if err := sqlx.SelectContext(ctx, r.exec(exec), &events, query, key.StudentID, key.TermLabel, key.TermHalf); err != nil {
		return nil, fmt.Errorf("list attendance events: %w", err)
	}
	return events, nil
}

// ListByTerm returns every event of a term half ordered by student then date.
func (r *AttendanceEventRepository) ListByTerm(ctx context.Context, exec sqlx.ExtContext, label string, half int) ([]models.AttendanceEvent, error) {
	const query = `SELECT ` + eventColumns + ` FROM attendance_events
WHERE term_label = $1 AND term_half = $2
ORDER BY student_id, date, subject, id`
	var events []models.AttendanceEvent
	if err := sqlx.SelectContext(ctx, r.exec(exec), &events, query, label, half); err != nil {
		return nil, fmt.Errorf("list term attendance events: %w", err)
	}
	return events, nil
}

// DeleteByTerm purges the events of a term half.
func (r *AttendanceEventRepository) DeleteByTerm(ctx context.Context, exec sqlx.ExtContext, label string, half int) (int64, error) {
	result, err := r.exec(exec).ExecContext(ctx, `DELETE FROM attendance_events WHERE term_label = $1 AND term_half = $2`, label, half)
	if err != nil {
		return 0, fmt.Errorf("purge attendance events: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("attendance event rows affected: %w", err)
	}
	return affected, nil
}
