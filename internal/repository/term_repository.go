package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-attendance-core/internal/models"
)

const termColumns = `id, label, half, start_date, end_date, total_effective_days, is_active, created_at, updated_at`

// TermRepository handles persistence for academic terms.
type TermRepository struct {
	db *sqlx.DB
}

// NewTermRepository instantiates a term repository.
func NewTermRepository(db *sqlx.DB) *TermRepository {
	return &TermRepository{db: db}
}

func (r *TermRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// List returns terms matching provided filters.
func (r *TermRepository) List(ctx context.Context, filter models.TermFilter) ([]models.AcademicTerm, int, error) {
	base := "FROM academic_terms WHERE 1=1"
	var conditions []string
	var args []interface{}

	if filter.Label != "" {
		conditions = append(conditions, fmt.Sprintf("label = $%d", len(args)+1))
		args = append(args, filter.Label)
	}
	if filter.Half != 0 {
		conditions = append(conditions, fmt.Sprintf("half = $%d", len(args)+1))
		args = append(args, filter.Half)
	}
	if filter.IsActive != nil {
		conditions = append(conditions, fmt.Sprintf("is_active = $%d", len(args)+1))
		args = append(args, *filter.IsActive)
	}

	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	sortBy := filter.SortBy
	if sortBy == "" {
		sortBy = "start_date"
	}
	allowedSorts := map[string]bool{
		"label":      true,
		"start_date": true,
		"end_date":   true,
		"created_at": true,
	}
	if !allowedSorts[sortBy] {
		sortBy = "start_date"
	}

	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s %s ORDER BY %s %s, half %s LIMIT %d OFFSET %d", termColumns, base, sortBy, order, order, size, offset)

	var terms []models.AcademicTerm
	if err := r.db.SelectContext(ctx, &terms, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list terms: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count terms: %w", err)
	}

	return terms, total, nil
}

// FindByID loads a term by identifier, optionally locking the row.
func (r *TermRepository) FindByID(ctx context.Context, exec sqlx.ExtContext, id string, forUpdate bool) (*models.AcademicTerm, error) {
	query := `SELECT ` + termColumns + ` FROM academic_terms WHERE id = $1`
	if forUpdate {
		query += " FOR UPDATE"
	}
	var term models.AcademicTerm
	if err := sqlx.GetContext(ctx, r.exec(exec), &term, query, id); err != nil {
		return nil, err
	}
	return &term, nil
}

// FindByLabelHalf loads a term by its natural key.
func (r *TermRepository) FindByLabelHalf(ctx context.Context, exec sqlx.ExtContext, label string, half int) (*models.AcademicTerm, error) {
	const query = `SELECT ` + termColumns + ` FROM academic_terms WHERE label = $1 AND half = $2`
	var term models.AcademicTerm
	if err := sqlx.GetContext(ctx, r.exec(exec), &term, query, label, half); err != nil {
		return nil, err
	}
	return &term, nil
}

// FindActive returns the currently active term.
func (r *TermRepository) FindActive(ctx context.Context, exec sqlx.ExtContext) (*models.AcademicTerm, error) {
	const query = `SELECT ` + termColumns + ` FROM academic_terms WHERE is_active = TRUE LIMIT 1`
	var term models.AcademicTerm
	if err := sqlx.GetContext(ctx, r.exec(exec), &term, query); err != nil {
		return nil, err
	}
	return &term, nil
}

// ExistsByLabelAndHalf checks if a term with the same label and half exists.
func (r *TermRepository) ExistsByLabelAndHalf(ctx context.Context, exec sqlx.ExtContext, label string, half int) (bool, error) {
	var exists int
	err := sqlx.GetContext(ctx, r.exec(exec), &exists, `SELECT 1 FROM academic_terms WHERE label = $1 AND half = $2 LIMIT 1`, label, half)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check term uniqueness: %w", err)
	}
	return true, nil
}

// Create inserts a new term record.
func (r *TermRepository) Create(ctx context.Context, exec sqlx.ExtContext, term *models.AcademicTerm) error {
	if term.ID == "" {
		term.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if term.CreatedAt.IsZero() {
		term.CreatedAt = now
	}
	term.UpdatedAt = now

	const query = `INSERT INTO academic_terms (` + termColumns + `)
VALUES (:id, :label, :half, :start_date, :end_date, :total_effective_days, :is_active, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, term); err != nil {
		return fmt.Errorf("create term: %w", err)
	}
	return nil
}

// LockAll takes row locks on every term so activation is serialized against concurrent writers.
func (r *TermRepository) LockAll(ctx context.Context, exec sqlx.ExtContext) error {
	var ids []string
	if err := sqlx.SelectContext(ctx, r.exec(exec), &ids, `SELECT id FROM academic_terms ORDER BY id FOR UPDATE`); err != nil {
		return fmt.Errorf("lock terms: %w", err)
	}
	return nil
}

// SetActive marks the provided term as active and deactivates the rest.
// Callers supply the transaction; both statements must commit together.
func (r *TermRepository) SetActive(ctx context.Context, exec sqlx.ExtContext, id string) error {
	now := time.Now().UTC()
	if _, err := r.exec(exec).ExecContext(ctx, `UPDATE academic_terms SET is_active = FALSE, updated_at = $1 WHERE is_active = TRUE AND id <> $2`, now, id); err != nil {
		return fmt.Errorf("deactivate other terms: %w", err)
	}

	result, err := r.exec(exec).ExecContext(ctx, `UPDATE academic_terms SET is_active = TRUE, updated_at = $2 WHERE id = $1`, id, now)
	if err != nil {
		return fmt.Errorf("activate term: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("activate term rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Delete removes a term permanently.
func (r *TermRepository) Delete(ctx context.Context, exec sqlx.ExtContext, id string) error {
	result, err := r.exec(exec).ExecContext(ctx, `DELETE FROM academic_terms WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete term: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete term rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
