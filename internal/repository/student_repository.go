package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/sma-attendance-core/internal/models"
)

// StudentRepository reads the student directory. Student records are owned elsewhere.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs a StudentRepository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

// ListEligibleIDs returns students whose status qualifies them for a summary in a newly activated term.
func (r *StudentRepository) ListEligibleIDs(ctx context.Context, exec sqlx.ExtContext) ([]string, error) {
	if exec == nil {
		exec = r.db
	}
	statuses := make([]string, 0, len(models.EligibleStudentStatuses))
	for _, s := range models.EligibleStudentStatuses {
		statuses = append(statuses, string(s))
	}
	const query = `SELECT id FROM students WHERE status = ANY($1) ORDER BY id`
	var ids []string
	if err := sqlx.SelectContext(ctx, exec, &ids, query, pq.Array(statuses)); err != nil {
		return nil, fmt.Errorf("list eligible students: %w", err)
	}
	return ids, nil
}

// Exists reports whether the student is known to the directory.
func (r *StudentRepository) Exists(ctx context.Context, exec sqlx.ExtContext, id string) (bool, error) {
	if exec == nil {
		exec = r.db
	}
	var exists bool
	if err := sqlx.GetContext(ctx, exec, &exists, `SELECT EXISTS (SELECT 1 FROM students WHERE id = $1)`, id); err != nil {
		return false, fmt.Errorf("check student: %w", err)
	}
	return exists, nil
}
