package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-attendance-core/internal/models"
)

const historyHeaderColumns = `id, term_label, term_half, total_effective_days, start_date, end_date, archived_at`

// TermHistoryRepository stores archived term snapshots. Rows are never updated or deleted.
type TermHistoryRepository struct {
	db *sqlx.DB
}

// NewTermHistoryRepository constructs the repository.
func NewTermHistoryRepository(db *sqlx.DB) *TermHistoryRepository {
	return &TermHistoryRepository{db: db}
}

// Create stores a snapshot, serializing the per-student payload as JSON.
func (r *TermHistoryRepository) Create(ctx context.Context, exec sqlx.ExtContext, history *models.TermHistory) error {
	if exec == nil {
		exec = r.db
	}
	if history.ID == "" {
		history.ID = uuid.NewString()
	}
	if history.ArchivedAt.IsZero() {
		history.ArchivedAt = time.Now().UTC()
	}
	students := history.Students
	if students == nil {
		students = []models.TermHistoryStudent{}
	}
	payload, err := json.Marshal(students)
	if err != nil {
		return fmt.Errorf("marshal term history payload: %w", err)
	}
	history.Payload = payload

	const query = `INSERT INTO term_histories (` + historyHeaderColumns + `, students)
	VALUES (:id, :term_label, :term_half, :total_effective_days, :start_date, :end_date, :archived_at, :students)`
	if _, err := sqlx.NamedExecContext(ctx, exec, query, history); err != nil {
		return fmt.Errorf("create term history: %w", err)
	}
	return nil
}

// GetByID retrieves one snapshot including its student payload.
func (r *TermHistoryRepository) GetByID(ctx context.Context, id string) (*models.TermHistory, error) {
	const query = `SELECT ` + historyHeaderColumns + `, students FROM term_histories WHERE id = $1`
	return r.getOne(ctx, query, id)
}

// FindByTerm retrieves the snapshot for a term label and half.
func (r *TermHistoryRepository) FindByTerm(ctx context.Context, label string, half int) (*models.TermHistory, error) {
	const query = `SELECT ` + historyHeaderColumns + `, students FROM term_histories WHERE term_label = $1 AND term_half = $2`
	return r.getOne(ctx, query, label, half)
}

func (r *TermHistoryRepository) getOne(ctx context.Context, query string, args ...interface{}) (*models.TermHistory, error) {
	var history models.TermHistory
	if err := r.db.GetContext(ctx, &history, query, args...); err != nil {
		return nil, err
	}
	if err := decodeHistoryPayload(&history); err != nil {
		return nil, err
	}
	return &history, nil
}

// List returns snapshot headers without the student payload, newest first.
func (r *TermHistoryRepository) List(ctx context.Context, filter models.TermHistoryFilter) ([]models.TermHistory, error) {
	builder := strings.Builder{}
	builder.WriteString(`SELECT ` + historyHeaderColumns + ` FROM term_histories`)
	args := make([]interface{}, 0, 2)
	conditions := make([]string, 0, 2)

	if filter.TermLabel != "" {
		args = append(args, filter.TermLabel)
		conditions = append(conditions, fmt.Sprintf("term_label = $%d", len(args)))
	}
	if filter.TermHalf != 0 {
		args = append(args, filter.TermHalf)
		conditions = append(conditions, fmt.Sprintf("term_half = $%d", len(args)))
	}
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	builder.WriteString(" ORDER BY archived_at DESC, term_label DESC, term_half DESC")

	var records []models.TermHistory
	if err := r.db.SelectContext(ctx, &records, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list term histories: %w", err)
	}
	return records, nil
}

func decodeHistoryPayload(history *models.TermHistory) error {
	history.Students = []models.TermHistoryStudent{}
	if len(history.Payload) == 0 {
		return nil
	}
	if err := history.Payload.Unmarshal(&history.Students); err != nil {
		return fmt.Errorf("decode term history payload: %w", err)
	}
	return nil
}
