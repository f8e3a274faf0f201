package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-attendance-core/internal/models"
)

func TestTermHistoryRepositoryCreateSerializesStudents(t *testing.T) {
	db, mock, cleanup := newSQLMock(t)
	defer cleanup()
	repo := NewTermHistoryRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO term_histories")).
		WithArgs(sqlmock.AnyArg(), "2023/2024", 2, 100, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	history := &models.TermHistory{
		TermLabel:          "2023/2024",
		TermHalf:           2,
		TotalEffectiveDays: 100,
		Students: []models.TermHistoryStudent{{
			StudentID:          "stu-1",
			AttendanceCounts:   models.AttendanceCounts{Present: 1},
			TotalEffectiveDays: 100,
			Percentage:         1,
			Events:             []models.TermHistoryEvent{{Date: "2024-02-01", Status: models.AttendanceStatusPresent, Subject: "Math"}},
		}},
	}
	require.NoError(t, repo.Create(context.Background(), nil, history))
	assert.NotEmpty(t, history.ID)
	assert.Contains(t, history.Payload.String(), `"student_id":"stu-1"`)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTermHistoryRepositoryGetDecodesPayload(t *testing.T) {
	db, mock, cleanup := newSQLMock(t)
	defer cleanup()
	repo := NewTermHistoryRepository(db)

	now := time.Now()
	payload := `[{"student_id":"stu-1","present":3,"sick":1,"excused":0,"absent":0,"total_effective_days":100,"percentage":3,"events":[]}]`
	mock.ExpectQuery(regexp.QuoteMeta("FROM term_histories WHERE id = $1")).
		WithArgs("hist-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "term_label", "term_half", "total_effective_days", "start_date", "end_date", "archived_at", "students"}).
			AddRow("hist-1", "2023/2024", 2, 100, now, now, now, []byte(payload)))

	history, err := repo.GetByID(context.Background(), "hist-1")
	require.NoError(t, err)
	require.Len(t, history.Students, 1)
	assert.Equal(t, 3, history.Students[0].Present)
	assert.Equal(t, 1, history.Students[0].Sick)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTermHistoryRepositoryListFilters(t *testing.T) {
	db, mock, cleanup := newSQLMock(t)
	defer cleanup()
	repo := NewTermHistoryRepository(db)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("FROM term_histories WHERE term_label = $1 AND term_half = $2 ORDER BY archived_at DESC")).
		WithArgs("2023/2024", 1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "term_label", "term_half", "total_effective_days", "start_date", "end_date", "archived_at"}).
			AddRow("hist-1", "2023/2024", 1, 100, now, now, now))

	records, err := repo.List(context.Background(), models.TermHistoryFilter{TermLabel: "2023/2024", TermHalf: 1})
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Empty(t, records[0].Students)
	assert.NoError(t, mock.ExpectationsWereMet())
}
