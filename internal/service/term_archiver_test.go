package service

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-attendance-core/internal/models"
	appErrors "github.com/noah-isme/sma-attendance-core/pkg/errors"
)

func newTestArchiver(mem *memStore, exportEnabled bool) *TermArchiver {
	return NewTermArchiver(memTerms{mem}, memEvents{mem}, memSummaries{mem}, memHistories{mem}, TermArchiverConfig{ExportEnabled: exportEnabled}, nil)
}

func TestTermArchiverRefusesActiveTerm(t *testing.T) {
	mem := newMemStore()
	term := mem.addTerm("2024/2025", 1, 100, true)

	_, err := newTestArchiver(mem, false).ArchiveAndPurge(context.Background(), nil, term.ID)
	assert.ErrorIs(t, err, appErrors.ErrTermIsActive)
	assert.Contains(t, mem.terms, term.ID)
	assert.Empty(t, mem.histories)
}

func TestTermArchiverUnknownTerm(t *testing.T) {
	_, err := newTestArchiver(newMemStore(), false).ArchiveAndPurge(context.Background(), nil, "missing")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestTermArchiverTalliesStudentsWithoutSummary(t *testing.T) {
	mem := newMemStore()
	term := mem.addTerm("2023/2024", 1, 4, false)
	mem.summaries[models.SummaryKey{StudentID: "S2", TermLabel: "2023/2024", TermHalf: 1}] = models.AttendanceSummary{
		StudentID: "S2", TermLabel: "2023/2024", TermHalf: 1,
		TotalEffectiveDays: 4,
	}
	seedEvent(mem, "S1", "2023-08-02", "Math", models.AttendanceStatusPresent, "2023/2024", 1)
	seedEvent(mem, "S1", "2023-08-01", "Math", models.AttendanceStatusAbsent, "2023/2024", 1)
	seedEvent(mem, "S3", "2023-08-01", "Math", models.AttendanceStatusPresent, "2023/2024", 2)

	history, err := newTestArchiver(mem, false).ArchiveAndPurge(context.Background(), nil, term.ID)
	require.NoError(t, err)

	require.Len(t, history.Students, 2)
	orphan := history.Students[0]
	assert.Equal(t, "S1", orphan.StudentID)
	assert.Equal(t, models.AttendanceCounts{Present: 1, Absent: 1}, orphan.AttendanceCounts)
	assert.Equal(t, 25.0, orphan.Percentage)
	assert.Equal(t, []string{"2023-08-01", "2023-08-02"}, []string{orphan.Events[0].Date, orphan.Events[1].Date})

	zeroed := history.Students[1]
	assert.Equal(t, "S2", zeroed.StudentID)
	assert.NotNil(t, zeroed.Events)
	assert.Empty(t, zeroed.Events)

	// events of the other half survive
	assert.Len(t, mem.events, 1)
}

func TestTermArchiverHistoryLookups(t *testing.T) {
	mem := newMemStore()
	archiver := newTestArchiver(mem, false)
	ctx := context.Background()

	_, err := archiver.GetHistory(ctx, "missing")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
	_, err = archiver.FindHistory(ctx, "2023/2024", 1)
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
	_, err = archiver.FindHistory(ctx, "2023", 1)
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	list, err := archiver.ListHistories(ctx, models.TermHistoryFilter{})
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)
}

func TestTermArchiverExportHistory(t *testing.T) {
	mem := newMemStore()
	mem.histories["hist-1"] = models.TermHistory{
		ID:                 "hist-1",
		TermLabel:          "2023/2024",
		TermHalf:           2,
		TotalEffectiveDays: 100,
		Students: []models.TermHistoryStudent{
			{StudentID: "S1", AttendanceCounts: models.AttendanceCounts{Present: 90, Sick: 2}, TotalEffectiveDays: 100, Percentage: 90, Events: make([]models.TermHistoryEvent, 92)},
			{StudentID: "S2", TotalEffectiveDays: 100, Events: []models.TermHistoryEvent{}},
		},
	}
	ctx := context.Background()

	t.Run("csv", func(t *testing.T) {
		out, err := newTestArchiver(mem, true).ExportHistory(ctx, "hist-1", "CSV")
		require.NoError(t, err)
		assert.Equal(t, "term-history-2023-2024-h2.csv", out.Filename)
		assert.Equal(t, "text/csv", out.ContentType)
		assert.Equal(t,
			"student_id,present,sick,excused,absent,total_effective_days,percentage,events\n"+
				"S1,90,2,0,0,100,90.00,92\n"+
				"S2,0,0,0,0,100,0.00,0\n",
			string(out.Body))
	})

	t.Run("pdf", func(t *testing.T) {
		out, err := newTestArchiver(mem, true).ExportHistory(ctx, "hist-1", "pdf")
		require.NoError(t, err)
		assert.Equal(t, "application/pdf", out.ContentType)
		assert.True(t, bytes.HasPrefix(out.Body, []byte("%PDF-")))
	})

	t.Run("unsupported format", func(t *testing.T) {
		_, err := newTestArchiver(mem, true).ExportHistory(ctx, "hist-1", "xlsx")
		assert.ErrorIs(t, err, appErrors.ErrValidation)
	})

	t.Run("disabled", func(t *testing.T) {
		_, err := newTestArchiver(mem, false).ExportHistory(ctx, "hist-1", "csv")
		assert.ErrorIs(t, err, appErrors.ErrUnavailable)
	})

	t.Run("missing history", func(t *testing.T) {
		_, err := newTestArchiver(mem, true).ExportHistory(ctx, "hist-9", "csv")
		assert.ErrorIs(t, err, appErrors.ErrNotFound)
	})
}
