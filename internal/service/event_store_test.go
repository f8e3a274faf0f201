package service

import (
	"context"
	"errors"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-attendance-core/internal/dto"
	"github.com/noah-isme/sma-attendance-core/internal/models"
	"github.com/noah-isme/sma-attendance-core/pkg/database"
	appErrors "github.com/noah-isme/sma-attendance-core/pkg/errors"
)

func TestEventStoreRecordValidates(t *testing.T) {
	store := NewEventStore(memEvents{newMemStore()}, nil, nil, nil)
	ctx := context.Background()

	cases := map[string]dto.RecordEventRequest{
		"missing student": recordReq("", "2024-08-01", "Math", models.AttendanceStatusPresent, "2024/2025", 1),
		"bad date":        recordReq("S1", "2024-13-01", "Math", models.AttendanceStatusPresent, "2024/2025", 1),
		"bad status":      recordReq("S1", "2024-08-01", "Math", models.AttendanceStatus("LATE"), "2024/2025", 1),
		"bad label":       recordReq("S1", "2024-08-01", "Math", models.AttendanceStatusPresent, "2024-2025", 1),
		"bad half":        recordReq("S1", "2024-08-01", "Math", models.AttendanceStatusPresent, "2024/2025", 3),
		"missing subject": recordReq("S1", "2024-08-01", "", models.AttendanceStatusPresent, "2024/2025", 1),
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := store.Record(ctx, nil, req)
			assert.ErrorIs(t, err, appErrors.ErrValidation)
		})
	}
}

func TestEventStoreRecordAndQuery(t *testing.T) {
	mem := newMemStore()
	store := NewEventStore(memEvents{mem}, nil, nil, nil)
	ctx := context.Background()

	_, err := store.Record(ctx, nil, recordReq("S1", "2024-08-02", "Math", models.AttendanceStatusPresent, "2024/2025", 1))
	require.NoError(t, err)
	_, err = store.Record(ctx, nil, recordReq("S1", "2024-08-01", "Physics", models.AttendanceStatusSick, "2024/2025", 1))
	require.NoError(t, err)
	_, err = store.Record(ctx, nil, recordReq("S1", "2024-08-01", "Biology", models.AttendanceStatusAbsent, "2024/2025", 2))
	require.NoError(t, err)

	events, err := store.Query(ctx, nil, models.SummaryKey{StudentID: "S1", TermLabel: "2024/2025", TermHalf: 1})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "Physics", events[0].Subject)
	assert.Equal(t, "Math", events[1].Subject)

	empty, err := store.Query(ctx, nil, models.SummaryKey{StudentID: "S2", TermLabel: "2024/2025", TermHalf: 1})
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	_, err = store.Query(ctx, nil, models.SummaryKey{StudentID: "S1", TermLabel: "bogus", TermHalf: 1})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestEventStoreRecordMapsUniqueViolation(t *testing.T) {
	mem := newMemStore()
	mem.failures["events.create"] = uniqueViolation("attendance_events_student_date_subject_key")
	store := NewEventStore(memEvents{mem}, nil, nil, nil)

	_, err := store.Record(context.Background(), nil, recordReq("S1", "2024-08-01", "Math", models.AttendanceStatusPresent, "2024/2025", 1))
	assert.ErrorIs(t, err, appErrors.ErrDuplicateEvent)
}

func TestEventStoreRecordRejectsUnknownStudent(t *testing.T) {
	mem := newMemStore()
	mem.students["S1"] = models.StudentStatusActive
	store := NewEventStore(memEvents{mem}, memStudents{mem}, nil, nil)
	ctx := context.Background()

	_, err := store.Record(ctx, nil, recordReq("NOPE", "2024-08-01", "Math", models.AttendanceStatusPresent, "2024/2025", 1))
	assert.ErrorIs(t, err, appErrors.ErrStudentUnknown)
	assert.Equal(t, 404, appErrors.FromError(err).Status)
	assert.Empty(t, mem.events)

	_, err = store.Record(ctx, nil, recordReq("S1", "2024-08-01", "Math", models.AttendanceStatusPresent, "2024/2025", 1))
	require.NoError(t, err)
}

func TestEventStoreRecordMapsForeignKeyViolation(t *testing.T) {
	mem := newMemStore()
	mem.failures["events.create"] = &pq.Error{Code: "23503", Constraint: database.ConstraintEventStudent}
	store := NewEventStore(memEvents{mem}, nil, nil, nil)

	_, err := store.Record(context.Background(), nil, recordReq("S1", "2024-08-01", "Math", models.AttendanceStatusPresent, "2024/2025", 1))
	assert.ErrorIs(t, err, appErrors.ErrStudentUnknown)
	assert.NotEqual(t, 500, appErrors.FromError(err).Status)
}

func TestEventStoreRecordStorageFailure(t *testing.T) {
	mem := newMemStore()
	mem.failures["events.create"] = errors.New("disk full")
	store := NewEventStore(memEvents{mem}, nil, nil, nil)

	_, err := store.Record(context.Background(), nil, recordReq("S1", "2024-08-01", "Math", models.AttendanceStatusPresent, "2024/2025", 1))
	assert.ErrorIs(t, err, appErrors.ErrInternal)
}

func TestEventStoreUpdate(t *testing.T) {
	mem := newMemStore()
	store := NewEventStore(memEvents{mem}, nil, nil, nil)
	ctx := context.Background()

	event, err := store.Record(ctx, nil, recordReq("S1", "2024-08-01", "Math", models.AttendanceStatusPresent, "2024/2025", 1))
	require.NoError(t, err)

	t.Run("empty patch leaves event untouched", func(t *testing.T) {
		change, err := store.Update(ctx, nil, event.ID, dto.UpdateEventRequest{})
		require.NoError(t, err)
		assert.Len(t, change.Keys(), 1)
		assert.Equal(t, event.Status, change.Event.Status)
	})

	t.Run("status change keeps key", func(t *testing.T) {
		status := models.AttendanceStatusAbsent
		change, err := store.Update(ctx, nil, event.ID, dto.UpdateEventRequest{Status: &status})
		require.NoError(t, err)
		assert.Equal(t, []models.SummaryKey{event.Key()}, change.Keys())
		assert.Equal(t, models.AttendanceStatusAbsent, mem.events[event.ID].Status)
	})

	t.Run("label change reports both keys", func(t *testing.T) {
		label := "2025/2026"
		change, err := store.Update(ctx, nil, event.ID, dto.UpdateEventRequest{TermLabel: &label})
		require.NoError(t, err)
		keys := change.Keys()
		require.Len(t, keys, 2)
		assert.Equal(t, "2024/2025", keys[0].TermLabel)
		assert.Equal(t, "2025/2026", keys[1].TermLabel)
	})

	t.Run("invalid date", func(t *testing.T) {
		date := "01/08/2024"
		_, err := store.Update(ctx, nil, event.ID, dto.UpdateEventRequest{Date: &date})
		assert.ErrorIs(t, err, appErrors.ErrValidation)
	})

	t.Run("unknown event", func(t *testing.T) {
		_, err := store.Update(ctx, nil, "missing", dto.UpdateEventRequest{})
		assert.ErrorIs(t, err, appErrors.ErrNotFound)
	})
}

func TestEventStoreDelete(t *testing.T) {
	mem := newMemStore()
	store := NewEventStore(memEvents{mem}, nil, nil, nil)
	ctx := context.Background()

	event, err := store.Record(ctx, nil, recordReq("S1", "2024-08-01", "Math", models.AttendanceStatusPresent, "2024/2025", 1))
	require.NoError(t, err)

	deleted, err := store.Delete(ctx, nil, event.ID)
	require.NoError(t, err)
	assert.Equal(t, event.ID, deleted.ID)
	assert.Empty(t, mem.events)

	_, err = store.Delete(ctx, nil, event.ID)
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}
