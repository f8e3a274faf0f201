package database

import (
	"errors"

	"github.com/lib/pq"
)

// PostgreSQL SQLSTATE codes the attendance core reacts to.
const (
	codeUniqueViolation      = pq.ErrorCode("23505")
	codeForeignKeyViolation  = pq.ErrorCode("23503")
	codeSerializationFailure = pq.ErrorCode("40001")
	codeDeadlockDetected     = pq.ErrorCode("40P01")
)

// Constraint names declared in migrations/0001_attendance_core.up.sql.
const (
	ConstraintEventUnique      = "attendance_events_student_date_subject_key"
	ConstraintTermUnique       = "academic_terms_label_half_key"
	ConstraintSingleActiveTerm = "academic_terms_single_active_idx"
	ConstraintSummaryUnique    = "attendance_summaries_student_term_key"
	ConstraintHistoryUnique    = "term_histories_label_half_key"
	ConstraintEventStudent     = "attendance_events_student_id_fkey"
	ConstraintSummaryStudent   = "attendance_summaries_student_id_fkey"
)

func asPQ(err error) (*pq.Error, bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr, true
	}
	return nil, false
}

// IsUniqueViolation reports whether err is a unique violation, optionally on a specific constraint.
func IsUniqueViolation(err error, constraint string) bool {
	pqErr, ok := asPQ(err)
	if !ok || pqErr.Code != codeUniqueViolation {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}

// IsForeignKeyViolation reports whether err is a foreign key violation, optionally on a specific constraint.
func IsForeignKeyViolation(err error, constraint string) bool {
	pqErr, ok := asPQ(err)
	if !ok || pqErr.Code != codeForeignKeyViolation {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}

// IsContention reports whether err means the transaction lost a race and may be retried whole.
func IsContention(err error) bool {
	pqErr, ok := asPQ(err)
	if !ok {
		return false
	}
	switch pqErr.Code {
	case codeSerializationFailure, codeDeadlockDetected:
		return true
	case codeUniqueViolation:
		return pqErr.Constraint == ConstraintSingleActiveTerm
	}
	return false
}
