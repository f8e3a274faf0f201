package models

import (
	"regexp"
	"time"
)

var termLabelPattern = regexp.MustCompile(`^\d{4}/\d{4}$`)

// ValidTermLabel reports whether label has the YYYY/YYYY shape.
func ValidTermLabel(label string) bool {
	return termLabelPattern.MatchString(label)
}

// ValidTermHalf reports whether half is 1 or 2.
func ValidTermHalf(half int) bool {
	return half == 1 || half == 2
}

// AcademicTerm models one school half-year.
type AcademicTerm struct {
	ID                 string    `db:"id" json:"id"`
	Label              string    `db:"label" json:"label"`
	Half               int       `db:"half" json:"half"`
	StartDate          time.Time `db:"start_date" json:"start_date"`
	EndDate            time.Time `db:"end_date" json:"end_date"`
	TotalEffectiveDays int       `db:"total_effective_days" json:"total_effective_days"`
	IsActive           bool      `db:"is_active" json:"is_active"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time `db:"updated_at" json:"updated_at"`
}

// TermFilter defines filters supported by list endpoints.
type TermFilter struct {
	Label     string
	Half      int
	IsActive  *bool
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// TermActivation reports the outcome of activating a term.
type TermActivation struct {
	Term               *AcademicTerm `json:"term"`
	StudentsConsidered int           `json:"students_considered"`
	SummariesCreated   int           `json:"summaries_created"`
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
