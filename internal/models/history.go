package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// TermHistory is the immutable snapshot written when a term is archived.
type TermHistory struct {
	ID                 string               `db:"id" json:"id"`
	TermLabel          string               `db:"term_label" json:"term_label"`
	TermHalf           int                  `db:"term_half" json:"term_half"`
	TotalEffectiveDays int                  `db:"total_effective_days" json:"total_effective_days"`
	StartDate          time.Time            `db:"start_date" json:"start_date"`
	EndDate            time.Time            `db:"end_date" json:"end_date"`
	ArchivedAt         time.Time            `db:"archived_at" json:"archived_at"`
	Payload            types.JSONText       `db:"students" json:"-"`
	Students           []TermHistoryStudent `db:"-" json:"students"`
}

// TermHistoryStudent embeds one student's final summary and raw events.
type TermHistoryStudent struct {
	StudentID string `json:"student_id"`
	AttendanceCounts
	TotalEffectiveDays int                `json:"total_effective_days"`
	Percentage         float64            `json:"percentage"`
	Events             []TermHistoryEvent `json:"events"`
}

// TermHistoryEvent is the archived form of an attendance event.
type TermHistoryEvent struct {
	Date         string           `json:"date"`
	Status       AttendanceStatus `json:"status"`
	Subject      string           `json:"subject"`
	ClassSection string           `json:"class_section,omitempty"`
}

// TermHistoryFilter scopes history listing.
type TermHistoryFilter struct {
	TermLabel string
	TermHalf  int
}
