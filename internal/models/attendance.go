package models

import (
	"fmt"
	"time"
)

// AttendanceStatus represents the status recorded for one attendance mark.
type AttendanceStatus string

const (
	AttendanceStatusPresent AttendanceStatus = "PRESENT"
	AttendanceStatusSick    AttendanceStatus = "SICK"
	AttendanceStatusExcused AttendanceStatus = "EXCUSED"
	AttendanceStatusAbsent  AttendanceStatus = "ABSENT"
)

// Valid returns true when the status is a supported value.
func (s AttendanceStatus) Valid() bool {
	switch s {
	case AttendanceStatusPresent, AttendanceStatusSick, AttendanceStatusExcused, AttendanceStatusAbsent:
		return true
	default:
		return false
	}
}

// DateLayout is the day-granularity wire format for attendance dates.
const DateLayout = "2006-01-02"

// SummaryKey identifies one per-student-per-term aggregate.
type SummaryKey struct {
	StudentID string `json:"student_id"`
	TermLabel string `json:"term_label"`
	TermHalf  int    `json:"term_half"`
}

func (k SummaryKey) String() string {
	return fmt.Sprintf("%s|%s|%d", k.StudentID, k.TermLabel, k.TermHalf)
}

// AttendanceEvent is one attendance mark for one student, date and subject.
type AttendanceEvent struct {
	ID           string           `db:"id" json:"id"`
	StudentID    string           `db:"student_id" json:"student_id"`
	Date         time.Time        `db:"date" json:"date"`
	ClassSection string           `db:"class_section" json:"class_section"`
	Subject      string           `db:"subject" json:"subject"`
	Status       AttendanceStatus `db:"status" json:"status"`
	TermLabel    string           `db:"term_label" json:"term_label"`
	TermHalf     int              `db:"term_half" json:"term_half"`
	CreatedAt    time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time        `db:"updated_at" json:"updated_at"`
}

// Key returns the summary key the event contributes to.
func (e AttendanceEvent) Key() SummaryKey {
	return SummaryKey{StudentID: e.StudentID, TermLabel: e.TermLabel, TermHalf: e.TermHalf}
}

// AttendanceEventPatch carries the mutable fields of a correction. Nil fields are left as-is.
type AttendanceEventPatch struct {
	Status       *AttendanceStatus
	Subject      *string
	Date         *time.Time
	ClassSection *string
	TermLabel    *string
	TermHalf     *int
}

// Empty reports whether the patch changes nothing.
func (p AttendanceEventPatch) Empty() bool {
	return p.Status == nil && p.Subject == nil && p.Date == nil && p.ClassSection == nil && p.TermLabel == nil && p.TermHalf == nil
}

// Apply returns a copy of e with the patch applied.
func (p AttendanceEventPatch) Apply(e AttendanceEvent) AttendanceEvent {
	if p.Status != nil {
		e.Status = *p.Status
	}
	if p.Subject != nil {
		e.Subject = *p.Subject
	}
	if p.Date != nil {
		e.Date = *p.Date
	}
	if p.ClassSection != nil {
		e.ClassSection = *p.ClassSection
	}
	if p.TermLabel != nil {
		e.TermLabel = *p.TermLabel
	}
	if p.TermHalf != nil {
		e.TermHalf = *p.TermHalf
	}
	return e
}

// AttendanceCounts holds tallies per status.
type AttendanceCounts struct {
	Present int `db:"present" json:"present"`
	Sick    int `db:"sick" json:"sick"`
	Excused int `db:"excused" json:"excused"`
	Absent  int `db:"absent" json:"absent"`
}

// Add increments the tally for status.
func (c *AttendanceCounts) Add(status AttendanceStatus) {
	switch status {
	case AttendanceStatusPresent:
		c.Present++
	case AttendanceStatusSick:
		c.Sick++
	case AttendanceStatusExcused:
		c.Excused++
	case AttendanceStatusAbsent:
		c.Absent++
	}
}

// Total returns the number of counted marks.
func (c AttendanceCounts) Total() int {
	return c.Present + c.Sick + c.Excused + c.Absent
}

// CountEvents tallies events by status.
func CountEvents(events []AttendanceEvent) AttendanceCounts {
	var counts AttendanceCounts
	for _, e := range events {
		counts.Add(e.Status)
	}
	return counts
}

// AttendanceSummary is the denormalized per-student-per-term aggregate derived from events.
type AttendanceSummary struct {
	ID        string `db:"id" json:"id"`
	StudentID string `db:"student_id" json:"student_id"`
	TermLabel string `db:"term_label" json:"term_label"`
	TermHalf  int    `db:"term_half" json:"term_half"`
	AttendanceCounts
	TotalEffectiveDays int       `db:"total_effective_days" json:"total_effective_days"`
	Percentage         float64   `db:"percentage" json:"percentage"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time `db:"updated_at" json:"updated_at"`
}

// Key returns the summary key.
func (s AttendanceSummary) Key() SummaryKey {
	return SummaryKey{StudentID: s.StudentID, TermLabel: s.TermLabel, TermHalf: s.TermHalf}
}

// SameFigures reports whether two summaries carry identical derived values.
func (s AttendanceSummary) SameFigures(other AttendanceSummary) bool {
	return s.AttendanceCounts == other.AttendanceCounts &&
		s.TotalEffectiveDays == other.TotalEffectiveDays &&
		s.Percentage == other.Percentage
}

// AttendancePercentage returns present / totalEffectiveDays × 100 rounded half away
// from zero to two decimals. Non-positive day counts yield 0.
func AttendancePercentage(present, totalEffectiveDays int) float64 {
	if totalEffectiveDays <= 0 || present <= 0 {
		return 0
	}
	// hundredths of a percent: present*10000/days, rounded half up on non-negative input
	num := int64(present) * 10000
	den := int64(totalEffectiveDays)
	hundredths := (2*num + den) / (2 * den)
	return float64(hundredths) / 100
}
