package dto

import "github.com/noah-isme/sma-attendance-core/internal/models"

// RecordEventRequest is the payload for recording one attendance mark.
type RecordEventRequest struct {
	StudentID    string                  `json:"student_id" validate:"required"`
	Date         string                  `json:"date" validate:"required,attendance_date"`
	ClassSection string                  `json:"class_section"`
	Subject      string                  `json:"subject" validate:"required"`
	Status       models.AttendanceStatus `json:"status" validate:"required,attendance_status"`
	TermLabel    string                  `json:"term_label" validate:"required,term_label"`
	TermHalf     int                     `json:"term_half" validate:"required,term_half"`
}

// UpdateEventRequest carries a partial correction. Omitted fields keep their value.
type UpdateEventRequest struct {
	Status       *models.AttendanceStatus `json:"status" validate:"omitempty,attendance_status"`
	Subject      *string                  `json:"subject" validate:"omitempty,min=1"`
	Date         *string                  `json:"date" validate:"omitempty,attendance_date"`
	ClassSection *string                  `json:"class_section"`
	TermLabel    *string                  `json:"term_label" validate:"omitempty,term_label"`
	TermHalf     *int                     `json:"term_half" validate:"omitempty,term_half"`
}

// SummaryKeyRequest identifies a summary in query strings and recompute bodies.
type SummaryKeyRequest struct {
	StudentID string `form:"studentId" json:"student_id" validate:"required"`
	TermLabel string `form:"term" json:"term_label" validate:"required,term_label"`
	TermHalf  int    `form:"half" json:"term_half" validate:"required,term_half"`
}

// Key converts the request to a summary key.
func (r SummaryKeyRequest) Key() models.SummaryKey {
	return models.SummaryKey{StudentID: r.StudentID, TermLabel: r.TermLabel, TermHalf: r.TermHalf}
}

// EventChange reports the summary keys an event mutation touched.
type EventChange struct {
	Event    *models.AttendanceEvent `json:"event"`
	Previous models.SummaryKey      `json:"-"`
	Current  models.SummaryKey      `json:"-"`
}

// Keys returns the distinct summary keys affected by the change.
func (c EventChange) Keys() []models.SummaryKey {
	if c.Previous == c.Current {
		return []models.SummaryKey{c.Current}
	}
	return []models.SummaryKey{c.Previous, c.Current}
}

// EventMutationResponse is returned by write endpoints: the event plus the refreshed summaries.
type EventMutationResponse struct {
	Event     *models.AttendanceEvent    `json:"event"`
	Summaries []models.AttendanceSummary `json:"summaries"`
}
