package dto

// CreateTermRequest describes the payload for creating an academic term.
type CreateTermRequest struct {
	Label              string `json:"label" validate:"required,term_label"`
	Half               int    `json:"half" validate:"required,term_half"`
	StartDate          string `json:"start_date" validate:"required,attendance_date"`
	EndDate            string `json:"end_date" validate:"required,attendance_date"`
	TotalEffectiveDays int    `json:"total_effective_days" validate:"required,min=1"`
}

// ReconcileResponse acknowledges a queued or completed reconciliation.
type ReconcileResponse struct {
	TermID     string `json:"term_id"`
	JobID      string `json:"job_id,omitempty"`
	Queued     bool   `json:"queued"`
	Recomputed int    `json:"recomputed,omitempty"`
}
