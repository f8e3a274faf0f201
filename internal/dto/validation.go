package dto

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/sma-attendance-core/internal/models"
)

// NewValidator returns a validator with the attendance tags registered.
func NewValidator() *validator.Validate {
	v := validator.New()
	RegisterValidations(v)
	return v
}

// RegisterValidations adds attendance_status, attendance_date, term_label and term_half.
func RegisterValidations(v *validator.Validate) {
	_ = v.RegisterValidation("attendance_status", func(fl validator.FieldLevel) bool {
		return models.AttendanceStatus(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation("attendance_date", func(fl validator.FieldLevel) bool {
		_, err := ParseDate(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("term_label", func(fl validator.FieldLevel) bool {
		return models.ValidTermLabel(fl.Field().String())
	})
	_ = v.RegisterValidation("term_half", func(fl validator.FieldLevel) bool {
		return models.ValidTermHalf(int(fl.Field().Int()))
	})
}

// ParseDate parses a strict YYYY-MM-DD calendar date in UTC.
func ParseDate(value string) (time.Time, error) {
	return time.ParseInLocation(models.DateLayout, value, time.UTC)
}
