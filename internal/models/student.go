package models

// StudentStatus is the enrollment status maintained by the student directory.
type StudentStatus string

const (
	StudentStatusActive      StudentStatus = "ACTIVE"
	StudentStatusNew         StudentStatus = "NEW"
	StudentStatusTransferred StudentStatus = "TRANSFERRED"
	StudentStatusGraduated   StudentStatus = "GRADUATED"
	StudentStatusLeft        StudentStatus = "LEFT"
)

// EligibleStudentStatuses lists statuses that receive a summary when a term is activated.
var EligibleStudentStatuses = []StudentStatus{
	StudentStatusActive,
	StudentStatusNew,
	StudentStatusTransferred,
}
