package medication

import (
	"time"

	"github.com/google/uuid"
)

// LogStatus tracks the lifecycle of a dose log entry
type LogStatus string

const (
	LogScheduled      LogStatus = "scheduled"
	LogTaken          LogStatus = "taken"
	LogSkipped        LogStatus = "skipped"
	LogPartiallyTaken LogStatus = "partially_taken"
	LogRescheduled    LogStatus = "rescheduled"
)

// Valid reports whether s is a known log status
func (s LogStatus) Valid() bool {
	switch s {
	case LogScheduled, LogTaken, LogSkipped, LogPartiallyTaken, LogRescheduled:
		return true
	}
	return false
}

// DoseLog is one recorded or planned intake. ExpectedDose is the
// resolver's answer frozen at recording time; later pattern edits
// never rewrite history.
type DoseLog struct {
	ID              uuid.UUID  `json:"id"`
	MedicationID    uuid.UUID  `json:"medication_id"`
	PatientID       uuid.UUID  `json:"patient_id"`
	ScheduledTime   time.Time  `json:"scheduled_time"`
	ActualTime      *time.Time `json:"actual_time,omitempty"`
	Status          LogStatus  `json:"status"`
	ExpectedDose    *float64   `json:"expected_dose,omitempty"`
	ActualDose      *float64   `json:"actual_dose,omitempty"`
	Unit            Unit       `json:"unit"`
	Advisory        bool       `json:"advisory,omitempty"`
	AdvisoryReasons []string   `json:"advisory_reasons,omitempty"`
	Notes           string     `json:"notes,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Counted reports whether the log contributes to dose history
// calculations: intervals, daily totals and adherence.
func (l *DoseLog) Counted() bool {
	if l.Status != LogTaken && l.Status != LogPartiallyTaken {
		return false
	}
	return l.ActualTime != nil && l.ActualDose != nil
}

// TimeVariance returns the minutes from the scheduled time to the
// actual intake, 0 when the dose has no recorded time.
func (l *DoseLog) TimeVariance() float64 {
	if l.ActualTime == nil {
		return 0
	}
	return TimeVarianceMinutes(l.ScheduledTime, *l.ActualTime)
}
