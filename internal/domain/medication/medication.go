// Package medication implements the dosage pattern engine and the
// medication aggregate it serves.
package medication

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Class groups medications by therapeutic class
type Class string

const (
	ClassAnticoagulant  Class = "anticoagulant"
	ClassAntiplatelet   Class = "antiplatelet"
	ClassCardiovascular Class = "cardiovascular"
	ClassAnalgesic      Class = "analgesic"
	ClassOther          Class = "other"
)

// Valid reports whether c is a known class
func (c Class) Valid() bool {
	switch c {
	case ClassAnticoagulant, ClassAntiplatelet, ClassCardiovascular, ClassAnalgesic, ClassOther:
		return true
	}
	return false
}

// Unit is a dose unit of measure
type Unit string

const (
	UnitMg     Unit = "mg"
	UnitMcg    Unit = "mcg"
	UnitG      Unit = "g"
	UnitMl     Unit = "ml"
	UnitIU     Unit = "IU"
	UnitTablet Unit = "tablet"
)

// Valid reports whether u is a known unit
func (u Unit) Valid() bool {
	switch u {
	case UnitMg, UnitMcg, UnitG, UnitMl, UnitIU, UnitTablet:
		return true
	}
	return false
}

// Write-time bounds for lab-monitored anticoagulants. Dose-time checks
// in safety.go assume these have already been enforced.
const (
	anticoagMinSpacingHours = 12.0
	anticoagMaxDailyCap     = 20.0
	labTargetFloor          = 0.5
	labTargetCeil           = 8.0
)

// Medication is a tracked course of therapy together with its dose
// pattern windows.
type Medication struct {
	ID                    uuid.UUID  `json:"id"`
	PatientID             uuid.UUID  `json:"patient_id"`
	Name                  string     `json:"name"`
	Class                 Class      `json:"class"`
	Dose                  float64    `json:"dose"`
	Unit                  Unit       `json:"unit"`
	Frequency             Frequency  `json:"frequency"`
	StartDate             time.Time  `json:"start_date"`
	EndDate               *time.Time `json:"end_date,omitempty"`
	Active                bool       `json:"active"`
	MinHoursBetweenDoses  float64    `json:"min_hours_between_doses,omitempty"`
	MaxDailyDose          float64    `json:"max_daily_dose,omitempty"`
	RequiresLabMonitoring bool       `json:"requires_lab_monitoring,omitempty"`
	LabTargetMin          float64    `json:"lab_target_min,omitempty"`
	LabTargetMax          float64    `json:"lab_target_max,omitempty"`
	Windows               WindowSet  `json:"windows,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// Validate checks caller-supplied fields at create and update time.
// Safety limits for lab-monitored anticoagulants are enforced here,
// at write time, so dose-time checks can rely on them.
func (m *Medication) Validate() error {
	if m.Name == "" {
		return errors.New("medication name is required")
	}
	if m.Dose <= 0 {
		return fmt.Errorf("dose must be positive, got %s", formatAmount(m.Dose))
	}
	if !m.Unit.Valid() {
		return fmt.Errorf("unknown unit: %q", m.Unit)
	}
	if !m.Frequency.Valid() {
		return fmt.Errorf("unknown frequency: %q", m.Frequency)
	}
	if !m.Class.Valid() {
		return fmt.Errorf("unknown medication class: %q", m.Class)
	}
	if m.StartDate.IsZero() {
		return errors.New("start date is required")
	}
	if m.EndDate != nil && DateOf(*m.EndDate).Before(DateOf(m.StartDate)) {
		return errors.New("end date precedes start date")
	}
	if m.MinHoursBetweenDoses != 0 && m.MinHoursBetweenDoses < 1 {
		return fmt.Errorf("min hours between doses must be at least 1, got %v", m.MinHoursBetweenDoses)
	}
	if m.MaxDailyDose < 0 {
		return fmt.Errorf("max daily dose must be positive, got %s", formatAmount(m.MaxDailyDose))
	}

	if m.Class == ClassAnticoagulant && m.RequiresLabMonitoring {
		if m.MinHoursBetweenDoses < anticoagMinSpacingHours {
			return fmt.Errorf("lab-monitored anticoagulants require at least %v hours between doses", anticoagMinSpacingHours)
		}
		if m.MaxDailyDose == 0 || m.MaxDailyDose > anticoagMaxDailyCap {
			return fmt.Errorf("lab-monitored anticoagulants require a max daily dose of at most %s%s", formatAmount(anticoagMaxDailyCap), m.Unit)
		}
	}
	if m.RequiresLabMonitoring {
		if m.LabTargetMin < labTargetFloor || m.LabTargetMax > labTargetCeil || m.LabTargetMin >= m.LabTargetMax {
			return fmt.Errorf("lab target range must satisfy %.1f <= min < max <= %.1f", labTargetFloor, labTargetCeil)
		}
	}
	return nil
}

// InCourse reports whether the medication is active and date falls
// inside its start/end range.
func (m *Medication) InCourse(date time.Time) bool {
	if !m.Active {
		return false
	}
	d := DateOf(date)
	if d.Before(DateOf(m.StartDate)) {
		return false
	}
	return m.EndDate == nil || !d.After(DateOf(*m.EndDate))
}

// IsScheduledDay reports whether a dose is due on date.
func (m *Medication) IsScheduledDay(date time.Time) bool {
	return m.InCourse(date) && m.Frequency.IsDosingDay(m.StartDate, date)
}

// ActiveWindow returns the pattern window governing date, if any.
func (m *Medication) ActiveWindow(date time.Time) *PatternWindow {
	return m.Windows.ActiveOn(date)
}

// DateOf truncates t to its UTC calendar date.
func DateOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// daysBetween counts whole calendar days from one date to another,
// negative when to precedes from.
func daysBetween(from, to time.Time) int {
	return int(DateOf(to).Sub(DateOf(from)).Hours() / 24)
}
