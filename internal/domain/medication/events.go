// Package medication also defines the domain events emitted by the
// medication aggregate.
package medication

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of domain event
type EventType string

const (
	EventMedicationCreated     EventType = "MedicationCreated"
	EventMedicationDeactivated EventType = "MedicationDeactivated"
	EventPatternWindowOpened   EventType = "PatternWindowOpened"
	EventPatternWindowClosed   EventType = "PatternWindowClosed"
	EventDoseRecorded          EventType = "DoseRecorded"
	EventDoseRejected          EventType = "DoseRejected"
)

// Event represents a domain event
type Event struct {
	ID            string          `json:"id"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	EventType     EventType       `json:"event_type"`
	EventData     json.RawMessage `json:"event_data"`
	Version       int             `json:"version"`
	Timestamp     time.Time       `json:"timestamp"`
	PatientID     string          `json:"patient_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
}

// NewEvent creates a new event
func NewEvent(aggregateID string, eventType EventType, data interface{}) (*Event, error) {
	eventData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Event{
		ID:            uuid.New().String(),
		AggregateID:   aggregateID,
		AggregateType: "Medication",
		EventType:     eventType,
		EventData:     eventData,
		Timestamp:     time.Now().UTC(),
	}, nil
}

// WithPatient sets the patient audit field
func (e *Event) WithPatient(patientID string) *Event {
	e.PatientID = patientID
	return e
}

// MedicationCreatedData contains medication creation details
type MedicationCreatedData struct {
	MedicationID          string     `json:"medication_id"`
	PatientID             string     `json:"patient_id"`
	Name                  string     `json:"name"`
	Class                 Class      `json:"class"`
	Dose                  float64    `json:"dose"`
	Unit                  Unit       `json:"unit"`
	Frequency             Frequency  `json:"frequency"`
	StartDate             time.Time  `json:"start_date"`
	EndDate               *time.Time `json:"end_date,omitempty"`
	MinHoursBetweenDoses  float64    `json:"min_hours_between_doses,omitempty"`
	MaxDailyDose          float64    `json:"max_daily_dose,omitempty"`
	RequiresLabMonitoring bool       `json:"requires_lab_monitoring,omitempty"`
}

// MedicationDeactivatedData contains deactivation details
type MedicationDeactivatedData struct {
	MedicationID  string    `json:"medication_id"`
	PatientID     string    `json:"patient_id"`
	DeactivatedAt time.Time `json:"deactivated_at"`
}

// PatternWindowOpenedData contains the new window and, when the
// transition closed the previous open window, its id and end date.
type PatternWindowOpenedData struct {
	MedicationID   string     `json:"medication_id"`
	WindowID       string     `json:"window_id"`
	Sequence       []float64  `json:"sequence"`
	Unit           Unit       `json:"unit"`
	Start          time.Time  `json:"start"`
	End            *time.Time `json:"end,omitempty"`
	ClosedWindowID string     `json:"closed_window_id,omitempty"`
	ClosedEnd      *time.Time `json:"closed_end,omitempty"`
	Display        string     `json:"display"`
}

// DoseRecordedData is the payload the adherence pipeline consumes.
// IdempotencyKey is derived at write time so replays are detectable
// from the producer through the consumer inbox.
type DoseRecordedData struct {
	LogID           string     `json:"log_id"`
	MedicationID    string     `json:"medication_id"`
	PatientID       string     `json:"patient_id"`
	Status          LogStatus  `json:"status"`
	ScheduledTime   time.Time  `json:"scheduled_time"`
	ActualTime      *time.Time `json:"actual_time,omitempty"`
	ExpectedDose    *float64   `json:"expected_dose,omitempty"`
	ActualDose      *float64   `json:"actual_dose,omitempty"`
	Unit            Unit       `json:"unit"`
	Outcome         Outcome    `json:"outcome"`
	Advisory        bool       `json:"advisory,omitempty"`
	AdvisoryReasons []string   `json:"advisory_reasons,omitempty"`
	IdempotencyKey  string     `json:"idempotency_key"`
	RecordedAt      time.Time  `json:"recorded_at"`
}

// DoseRejectedData keeps an audit trail of refused intakes.
type DoseRejectedData struct {
	MedicationID string    `json:"medication_id"`
	PatientID    string    `json:"patient_id"`
	Amount       float64   `json:"amount"`
	Unit         Unit      `json:"unit"`
	At           time.Time `json:"at"`
	Violations   []string  `json:"violations"`
	RejectedAt   time.Time `json:"rejected_at"`
}
