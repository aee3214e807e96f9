// Package adherence derives per-day adherence reports from dose logs.
package adherence

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/medcycle/go-dose-engine/internal/domain/medication"
)

// DailyReport aggregates one medication's dosing for one UTC day.
// It is a derived read model; dose logs stay the source of truth.
type DailyReport struct {
	MedicationID  uuid.UUID `json:"medication_id"`
	PatientID     uuid.UUID `json:"patient_id"`
	Day           time.Time `json:"day"`
	ExpectedTotal float64   `json:"expected_total"`
	TakenTotal    float64   `json:"taken_total"`
	VarianceTotal float64   `json:"variance_total"`
	TakenCount    int       `json:"taken_count"`
	SkippedCount  int       `json:"skipped_count"`
	AdvisoryCount int       `json:"advisory_count"`
	AdherencePct  float64   `json:"adherence_pct"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// BuildDailyReport folds one day's logs into a report. Expected
// totals come from the expected-dose snapshots frozen on the logs,
// so pattern edits after the fact do not change past adherence.
func BuildDailyReport(medicationID, patientID uuid.UUID, day time.Time, logs []medication.DoseLog) DailyReport {
	r := DailyReport{
		MedicationID: medicationID,
		PatientID:    patientID,
		Day:          medication.DateOf(day),
	}

	for i := range logs {
		log := &logs[i]
		if log.ExpectedDose != nil {
			r.ExpectedTotal += *log.ExpectedDose
		}
		switch log.Status {
		case medication.LogSkipped:
			r.SkippedCount++
		case medication.LogTaken, medication.LogPartiallyTaken:
			if log.Counted() {
				r.TakenCount++
				r.TakenTotal += *log.ActualDose
			}
		}
		if log.Advisory {
			r.AdvisoryCount++
		}
	}

	r.ExpectedTotal = round2(r.ExpectedTotal)
	r.TakenTotal = round2(r.TakenTotal)
	r.VarianceTotal = round2(r.TakenTotal - r.ExpectedTotal)
	if r.ExpectedTotal > 0 {
		r.AdherencePct = round2(r.TakenTotal / r.ExpectedTotal * 100)
	}
	return r
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
