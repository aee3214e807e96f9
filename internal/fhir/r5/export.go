package r5

import (
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/medcycle/go-dose-engine/internal/domain/medication"
)

// StatementFromMedication maps a medication course onto a
// MedicationStatement. The dosage reflects the open pattern window when
// one exists, otherwise the flat dose. adherencePct, when known, fills
// the R5 adherence element.
func StatementFromMedication(med *medication.Medication, adherencePct *float64) *MedicationStatement {
	asserted := med.CreatedAt
	stmt := &MedicationStatement{
		ResourceType: "MedicationStatement",
		ID:           med.ID.String(),
		Status:       StatementRecorded,
		Medication: CodeableReference{
			Concept: &CodeableConcept{Text: med.Name},
		},
		Subject: Reference{
			Reference: "Patient/" + med.PatientID.String(),
			Type:      "Patient",
		},
		EffectivePeriod: &Period{Start: &med.StartDate, End: med.EndDate},
		DateAsserted:    &asserted,
		Dosage:          dosageFor(med),
	}

	if med.Class != "" {
		stmt.Category = []CodeableConcept{{Text: string(med.Class)}}
	}

	if adherencePct != nil {
		stmt.Adherence = &StatementAdherence{
			Code: CodeableConcept{
				Coding: []Coding{{Code: adherenceCode(*adherencePct)}},
				Text:   strconv.FormatFloat(*adherencePct, 'f', 1, 64) + "% adherent",
			},
		}
	}

	return stmt
}

// AdministrationFromLog maps one dose log entry onto a
// MedicationAdministration. Returns nil for entries that do not record
// an outcome (scheduled, rescheduled).
func AdministrationFromLog(log *medication.DoseLog, medicationName string) *MedicationAdministration {
	var status string
	switch log.Status {
	case medication.LogTaken, medication.LogPartiallyTaken:
		status = AdministrationCompleted
	case medication.LogSkipped:
		status = AdministrationNotDone
	default:
		return nil
	}

	occurred := log.ScheduledTime
	if log.ActualTime != nil {
		occurred = *log.ActualTime
	}
	recorded := log.CreatedAt

	admin := &MedicationAdministration{
		ResourceType: "MedicationAdministration",
		ID:           log.ID.String(),
		Status:       status,
		Medication: CodeableReference{
			Concept: &CodeableConcept{Text: medicationName},
		},
		Subject: Reference{
			Reference: "Patient/" + log.PatientID.String(),
			Type:      "Patient",
		},
		OccurenceDateTime: &occurred,
		Recorded:          &recorded,
	}

	if log.ActualDose != nil {
		admin.Dosage = &AdministrationDosage{
			Dose: doseQuantity(*log.ActualDose, log.Unit),
		}
	}

	if log.Status == medication.LogSkipped && log.Notes != "" {
		admin.StatusReason = []CodeableConcept{{Text: log.Notes}}
	}

	for _, reason := range log.AdvisoryReasons {
		admin.Note = append(admin.Note, Annotation{Text: "advisory: " + reason})
	}

	return admin
}

// ExportBundle assembles a collection bundle holding the medication
// statement and one administration per recorded dose.
func ExportBundle(med *medication.Medication, logs []medication.DoseLog, adherencePct *float64) *Bundle {
	now := time.Now().UTC()
	bundle := &Bundle{
		ResourceType: "Bundle",
		ID:           uuid.New().String(),
		Type:         "collection",
		Timestamp:    &now,
	}

	stmt := StatementFromMedication(med, adherencePct)
	bundle.Entry = append(bundle.Entry, BundleEntry{
		FullURL:  "urn:uuid:" + stmt.ID,
		Resource: stmt,
	})

	for i := range logs {
		admin := AdministrationFromLog(&logs[i], med.Name)
		if admin == nil {
			continue
		}
		bundle.Entry = append(bundle.Entry, BundleEntry{
			FullURL:  "urn:uuid:" + admin.ID,
			Resource: admin,
		})
	}

	return bundle
}

// dosageFor renders the governing dose instruction: the open pattern
// window when present, the flat per-dose amount otherwise.
func dosageFor(med *medication.Medication) []Dosage {
	timing := timingFor(med.Frequency)

	if w := med.Windows.Open(); w != nil {
		if timing == nil {
			timing = &Timing{}
		}
		if timing.Repeat == nil {
			timing.Repeat = &TimingRepeat{}
		}
		timing.Repeat.BoundsPeriod = &Period{Start: &w.Start, End: w.End}
		return []Dosage{{
			Sequence: 1,
			Text:     w.Display(),
			Timing:   timing,
		}}
	}

	d := Dosage{
		Sequence: 1,
		Timing:   timing,
		DoseAndRate: []DoseAndRate{{
			DoseQuantity: doseQuantity(med.Dose, med.Unit),
		}},
	}
	if med.Frequency == medication.FreqAsNeeded {
		d.AsNeeded = true
	}
	return []Dosage{d}
}

// timingFor translates a scheduling frequency into FHIR timing repeat
// rules. Frequencies without a fixed rhythm return nil.
func timingFor(f medication.Frequency) *Timing {
	switch f {
	case medication.FreqOnceDaily:
		return &Timing{Repeat: &TimingRepeat{Frequency: 1, Period: 1, PeriodUnit: "d"}}
	case medication.FreqTwiceDaily:
		return &Timing{Repeat: &TimingRepeat{Frequency: 2, Period: 1, PeriodUnit: "d"}}
	case medication.FreqThreeTimesDaily:
		return &Timing{Repeat: &TimingRepeat{Frequency: 3, Period: 1, PeriodUnit: "d"}}
	case medication.FreqFourTimesDaily:
		return &Timing{Repeat: &TimingRepeat{Frequency: 4, Period: 1, PeriodUnit: "d"}}
	case medication.FreqEveryOtherDay:
		return &Timing{Repeat: &TimingRepeat{Frequency: 1, Period: 2, PeriodUnit: "d"}}
	case medication.FreqWeekly:
		return &Timing{Repeat: &TimingRepeat{Frequency: 1, Period: 1, PeriodUnit: "wk"}}
	}
	return nil
}

func doseQuantity(amount float64, unit medication.Unit) *Quantity {
	return &Quantity{
		Value:  amount,
		Unit:   string(unit),
		System: SystemUCUM,
		Code:   ucumCode(unit),
	}
}

func adherenceCode(pct float64) string {
	switch {
	case pct >= 90:
		return AdherenceTakingAsDirected
	case pct > 0:
		return AdherenceTakingNotAsDirected
	}
	return AdherenceNotTaking
}

// ucumCode maps dose units onto UCUM codes. Tablets are not a UCUM
// unit, so they travel as an annotation.
func ucumCode(unit medication.Unit) string {
	switch unit {
	case medication.UnitMg:
		return "mg"
	case medication.UnitMcg:
		return "ug"
	case medication.UnitG:
		return "g"
	case medication.UnitMl:
		return "mL"
	case medication.UnitIU:
		return "[iU]"
	case medication.UnitTablet:
		return "{tablet}"
	}
	return string(unit)
}
