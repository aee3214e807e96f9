package r5

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/medcycle/go-dose-engine/internal/domain/medication"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func timePtr(t time.Time) *time.Time { return &t }

func floatPtr(f float64) *float64 { return &f }

func exportMedication() *medication.Medication {
	return &medication.Medication{
		ID:        uuid.New(),
		PatientID: uuid.New(),
		Name:      "warfarin",
		Class:     medication.ClassAnticoagulant,
		Dose:      5,
		Unit:      medication.UnitMg,
		Frequency: medication.FreqOnceDaily,
		StartDate: date(2026, 3, 1),
		Active:    true,
		CreatedAt: date(2026, 3, 1),
	}
}

func TestStatementFromMedication(t *testing.T) {
	med := exportMedication()
	med.Windows = medication.WindowSet{{
		ID:       uuid.New(),
		Sequence: []float64{5, 5, 2.5},
		Unit:     medication.UnitMg,
		Start:    date(2026, 3, 1),
	}}

	stmt := StatementFromMedication(med, nil)

	if stmt.ResourceType != "MedicationStatement" || stmt.Status != StatementRecorded {
		t.Errorf("got %s/%s", stmt.ResourceType, stmt.Status)
	}
	if stmt.Subject.Reference != "Patient/"+med.PatientID.String() {
		t.Errorf("subject: got %q", stmt.Subject.Reference)
	}
	if stmt.Medication.Concept == nil || stmt.Medication.Concept.Text != "warfarin" {
		t.Error("medication concept missing")
	}
	if len(stmt.Dosage) != 1 {
		t.Fatalf("got %d dosage entries, want 1", len(stmt.Dosage))
	}
	if stmt.Dosage[0].Text != "5mg, 5mg, 2.5mg (3-day cycle)" {
		t.Errorf("dosage text: got %q", stmt.Dosage[0].Text)
	}
	if stmt.Dosage[0].Timing == nil || stmt.Dosage[0].Timing.Repeat == nil ||
		stmt.Dosage[0].Timing.Repeat.BoundsPeriod == nil {
		t.Error("open window must bound the timing")
	}
	if stmt.Adherence != nil {
		t.Error("no adherence without a known percentage")
	}
}

func TestStatementFlatDose(t *testing.T) {
	med := exportMedication()
	stmt := StatementFromMedication(med, nil)

	if len(stmt.Dosage) != 1 || len(stmt.Dosage[0].DoseAndRate) != 1 {
		t.Fatal("flat dose must carry a doseAndRate")
	}
	q := stmt.Dosage[0].DoseAndRate[0].DoseQuantity
	if q == nil || q.Value != 5 || q.Code != "mg" || q.System != SystemUCUM {
		t.Errorf("quantity: got %+v", q)
	}
}

func TestStatementAdherenceCoding(t *testing.T) {
	med := exportMedication()

	cases := []struct {
		pct  float64
		want string
	}{
		{96.5, AdherenceTakingAsDirected},
		{90, AdherenceTakingAsDirected},
		{50, AdherenceTakingNotAsDirected},
		{0, AdherenceNotTaking},
	}
	for _, c := range cases {
		stmt := StatementFromMedication(med, floatPtr(c.pct))
		if stmt.Adherence == nil || len(stmt.Adherence.Code.Coding) != 1 {
			t.Fatalf("%.1f%%: adherence missing", c.pct)
		}
		if got := stmt.Adherence.Code.Coding[0].Code; got != c.want {
			t.Errorf("%.1f%%: got %q, want %q", c.pct, got, c.want)
		}
	}

	stmt := StatementFromMedication(med, floatPtr(96.5))
	if !strings.Contains(stmt.Adherence.Code.Text, "96.5%") {
		t.Errorf("text: got %q", stmt.Adherence.Code.Text)
	}
}

func TestAdministrationFromLog(t *testing.T) {
	at := time.Date(2026, 6, 1, 8, 5, 0, 0, time.UTC)
	log := &medication.DoseLog{
		ID:              uuid.New(),
		PatientID:       uuid.New(),
		ScheduledTime:   at.Add(-5 * time.Minute),
		ActualTime:      timePtr(at),
		Status:          medication.LogTaken,
		ActualDose:      floatPtr(5),
		Unit:            medication.UnitMg,
		AdvisoryReasons: []string{"inside the grace window"},
	}

	admin := AdministrationFromLog(log, "warfarin")
	if admin == nil {
		t.Fatal("taken dose must export")
	}
	if admin.Status != AdministrationCompleted {
		t.Errorf("status: got %q", admin.Status)
	}
	if admin.OccurenceDateTime == nil || !admin.OccurenceDateTime.Equal(at) {
		t.Error("occurrence must be the actual time when recorded")
	}
	if admin.Dosage == nil || admin.Dosage.Dose == nil || admin.Dosage.Dose.Value != 5 {
		t.Error("dose quantity missing")
	}
	if len(admin.Note) != 1 || !strings.HasPrefix(admin.Note[0].Text, "advisory: ") {
		t.Errorf("notes: got %+v", admin.Note)
	}
}

func TestAdministrationSkippedAndPlanned(t *testing.T) {
	skipped := &medication.DoseLog{
		ID:            uuid.New(),
		PatientID:     uuid.New(),
		ScheduledTime: date(2026, 6, 1),
		Status:        medication.LogSkipped,
		Notes:         "nausea",
		Unit:          medication.UnitMg,
	}
	admin := AdministrationFromLog(skipped, "warfarin")
	if admin == nil || admin.Status != AdministrationNotDone {
		t.Fatalf("skipped dose: got %+v", admin)
	}
	if len(admin.StatusReason) != 1 || admin.StatusReason[0].Text != "nausea" {
		t.Errorf("status reason: got %+v", admin.StatusReason)
	}

	planned := &medication.DoseLog{Status: medication.LogScheduled}
	if AdministrationFromLog(planned, "warfarin") != nil {
		t.Error("planned doses have no administration")
	}
	rescheduled := &medication.DoseLog{Status: medication.LogRescheduled}
	if AdministrationFromLog(rescheduled, "warfarin") != nil {
		t.Error("rescheduled doses have no administration")
	}
}

func TestExportBundle(t *testing.T) {
	med := exportMedication()
	at := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

	logs := []medication.DoseLog{
		{ID: uuid.New(), PatientID: med.PatientID, ScheduledTime: at, ActualTime: timePtr(at),
			Status: medication.LogTaken, ActualDose: floatPtr(5), Unit: medication.UnitMg},
		{ID: uuid.New(), PatientID: med.PatientID, ScheduledTime: at.Add(24 * time.Hour),
			Status: medication.LogScheduled, Unit: medication.UnitMg},
		{ID: uuid.New(), PatientID: med.PatientID, ScheduledTime: at.Add(48 * time.Hour),
			Status: medication.LogSkipped, Unit: medication.UnitMg},
	}

	bundle := ExportBundle(med, logs, floatPtr(85))

	if bundle.Type != "collection" {
		t.Errorf("type: got %q", bundle.Type)
	}
	// One statement plus the two logs with an outcome.
	if len(bundle.Entry) != 3 {
		t.Fatalf("got %d entries, want 3", len(bundle.Entry))
	}
	for _, entry := range bundle.Entry {
		if !strings.HasPrefix(entry.FullURL, "urn:uuid:") {
			t.Errorf("fullUrl: got %q", entry.FullURL)
		}
	}

	raw, err := json.Marshal(bundle)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	for _, want := range []string{"MedicationStatement", "MedicationAdministration", "not-done"} {
		if !strings.Contains(string(raw), want) {
			t.Errorf("bundle JSON missing %q", want)
		}
	}
}

func TestUCUMCodes(t *testing.T) {
	cases := []struct {
		unit medication.Unit
		want string
	}{
		{medication.UnitMg, "mg"},
		{medication.UnitMcg, "ug"},
		{medication.UnitIU, "[iU]"},
		{medication.UnitTablet, "{tablet}"},
	}
	for _, c := range cases {
		if got := ucumCode(c.unit); got != c.want {
			t.Errorf("%s: got %q, want %q", c.unit, got, c.want)
		}
	}
}

func TestTimingForFrequencies(t *testing.T) {
	weekly := timingFor(medication.FreqWeekly)
	if weekly == nil || weekly.Repeat.PeriodUnit != "wk" {
		t.Errorf("weekly: got %+v", weekly)
	}
	eod := timingFor(medication.FreqEveryOtherDay)
	if eod == nil || eod.Repeat.Period != 2 {
		t.Errorf("every other day: got %+v", eod)
	}
	if timingFor(medication.FreqAsNeeded) != nil {
		t.Error("as needed has no fixed rhythm")
	}
}
