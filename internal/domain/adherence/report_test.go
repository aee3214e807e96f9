package adherence

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/medcycle/go-dose-engine/internal/domain/medication"
)

func timePtr(t time.Time) *time.Time { return &t }

func floatPtr(f float64) *float64 { return &f }

func TestBuildDailyReport(t *testing.T) {
	medID := uuid.New()
	patientID := uuid.New()
	day := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	logs := []medication.DoseLog{
		{
			Status:        medication.LogTaken,
			ScheduledTime: day.Add(8 * time.Hour),
			ActualTime:    timePtr(day.Add(8 * time.Hour)),
			ExpectedDose:  floatPtr(5),
			ActualDose:    floatPtr(5),
		},
		{
			Status:          medication.LogPartiallyTaken,
			ScheduledTime:   day.Add(20 * time.Hour),
			ActualTime:      timePtr(day.Add(21 * time.Hour)),
			ExpectedDose:    floatPtr(5),
			ActualDose:      floatPtr(2.5),
			Advisory:        true,
			AdvisoryReasons: []string{"inside the grace window"},
		},
		{
			Status:        medication.LogSkipped,
			ScheduledTime: day.Add(14 * time.Hour),
			ExpectedDose:  floatPtr(5),
		},
	}

	r := BuildDailyReport(medID, patientID, day.Add(10*time.Hour), logs)

	if !r.Day.Equal(day) {
		t.Errorf("day not truncated: got %v", r.Day)
	}
	if r.MedicationID != medID || r.PatientID != patientID {
		t.Error("ids not carried through")
	}
	if r.ExpectedTotal != 15 {
		t.Errorf("expected total: got %v, want 15", r.ExpectedTotal)
	}
	if r.TakenTotal != 7.5 {
		t.Errorf("taken total: got %v, want 7.5", r.TakenTotal)
	}
	if r.VarianceTotal != -7.5 {
		t.Errorf("variance total: got %v, want -7.5", r.VarianceTotal)
	}
	if r.TakenCount != 2 || r.SkippedCount != 1 || r.AdvisoryCount != 1 {
		t.Errorf("counts: taken=%d skipped=%d advisory=%d", r.TakenCount, r.SkippedCount, r.AdvisoryCount)
	}
	if r.AdherencePct != 50 {
		t.Errorf("adherence: got %v, want 50", r.AdherencePct)
	}
}

func TestBuildDailyReportEmpty(t *testing.T) {
	r := BuildDailyReport(uuid.New(), uuid.New(), time.Date(2026, 6, 1, 15, 30, 0, 0, time.UTC), nil)

	if r.ExpectedTotal != 0 || r.TakenTotal != 0 || r.AdherencePct != 0 {
		t.Errorf("empty day should be all zero: %+v", r)
	}
	if !r.Day.Equal(time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("day: got %v", r.Day)
	}
}

func TestBuildDailyReportUncountedTaken(t *testing.T) {
	day := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	// A taken entry without a recorded dose contributes its expectation
	// but nothing to the taken totals.
	logs := []medication.DoseLog{{
		Status:        medication.LogTaken,
		ScheduledTime: day.Add(8 * time.Hour),
		ExpectedDose:  floatPtr(5),
	}}

	r := BuildDailyReport(uuid.New(), uuid.New(), day, logs)
	if r.ExpectedTotal != 5 {
		t.Errorf("expected total: got %v, want 5", r.ExpectedTotal)
	}
	if r.TakenCount != 0 || r.TakenTotal != 0 {
		t.Errorf("unrecorded intake must not count: taken=%d total=%v", r.TakenCount, r.TakenTotal)
	}
	if r.AdherencePct != 0 {
		t.Errorf("adherence: got %v, want 0", r.AdherencePct)
	}
}

func TestBuildDailyReportOverAdherence(t *testing.T) {
	day := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	// Taking more than expected pushes adherence past 100.
	logs := []medication.DoseLog{{
		Status:        medication.LogTaken,
		ScheduledTime: day.Add(8 * time.Hour),
		ActualTime:    timePtr(day.Add(8 * time.Hour)),
		ExpectedDose:  floatPtr(4),
		ActualDose:    floatPtr(5),
	}}

	r := BuildDailyReport(uuid.New(), uuid.New(), day, logs)
	if r.AdherencePct != 125 {
		t.Errorf("adherence: got %v, want 125", r.AdherencePct)
	}
	if r.VarianceTotal != 1 {
		t.Errorf("variance: got %v, want 1", r.VarianceTotal)
	}
}
