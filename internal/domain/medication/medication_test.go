package medication

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

// date builds a UTC calendar date for fixtures.
func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func timePtr(t time.Time) *time.Time { return &t }

func floatPtr(f float64) *float64 { return &f }

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

// testMedication returns a valid once-daily course started 2026-03-01.
func testMedication() *Medication {
	return &Medication{
		ID:        uuid.New(),
		PatientID: uuid.New(),
		Name:      "apixaban",
		Class:     ClassAnticoagulant,
		Dose:      5,
		Unit:      UnitMg,
		Frequency: FreqOnceDaily,
		StartDate: date(2026, 3, 1),
		Active:    true,
	}
}

func TestMedicationValidate(t *testing.T) {
	if err := testMedication().Validate(); err != nil {
		t.Fatalf("valid medication rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Medication)
		want   string
	}{
		{"missing name", func(m *Medication) { m.Name = "" }, "name is required"},
		{"zero dose", func(m *Medication) { m.Dose = 0 }, "dose must be positive"},
		{"negative dose", func(m *Medication) { m.Dose = -5 }, "dose must be positive"},
		{"bad unit", func(m *Medication) { m.Unit = "bottles" }, "unknown unit"},
		{"bad frequency", func(m *Medication) { m.Frequency = "hourly" }, "unknown frequency"},
		{"bad class", func(m *Medication) { m.Class = "vitamin" }, "unknown medication class"},
		{"zero start", func(m *Medication) { m.StartDate = time.Time{} }, "start date is required"},
		{"end before start", func(m *Medication) { m.EndDate = timePtr(date(2026, 2, 1)) }, "end date precedes start"},
		{"sub-hour spacing", func(m *Medication) { m.MinHoursBetweenDoses = 0.5 }, "at least 1"},
		{"negative daily cap", func(m *Medication) { m.MaxDailyDose = -1 }, "max daily dose"},
	}
	for _, c := range cases {
		m := testMedication()
		c.mutate(m)
		err := m.Validate()
		if err == nil {
			t.Errorf("%s: expected error", c.name)
			continue
		}
		if !strings.Contains(err.Error(), c.want) {
			t.Errorf("%s: got %q, want substring %q", c.name, err, c.want)
		}
	}
}

func TestMedicationValidateLabMonitoredAnticoagulant(t *testing.T) {
	base := func() *Medication {
		m := testMedication()
		m.Name = "warfarin"
		m.RequiresLabMonitoring = true
		m.MinHoursBetweenDoses = 20
		m.MaxDailyDose = 10
		m.LabTargetMin = 2.0
		m.LabTargetMax = 3.0
		return m
	}
	if err := base().Validate(); err != nil {
		t.Fatalf("valid lab-monitored anticoagulant rejected: %v", err)
	}

	m := base()
	m.MinHoursBetweenDoses = 8
	if err := m.Validate(); err == nil || !strings.Contains(err.Error(), "12") {
		t.Errorf("8h spacing: got %v, want the 12 hour floor", err)
	}

	m = base()
	m.MaxDailyDose = 0
	if err := m.Validate(); err == nil {
		t.Error("missing daily cap should be rejected")
	}

	m = base()
	m.MaxDailyDose = 25
	if err := m.Validate(); err == nil || !strings.Contains(err.Error(), "20") {
		t.Errorf("25mg cap: got %v, want the 20mg ceiling", err)
	}

	m = base()
	m.LabTargetMin = 0.3
	if err := m.Validate(); err == nil {
		t.Error("lab target min below 0.5 should be rejected")
	}

	m = base()
	m.LabTargetMax = 9
	if err := m.Validate(); err == nil {
		t.Error("lab target max above 8.0 should be rejected")
	}

	m = base()
	m.LabTargetMin, m.LabTargetMax = 3.0, 2.0
	if err := m.Validate(); err == nil {
		t.Error("inverted lab target range should be rejected")
	}

	// Without lab monitoring the anticoagulant floors do not apply.
	m = base()
	m.RequiresLabMonitoring = false
	m.MinHoursBetweenDoses = 6
	m.MaxDailyDose = 0
	if err := m.Validate(); err != nil {
		t.Errorf("unmonitored anticoagulant: %v", err)
	}

	// Lab monitoring outside the anticoagulant class still requires a
	// sane target range.
	m = base()
	m.Class = ClassCardiovascular
	m.LabTargetMin = 0
	if err := m.Validate(); err == nil {
		t.Error("monitored cardiovascular with no lab range should be rejected")
	}
}

func TestInCourse(t *testing.T) {
	m := testMedication()
	m.EndDate = timePtr(date(2026, 3, 31))

	if m.InCourse(date(2026, 2, 28)) {
		t.Error("day before start is out of course")
	}
	if !m.InCourse(date(2026, 3, 1)) {
		t.Error("start date is in course")
	}
	if !m.InCourse(time.Date(2026, 3, 31, 23, 59, 0, 0, time.UTC)) {
		t.Error("end date is in course regardless of time of day")
	}
	if m.InCourse(date(2026, 4, 1)) {
		t.Error("day after end is out of course")
	}

	m.Active = false
	if m.InCourse(date(2026, 3, 15)) {
		t.Error("inactive medication is never in course")
	}
}

func TestIsScheduledDay(t *testing.T) {
	m := testMedication()
	m.Frequency = FreqEveryOtherDay
	m.StartDate = date(2026, 3, 2)

	if !m.IsScheduledDay(date(2026, 3, 2)) {
		t.Error("start date is a dosing day")
	}
	if m.IsScheduledDay(date(2026, 3, 3)) {
		t.Error("odd offset is a rest day")
	}
	if !m.IsScheduledDay(date(2026, 3, 4)) {
		t.Error("even offset is a dosing day")
	}
	if m.IsScheduledDay(date(2026, 2, 28)) {
		t.Error("days before the course are never scheduled")
	}
}

func TestDateOf(t *testing.T) {
	est := time.FixedZone("EST", -5*3600)
	local := time.Date(2026, 3, 1, 22, 30, 0, 0, est) // 03:30 UTC next day
	got := DateOf(local)
	if !got.Equal(date(2026, 3, 2)) {
		t.Errorf("got %v, want 2026-03-02", got)
	}
	if got.Location() != time.UTC {
		t.Error("DateOf must return UTC")
	}
}
