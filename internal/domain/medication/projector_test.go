package medication

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

// freezeClock pins the projector's clock for the duration of a test.
func freezeClock(t *testing.T, at time.Time) {
	t.Helper()
	prev := timeNow
	timeNow = func() time.Time { return at }
	t.Cleanup(func() { timeNow = prev })
}

func TestProjectScheduleBounds(t *testing.T) {
	freezeClock(t, date(2026, 6, 1))
	m := testMedication()

	_, err := m.ProjectSchedule(ProjectionRequest{Start: date(2026, 6, 1), Days: 0})
	if !errors.Is(err, ErrProjectionDays) {
		t.Errorf("0 days: got %v, want ErrProjectionDays", err)
	}
	_, err = m.ProjectSchedule(ProjectionRequest{Start: date(2026, 6, 1), Days: 366})
	if !errors.Is(err, ErrProjectionDays) {
		t.Errorf("366 days: got %v, want ErrProjectionDays", err)
	}

	_, err = m.ProjectSchedule(ProjectionRequest{Start: date(2025, 5, 31), Days: 7})
	if !errors.Is(err, ErrProjectionStart) {
		t.Errorf("13 months back: got %v, want ErrProjectionStart", err)
	}
	// Exactly one year back is still allowed.
	if _, err := m.ProjectSchedule(ProjectionRequest{Start: date(2025, 6, 1), Days: 7}); err != nil {
		t.Errorf("one year back: %v", err)
	}
	if _, err := m.ProjectSchedule(ProjectionRequest{Start: date(2026, 6, 1), Days: 365}); err != nil {
		t.Errorf("365 days: %v", err)
	}
}

func TestProjectScheduleCyclicPattern(t *testing.T) {
	freezeClock(t, date(2026, 3, 1))

	m := testMedication()
	m.Name = "warfarin"
	m.Windows = WindowSet{{
		ID:       uuid.New(),
		Sequence: []float64{5, 5, 2.5, 5, 5, 2.5},
		Unit:     UnitMg,
		Start:    date(2026, 3, 1),
	}}

	proj, err := m.ProjectSchedule(ProjectionRequest{
		Start:                date(2026, 3, 1),
		Days:                 28,
		DetectPatternChanges: true,
	})
	if err != nil {
		t.Fatalf("projection failed: %v", err)
	}

	if len(proj.Schedule) != 28 {
		t.Fatalf("got %d days, want 28", len(proj.Schedule))
	}
	if proj.ScheduledDays != 28 {
		t.Errorf("scheduled days: got %d, want 28", proj.ScheduledDays)
	}
	if !almostEqual(proj.TotalDose, 117.5) {
		t.Errorf("total: got %v, want 117.5", proj.TotalDose)
	}
	if proj.AverageDailyDose != 4.2 {
		t.Errorf("average: got %v, want 4.2", proj.AverageDailyDose)
	}
	if proj.MinDose != 2.5 || proj.MaxDose != 5 {
		t.Errorf("range: got %v..%v, want 2.5..5", proj.MinDose, proj.MaxDose)
	}
	if proj.PatternCycles != 4.67 {
		t.Errorf("cycles: got %v, want 4.67", proj.PatternCycles)
	}
	if proj.PatternChanges != 0 {
		t.Errorf("changes: got %d, want 0", proj.PatternChanges)
	}

	// Spot-check the cycle arithmetic.
	if proj.Schedule[2].Amount != 2.5 || proj.Schedule[2].CycleDay != 3 {
		t.Errorf("day 3: got %v on cycle day %d", proj.Schedule[2].Amount, proj.Schedule[2].CycleDay)
	}
	if proj.Schedule[6].CycleDay != 1 {
		t.Errorf("day 7 wraps to cycle day 1, got %d", proj.Schedule[6].CycleDay)
	}
}

func TestProjectScheduleMatchesResolver(t *testing.T) {
	freezeClock(t, date(2026, 3, 1))

	m := testMedication()
	m.Frequency = FreqEveryOtherDay
	m.StartDate = date(2026, 3, 2)
	m.Windows = WindowSet{{
		ID:       uuid.New(),
		Sequence: []float64{4, 3},
		Unit:     UnitMg,
		Start:    date(2026, 3, 2),
	}}

	proj, err := m.ProjectSchedule(ProjectionRequest{Start: date(2026, 3, 1), Days: 14})
	if err != nil {
		t.Fatalf("projection failed: %v", err)
	}

	for _, day := range proj.Schedule {
		resolved, err := m.ExpectedDose(day.Date)
		if err != nil {
			t.Fatalf("resolve %s: %v", day.Date.Format("2006-01-02"), err)
		}
		if day.Scheduled != (resolved != nil) {
			t.Errorf("%s: projector and resolver disagree on scheduling", day.Date.Format("2006-01-02"))
			continue
		}
		if resolved != nil && day.Amount != resolved.Amount {
			t.Errorf("%s: projector %v, resolver %v", day.Date.Format("2006-01-02"), day.Amount, resolved.Amount)
		}
	}
}

func TestProjectSchedulePatternChange(t *testing.T) {
	freezeClock(t, date(2026, 3, 1))

	m := testMedication()
	endA := date(2026, 3, 10)
	m.Windows = WindowSet{
		{ID: uuid.New(), Sequence: []float64{4, 4, 3}, Unit: UnitMg, Start: date(2026, 3, 1), End: &endA},
		{ID: uuid.New(), Sequence: []float64{2, 2}, Unit: UnitMg, Start: date(2026, 3, 11)},
	}

	proj, err := m.ProjectSchedule(ProjectionRequest{
		Start:                date(2026, 3, 1),
		Days:                 20,
		DetectPatternChanges: true,
	})
	if err != nil {
		t.Fatalf("projection failed: %v", err)
	}

	if proj.PatternChanges != 1 {
		t.Fatalf("changes: got %d, want 1", proj.PatternChanges)
	}
	if proj.Schedule[0].PatternChanged {
		t.Error("the first day never flags a change")
	}
	day10 := proj.Schedule[10] // 2026-03-11
	if !day10.PatternChanged {
		t.Fatal("expected the change flagged on 03-11")
	}
	if !strings.Contains(day10.PatternNote, "2mg, 2mg (2-day cycle)") {
		t.Errorf("note: got %q", day10.PatternNote)
	}
	if proj.PatternCycles != 10 { // 20 days over the final 2-day cycle
		t.Errorf("cycles: got %v, want 10", proj.PatternCycles)
	}
}

func TestProjectSchedulePatternEnds(t *testing.T) {
	freezeClock(t, date(2026, 3, 1))

	m := testMedication()
	end := date(2026, 3, 5)
	m.Windows = WindowSet{{ID: uuid.New(), Sequence: []float64{4}, Unit: UnitMg, Start: date(2026, 3, 1), End: &end}}

	proj, err := m.ProjectSchedule(ProjectionRequest{
		Start:                date(2026, 3, 1),
		Days:                 10,
		DetectPatternChanges: true,
	})
	if err != nil {
		t.Fatalf("projection failed: %v", err)
	}

	day5 := proj.Schedule[5] // 2026-03-06, first day past the window
	if !day5.PatternChanged || day5.PatternNote != "pattern ended" {
		t.Errorf("got changed=%v note=%q", day5.PatternChanged, day5.PatternNote)
	}
	if day5.Amount != 5 {
		t.Errorf("flat fallback after the window: got %v, want 5", day5.Amount)
	}
}

func TestProjectSchedulePatternChangeOnRestDay(t *testing.T) {
	freezeClock(t, date(2026, 3, 1))

	m := testMedication()
	m.Frequency = FreqEveryOtherDay
	m.StartDate = date(2026, 3, 2)
	endA := date(2026, 3, 4)
	m.Windows = WindowSet{
		{ID: uuid.New(), Sequence: []float64{4}, Unit: UnitMg, Start: date(2026, 3, 2), End: &endA},
		{ID: uuid.New(), Sequence: []float64{3}, Unit: UnitMg, Start: date(2026, 3, 5)},
	}

	proj, err := m.ProjectSchedule(ProjectionRequest{
		Start:                date(2026, 3, 2),
		Days:                 6,
		DetectPatternChanges: true,
	})
	if err != nil {
		t.Fatalf("projection failed: %v", err)
	}

	day3 := proj.Schedule[3] // 2026-03-05: rest day, new window takes over
	if day3.Scheduled {
		t.Error("03-05 is a rest day")
	}
	if !day3.PatternChanged {
		t.Error("a change landing on a rest day must still be flagged")
	}
	if proj.PatternChanges != 1 {
		t.Errorf("changes: got %d, want 1", proj.PatternChanges)
	}
	if got := proj.Schedule[4].Amount; got != 3 {
		t.Errorf("first dose under the new window: got %v, want 3", got)
	}
}

func TestProjectScheduleRestDaysUnscheduled(t *testing.T) {
	freezeClock(t, date(2026, 3, 1))

	m := testMedication()
	m.Frequency = FreqWeekly
	m.StartDate = date(2026, 3, 2)

	proj, err := m.ProjectSchedule(ProjectionRequest{Start: date(2026, 3, 2), Days: 14})
	if err != nil {
		t.Fatalf("projection failed: %v", err)
	}
	if proj.ScheduledDays != 2 {
		t.Errorf("scheduled days: got %d, want 2", proj.ScheduledDays)
	}
	if !proj.Schedule[0].Scheduled || !proj.Schedule[7].Scheduled {
		t.Error("Mondays should be scheduled")
	}
	if proj.Schedule[1].Scheduled {
		t.Error("Tuesday should be a rest day")
	}
	if proj.TotalDose != 10 {
		t.Errorf("total: got %v, want 10", proj.TotalDose)
	}
}
