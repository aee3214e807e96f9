package medication

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

// fixedValidator pins the validator's clock for deterministic checks.
func fixedValidator(now time.Time) *SafetyValidator {
	return &SafetyValidator{now: func() time.Time { return now }, futureSkew: defaultFutureSkew}
}

// anticoagulant returns a lab-monitored course with a 12 hour minimum
// interval and a 10mg daily cap.
func anticoagulant() *Medication {
	m := testMedication()
	m.Name = "warfarin"
	m.RequiresLabMonitoring = true
	m.MinHoursBetweenDoses = 12
	m.MaxDailyDose = 10
	m.LabTargetMin = 2.0
	m.LabTargetMax = 3.0
	return m
}

func takenLog(med *Medication, at time.Time, amount float64) DoseLog {
	return DoseLog{
		ID:            uuid.New(),
		MedicationID:  med.ID,
		PatientID:     med.PatientID,
		ScheduledTime: at,
		ActualTime:    timePtr(at),
		Status:        LogTaken,
		ActualDose:    floatPtr(amount),
		Unit:          med.Unit,
	}
}

func TestValidateAccepted(t *testing.T) {
	now := time.Date(2026, 6, 1, 20, 0, 0, 0, time.UTC)
	v := fixedValidator(now)
	med := anticoagulant()

	// Last dose 13 hours ago, well outside the minimum interval.
	history := []DoseLog{takenLog(med, now.Add(-13*time.Hour), 4)}
	res := v.Validate(med, IntakeCheck{Amount: 4, At: now}, history)

	if res.Outcome != OutcomeAccepted {
		t.Fatalf("got %s: violations=%v advisories=%v", res.Outcome, res.Violations, res.Advisories)
	}
	if !res.Allowed() {
		t.Error("accepted intake must be allowed")
	}
	if len(res.Violations) != 0 || len(res.Advisories) != 0 {
		t.Errorf("unexpected findings: %v %v", res.Violations, res.Advisories)
	}
}

func TestValidateIntervalBands(t *testing.T) {
	now := time.Date(2026, 6, 1, 20, 0, 0, 0, time.UTC)
	v := fixedValidator(now)
	med := anticoagulant()

	// The advisory band for a 12 hour minimum runs from 10 hours
	// (12h - 2h, above the 9.6h ratio floor) up to the minimum itself.
	cases := []struct {
		hoursAgo float64
		want     Outcome
	}{
		{9, OutcomeRejected},
		{9.9, OutcomeRejected},
		{10, OutcomeAdvisory},
		{11, OutcomeAdvisory},
		{11.9, OutcomeAdvisory},
		{12, OutcomeAccepted},
		{13, OutcomeAccepted},
	}
	for _, c := range cases {
		last := now.Add(-time.Duration(c.hoursAgo * float64(time.Hour)))
		history := []DoseLog{takenLog(med, last, 4)}
		res := v.Validate(med, IntakeCheck{Amount: 4, At: now}, history)
		if res.Outcome != c.want {
			t.Errorf("%.1fh since last dose: got %s, want %s (violations=%v advisories=%v)",
				c.hoursAgo, res.Outcome, c.want, res.Violations, res.Advisories)
		}
	}
}

func TestValidateIntervalRatioFloor(t *testing.T) {
	now := time.Date(2026, 6, 1, 20, 0, 0, 0, time.UTC)
	v := fixedValidator(now)
	med := testMedication()
	med.Class = ClassAnalgesic
	med.MinHoursBetweenDoses = 8

	// For short minimums the 80% ratio floor governs: an 8 hour minimum
	// rejects below 6.4 hours, not below 6.
	history := []DoseLog{takenLog(med, now.Add(-7*time.Hour), 4)}
	res := v.Validate(med, IntakeCheck{Amount: 4, At: now}, history)
	if res.Outcome != OutcomeAdvisory {
		t.Errorf("7h of 8h minimum: got %s, want advisory", res.Outcome)
	}

	history = []DoseLog{takenLog(med, now.Add(-6*time.Hour), 4)}
	res = v.Validate(med, IntakeCheck{Amount: 4, At: now}, history)
	if res.Outcome != OutcomeRejected {
		t.Errorf("6h of 8h minimum: got %s, want rejected", res.Outcome)
	}
}

func TestValidateDailyCap(t *testing.T) {
	now := time.Date(2026, 6, 1, 23, 30, 0, 0, time.UTC)
	v := fixedValidator(now)
	med := anticoagulant()

	// 8mg already taken today, spaced clear of the interval check.
	history := []DoseLog{
		takenLog(med, time.Date(2026, 6, 1, 0, 15, 0, 0, time.UTC), 4),
		takenLog(med, time.Date(2026, 6, 1, 11, 0, 0, 0, time.UTC), 4),
	}

	res := v.Validate(med, IntakeCheck{Amount: 3, At: now}, history)
	if res.Outcome != OutcomeRejected {
		t.Fatalf("11mg against a 10mg cap: got %s", res.Outcome)
	}
	found := false
	for _, violation := range res.Violations {
		if strings.Contains(violation, "already taken 8mg") {
			found = true
		}
	}
	if !found {
		t.Errorf("violations should name the consumed total: %v", res.Violations)
	}

	res = v.Validate(med, IntakeCheck{Amount: 2, At: now}, history)
	if res.Outcome != OutcomeAccepted {
		t.Errorf("exactly the 10mg cap: got %s (violations=%v)", res.Outcome, res.Violations)
	}

	// Yesterday's doses never count against today.
	history = []DoseLog{takenLog(med, time.Date(2026, 5, 31, 23, 0, 0, 0, time.UTC), 8)}
	res = v.Validate(med, IntakeCheck{Amount: 4, At: now}, history)
	if res.Outcome != OutcomeAccepted {
		t.Errorf("fresh day: got %s (violations=%v)", res.Outcome, res.Violations)
	}
}

func TestValidatePlausibility(t *testing.T) {
	now := time.Date(2026, 6, 1, 20, 0, 0, 0, time.UTC)
	v := fixedValidator(now)
	med := anticoagulant()

	res := v.Validate(med, IntakeCheck{Amount: 0, At: now}, nil)
	if res.Outcome != OutcomeRejected {
		t.Errorf("zero amount: got %s", res.Outcome)
	}
	res = v.Validate(med, IntakeCheck{Amount: -2, At: now}, nil)
	if res.Outcome != OutcomeRejected {
		t.Errorf("negative amount: got %s", res.Outcome)
	}

	res = v.Validate(med, IntakeCheck{Amount: 25, At: now}, nil)
	if res.Outcome != OutcomeRejected {
		t.Fatalf("25mg single dose: got %s", res.Outcome)
	}
	if !strings.Contains(strings.Join(res.Violations, " "), "exceeds the daily maximum") {
		t.Errorf("violations: %v", res.Violations)
	}
}

func TestValidateFutureTimestamp(t *testing.T) {
	now := time.Date(2026, 6, 1, 20, 0, 0, 0, time.UTC)
	v := fixedValidator(now)
	med := anticoagulant()

	res := v.Validate(med, IntakeCheck{Amount: 4, At: now.Add(10 * time.Minute)}, nil)
	if res.Outcome != OutcomeRejected {
		t.Errorf("10 minutes ahead: got %s", res.Outcome)
	}

	// Within the clock-skew allowance.
	res = v.Validate(med, IntakeCheck{Amount: 4, At: now.Add(3 * time.Minute)}, nil)
	if res.Outcome != OutcomeAccepted {
		t.Errorf("3 minutes ahead: got %s (violations=%v)", res.Outcome, res.Violations)
	}
}

func TestValidateAccumulatesViolations(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	v := fixedValidator(now)
	med := anticoagulant()

	// Too soon after the last dose and over the daily cap at once.
	history := []DoseLog{
		takenLog(med, time.Date(2026, 6, 1, 0, 30, 0, 0, time.UTC), 4),
		takenLog(med, time.Date(2026, 6, 1, 3, 0, 0, 0, time.UTC), 4),
	}
	res := v.Validate(med, IntakeCheck{Amount: 3, At: now}, history)

	if res.Outcome != OutcomeRejected {
		t.Fatalf("got %s", res.Outcome)
	}
	if len(res.Violations) != 2 {
		t.Errorf("got %d violations, want both reported: %v", len(res.Violations), res.Violations)
	}
	if res.Allowed() {
		t.Error("rejected intake must not be allowed")
	}
}

func TestValidateIgnoresUncountedHistory(t *testing.T) {
	now := time.Date(2026, 6, 1, 20, 0, 0, 0, time.UTC)
	v := fixedValidator(now)
	med := anticoagulant()

	skipped := takenLog(med, now.Add(-2*time.Hour), 4)
	skipped.Status = LogSkipped
	scheduled := DoseLog{
		MedicationID:  med.ID,
		ScheduledTime: now.Add(-1 * time.Hour),
		Status:        LogScheduled,
		Unit:          med.Unit,
	}
	res := v.Validate(med, IntakeCheck{Amount: 4, At: now}, []DoseLog{skipped, scheduled})
	if res.Outcome != OutcomeAccepted {
		t.Errorf("skipped and scheduled entries must not count: got %s (%v)", res.Outcome, res.Violations)
	}

	// A partially taken dose does count.
	partial := takenLog(med, now.Add(-2*time.Hour), 2)
	partial.Status = LogPartiallyTaken
	res = v.Validate(med, IntakeCheck{Amount: 4, At: now}, []DoseLog{partial})
	if res.Outcome != OutcomeRejected {
		t.Errorf("partial dose 2h ago must trip the interval: got %s", res.Outcome)
	}
}

func TestValidateWithoutLimits(t *testing.T) {
	now := time.Date(2026, 6, 1, 20, 0, 0, 0, time.UTC)
	v := fixedValidator(now)

	med := testMedication()
	med.Class = ClassAnalgesic
	med.Name = "acetaminophen"

	// No interval or cap configured: frequent repeats pass.
	history := []DoseLog{takenLog(med, now.Add(-30*time.Minute), 500)}
	res := v.Validate(med, IntakeCheck{Amount: 500, At: now}, history)
	if res.Outcome != OutcomeAccepted {
		t.Errorf("got %s (violations=%v)", res.Outcome, res.Violations)
	}
}

func TestValidateFutureDoseStillChecksEverything(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	v := fixedValidator(now)
	med := anticoagulant()

	// An oversized future dose trips the single-dose, timestamp and
	// daily-total checks at once; none of them short-circuits.
	res := v.Validate(med, IntakeCheck{Amount: 25, At: now.Add(time.Hour)}, nil)
	if len(res.Violations) != 3 {
		t.Errorf("got %d violations, want 3: %v", len(res.Violations), res.Violations)
	}
}
