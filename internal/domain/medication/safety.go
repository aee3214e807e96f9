package medication

import (
	"fmt"
	"time"
)

// Outcome is the graduated result of a dose safety check
type Outcome string

const (
	OutcomeAccepted Outcome = "accepted"
	OutcomeAdvisory Outcome = "advisory"
	OutcomeRejected Outcome = "rejected"
)

// defaultFutureSkew is the clock drift tolerated before an intake
// timestamp counts as being in the future.
const defaultFutureSkew = 5 * time.Minute

// The advisory band sits just under the minimum dosing interval:
// two hours below it, but never below 80% of it.
const (
	graceHours = 2.0
	graceRatio = 0.8
)

// IntakeCheck is a dose the patient is about to record.
type IntakeCheck struct {
	Amount float64   `json:"amount"`
	At     time.Time `json:"at"`
}

// SafetyResult accumulates every violation and advisory found for an
// intake. Checks never short-circuit: a rejected intake still lists
// all of its problems, and advisories survive alongside rejections.
type SafetyResult struct {
	Outcome    Outcome  `json:"outcome"`
	Violations []string `json:"violations,omitempty"`
	Advisories []string `json:"advisories,omitempty"`
}

// Allowed reports whether the intake may be recorded.
func (r *SafetyResult) Allowed() bool { return r.Outcome != OutcomeRejected }

func (r *SafetyResult) reject(format string, args ...interface{}) {
	r.Violations = append(r.Violations, fmt.Sprintf(format, args...))
	r.Outcome = OutcomeRejected
}

func (r *SafetyResult) advise(format string, args ...interface{}) {
	r.Advisories = append(r.Advisories, fmt.Sprintf(format, args...))
	if r.Outcome != OutcomeRejected {
		r.Outcome = OutcomeAdvisory
	}
}

// SafetyValidator gates dose intakes against a medication's limits
// and the patient's recent dose history.
type SafetyValidator struct {
	now        func() time.Time
	futureSkew time.Duration
}

// NewSafetyValidator creates a validator with the default clock and skew
func NewSafetyValidator() *SafetyValidator {
	return &SafetyValidator{now: time.Now, futureSkew: defaultFutureSkew}
}

// Validate runs every safety check and returns the accumulated
// result. history holds the medication's recent logs; only taken and
// partially-taken entries with a recorded time and dose count.
func (v *SafetyValidator) Validate(med *Medication, intake IntakeCheck, history []DoseLog) *SafetyResult {
	res := &SafetyResult{Outcome: OutcomeAccepted}

	v.checkPlausibility(med, intake, res)
	v.checkTimestamp(intake, res)
	v.checkInterval(med, intake, history, res)
	v.checkDailyTotal(med, intake, history, res)

	return res
}

func (v *SafetyValidator) checkPlausibility(med *Medication, intake IntakeCheck, res *SafetyResult) {
	if intake.Amount <= 0 {
		res.reject("dose amount must be positive, got %s%s", formatAmount(intake.Amount), med.Unit)
		return
	}
	if med.MaxDailyDose > 0 && intake.Amount > med.MaxDailyDose {
		res.reject("single dose of %s%s exceeds the daily maximum of %s%s",
			formatAmount(intake.Amount), med.Unit, formatAmount(med.MaxDailyDose), med.Unit)
	}
}

func (v *SafetyValidator) checkTimestamp(intake IntakeCheck, res *SafetyResult) {
	if intake.At.After(v.now().Add(v.futureSkew)) {
		res.reject("dose time %s is in the future", intake.At.UTC().Format(time.RFC3339))
	}
}

func (v *SafetyValidator) checkInterval(med *Medication, intake IntakeCheck, history []DoseLog, res *SafetyResult) {
	if med.MinHoursBetweenDoses <= 0 {
		return
	}
	last := latestCountedBefore(history, intake.At)
	if last == nil {
		return
	}
	hoursSince := intake.At.Sub(*last.ActualTime).Hours()
	switch {
	case hoursSince < graceFloor(med.MinHoursBetweenDoses):
		res.reject("only %.1f hours since the last dose; minimum interval is %s hours (%.1f hours early)",
			hoursSince, formatAmount(med.MinHoursBetweenDoses), med.MinHoursBetweenDoses-hoursSince)
	case hoursSince < med.MinHoursBetweenDoses:
		res.advise("%.1f hours since the last dose is inside the %s hour minimum; accepted within the grace window",
			hoursSince, formatAmount(med.MinHoursBetweenDoses))
	}
}

// graceFloor is the hard lower bound of the advisory band.
func graceFloor(minHours float64) float64 {
	floor := minHours - graceHours
	if ratio := minHours * graceRatio; ratio > floor {
		floor = ratio
	}
	return floor
}

func (v *SafetyValidator) checkDailyTotal(med *Medication, intake IntakeCheck, history []DoseLog, res *SafetyResult) {
	if med.MaxDailyDose <= 0 {
		return
	}
	consumed := consumedOn(history, intake.At)
	if consumed+intake.Amount > med.MaxDailyDose {
		res.reject("already taken %s%s today; adding %s%s would exceed the daily maximum of %s%s",
			formatAmount(consumed), med.Unit, formatAmount(intake.Amount), med.Unit,
			formatAmount(med.MaxDailyDose), med.Unit)
	}
}

// latestCountedBefore returns the counted log closest to, and
// strictly before, at.
func latestCountedBefore(history []DoseLog, at time.Time) *DoseLog {
	var last *DoseLog
	for i := range history {
		log := &history[i]
		if !log.Counted() {
			continue
		}
		if !log.ActualTime.Before(at) {
			continue
		}
		if last == nil || log.ActualTime.After(*last.ActualTime) {
			last = log
		}
	}
	return last
}

// consumedOn sums the counted doses recorded on the same UTC
// calendar day as at.
func consumedOn(history []DoseLog, at time.Time) float64 {
	day := DateOf(at)
	var total float64
	for i := range history {
		log := &history[i]
		if !log.Counted() {
			continue
		}
		if DateOf(*log.ActualTime).Equal(day) {
			total += *log.ActualDose
		}
	}
	return total
}
