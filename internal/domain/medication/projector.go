package medication

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// maxProjectionDays caps a single projection at one year.
const maxProjectionDays = 365

var (
	// ErrProjectionDays marks a span outside [1, 365] days.
	ErrProjectionDays = errors.New("projection days must be between 1 and 365")
	// ErrProjectionStart marks a start more than a year in the past.
	ErrProjectionStart = errors.New("projection start is more than a year in the past")
)

// timeNow is a variable for testing
var timeNow = time.Now

// ProjectionRequest describes a forward schedule projection.
type ProjectionRequest struct {
	Start                time.Time `json:"start"`
	Days                 int       `json:"days"`
	DetectPatternChanges bool      `json:"detect_pattern_changes"`
}

// ProjectedDay is one slot of a projection. Scheduled is false on
// rest days, so callers can tell "no dose due" apart from a failure;
// failures abort the whole projection with an error instead.
type ProjectedDay struct {
	Date           time.Time `json:"date"`
	Scheduled      bool      `json:"scheduled"`
	Amount         float64   `json:"amount,omitempty"`
	Unit           Unit      `json:"unit,omitempty"`
	CycleDay       int       `json:"cycle_day,omitempty"`
	CycleLength    int       `json:"cycle_length,omitempty"`
	PatternChanged bool      `json:"pattern_changed,omitempty"`
	PatternNote    string    `json:"pattern_note,omitempty"`
}

// Projection is a resolved schedule over a span of days plus
// aggregate statistics.
type Projection struct {
	Start            time.Time      `json:"start"`
	Days             int            `json:"days"`
	Schedule         []ProjectedDay `json:"schedule"`
	TotalDose        float64        `json:"total_dose"`
	AverageDailyDose float64        `json:"average_daily_dose"`
	MinDose          float64        `json:"min_dose"`
	MaxDose          float64        `json:"max_dose"`
	ScheduledDays    int            `json:"scheduled_days"`
	PatternCycles    float64        `json:"pattern_cycles"`
	PatternChanges   int            `json:"pattern_changes"`
}

// ProjectSchedule resolves the expected dose for every day of the
// requested span. Each day goes through ExpectedDose; the projector
// adds no dose arithmetic of its own.
func (m *Medication) ProjectSchedule(req ProjectionRequest) (*Projection, error) {
	if req.Days < 1 || req.Days > maxProjectionDays {
		return nil, fmt.Errorf("%w: got %d", ErrProjectionDays, req.Days)
	}
	start := DateOf(req.Start)
	if start.Before(DateOf(timeNow()).AddDate(-1, 0, 0)) {
		return nil, fmt.Errorf("%w: %s", ErrProjectionStart, start.Format("2006-01-02"))
	}

	proj := &Projection{
		Start:    start,
		Days:     req.Days,
		Schedule: make([]ProjectedDay, 0, req.Days),
	}

	var (
		prevWindow   *PatternWindow
		lastCycleLen int
	)
	for i := 0; i < req.Days; i++ {
		date := start.AddDate(0, 0, i)
		resolved, err := m.ExpectedDose(date)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", date.Format("2006-01-02"), err)
		}

		day := ProjectedDay{Date: date}
		if resolved != nil {
			day.Scheduled = true
			day.Amount = resolved.Amount
			day.Unit = resolved.Unit
			day.CycleDay = resolved.CycleDay
			day.CycleLength = resolved.CycleLength

			proj.TotalDose += resolved.Amount
			proj.ScheduledDays++
			if proj.ScheduledDays == 1 || resolved.Amount < proj.MinDose {
				proj.MinDose = resolved.Amount
			}
			if resolved.Amount > proj.MaxDose {
				proj.MaxDose = resolved.Amount
			}
		}

		// The governing window is tracked per day, not per dose, so
		// a pattern change landing on a rest day is still flagged.
		window := m.Windows.ActiveOn(date)
		if window != nil {
			lastCycleLen = window.CycleLength()
		}
		if req.DetectPatternChanges && i > 0 && !sameWindow(window, prevWindow) {
			day.PatternChanged = true
			if window != nil {
				day.PatternNote = "pattern changed to " + window.Display()
			} else {
				day.PatternNote = "pattern ended"
			}
			proj.PatternChanges++
		}
		prevWindow = window

		proj.Schedule = append(proj.Schedule, day)
	}

	proj.AverageDailyDose = round2(proj.TotalDose / float64(req.Days))
	if lastCycleLen > 0 {
		proj.PatternCycles = round2(float64(req.Days) / float64(lastCycleLen))
	}
	return proj, nil
}

func sameWindow(a, b *PatternWindow) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.ID == b.ID
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
