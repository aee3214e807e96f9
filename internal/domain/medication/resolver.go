package medication

import "time"

// ResolvedDose is the engine's answer to "what dose is expected on
// this date". Window is nil when the medication's flat dose applied
// because no pattern window covered the date.
type ResolvedDose struct {
	Amount      float64        `json:"amount"`
	Unit        Unit           `json:"unit"`
	CycleDay    int            `json:"cycle_day,omitempty"`
	CycleLength int            `json:"cycle_length,omitempty"`
	Window      *PatternWindow `json:"-"`
}

// ExpectedDose resolves the dose expected on date. A nil result with
// a nil error means no dose applies: the medication is inactive, the
// date sits outside its course, or the frequency makes it a rest day.
// A non-nil error always signals malformed data, never a rest day.
//
// Every schedule projection and variance calculation goes through
// this method; nothing else re-derives a dose.
func (m *Medication) ExpectedDose(date time.Time) (*ResolvedDose, error) {
	if !m.InCourse(date) {
		return nil, nil
	}
	if !m.Frequency.IsDosingDay(m.StartDate, date) {
		return nil, nil
	}

	if w := m.Windows.ActiveOn(date); w != nil {
		if w.CycleLength() == 0 {
			return nil, ErrEmptyPattern
		}
		var cycleDay int
		if m.Frequency.CyclesByOccurrence() {
			// Non-daily frequencies advance the pattern one position
			// per dosing occurrence. The phase counts from the
			// window's start so a fresh pattern begins at position 1
			// regardless of the old window's phase.
			idx := m.Frequency.OccurrenceIndex(w.Start, date)
			cycleDay = idx%w.CycleLength() + 1
		} else {
			cycleDay = w.CycleDayFor(date)
		}
		amount, err := w.DoseForCycleDay(cycleDay)
		if err != nil {
			return nil, err
		}
		return &ResolvedDose{
			Amount:      amount,
			Unit:        w.Unit,
			CycleDay:    cycleDay,
			CycleLength: w.CycleLength(),
			Window:      w,
		}, nil
	}

	if m.Dose > 0 {
		return &ResolvedDose{Amount: m.Dose, Unit: m.Unit}, nil
	}
	return nil, nil
}
