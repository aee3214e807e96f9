package medication

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrEmptyPattern marks a window whose dose sequence is empty.
	ErrEmptyPattern = errors.New("pattern sequence is empty")
	// ErrCycleDayOutOfRange marks a cycle day below 1.
	ErrCycleDayOutOfRange = errors.New("cycle day must be at least 1")
	// ErrWindowOverlap marks two windows claiming the same dates.
	ErrWindowOverlap = errors.New("pattern windows overlap")
	// ErrOpenWindowExists marks an attempt to open a second window
	// without closing the current one.
	ErrOpenWindowExists = errors.New("medication already has an open pattern window")
)

// maxSequenceLength caps a pattern cycle at one year of days.
const maxSequenceLength = 365

// PatternWindow binds a repeating dose sequence to a date interval.
// Start and End are inclusive calendar dates; a nil End leaves the
// window open.
type PatternWindow struct {
	ID           uuid.UUID  `json:"id"`
	MedicationID uuid.UUID  `json:"medication_id"`
	Sequence     []float64  `json:"sequence"`
	Unit         Unit       `json:"unit"`
	Start        time.Time  `json:"start"`
	End          *time.Time `json:"end,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// CycleLength returns the number of days in one pattern cycle
func (w *PatternWindow) CycleLength() int { return len(w.Sequence) }

// DoseForCycleDay returns the dose for the 1-based cycle day n. Days
// past the cycle length wrap back to the start of the cycle.
func (w *PatternWindow) DoseForCycleDay(n int) (float64, error) {
	if len(w.Sequence) == 0 {
		return 0, ErrEmptyPattern
	}
	if n < 1 {
		return 0, fmt.Errorf("%w: got %d", ErrCycleDayOutOfRange, n)
	}
	return w.Sequence[(n-1)%len(w.Sequence)], nil
}

// CycleDayFor returns the 1-based cycle position of date, counted
// from the window's start. Only meaningful when the window contains
// date.
func (w *PatternWindow) CycleDayFor(date time.Time) int {
	if len(w.Sequence) == 0 {
		return 0
	}
	return daysBetween(w.Start, date)%len(w.Sequence) + 1
}

// DoseForDate returns the dose the pattern prescribes for date. The
// second return is false when date falls outside the window; an error
// always means the window itself is malformed.
func (w *PatternWindow) DoseForDate(date time.Time) (float64, bool, error) {
	if len(w.Sequence) == 0 {
		return 0, false, ErrEmptyPattern
	}
	if !w.Contains(date) {
		return 0, false, nil
	}
	amount, err := w.DoseForCycleDay(w.CycleDayFor(date))
	if err != nil {
		return 0, false, err
	}
	return amount, true, nil
}

// Contains reports whether date falls inside [Start, End].
func (w *PatternWindow) Contains(date time.Time) bool {
	d := DateOf(date)
	if d.Before(DateOf(w.Start)) {
		return false
	}
	return w.End == nil || !d.After(DateOf(*w.End))
}

// IsOpen reports whether the window has no end date
func (w *PatternWindow) IsOpen() bool { return w.End == nil }

// ActiveOn reports whether the window is still in force on the given
// day: open, or ending on or after it.
func (w *PatternWindow) ActiveOn(today time.Time) bool {
	return w.End == nil || !DateOf(*w.End).Before(DateOf(today))
}

// TotalCycleDose returns the sum of one full cycle
func (w *PatternWindow) TotalCycleDose() float64 {
	var total float64
	for _, amt := range w.Sequence {
		total += amt
	}
	return total
}

// AverageDose returns the mean daily dose across one cycle
func (w *PatternWindow) AverageDose() float64 {
	if len(w.Sequence) == 0 {
		return 0
	}
	return w.TotalCycleDose() / float64(len(w.Sequence))
}

// Display renders the pattern the way patients see it, for example
// "4mg, 4mg, 3mg (3-day cycle)".
func (w *PatternWindow) Display() string {
	if len(w.Sequence) == 0 {
		return "no pattern"
	}
	parts := make([]string, len(w.Sequence))
	for i, amt := range w.Sequence {
		parts[i] = formatAmount(amt) + string(w.Unit)
	}
	return fmt.Sprintf("%s (%d-day cycle)", strings.Join(parts, ", "), len(w.Sequence))
}

// Validate checks the window's own fields.
func (w *PatternWindow) Validate() error {
	if len(w.Sequence) == 0 {
		return ErrEmptyPattern
	}
	if len(w.Sequence) > maxSequenceLength {
		return fmt.Errorf("pattern sequence exceeds %d days", maxSequenceLength)
	}
	for i, amt := range w.Sequence {
		if amt <= 0 {
			return fmt.Errorf("pattern dose on cycle day %d must be positive, got %s", i+1, formatAmount(amt))
		}
	}
	if !w.Unit.Valid() {
		return fmt.Errorf("unknown unit: %q", w.Unit)
	}
	if w.Start.IsZero() {
		return errors.New("pattern window start is required")
	}
	if w.End != nil && DateOf(*w.End).Before(DateOf(w.Start)) {
		return errors.New("pattern window end precedes start")
	}
	return nil
}

// WindowSet is the ordered collection of a medication's pattern
// windows. At most one window may be open at a time; Add maintains
// the invariant.
type WindowSet []PatternWindow

// Open returns the open window, or nil.
func (ws WindowSet) Open() *PatternWindow {
	for i := range ws {
		if ws[i].End == nil {
			return &ws[i]
		}
	}
	return nil
}

// ActiveOn returns the window governing date: the containing window
// with the latest start, ties broken toward the larger ID so the
// choice is deterministic even over bad data. Nil when no window
// contains date.
func (ws WindowSet) ActiveOn(date time.Time) *PatternWindow {
	var active *PatternWindow
	for i := range ws {
		w := &ws[i]
		if !w.Contains(date) {
			continue
		}
		if active == nil || laterWindow(w, active) {
			active = w
		}
	}
	return active
}

func laterWindow(a, b *PatternWindow) bool {
	as, bs := DateOf(a.Start), DateOf(b.Start)
	if !as.Equal(bs) {
		return as.After(bs)
	}
	return a.ID.String() > b.ID.String()
}

// Add appends a window. When autoClose is set, a currently open
// window is closed the day before the new one starts; otherwise an
// existing open window is a conflict. Overlaps with closed windows
// are always a conflict. No window is mutated on failure.
func (ws *WindowSet) Add(w PatternWindow, autoClose bool) error {
	if err := w.Validate(); err != nil {
		return err
	}
	w.Start = DateOf(w.Start)
	if w.End != nil {
		end := DateOf(*w.End)
		w.End = &end
	}

	openIdx := -1
	for i := range *ws {
		if (*ws)[i].End == nil {
			openIdx = i
			break
		}
	}

	var closeOn time.Time
	if openIdx >= 0 {
		if !autoClose {
			return ErrOpenWindowExists
		}
		closeOn = w.Start.AddDate(0, 0, -1)
		if closeOn.Before(DateOf((*ws)[openIdx].Start)) {
			return fmt.Errorf("%w: new window starting %s leaves no room to close the open window",
				ErrWindowOverlap, w.Start.Format("2006-01-02"))
		}
	}

	for i := range *ws {
		existing := (*ws)[i]
		if i == openIdx {
			existing.End = &closeOn
		}
		if windowsOverlap(existing, w) {
			return fmt.Errorf("%w: window %s", ErrWindowOverlap, existing.ID)
		}
	}

	if openIdx >= 0 {
		(*ws)[openIdx].End = &closeOn
	}
	*ws = append(*ws, w)
	return nil
}

// windowsOverlap treats a nil end as extending forever.
func windowsOverlap(a, b PatternWindow) bool {
	if a.End != nil && DateOf(b.Start).After(DateOf(*a.End)) {
		return false
	}
	if b.End != nil && DateOf(a.Start).After(DateOf(*b.End)) {
		return false
	}
	return true
}

// formatAmount renders a dose amount without trailing zeros.
func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
