package medication

import "time"

// Frequency identifies how often doses are scheduled
type Frequency string

const (
	FreqOnceDaily       Frequency = "once_daily"
	FreqTwiceDaily      Frequency = "twice_daily"
	FreqThreeTimesDaily Frequency = "three_times_daily"
	FreqFourTimesDaily  Frequency = "four_times_daily"
	FreqEveryOtherDay   Frequency = "every_other_day"
	FreqWeekly          Frequency = "weekly"
	FreqAsNeeded        Frequency = "as_needed"
	FreqCustom          Frequency = "custom"
)

// Valid reports whether f is a known frequency
func (f Frequency) Valid() bool {
	switch f {
	case FreqOnceDaily, FreqTwiceDaily, FreqThreeTimesDaily, FreqFourTimesDaily,
		FreqEveryOtherDay, FreqWeekly, FreqAsNeeded, FreqCustom:
		return true
	}
	return false
}

// DosesPerDay returns how many intakes a dosing day carries, 0 when
// the frequency has no fixed count.
func (f Frequency) DosesPerDay() int {
	switch f {
	case FreqOnceDaily, FreqEveryOtherDay, FreqWeekly:
		return 1
	case FreqTwiceDaily:
		return 2
	case FreqThreeTimesDaily:
		return 3
	case FreqFourTimesDaily:
		return 4
	}
	return 0
}

// IsDosingDay reports whether date is a dosing day for a course that
// began on start. Daily, as-needed and custom frequencies schedule
// every day; every_other_day alternates from the start date; weekly
// repeats on the start date's weekday.
func (f Frequency) IsDosingDay(start, date time.Time) bool {
	switch f {
	case FreqEveryOtherDay:
		return daysBetween(start, date)%2 == 0
	case FreqWeekly:
		return DateOf(date).Weekday() == DateOf(start).Weekday()
	}
	return true
}

// OccurrenceIndex returns the 0-based position of date among the
// dosing days since start. Only meaningful when date is a dosing day
// on or after start.
func (f Frequency) OccurrenceIndex(start, date time.Time) int {
	days := daysBetween(start, date)
	switch f {
	case FreqEveryOtherDay:
		return days / 2
	case FreqWeekly:
		return days / 7
	}
	return days
}

// CyclesByOccurrence reports whether the dose pattern advances per
// dosing occurrence instead of per calendar day. Rest days must not
// consume pattern positions for these frequencies.
func (f Frequency) CyclesByOccurrence() bool {
	return f == FreqEveryOtherDay || f == FreqWeekly
}
