// Package dayview answers day-bucketed questions about an entry list.
//
// It holds no state of its own: every function is a pure computation
// over the entries handed to it, which keeps the calendar rules (what
// counts as "the same day", how day navigation rolls over month and
// year boundaries) testable in isolation from the ledger.
package dayview

import "vocht/internal/core"

// Progress describes how far a total has come toward a daily goal.
type Progress struct {
	TotalML  float64 `json:"totalMl"`
	GoalML   float64 `json:"goalMl"`
	Fraction float64 `json:"progress"`
	OverGoal bool    `json:"overGoal"`
}

// EntriesOn returns the entries logged for the given calendar day, in
// insertion order. Two entries belong to the same day iff their year,
// month and day components match.
func EntriesOn(entries []core.Entry, day core.Date) []core.Entry {
	var out []core.Entry
	for _, e := range entries {
		if e.Date.SameDay(day) {
			out = append(out, e)
		}
	}
	return out
}

// TotalOn sums the counted quantities of the given day's entries.
func TotalOn(entries []core.Entry, day core.Date) float64 {
	return core.TotalOf(EntriesOn(entries, day))
}

// ShiftDate moves a date by deltaDays, used for previous/next day
// navigation. Month and year boundaries roll over correctly.
func ShiftDate(day core.Date, deltaDays int) core.Date {
	return day.AddDays(deltaDays)
}

// ProgressOf reports progress toward the goal. A non-positive goal
// falls back to the default daily goal so the fraction stays defined.
func ProgressOf(totalML, goalML float64) Progress {
	if goalML <= 0 {
		goalML = core.DefaultDailyGoalML
	}
	return Progress{
		TotalML:  totalML,
		GoalML:   goalML,
		Fraction: totalML / goalML,
		OverGoal: totalML > goalML,
	}
}
