// Package worker watches the intake event feed for daily goal progress.
package worker

import (
	"context"
	"log/slog"
	"sync"

	"vocht/internal/amqp"
	"vocht/internal/core"
)

// GoalWorker accumulates per-day intake totals from the event feed and
// reports, once per day, when the daily goal is crossed. It is the hook
// a reminder pipeline attaches to; delivering notifications is not its
// job.
type GoalWorker struct {
	goalML float64

	mu      sync.Mutex
	totals  map[string]float64 // calendar date -> ml
	reached map[string]bool
}

// TODO: prune day buckets older than a week so a long-lived worker
// doesn't grow unbounded.

func NewGoalWorker(goalML float64) *GoalWorker {
	if goalML <= 0 {
		goalML = core.DefaultDailyGoalML
	}
	return &GoalWorker{
		goalML:  goalML,
		totals:  make(map[string]float64),
		reached: make(map[string]bool),
	}
}

// HandleIntake processes one intake.logged event.
func (w *GoalWorker) HandleIntake(ctx context.Context, event *amqp.IntakeEvent) error {
	w.mu.Lock()
	w.totals[event.Date] += event.QuantityML
	dayTotal := w.totals[event.Date]
	crossed := dayTotal >= w.goalML && !w.reached[event.Date]
	if crossed {
		w.reached[event.Date] = true
	}
	w.mu.Unlock()

	slog.InfoContext(ctx, "Intake recorded",
		"entry_name", event.Name,
		"quantity_ml", event.QuantityML,
		"date", event.Date,
		"day_total_ml", dayTotal,
		"goal_ml", w.goalML)

	if crossed {
		slog.InfoContext(ctx, "Daily intake goal reached",
			"date", event.Date,
			"day_total_ml", dayTotal,
			"goal_ml", w.goalML)
	}
	return nil
}

// HandleReset processes a ledger.reset event by dropping everything
// the worker has accumulated; the ledger no longer has those entries.
func (w *GoalWorker) HandleReset(ctx context.Context, event *amqp.IntakeEvent) error {
	w.mu.Lock()
	w.totals = make(map[string]float64)
	w.reached = make(map[string]bool)
	w.mu.Unlock()

	slog.InfoContext(ctx, "Ledger reset, goal tracking cleared")
	return nil
}

// DayTotal returns the accumulated total for a calendar date string.
func (w *GoalWorker) DayTotal(date string) float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.totals[date]
}

// GoalReached reports whether the goal has been crossed on a date.
func (w *GoalWorker) GoalReached(date string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reached[date]
}

// LogSnapshot emits a periodic progress report for every tracked day.
func (w *GoalWorker) LogSnapshot(ctx context.Context) {
	w.mu.Lock()
	days := len(w.totals)
	snapshot := make(map[string]float64, days)
	for d, t := range w.totals {
		snapshot[d] = t
	}
	w.mu.Unlock()

	for date, total := range snapshot {
		slog.InfoContext(ctx, "Goal progress",
			"date", date,
			"day_total_ml", total,
			"goal_ml", w.goalML,
			"reached", total >= w.goalML)
	}
	if days == 0 {
		slog.DebugContext(ctx, "No intake recorded yet")
	}
}
