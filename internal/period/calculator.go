// Package period computes activation windows for periodic forms. All
// functions are pure: the reference date is an explicit parameter and no
// clock is ever read, so identical inputs always produce identical output.
package period

import (
	"fmt"
	"time"

	"github.com/fieldops/evaluation-engine/internal/domain"
)

// Window is one activation cycle of a periodic form. Start is inclusive and
// End is exclusive (midnight after the configured end day), so the window is
// the half-open range [Start, End). Period labels the cycle YYYY-MM by its
// start month.
type Window struct {
	Period string
	Start  time.Time
	End    time.Time
	IsOpen bool
}

// Contains reports whether t falls inside the half-open window range.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// ComputeWindow resolves the activation window for the cycle containing
// referenceDate, or the nearest upcoming cycle with IsOpen=false when the
// reference date sits between cycles.
//
// A non-wrapping configuration (endDay > startDay) opens and closes within
// one calendar month. A wrapping configuration (endDay <= startDay) opens at
// startDay of month M and closes after endDay of month M+1, and is labeled by
// its start month. Configured days beyond the length of the concrete month
// are clamped to that month's last day.
func ComputeWindow(startDay, endDay int, referenceDate time.Time) (Window, error) {
	if startDay < 1 || startDay > 31 {
		return Window{}, fmt.Errorf("%w: startDay must be in [1,31] (got %d)", domain.ErrInvalidConfiguration, startDay)
	}
	if endDay < 1 || endDay > 31 {
		return Window{}, fmt.Errorf("%w: endDay must be in [1,31] (got %d)", domain.ErrInvalidConfiguration, endDay)
	}

	// A window containing the reference date is anchored at most one month
	// back (wrapping windows), and the nearest upcoming window is anchored at
	// most one month ahead.
	candidates := make([]Window, 0, 4)
	for offset := -1; offset <= 2; offset++ {
		anchor := referenceDate.AddDate(0, 0, -(referenceDate.Day() - 1)).AddDate(0, offset, 0)
		w := cycleWindow(startDay, endDay, anchor.Year(), anchor.Month(), referenceDate.Location())
		if w.Contains(referenceDate) {
			w.IsOpen = true
			return w, nil
		}
		candidates = append(candidates, w)
	}

	// No cycle contains the reference date; report the nearest upcoming one.
	var upcoming *Window
	for i := range candidates {
		if !candidates[i].Start.After(referenceDate) {
			continue
		}
		if upcoming == nil || candidates[i].Start.Before(upcoming.Start) {
			upcoming = &candidates[i]
		}
	}
	if upcoming == nil {
		return Window{}, fmt.Errorf("%w: no upcoming window for startDay=%d endDay=%d", domain.ErrInvalidConfiguration, startDay, endDay)
	}
	return *upcoming, nil
}

// cycleWindow builds the window anchored at the given year/month.
func cycleWindow(startDay, endDay int, year int, month time.Month, loc *time.Location) Window {
	start := time.Date(year, month, clampDay(year, month, startDay), 0, 0, 0, 0, loc)

	endYear, endMonth := year, month
	if endDay <= startDay {
		// Wrapping: the window closes in the following month.
		next := time.Date(year, month, 1, 0, 0, 0, 0, loc).AddDate(0, 1, 0)
		endYear, endMonth = next.Year(), next.Month()
	}
	// End is exclusive: midnight after the (clamped) end day.
	end := time.Date(endYear, endMonth, clampDay(endYear, endMonth, endDay)+1, 0, 0, 0, 0, loc)

	return Window{
		Period: fmt.Sprintf("%04d-%02d", year, int(month)),
		Start:  start,
		End:    end,
	}
}

// clampDay limits a configured day-of-month to the length of the concrete
// month, e.g. day 31 in April becomes 30.
func clampDay(year int, month time.Month, day int) int {
	last := time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
	if day > last {
		return last
	}
	return day
}
