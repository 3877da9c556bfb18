// Package lifecycle drives form status transitions from computed activation
// windows. Transitions are evaluated lazily on access rather than by a
// background timer, so there is no missed-tick failure mode; staleness is
// bounded by the time between accesses.
package lifecycle

import (
	"fmt"
	"time"

	"github.com/fieldops/evaluation-engine/internal/domain"
	"github.com/fieldops/evaluation-engine/internal/period"
)

// Config controls behavior the underlying business rules leave open.
type Config struct {
	// ManualFormsStayActive keeps a periodic form with autoActivate=false
	// Active across window boundaries until it is explicitly closed. When
	// false, the lazy refresh closes such forms when their window ends, the
	// same as auto-activated ones.
	ManualFormsStayActive bool
}

// Machine applies lifecycle rules to forms.
type Machine struct {
	cfg Config
}

func New(cfg Config) *Machine {
	return &Machine{cfg: cfg}
}

// Resolution is the outcome of a lazy refresh.
type Resolution struct {
	// Window is the resolved activation window for periodic forms. For
	// single forms only IsOpen is meaningful.
	Window period.Window
	// Changed reports whether any lifecycle-owned field on the form was
	// mutated and needs persisting.
	Changed bool
}

// Refresh applies the on-demand transition rules to form at the given
// instant, mutating the lifecycle-owned fields (Status, CurrentPeriod,
// PeriodStart, PeriodEnd) in place.
//
// Single forms never transition automatically. Periodic forms with
// autoActivate open when their window opens and close when it ends; with
// autoActivate off the window fields are still refreshed for eligibility and
// reporting but status stays under manual control (subject to
// ManualFormsStayActive).
func (m *Machine) Refresh(form *domain.Form, now time.Time) (Resolution, error) {
	if form == nil {
		return Resolution{}, fmt.Errorf("%w: form is required", domain.ErrValidation)
	}

	if form.Kind != domain.KindPeriodic {
		return Resolution{
			Window: period.Window{IsOpen: form.Status == domain.StatusActive},
		}, nil
	}

	w, err := period.ComputeWindow(form.StartDay, form.EndDay, now)
	if err != nil {
		return Resolution{}, err
	}

	changed := false
	if w.IsOpen {
		// A window is open: the window fields always track it, whatever the
		// activation mode.
		if form.CurrentPeriod != w.Period || form.PeriodStart == nil || !form.PeriodStart.Equal(w.Start) {
			start, end := w.Start, w.End
			form.CurrentPeriod = w.Period
			form.PeriodStart = &start
			form.PeriodEnd = &end
			changed = true
		}
		if form.AutoActivate && form.Status != domain.StatusActive {
			form.Status = domain.StatusActive
			changed = true
		}
	} else {
		// Between windows: retain the last currentPeriod and bounds for
		// audit until the next window opens and overwrites them.
		autoClose := form.AutoActivate || !m.cfg.ManualFormsStayActive
		if autoClose && form.Status == domain.StatusActive {
			form.Status = domain.StatusClosed
			changed = true
		}
	}

	return Resolution{Window: w, Changed: changed}, nil
}

// Transition applies a manual status change. Allowed moves are
// Draft->Active, Closed->Active, and Active->Closed; re-entering Draft is
// never allowed. Activating a periodic form inside an open window also
// stamps the window fields; activating between windows leaves the last
// stamped period in place.
func (m *Machine) Transition(form *domain.Form, target domain.FormStatus, now time.Time) error {
	if form == nil {
		return fmt.Errorf("%w: form is required", domain.ErrValidation)
	}
	if !target.IsValid() {
		return fmt.Errorf("%w: invalid target status %q", domain.ErrValidation, target)
	}

	if target == domain.StatusDraft {
		return fmt.Errorf("%w: %s -> DRAFT is not allowed", domain.ErrInvalidTransition, form.Status)
	}
	if form.Status == target {
		return fmt.Errorf("%w: form is already %s", domain.ErrInvalidTransition, target)
	}

	if target == domain.StatusActive && form.Kind == domain.KindPeriodic {
		w, err := period.ComputeWindow(form.StartDay, form.EndDay, now)
		if err != nil {
			return err
		}
		// Stamp only when a window is open at the transition instant.
		// Between windows the resolver reports the upcoming cycle, and
		// attributing submissions to a period that has not opened yet would
		// be wrong; the last stamped period is retained instead.
		if w.IsOpen {
			start, end := w.Start, w.End
			form.CurrentPeriod = w.Period
			form.PeriodStart = &start
			form.PeriodEnd = &end
		}
	}

	form.Status = target
	return nil
}
