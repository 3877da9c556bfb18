// Package eligibility decides whether a specific (evaluator, form,
// technician, period) submission attempt is permitted.
package eligibility

import (
	"context"
	"fmt"
	"time"

	"github.com/fieldops/evaluation-engine/internal/domain"
	"github.com/fieldops/evaluation-engine/internal/lifecycle"
)

// SubmissionReader is the read-only view of prior accepted submissions used
// for the duplicate fast path. The authoritative duplicate guard is the
// store's unique index, not this check.
type SubmissionReader interface {
	Exists(ctx context.Context, formID, evaluatorID, technicianID, period string) (bool, error)
}

// Membership answers whether a technician is in any organizational unit the
// form targets. Unit assignment itself is owned by the authoring subsystem.
type Membership interface {
	TechnicianInScope(ctx context.Context, formID, technicianID string) (bool, error)
}

// Decision is the outcome of an eligibility check. Exactly one of Eligible
// or Skip applies; rejects are returned as errors by Check.
type Decision struct {
	Eligible bool
	// Period is the resolved period the submission is attributed to, set
	// when Eligible.
	Period string
	// Skip is set when the item is valid but must not be processed.
	Skip domain.SkipReason
	// Refresh carries the lazy lifecycle refresh outcome so the caller can
	// persist mutated form fields.
	Refresh lifecycle.Resolution
}

type Checker struct {
	machine     *lifecycle.Machine
	submissions SubmissionReader
	membership  Membership
}

func NewChecker(machine *lifecycle.Machine, submissions SubmissionReader, membership Membership) (*Checker, error) {
	if machine == nil {
		return nil, fmt.Errorf("lifecycle machine is required")
	}
	if submissions == nil {
		return nil, fmt.Errorf("submission reader is required")
	}
	if membership == nil {
		return nil, fmt.Errorf("membership checker is required")
	}
	return &Checker{machine: machine, submissions: submissions, membership: membership}, nil
}

// Check runs the lazy lifecycle refresh on the form and decides whether the
// submission attempt is permitted at the given instant. Configuration
// problems (bad day window) surface as errors wrapping
// domain.ErrInvalidConfiguration; business outcomes surface as skips.
func (c *Checker) Check(ctx context.Context, form *domain.Form, evaluatorID, technicianID string, at time.Time) (Decision, error) {
	if form == nil {
		return Decision{}, fmt.Errorf("%w: form is required", domain.ErrValidation)
	}

	res, err := c.machine.Refresh(form, at)
	if err != nil {
		return Decision{}, err
	}

	if form.Status != domain.StatusActive {
		return Decision{Skip: domain.SkipFormNotActive, Refresh: res}, nil
	}

	inScope, err := c.membership.TechnicianInScope(ctx, form.ID, technicianID)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to check technician scope: %w", err)
	}
	if !inScope {
		return Decision{Skip: domain.SkipTechnicianNotInScope, Refresh: res}, nil
	}

	p := resolvedPeriod(form, res)

	exists, err := c.submissions.Exists(ctx, form.ID, evaluatorID, technicianID, p)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to check prior submissions: %w", err)
	}
	if exists {
		return Decision{Skip: domain.SkipAlreadySubmitted, Refresh: res}, nil
	}

	return Decision{Eligible: true, Period: p, Refresh: res}, nil
}

// resolvedPeriod attributes the attempt to a period label. Single forms use
// the fixed all-time label. An Active periodic form held open past its window
// boundary (manual mode) keeps submitting against its last stamped period.
func resolvedPeriod(form *domain.Form, res lifecycle.Resolution) string {
	if form.Kind != domain.KindPeriodic {
		return domain.SingleFormPeriod
	}
	if res.Window.IsOpen {
		return res.Window.Period
	}
	if form.CurrentPeriod != "" {
		return form.CurrentPeriod
	}
	return res.Window.Period
}
