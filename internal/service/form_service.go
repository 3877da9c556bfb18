package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fieldops/evaluation-engine/internal/domain"
	"github.com/fieldops/evaluation-engine/internal/eligibility"
	"github.com/fieldops/evaluation-engine/internal/lifecycle"
	"github.com/fieldops/evaluation-engine/internal/observability"
	"github.com/fieldops/evaluation-engine/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LifecycleView is the lifecycle state of a form as of a given instant,
// consumed by dashboards.
type LifecycleView struct {
	FormID        string
	Status        domain.FormStatus
	CurrentPeriod string
	PeriodStart   *time.Time
	PeriodEnd     *time.Time
	IsOpen        bool
}

// EvaluatorView carries the per-evaluator convenience flags. They are
// derived on read from lifecycle and eligibility, never stored, so there is
// a single source of truth.
type EvaluatorView struct {
	FormID           string
	TechnicianID     string
	Period           string
	AnsweredInPeriod bool
	CanAnswer        bool
}

// FormService owns form reads, the lazy lifecycle refresh on read, and
// manual lifecycle transitions.
type FormService struct {
	forms       repository.FormRepository
	submissions repository.SubmissionRepository
	machine     *lifecycle.Machine
	checker     *eligibility.Checker
	metrics     *observability.Metrics
	logger      *zap.Logger
}

func NewFormService(
	forms repository.FormRepository,
	submissions repository.SubmissionRepository,
	machine *lifecycle.Machine,
	checker *eligibility.Checker,
	metrics *observability.Metrics,
	logger *zap.Logger,
) (*FormService, error) {
	if forms == nil {
		return nil, fmt.Errorf("form repository is required")
	}
	if submissions == nil {
		return nil, fmt.Errorf("submission repository is required")
	}
	if machine == nil {
		return nil, fmt.Errorf("lifecycle machine is required")
	}
	if checker == nil {
		return nil, fmt.Errorf("eligibility checker is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &FormService{
		forms:       forms,
		submissions: submissions,
		machine:     machine,
		checker:     checker,
		metrics:     metrics,
		logger:      logger,
	}, nil
}

// Create registers a new form and its unit targeting. Forms are created in
// Draft; activation happens either manually or through the lazy refresh once
// autoActivate is set.
func (s *FormService) Create(ctx context.Context, form *domain.Form, unitIDs []string) (*domain.Form, error) {
	if form == nil {
		return nil, fmt.Errorf("%w: form is required", domain.ErrValidation)
	}

	form.ID = strings.TrimSpace(form.ID)
	if form.ID == "" {
		form.ID = uuid.NewString()
	}
	form.Status = domain.StatusDraft
	form.CurrentPeriod = ""
	form.PeriodStart = nil
	form.PeriodEnd = nil
	for i := range form.Questions {
		if strings.TrimSpace(form.Questions[i].ID) == "" {
			form.Questions[i].ID = uuid.NewString()
		}
		form.Questions[i].FormID = form.ID
	}

	if err := form.Validate(); err != nil {
		return nil, err
	}

	if err := s.forms.Create(ctx, form); err != nil {
		return nil, err
	}
	if err := s.forms.AssignUnits(ctx, form.ID, unitIDs); err != nil {
		return nil, fmt.Errorf("failed to assign units to form %s: %w", form.ID, err)
	}

	return form, nil
}

// GetByID returns the form after running the lazy lifecycle refresh, so
// every read consumed by reporting sees current lifecycle fields.
func (s *FormService) GetByID(ctx context.Context, id string, asOf time.Time) (*domain.Form, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: form id is required", domain.ErrValidation)
	}

	form, err := s.forms.GetByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return nil, err
	}

	if _, err := s.refresh(ctx, form, asOf); err != nil {
		return nil, err
	}
	return form, nil
}

// Lifecycle resolves the form's lifecycle state as of the given instant.
func (s *FormService) Lifecycle(ctx context.Context, id string, asOf time.Time) (*LifecycleView, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: form id is required", domain.ErrValidation)
	}

	form, err := s.forms.GetByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return nil, err
	}

	res, err := s.refresh(ctx, form, asOf)
	if err != nil {
		return nil, err
	}

	return &LifecycleView{
		FormID:        form.ID,
		Status:        form.Status,
		CurrentPeriod: form.CurrentPeriod,
		PeriodStart:   form.PeriodStart,
		PeriodEnd:     form.PeriodEnd,
		IsOpen:        res.Window.IsOpen,
	}, nil
}

// EvaluatorState derives the answeredInPeriod / canAnswer flags for one
// (evaluator, technician) pair on read.
func (s *FormService) EvaluatorState(ctx context.Context, formID, evaluatorID, technicianID string, asOf time.Time) (*EvaluatorView, error) {
	form, err := s.forms.GetByID(ctx, strings.TrimSpace(formID))
	if err != nil {
		return nil, err
	}

	decision, err := s.checker.Check(ctx, form, evaluatorID, technicianID, asOf)
	if err != nil {
		return nil, err
	}
	s.persistRefresh(ctx, form, decision.Refresh)

	view := &EvaluatorView{
		FormID:       form.ID,
		TechnicianID: technicianID,
		Period:       decision.Period,
		CanAnswer:    decision.Eligible,
	}
	if decision.Skip == domain.SkipAlreadySubmitted {
		view.AnsweredInPeriod = true
	}
	if view.Period == "" {
		view.Period = form.CurrentPeriod
	}
	return view, nil
}

// Activate applies a manual open. Draft->Active and Closed->Active are the
// allowed entries.
func (s *FormService) Activate(ctx context.Context, id string, now time.Time) (*domain.Form, error) {
	return s.transition(ctx, id, domain.StatusActive, now)
}

// Close applies a manual close. Closed is terminal until the next window
// opens (periodic) or a manual re-activation.
func (s *FormService) Close(ctx context.Context, id string, now time.Time) (*domain.Form, error) {
	return s.transition(ctx, id, domain.StatusClosed, now)
}

func (s *FormService) transition(ctx context.Context, id string, target domain.FormStatus, now time.Time) (*domain.Form, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: form id is required", domain.ErrValidation)
	}

	form, err := s.forms.GetByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return nil, err
	}

	if err := s.machine.Transition(form, target, now); err != nil {
		return nil, err
	}

	if err := s.forms.UpdateLifecycle(ctx, form.ID, form.Status, form.CurrentPeriod, form.PeriodStart, form.PeriodEnd); err != nil {
		return nil, fmt.Errorf("failed to persist transition for form %s: %w", form.ID, err)
	}
	s.metrics.IncLifecycleTransition(form.Status.String())

	s.logger.Info("manual lifecycle transition",
		zap.String("formId", form.ID),
		zap.String("status", form.Status.String()),
		zap.String("period", form.CurrentPeriod),
	)

	return form, nil
}

// List returns forms for dashboards without running refreshes; listings
// tolerate bounded staleness, individual reads do not.
func (s *FormService) List(ctx context.Context, params repository.FormListParams) ([]domain.Form, int64, error) {
	return s.forms.List(ctx, params)
}

// SubmissionCount reports accepted submissions for a form and period,
// feeding downstream report aggregation.
func (s *FormService) SubmissionCount(ctx context.Context, formID, period string) (int64, error) {
	if strings.TrimSpace(formID) == "" {
		return 0, fmt.Errorf("%w: form id is required", domain.ErrValidation)
	}
	return s.submissions.CountByFormPeriod(ctx, strings.TrimSpace(formID), strings.TrimSpace(period))
}

func (s *FormService) refresh(ctx context.Context, form *domain.Form, asOf time.Time) (lifecycle.Resolution, error) {
	res, err := s.machine.Refresh(form, asOf)
	if err != nil {
		return lifecycle.Resolution{}, err
	}
	s.persistRefresh(ctx, form, res)
	return res, nil
}

func (s *FormService) persistRefresh(ctx context.Context, form *domain.Form, res lifecycle.Resolution) {
	if !res.Changed {
		return
	}
	if err := s.forms.UpdateLifecycle(ctx, form.ID, form.Status, form.CurrentPeriod, form.PeriodStart, form.PeriodEnd); err != nil {
		s.logger.Error("failed to persist lifecycle refresh",
			zap.String("formId", form.ID),
			zap.Error(err),
		)
		return
	}
	s.metrics.IncLifecycleTransition(form.Status.String())
}
