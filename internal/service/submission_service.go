package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fieldops/evaluation-engine/internal/domain"
	"github.com/fieldops/evaluation-engine/internal/eligibility"
	"github.com/fieldops/evaluation-engine/internal/observability"
	"github.com/fieldops/evaluation-engine/internal/queue"
	"github.com/fieldops/evaluation-engine/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultMaxBatchSize = 500

// SubmissionItem is one entry of a bulk submission request.
type SubmissionItem struct {
	FormID       string
	TechnicianID string
	Answers      []domain.Answer
}

// ItemOutcome is the per-item result of processing. Exactly one of
// SubmissionID, Skip, or Err is set.
type ItemOutcome struct {
	SubmissionID string
	Skip         domain.SkipReason
	Err          error
}

// SubmissionService accepts one or many evaluation submissions, runs each
// through the eligibility pipeline, persists accepted ones, and produces the
// three-bucket batch result. Items in a batch are processed sequentially and
// in isolation: one bad item never aborts the others.
type SubmissionService struct {
	forms        repository.FormRepository
	submissions  repository.SubmissionRepository
	checker      *eligibility.Checker
	publisher    queue.Publisher
	metrics      *observability.Metrics
	logger       *zap.Logger
	maxBatchSize int
}

func NewSubmissionService(
	forms repository.FormRepository,
	submissions repository.SubmissionRepository,
	checker *eligibility.Checker,
	publisher queue.Publisher,
	metrics *observability.Metrics,
	maxBatchSize int,
	logger *zap.Logger,
) (*SubmissionService, error) {
	if forms == nil {
		return nil, fmt.Errorf("form repository is required")
	}
	if submissions == nil {
		return nil, fmt.Errorf("submission repository is required")
	}
	if checker == nil {
		return nil, fmt.Errorf("eligibility checker is required")
	}
	if maxBatchSize <= 0 {
		maxBatchSize = defaultMaxBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &SubmissionService{
		forms:        forms,
		submissions:  submissions,
		checker:      checker,
		publisher:    publisher,
		metrics:      metrics,
		logger:       logger,
		maxBatchSize: maxBatchSize,
	}, nil
}

// SubmitOne processes a single submission item at the given instant.
func (s *SubmissionService) SubmitOne(ctx context.Context, evaluatorID string, item SubmissionItem, now time.Time) (ItemOutcome, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(evaluatorID) == "" {
		return ItemOutcome{}, fmt.Errorf("%w: evaluatorId is required", domain.ErrValidation)
	}
	return s.processItem(ctx, strings.TrimSpace(evaluatorID), item, now)
}

// SubmitBatch processes the items sequentially, accumulating the three-bucket
// result. Input order is preserved within each bucket. Cancellation is
// honored between items, never mid-item: a cancelled batch returns the
// partial result accumulated so far together with the context error.
// Only infrastructure failures abort the batch; every domain-level outcome
// lands in a bucket.
func (s *SubmissionService) SubmitBatch(ctx context.Context, evaluatorID string, items []SubmissionItem, now time.Time) (*domain.BatchResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	evaluatorID = strings.TrimSpace(evaluatorID)
	if evaluatorID == "" {
		return nil, fmt.Errorf("%w: evaluatorId is required", domain.ErrValidation)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: batch must include at least one item", domain.ErrValidation)
	}
	if len(items) > s.maxBatchSize {
		return nil, fmt.Errorf("%w: batch size exceeds %d", domain.ErrValidation, s.maxBatchSize)
	}

	logger := observability.WithContextLogger(s.logger, ctx)

	result := &domain.BatchResult{}
	for i := range items {
		if err := ctx.Err(); err != nil {
			logger.Warn("batch cancelled, returning partial result",
				zap.String("evaluatorId", evaluatorID),
				zap.Int("processed", result.Total()),
				zap.Int("total", len(items)),
			)
			return result, err
		}

		item := items[i]
		outcome, err := s.processItem(ctx, evaluatorID, item, now)
		if err != nil {
			return result, err
		}

		switch {
		case outcome.Err != nil:
			result.AddError(item.FormID, item.TechnicianID, outcome.Err)
			s.metrics.IncSubmissionOutcome("error", errorReason(outcome.Err))
		case outcome.Skip != "":
			result.AddSkip(item.FormID, item.TechnicianID, outcome.Skip)
			s.metrics.IncSubmissionOutcome("skipped", strings.ToLower(outcome.Skip.String()))
		default:
			result.AddSuccess(item.FormID, item.TechnicianID, outcome.SubmissionID)
			s.metrics.IncSubmissionOutcome("success", "accepted")
		}
	}

	s.metrics.ObserveBatchSize(len(items))
	logger.Info("batch processed",
		zap.String("evaluatorId", evaluatorID),
		zap.Int("successes", len(result.Successes)),
		zap.Int("skipped", len(result.Skipped)),
		zap.Int("errors", len(result.Errors)),
	)

	return result, nil
}

// processItem runs the full pipeline for one item. The returned error is
// fatal to the whole batch; per-item problems come back inside the outcome.
func (s *SubmissionService) processItem(ctx context.Context, evaluatorID string, item SubmissionItem, now time.Time) (ItemOutcome, error) {
	if strings.TrimSpace(item.FormID) == "" {
		return ItemOutcome{Err: fmt.Errorf("%w: formId is required", domain.ErrValidation)}, nil
	}
	if strings.TrimSpace(item.TechnicianID) == "" {
		return ItemOutcome{Err: fmt.Errorf("%w: technicianId is required", domain.ErrValidation)}, nil
	}

	form, err := s.forms.GetByID(ctx, item.FormID)
	if errors.Is(err, domain.ErrNotFound) {
		return ItemOutcome{Err: fmt.Errorf("%w: form %s", domain.ErrNotFound, item.FormID)}, nil
	}
	if err != nil {
		return ItemOutcome{}, fmt.Errorf("failed to load form %s: %w", item.FormID, err)
	}

	if err := validateAnswers(form, item.Answers); err != nil {
		return ItemOutcome{Err: err}, nil
	}

	decision, err := s.checker.Check(ctx, form, evaluatorID, item.TechnicianID, now)
	if errors.Is(err, domain.ErrInvalidConfiguration) || errors.Is(err, domain.ErrValidation) {
		return ItemOutcome{Err: err}, nil
	}
	if err != nil {
		return ItemOutcome{}, err
	}

	// The lazy refresh may have opened or closed the form; persist that
	// whatever the decision. Best effort: a miss is redone on next access.
	if decision.Refresh.Changed {
		if err := s.forms.UpdateLifecycle(ctx, form.ID, form.Status, form.CurrentPeriod, form.PeriodStart, form.PeriodEnd); err != nil {
			s.logger.Error("failed to persist lifecycle refresh",
				zap.String("formId", form.ID),
				zap.Error(err),
			)
		} else {
			s.metrics.IncLifecycleTransition(form.Status.String())
		}
	}

	if !decision.Eligible {
		return ItemOutcome{Skip: decision.Skip}, nil
	}

	submission := &domain.EvaluationSubmission{
		ID:           uuid.NewString(),
		FormID:       form.ID,
		EvaluatorID:  evaluatorID,
		TechnicianID: item.TechnicianID,
		Period:       decision.Period,
		Answers:      item.Answers,
		SubmittedAt:  now,
	}
	if err := submission.Validate(); err != nil {
		return ItemOutcome{Err: err}, nil
	}

	if err := s.submissions.Create(ctx, submission); err != nil {
		// A concurrent duplicate lost the race against the unique index.
		// That is the idempotency invariant working, not an error.
		if isUniqueViolationError(err) {
			s.logger.Info("duplicate submission resolved by unique constraint",
				zap.String("formId", form.ID),
				zap.String("evaluatorId", evaluatorID),
				zap.String("technicianId", item.TechnicianID),
				zap.String("period", decision.Period),
			)
			return ItemOutcome{Skip: domain.SkipAlreadySubmitted}, nil
		}
		return ItemOutcome{Err: fmt.Errorf("failed to persist submission: %w", err)}, nil
	}

	s.publishAccepted(ctx, submission)

	return ItemOutcome{SubmissionID: submission.ID}, nil
}

// publishAccepted emits the downstream reporting event. The submission is
// already durable, so a publish failure is logged and never fails the item.
func (s *SubmissionService) publishAccepted(ctx context.Context, submission *domain.EvaluationSubmission) {
	if s.publisher == nil {
		return
	}

	msg := queue.SubmissionAcceptedMessage{
		SubmissionID: submission.ID,
		FormID:       submission.FormID,
		EvaluatorID:  submission.EvaluatorID,
		TechnicianID: submission.TechnicianID,
		Period:       submission.Period,
		SubmittedAt:  submission.SubmittedAt,
	}
	if err := s.publisher.Publish(ctx, queue.AcceptedQueueName, msg); err != nil {
		s.logger.Warn("failed to publish accepted submission event",
			zap.String("submissionId", submission.ID),
			zap.Error(err),
		)
	}
}

// validateAnswers checks structure only: every answered question must belong
// to the form and every required question must be answered. Value semantics
// are a rendering concern and stay out of the engine.
func validateAnswers(form *domain.Form, answers []domain.Answer) error {
	if len(answers) == 0 {
		return fmt.Errorf("%w: answers are required", domain.ErrValidation)
	}

	seen := make(map[string]bool, len(answers))
	for i, a := range answers {
		id := strings.TrimSpace(a.QuestionID)
		if id == "" {
			return fmt.Errorf("%w: answers[%d].questionId is required", domain.ErrValidation, i)
		}
		if form.Question(id) == nil {
			return fmt.Errorf("%w: question %s does not belong to form %s", domain.ErrValidation, id, form.ID)
		}
		if seen[id] {
			return fmt.Errorf("%w: duplicate answer for question %s", domain.ErrValidation, id)
		}
		seen[id] = true
	}

	for _, q := range form.Questions {
		if q.Required && !seen[q.ID] {
			return fmt.Errorf("%w: required question %s is not answered", domain.ErrValidation, q.ID)
		}
	}

	return nil
}

func errorReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return "form_not_found"
	case errors.Is(err, domain.ErrInvalidConfiguration):
		return "invalid_configuration"
	case errors.Is(err, domain.ErrValidation):
		return "invalid_answers"
	default:
		return "persistence"
	}
}

func isUniqueViolationError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint")
}
