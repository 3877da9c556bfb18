package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/fieldops/evaluation-engine/internal/domain"
	"github.com/fieldops/evaluation-engine/internal/eligibility"
	"github.com/fieldops/evaluation-engine/internal/lifecycle"
	"github.com/fieldops/evaluation-engine/internal/queue"
	"github.com/fieldops/evaluation-engine/internal/repository"
)

func TestSubmitBatch_AllAccepted(t *testing.T) {
	t.Parallel()

	env := newSubmissionTestEnv(t)
	env.forms.forms["f-1"] = activePeriodicForm("f-1")

	items := []SubmissionItem{
		{FormID: "f-1", TechnicianID: "t-1", Answers: validAnswers()},
		{FormID: "f-1", TechnicianID: "t-2", Answers: validAnswers()},
	}

	result, err := env.service.SubmitBatch(context.Background(), "eval-1", items, midWindow())
	if err != nil {
		t.Fatalf("SubmitBatch() error = %v", err)
	}
	if len(result.Successes) != 2 || len(result.Skipped) != 0 || len(result.Errors) != 0 {
		t.Fatalf("buckets = %d/%d/%d, want 2/0/0", len(result.Successes), len(result.Skipped), len(result.Errors))
	}
	if len(env.submissions.created) != 2 {
		t.Fatalf("persisted = %d, want 2", len(env.submissions.created))
	}
	for _, s := range env.submissions.created {
		if s.Period != "2024-03" {
			t.Fatalf("period = %q, want 2024-03", s.Period)
		}
		if s.EvaluatorID != "eval-1" {
			t.Fatalf("evaluatorId = %q, want eval-1", s.EvaluatorID)
		}
	}
	if len(env.publisher.published) != 2 {
		t.Fatalf("published = %d, want 2", len(env.publisher.published))
	}
}

func TestSubmitBatch_ItemIsolation(t *testing.T) {
	t.Parallel()

	env := newSubmissionTestEnv(t)
	env.forms.forms["f-1"] = activePeriodicForm("f-1")

	items := []SubmissionItem{
		{FormID: "f-1", TechnicianID: "t-1", Answers: validAnswers()},
		{FormID: "f-1", TechnicianID: "t-2", Answers: validAnswers()},
		{FormID: "f-1", TechnicianID: "t-3", Answers: []domain.Answer{{QuestionID: "q-unknown", Value: "1"}}},
		{FormID: "f-1", TechnicianID: "t-4", Answers: validAnswers()},
		{FormID: "f-1", TechnicianID: "t-5", Answers: validAnswers()},
	}

	result, err := env.service.SubmitBatch(context.Background(), "eval-1", items, midWindow())
	if err != nil {
		t.Fatalf("SubmitBatch() error = %v", err)
	}
	if len(result.Successes) != 4 {
		t.Fatalf("successes = %d, want 4", len(result.Successes))
	}
	if len(result.Errors) != 1 {
		t.Fatalf("errors = %d, want 1", len(result.Errors))
	}
	if result.Errors[0].TechnicianID != "t-3" {
		t.Fatalf("error technician = %q, want t-3", result.Errors[0].TechnicianID)
	}
	if !strings.Contains(result.Errors[0].Err, "q-unknown") {
		t.Fatalf("error message %q should name the unknown question", result.Errors[0].Err)
	}
	if len(env.submissions.created) != 4 {
		t.Fatalf("persisted = %d, want 4 despite item 3 failing", len(env.submissions.created))
	}
}

func TestSubmitBatch_DuplicateSkipped(t *testing.T) {
	t.Parallel()

	env := newSubmissionTestEnv(t)
	env.forms.forms["f-1"] = activePeriodicForm("f-1")
	env.submissions.existsFn = func(ctx context.Context, formID, evaluatorID, technicianID, period string) (bool, error) {
		return technicianID == "t-1", nil
	}

	items := []SubmissionItem{
		{FormID: "f-1", TechnicianID: "t-1", Answers: validAnswers()},
		{FormID: "f-1", TechnicianID: "t-2", Answers: validAnswers()},
	}

	result, err := env.service.SubmitBatch(context.Background(), "eval-1", items, midWindow())
	if err != nil {
		t.Fatalf("SubmitBatch() error = %v", err)
	}
	if len(result.Skipped) != 1 || result.Skipped[0].Reason != domain.SkipAlreadySubmitted {
		t.Fatalf("skipped = %+v, want one ALREADY_SUBMITTED", result.Skipped)
	}
	if len(result.Successes) != 1 || result.Successes[0].TechnicianID != "t-2" {
		t.Fatalf("successes = %+v, want only t-2", result.Successes)
	}
}

func TestSubmitBatch_ConcurrentDuplicateReclassified(t *testing.T) {
	t.Parallel()

	env := newSubmissionTestEnv(t)
	env.forms.forms["f-1"] = activePeriodicForm("f-1")
	// Exists sees nothing, insert loses the race against the unique index.
	env.submissions.createFn = func(ctx context.Context, s *domain.EvaluationSubmission) error {
		return errors.New(`ERROR: duplicate key value violates unique constraint "idx_submissions_unique_tuple"`)
	}

	result, err := env.service.SubmitBatch(context.Background(), "eval-1", []SubmissionItem{
		{FormID: "f-1", TechnicianID: "t-1", Answers: validAnswers()},
	}, midWindow())
	if err != nil {
		t.Fatalf("SubmitBatch() error = %v", err)
	}
	if len(result.Skipped) != 1 || result.Skipped[0].Reason != domain.SkipAlreadySubmitted {
		t.Fatalf("skipped = %+v, want ALREADY_SUBMITTED from unique violation", result.Skipped)
	}
	if len(result.Errors) != 0 {
		t.Fatalf("errors = %+v, want none", result.Errors)
	}
}

func TestSubmitBatch_FormNotActiveSkipped(t *testing.T) {
	t.Parallel()

	env := newSubmissionTestEnv(t)
	form := activePeriodicForm("f-1")
	form.Status = domain.StatusDraft
	form.AutoActivate = false
	env.forms.forms["f-1"] = form

	result, err := env.service.SubmitBatch(context.Background(), "eval-1", []SubmissionItem{
		{FormID: "f-1", TechnicianID: "t-1", Answers: validAnswers()},
	}, midWindow())
	if err != nil {
		t.Fatalf("SubmitBatch() error = %v", err)
	}
	if len(result.Skipped) != 1 || result.Skipped[0].Reason != domain.SkipFormNotActive {
		t.Fatalf("skipped = %+v, want FORM_NOT_ACTIVE", result.Skipped)
	}
}

func TestSubmitBatch_AutoActivateOpensAndPersists(t *testing.T) {
	t.Parallel()

	env := newSubmissionTestEnv(t)
	form := activePeriodicForm("f-1")
	form.Status = domain.StatusDraft
	form.AutoActivate = true
	env.forms.forms["f-1"] = form

	result, err := env.service.SubmitBatch(context.Background(), "eval-1", []SubmissionItem{
		{FormID: "f-1", TechnicianID: "t-1", Answers: validAnswers()},
	}, midWindow())
	if err != nil {
		t.Fatalf("SubmitBatch() error = %v", err)
	}
	if len(result.Successes) != 1 {
		t.Fatalf("successes = %d, want 1 after lazy activation", len(result.Successes))
	}
	if len(env.forms.lifecycleUpdates) != 1 {
		t.Fatalf("lifecycle updates = %d, want 1", len(env.forms.lifecycleUpdates))
	}
	if env.forms.lifecycleUpdates[0].status != domain.StatusActive {
		t.Fatalf("persisted status = %s, want ACTIVE", env.forms.lifecycleUpdates[0].status)
	}
}

func TestSubmitBatch_TechnicianOutOfScope(t *testing.T) {
	t.Parallel()

	env := newSubmissionTestEnv(t)
	env.forms.forms["f-1"] = activePeriodicForm("f-1")
	env.membership.inScopeFn = func(ctx context.Context, formID, technicianID string) (bool, error) {
		return technicianID != "t-outsider", nil
	}

	result, err := env.service.SubmitBatch(context.Background(), "eval-1", []SubmissionItem{
		{FormID: "f-1", TechnicianID: "t-outsider", Answers: validAnswers()},
	}, midWindow())
	if err != nil {
		t.Fatalf("SubmitBatch() error = %v", err)
	}
	if len(result.Skipped) != 1 || result.Skipped[0].Reason != domain.SkipTechnicianNotInScope {
		t.Fatalf("skipped = %+v, want TECHNICIAN_NOT_IN_SCOPE", result.Skipped)
	}
}

func TestSubmitBatch_SingleFormPeriod(t *testing.T) {
	t.Parallel()

	env := newSubmissionTestEnv(t)
	form := activePeriodicForm("f-1")
	form.Kind = domain.KindSingle
	form.StartDay = 0
	form.EndDay = 0
	env.forms.forms["f-1"] = form

	result, err := env.service.SubmitBatch(context.Background(), "eval-1", []SubmissionItem{
		{FormID: "f-1", TechnicianID: "t-1", Answers: validAnswers()},
	}, midWindow())
	if err != nil {
		t.Fatalf("SubmitBatch() error = %v", err)
	}
	if len(result.Successes) != 1 {
		t.Fatalf("successes = %d, want 1", len(result.Successes))
	}
	if got := env.submissions.created[0].Period; got != domain.SingleFormPeriod {
		t.Fatalf("period = %q, want %q", got, domain.SingleFormPeriod)
	}
}

func TestSubmitBatch_FormNotFoundGoesToErrors(t *testing.T) {
	t.Parallel()

	env := newSubmissionTestEnv(t)
	env.forms.forms["f-1"] = activePeriodicForm("f-1")

	result, err := env.service.SubmitBatch(context.Background(), "eval-1", []SubmissionItem{
		{FormID: "f-missing", TechnicianID: "t-1", Answers: validAnswers()},
		{FormID: "f-1", TechnicianID: "t-1", Answers: validAnswers()},
	}, midWindow())
	if err != nil {
		t.Fatalf("SubmitBatch() error = %v", err)
	}
	if len(result.Errors) != 1 || result.Errors[0].FormID != "f-missing" {
		t.Fatalf("errors = %+v, want one entry for f-missing", result.Errors)
	}
	if len(result.Successes) != 1 {
		t.Fatalf("successes = %d, want 1, batch continues past the bad item", len(result.Successes))
	}
}

func TestSubmitBatch_StoreFailureAbortsBatch(t *testing.T) {
	t.Parallel()

	env := newSubmissionTestEnv(t)
	env.forms.forms["f-1"] = activePeriodicForm("f-1")
	calls := 0
	env.forms.getByIDFn = func(ctx context.Context, id string) (*domain.Form, error) {
		calls++
		if calls == 2 {
			return nil, errors.New("connection refused")
		}
		f := activePeriodicForm("f-1")
		return &f, nil
	}

	result, err := env.service.SubmitBatch(context.Background(), "eval-1", []SubmissionItem{
		{FormID: "f-1", TechnicianID: "t-1", Answers: validAnswers()},
		{FormID: "f-1", TechnicianID: "t-2", Answers: validAnswers()},
		{FormID: "f-1", TechnicianID: "t-3", Answers: validAnswers()},
	}, midWindow())
	if err == nil {
		t.Fatal("expected fatal error from store failure")
	}
	if len(result.Successes) != 1 {
		t.Fatalf("successes = %d, want the 1 processed before the failure", len(result.Successes))
	}
}

func TestSubmitBatch_CancellationReturnsPartialResult(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	env := newSubmissionTestEnv(t)
	env.forms.forms["f-1"] = activePeriodicForm("f-1")
	env.submissions.createFn = func(_ context.Context, s *domain.EvaluationSubmission) error {
		cancel()
		return nil
	}

	result, err := env.service.SubmitBatch(ctx, "eval-1", []SubmissionItem{
		{FormID: "f-1", TechnicianID: "t-1", Answers: validAnswers()},
		{FormID: "f-1", TechnicianID: "t-2", Answers: validAnswers()},
	}, midWindow())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(result.Successes) != 1 {
		t.Fatalf("successes = %d, want the 1 completed before cancellation", len(result.Successes))
	}
}

func TestSubmitBatch_PublishFailureDoesNotFailItem(t *testing.T) {
	t.Parallel()

	env := newSubmissionTestEnv(t)
	env.forms.forms["f-1"] = activePeriodicForm("f-1")
	env.publisher.publishFn = func(ctx context.Context, queueName string, msg queue.SubmissionAcceptedMessage) error {
		return errors.New("broker unavailable")
	}

	result, err := env.service.SubmitBatch(context.Background(), "eval-1", []SubmissionItem{
		{FormID: "f-1", TechnicianID: "t-1", Answers: validAnswers()},
	}, midWindow())
	if err != nil {
		t.Fatalf("SubmitBatch() error = %v", err)
	}
	if len(result.Successes) != 1 {
		t.Fatalf("successes = %d, want 1, event publishing is best effort", len(result.Successes))
	}
}

func TestSubmitBatch_InputValidation(t *testing.T) {
	t.Parallel()

	env := newSubmissionTestEnv(t)

	if _, err := env.service.SubmitBatch(context.Background(), "", []SubmissionItem{{}}, midWindow()); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("missing evaluator err = %v, want ErrValidation", err)
	}
	if _, err := env.service.SubmitBatch(context.Background(), "eval-1", nil, midWindow()); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("empty batch err = %v, want ErrValidation", err)
	}

	oversized := make([]SubmissionItem, 3)
	if _, err := env.capped.SubmitBatch(context.Background(), "eval-1", oversized, midWindow()); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("oversized batch err = %v, want ErrValidation", err)
	}
}

func TestSubmitBatch_RequiredQuestionMissing(t *testing.T) {
	t.Parallel()

	env := newSubmissionTestEnv(t)
	env.forms.forms["f-1"] = activePeriodicForm("f-1")

	result, err := env.service.SubmitBatch(context.Background(), "eval-1", []SubmissionItem{
		{FormID: "f-1", TechnicianID: "t-1", Answers: []domain.Answer{{QuestionID: "q-2", Value: "ok"}}},
	}, midWindow())
	if err != nil {
		t.Fatalf("SubmitBatch() error = %v", err)
	}
	if len(result.Errors) != 1 {
		t.Fatalf("errors = %+v, want 1 for unanswered required question", result.Errors)
	}
}

func TestSubmitOne(t *testing.T) {
	t.Parallel()

	env := newSubmissionTestEnv(t)
	env.forms.forms["f-1"] = activePeriodicForm("f-1")

	outcome, err := env.service.SubmitOne(context.Background(), "eval-1", SubmissionItem{
		FormID:       "f-1",
		TechnicianID: "t-1",
		Answers:      validAnswers(),
	}, midWindow())
	if err != nil {
		t.Fatalf("SubmitOne() error = %v", err)
	}
	if outcome.SubmissionID == "" {
		t.Fatal("expected a submission id")
	}

	outcome, err = env.service.SubmitOne(context.Background(), "eval-1", SubmissionItem{
		FormID:       "f-missing",
		TechnicianID: "t-1",
		Answers:      validAnswers(),
	}, midWindow())
	if err != nil {
		t.Fatalf("SubmitOne() error = %v", err)
	}
	if !errors.Is(outcome.Err, domain.ErrNotFound) {
		t.Fatalf("outcome.Err = %v, want ErrNotFound", outcome.Err)
	}
}

type submissionTestEnv struct {
	forms       *fakeFormRepo
	submissions *fakeSubmissionRepo
	membership  *fakeMembership
	publisher   *fakePublisher
	service     *SubmissionService
	// capped has maxBatchSize 2 for the oversize test.
	capped *SubmissionService
}

func newSubmissionTestEnv(t *testing.T) *submissionTestEnv {
	t.Helper()

	forms := &fakeFormRepo{forms: map[string]domain.Form{}}
	submissions := &fakeSubmissionRepo{}
	membership := &fakeMembership{}
	publisher := &fakePublisher{}

	machine := lifecycle.New(lifecycle.Config{ManualFormsStayActive: true})
	checker, err := eligibility.NewChecker(machine, submissions, membership)
	if err != nil {
		t.Fatalf("NewChecker() error = %v", err)
	}

	svc, err := NewSubmissionService(forms, submissions, checker, publisher, nil, 0, zap.NewNop())
	if err != nil {
		t.Fatalf("NewSubmissionService() error = %v", err)
	}
	capped, err := NewSubmissionService(forms, submissions, checker, publisher, nil, 2, zap.NewNop())
	if err != nil {
		t.Fatalf("NewSubmissionService() error = %v", err)
	}

	return &submissionTestEnv{
		forms:       forms,
		submissions: submissions,
		membership:  membership,
		publisher:   publisher,
		service:     svc,
		capped:      capped,
	}
}

// activePeriodicForm is open 2024-03-05 through 2024-03-20 inclusive.
func activePeriodicForm(id string) domain.Form {
	return domain.Form{
		ID:       id,
		Title:    "Monthly technician review",
		Kind:     domain.KindPeriodic,
		Status:   domain.StatusActive,
		StartDay: 5,
		EndDay:   20,
		Questions: []domain.Question{
			{ID: "q-1", FormID: id, Label: "Quality of work", Required: true, Sequence: 1},
			{ID: "q-2", FormID: id, Label: "Notes", Required: false, Sequence: 2},
		},
	}
}

func midWindow() time.Time {
	return time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
}

func validAnswers() []domain.Answer {
	return []domain.Answer{{QuestionID: "q-1", Value: "4"}}
}

type lifecycleUpdate struct {
	formID string
	status domain.FormStatus
	period string
}

type fakeFormRepo struct {
	forms            map[string]domain.Form
	getByIDFn        func(ctx context.Context, id string) (*domain.Form, error)
	lifecycleUpdates []lifecycleUpdate
	assignedUnits    map[string][]string
}

func (f *fakeFormRepo) Create(ctx context.Context, form *domain.Form) error {
	f.forms[form.ID] = *form
	return nil
}

func (f *fakeFormRepo) GetByID(ctx context.Context, id string) (*domain.Form, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	form, ok := f.forms[id]
	if !ok {
		return nil, fmt.Errorf("%w: form %s", domain.ErrNotFound, id)
	}
	copied := form
	return &copied, nil
}

func (f *fakeFormRepo) List(ctx context.Context, params repository.FormListParams) ([]domain.Form, int64, error) {
	forms := make([]domain.Form, 0, len(f.forms))
	for _, form := range f.forms {
		forms = append(forms, form)
	}
	return forms, int64(len(forms)), nil
}

func (f *fakeFormRepo) UpdateLifecycle(ctx context.Context, id string, status domain.FormStatus, currentPeriod string, periodStart, periodEnd *time.Time) error {
	form, ok := f.forms[id]
	if !ok {
		return fmt.Errorf("%w: form %s", domain.ErrNotFound, id)
	}
	form.Status = status
	form.CurrentPeriod = currentPeriod
	form.PeriodStart = periodStart
	form.PeriodEnd = periodEnd
	f.forms[id] = form
	f.lifecycleUpdates = append(f.lifecycleUpdates, lifecycleUpdate{formID: id, status: status, period: currentPeriod})
	return nil
}

func (f *fakeFormRepo) AssignUnits(ctx context.Context, formID string, unitIDs []string) error {
	if f.assignedUnits == nil {
		f.assignedUnits = map[string][]string{}
	}
	f.assignedUnits[formID] = unitIDs
	return nil
}

type fakeSubmissionRepo struct {
	created  []domain.EvaluationSubmission
	createFn func(ctx context.Context, s *domain.EvaluationSubmission) error
	existsFn func(ctx context.Context, formID, evaluatorID, technicianID, period string) (bool, error)
}

func (f *fakeSubmissionRepo) Create(ctx context.Context, s *domain.EvaluationSubmission) error {
	if f.createFn != nil {
		if err := f.createFn(ctx, s); err != nil {
			return err
		}
	}
	f.created = append(f.created, *s)
	return nil
}

func (f *fakeSubmissionRepo) Exists(ctx context.Context, formID, evaluatorID, technicianID, period string) (bool, error) {
	if f.existsFn != nil {
		return f.existsFn(ctx, formID, evaluatorID, technicianID, period)
	}
	for _, s := range f.created {
		if s.FormID == formID && s.EvaluatorID == evaluatorID && s.TechnicianID == technicianID && s.Period == period {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeSubmissionRepo) GetByID(ctx context.Context, id string) (*domain.EvaluationSubmission, error) {
	for _, s := range f.created {
		if s.ID == id {
			copied := s
			return &copied, nil
		}
	}
	return nil, fmt.Errorf("%w: submission %s", domain.ErrNotFound, id)
}

func (f *fakeSubmissionRepo) ListByFormPeriod(ctx context.Context, formID, period string) ([]domain.EvaluationSubmission, error) {
	var out []domain.EvaluationSubmission
	for _, s := range f.created {
		if s.FormID == formID && s.Period == period {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeSubmissionRepo) CountByFormPeriod(ctx context.Context, formID, period string) (int64, error) {
	list, err := f.ListByFormPeriod(ctx, formID, period)
	if err != nil {
		return 0, err
	}
	return int64(len(list)), nil
}

type fakeMembership struct {
	inScopeFn func(ctx context.Context, formID, technicianID string) (bool, error)
}

func (f *fakeMembership) TechnicianInScope(ctx context.Context, formID, technicianID string) (bool, error) {
	if f.inScopeFn != nil {
		return f.inScopeFn(ctx, formID, technicianID)
	}
	return true, nil
}

type fakePublisher struct {
	published []queue.SubmissionAcceptedMessage
	publishFn func(ctx context.Context, queueName string, msg queue.SubmissionAcceptedMessage) error
}

func (f *fakePublisher) Publish(ctx context.Context, queueName string, msg queue.SubmissionAcceptedMessage) error {
	if f.publishFn != nil {
		return f.publishFn(ctx, queueName, msg)
	}
	f.published = append(f.published, msg)
	return nil
}

func (f *fakePublisher) Close() error { return nil }
