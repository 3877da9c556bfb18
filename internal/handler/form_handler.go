package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/fieldops/evaluation-engine/internal/domain"
	"github.com/fieldops/evaluation-engine/internal/repository"
	"github.com/fieldops/evaluation-engine/internal/service"
)

const (
	defaultPage     = 1
	defaultPageSize = 50
	maxPageSize     = 100
)

type FormLifecycleService interface {
	Create(ctx context.Context, form *domain.Form, unitIDs []string) (*domain.Form, error)
	GetByID(ctx context.Context, id string, asOf time.Time) (*domain.Form, error)
	Lifecycle(ctx context.Context, id string, asOf time.Time) (*service.LifecycleView, error)
	EvaluatorState(ctx context.Context, formID, evaluatorID, technicianID string, asOf time.Time) (*service.EvaluatorView, error)
	Activate(ctx context.Context, id string, now time.Time) (*domain.Form, error)
	Close(ctx context.Context, id string, now time.Time) (*domain.Form, error)
	List(ctx context.Context, params repository.FormListParams) ([]domain.Form, int64, error)
	SubmissionCount(ctx context.Context, formID, period string) (int64, error)
}

type FormHandler struct {
	service FormLifecycleService
	now     func() time.Time
}

func NewFormHandler(service FormLifecycleService) (*FormHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("form service is required")
	}
	return &FormHandler{
		service: service,
		now:     time.Now,
	}, nil
}

func RegisterFormRoutes(router fiber.Router, service FormLifecycleService) error {
	h, err := NewFormHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/forms", h.CreateForm)
	v1.Get("/forms", h.ListForms)
	v1.Get("/forms/:id", h.GetForm)
	v1.Get("/forms/:id/lifecycle", h.GetLifecycle)
	v1.Get("/forms/:id/evaluator-state", h.GetEvaluatorState)
	v1.Get("/forms/:id/submissions/count", h.GetSubmissionCount)
	v1.Post("/forms/:id/activate", h.ActivateForm)
	v1.Post("/forms/:id/close", h.CloseForm)

	return nil
}

type questionRequest struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	Required bool   `json:"required"`
	Sequence int    `json:"sequence"`
}

type createFormRequest struct {
	Title        string            `json:"title"`
	Kind         string            `json:"kind"`
	StartDay     int               `json:"startDay"`
	EndDay       int               `json:"endDay"`
	AutoActivate bool              `json:"autoActivate"`
	Questions    []questionRequest `json:"questions"`
	UnitIDs      []string          `json:"unitIds"`
}

type questionResponse struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	Required bool   `json:"required"`
	Sequence int    `json:"sequence"`
}

type formResponse struct {
	ID            string             `json:"id"`
	Title         string             `json:"title"`
	Kind          string             `json:"kind"`
	Status        string             `json:"status"`
	StartDay      int                `json:"startDay,omitempty"`
	EndDay        int                `json:"endDay,omitempty"`
	AutoActivate  bool               `json:"autoActivate"`
	CurrentPeriod string             `json:"currentPeriod,omitempty"`
	PeriodStart   *time.Time         `json:"periodStart,omitempty"`
	PeriodEnd     *time.Time         `json:"periodEnd,omitempty"`
	Questions     []questionResponse `json:"questions,omitempty"`
	CreatedAt     time.Time          `json:"createdAt,omitempty"`
	UpdatedAt     time.Time          `json:"updatedAt,omitempty"`
}

type lifecycleResponse struct {
	FormID        string     `json:"formId"`
	Status        string     `json:"status"`
	CurrentPeriod string     `json:"currentPeriod,omitempty"`
	PeriodStart   *time.Time `json:"periodStart,omitempty"`
	PeriodEnd     *time.Time `json:"periodEnd,omitempty"`
	IsOpen        bool       `json:"isOpen"`
}

type evaluatorStateResponse struct {
	FormID           string `json:"formId"`
	TechnicianID     string `json:"technicianId"`
	Period           string `json:"period,omitempty"`
	AnsweredInPeriod bool   `json:"answeredInPeriod"`
	CanAnswer        bool   `json:"canAnswer"`
}

type listFormsResponse struct {
	Data []formResponse `json:"data"`
	Meta listMeta       `json:"meta"`
}

type listMeta struct {
	Page     int   `json:"page"`
	PageSize int   `json:"pageSize"`
	Total    int64 `json:"total"`
}

func (h *FormHandler) CreateForm(c *fiber.Ctx) error {
	var req createFormRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	form, err := requestToDomainForm(req)
	if err != nil {
		return toHTTPError(err)
	}

	created, err := h.service.Create(c.Context(), &form, req.UnitIDs)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(toFormResponse(created))
}

func (h *FormHandler) GetForm(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	asOf, err := parseAsOf(c, h.now)
	if err != nil {
		return toHTTPError(err)
	}

	form, err := h.service.GetByID(c.Context(), id, asOf)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toFormResponse(form))
}

func (h *FormHandler) GetLifecycle(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	asOf, err := parseAsOf(c, h.now)
	if err != nil {
		return toHTTPError(err)
	}

	view, err := h.service.Lifecycle(c.Context(), id, asOf)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(lifecycleResponse{
		FormID:        view.FormID,
		Status:        view.Status.String(),
		CurrentPeriod: view.CurrentPeriod,
		PeriodStart:   view.PeriodStart,
		PeriodEnd:     view.PeriodEnd,
		IsOpen:        view.IsOpen,
	})
}

func (h *FormHandler) GetEvaluatorState(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	evaluatorID := strings.TrimSpace(c.Get(evaluatorIDHeader))
	if evaluatorID == "" {
		return fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("%s header is required", evaluatorIDHeader))
	}
	technicianID := strings.TrimSpace(c.Query("technicianId"))
	if technicianID == "" {
		return toHTTPError(fmt.Errorf("%w: technicianId is required", domain.ErrValidation))
	}
	asOf, err := parseAsOf(c, h.now)
	if err != nil {
		return toHTTPError(err)
	}

	view, err := h.service.EvaluatorState(c.Context(), id, evaluatorID, technicianID, asOf)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(evaluatorStateResponse{
		FormID:           view.FormID,
		TechnicianID:     view.TechnicianID,
		Period:           view.Period,
		AnsweredInPeriod: view.AnsweredInPeriod,
		CanAnswer:        view.CanAnswer,
	})
}

func (h *FormHandler) GetSubmissionCount(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	period := strings.TrimSpace(c.Query("period"))
	if period == "" {
		return toHTTPError(fmt.Errorf("%w: period is required", domain.ErrValidation))
	}

	count, err := h.service.SubmissionCount(c.Context(), id, period)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"formId": id,
		"period": period,
		"count":  count,
	})
}

func (h *FormHandler) ActivateForm(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	form, err := h.service.Activate(c.Context(), id, h.now())
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toFormResponse(form))
}

func (h *FormHandler) CloseForm(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	form, err := h.service.Close(c.Context(), id, h.now())
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toFormResponse(form))
}

func (h *FormHandler) ListForms(c *fiber.Ctx) error {
	params, err := parseFormListParams(c)
	if err != nil {
		return toHTTPError(err)
	}

	forms, total, err := h.service.List(c.Context(), params)
	if err != nil {
		return toHTTPError(err)
	}

	responses := make([]formResponse, 0, len(forms))
	for _, form := range forms {
		f := form
		responses = append(responses, toFormResponse(&f))
	}

	return c.Status(fiber.StatusOK).JSON(listFormsResponse{
		Data: responses,
		Meta: listMeta{
			Page:     params.Page,
			PageSize: params.PageSize,
			Total:    total,
		},
	})
}

func parseFormListParams(c *fiber.Ctx) (repository.FormListParams, error) {
	params := repository.FormListParams{
		Page:     c.QueryInt("page", defaultPage),
		PageSize: c.QueryInt("pageSize", defaultPageSize),
	}

	if params.Page < 1 {
		return repository.FormListParams{}, fmt.Errorf("%w: page must be >= 1", domain.ErrValidation)
	}
	if params.PageSize < 1 || params.PageSize > maxPageSize {
		return repository.FormListParams{}, fmt.Errorf("%w: pageSize must be between 1 and %d", domain.ErrValidation, maxPageSize)
	}

	if rawKind := strings.TrimSpace(c.Query("kind")); rawKind != "" {
		kind, err := domain.ParseFormKindFromString(rawKind)
		if err != nil {
			return repository.FormListParams{}, err
		}
		params.Kind = &kind
	}

	if rawStatus := strings.TrimSpace(c.Query("status")); rawStatus != "" {
		status, err := domain.ParseFormStatusFromString(rawStatus)
		if err != nil {
			return repository.FormListParams{}, err
		}
		params.Status = &status
	}

	return params, nil
}

// parseAsOf reads the optional asOf query parameter. Absent means now.
func parseAsOf(c *fiber.Ctx, now func() time.Time) (time.Time, error) {
	raw := strings.TrimSpace(c.Query("asOf"))
	if raw == "" {
		return now(), nil
	}

	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: asOf must be RFC3339", domain.ErrValidation)
	}
	return t, nil
}

func requestToDomainForm(req createFormRequest) (domain.Form, error) {
	kind, err := domain.ParseFormKindFromString(req.Kind)
	if err != nil {
		return domain.Form{}, err
	}

	questions := make([]domain.Question, 0, len(req.Questions))
	for _, q := range req.Questions {
		questions = append(questions, domain.Question{
			ID:       strings.TrimSpace(q.ID),
			Label:    strings.TrimSpace(q.Label),
			Required: q.Required,
			Sequence: q.Sequence,
		})
	}

	return domain.Form{
		Title:        strings.TrimSpace(req.Title),
		Kind:         kind,
		StartDay:     req.StartDay,
		EndDay:       req.EndDay,
		AutoActivate: req.AutoActivate,
		Questions:    questions,
	}, nil
}

func toFormResponse(f *domain.Form) formResponse {
	if f == nil {
		return formResponse{}
	}

	questions := make([]questionResponse, 0, len(f.Questions))
	for _, q := range f.Questions {
		questions = append(questions, questionResponse{
			ID:       q.ID,
			Label:    q.Label,
			Required: q.Required,
			Sequence: q.Sequence,
		})
	}

	return formResponse{
		ID:            f.ID,
		Title:         f.Title,
		Kind:          f.Kind.String(),
		Status:        f.Status.String(),
		StartDay:      f.StartDay,
		EndDay:        f.EndDay,
		AutoActivate:  f.AutoActivate,
		CurrentPeriod: f.CurrentPeriod,
		PeriodStart:   f.PeriodStart,
		PeriodEnd:     f.PeriodEnd,
		Questions:     questions,
		CreatedAt:     f.CreatedAt,
		UpdatedAt:     f.UpdatedAt,
	}
}
