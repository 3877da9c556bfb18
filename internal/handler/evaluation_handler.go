package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/fieldops/evaluation-engine/internal/domain"
	"github.com/fieldops/evaluation-engine/internal/observability"
	"github.com/fieldops/evaluation-engine/internal/ratelimit"
	"github.com/fieldops/evaluation-engine/internal/service"
)

const evaluatorIDHeader = "X-Evaluator-ID"

type EvaluationService interface {
	SubmitOne(ctx context.Context, evaluatorID string, item service.SubmissionItem, now time.Time) (service.ItemOutcome, error)
	SubmitBatch(ctx context.Context, evaluatorID string, items []service.SubmissionItem, now time.Time) (*domain.BatchResult, error)
}

type EvaluationHandler struct {
	service EvaluationService
	limiter ratelimit.RateLimiter
	now     func() time.Time
}

func NewEvaluationHandler(service EvaluationService, limiter ratelimit.RateLimiter) (*EvaluationHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("evaluation service is required")
	}
	return &EvaluationHandler{
		service: service,
		limiter: limiter,
		now:     time.Now,
	}, nil
}

func RegisterEvaluationRoutes(router fiber.Router, service EvaluationService, limiter ratelimit.RateLimiter) error {
	h, err := NewEvaluationHandler(service, limiter)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/evaluations", h.SubmitEvaluation)
	v1.Post("/evaluations/batch", h.SubmitBatch)

	return nil
}

type answerRequest struct {
	QuestionID string `json:"questionId"`
	Value      string `json:"value"`
}

type submissionItemRequest struct {
	FormID       string          `json:"formId"`
	TechnicianID string          `json:"technicianId"`
	Answers      []answerRequest `json:"answers"`
}

type submitBatchRequest struct {
	Items []submissionItemRequest `json:"items"`
}

type batchSuccessItem struct {
	FormID       string `json:"formId"`
	TechnicianID string `json:"technicianId"`
	SubmissionID string `json:"submissionId"`
}

type batchSkipItem struct {
	FormID       string `json:"formId"`
	TechnicianID string `json:"technicianId"`
	Reason       string `json:"reason"`
	Message      string `json:"message,omitempty"`
}

type batchErrorItem struct {
	FormID       string `json:"formId"`
	TechnicianID string `json:"technicianId"`
	Error        string `json:"error"`
}

type batchResultResponse struct {
	Successes []batchSuccessItem `json:"successes"`
	Skipped   []batchSkipItem    `json:"skipped"`
	Errors    []batchErrorItem   `json:"errors"`
}

type submitOneResponse struct {
	FormID       string `json:"formId"`
	TechnicianID string `json:"technicianId"`
	Status       string `json:"status"`
	SubmissionID string `json:"submissionId,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

func (h *EvaluationHandler) SubmitEvaluation(c *fiber.Ctx) error {
	evaluatorID, err := h.admitEvaluator(c)
	if err != nil {
		return err
	}

	var req submissionItemRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	outcome, err := h.service.SubmitOne(requestContext(c), evaluatorID, requestToItem(req), h.now())
	if err != nil {
		return toHTTPError(err)
	}

	switch {
	case outcome.Err != nil:
		return toHTTPError(outcome.Err)
	case outcome.Skip != "":
		return c.Status(fiber.StatusOK).JSON(submitOneResponse{
			FormID:       req.FormID,
			TechnicianID: req.TechnicianID,
			Status:       "skipped",
			Reason:       outcome.Skip.String(),
		})
	default:
		return c.Status(fiber.StatusCreated).JSON(submitOneResponse{
			FormID:       req.FormID,
			TechnicianID: req.TechnicianID,
			Status:       "accepted",
			SubmissionID: outcome.SubmissionID,
		})
	}
}

func (h *EvaluationHandler) SubmitBatch(c *fiber.Ctx) error {
	evaluatorID, err := h.admitEvaluator(c)
	if err != nil {
		return err
	}

	var req submitBatchRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	items := make([]service.SubmissionItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, requestToItem(item))
	}

	result, err := h.service.SubmitBatch(requestContext(c), evaluatorID, items, h.now())
	if err != nil {
		// Only a caller-driven cancellation degrades to a partial result;
		// the accumulated buckets are still valid and already persisted.
		// Infrastructure failures abort the batch and must surface as such.
		if result != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
			return c.Status(fiber.StatusOK).JSON(toBatchResultResponse(result))
		}
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toBatchResultResponse(result))
}

func (h *EvaluationHandler) admitEvaluator(c *fiber.Ctx) (string, error) {
	evaluatorID := strings.TrimSpace(c.Get(evaluatorIDHeader))
	if evaluatorID == "" {
		return "", fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("%s header is required", evaluatorIDHeader))
	}

	if h.limiter != nil {
		allowed, err := h.limiter.Allow(c.Context(), evaluatorID)
		if err != nil {
			return "", err
		}
		if !allowed {
			return "", fiber.NewError(fiber.StatusTooManyRequests, "rate limit exceeded")
		}
	}

	return evaluatorID, nil
}

// requestContext carries the request id into the service layer so batch
// summary logs correlate with the access log line.
func requestContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if rid := strings.TrimSpace(c.Get(fiber.HeaderXRequestID)); rid != "" {
		return observability.WithCorrelationID(ctx, rid)
	}
	if rid, ok := c.Locals("requestid").(string); ok && strings.TrimSpace(rid) != "" {
		return observability.WithCorrelationID(ctx, strings.TrimSpace(rid))
	}
	return ctx
}

func requestToItem(req submissionItemRequest) service.SubmissionItem {
	answers := make([]domain.Answer, 0, len(req.Answers))
	for _, a := range req.Answers {
		answers = append(answers, domain.Answer{
			QuestionID: strings.TrimSpace(a.QuestionID),
			Value:      a.Value,
		})
	}

	return service.SubmissionItem{
		FormID:       strings.TrimSpace(req.FormID),
		TechnicianID: strings.TrimSpace(req.TechnicianID),
		Answers:      answers,
	}
}

func toBatchResultResponse(result *domain.BatchResult) batchResultResponse {
	resp := batchResultResponse{
		Successes: make([]batchSuccessItem, 0, len(result.Successes)),
		Skipped:   make([]batchSkipItem, 0, len(result.Skipped)),
		Errors:    make([]batchErrorItem, 0, len(result.Errors)),
	}

	for _, s := range result.Successes {
		resp.Successes = append(resp.Successes, batchSuccessItem{
			FormID:       s.FormID,
			TechnicianID: s.TechnicianID,
			SubmissionID: s.SubmissionID,
		})
	}
	for _, s := range result.Skipped {
		resp.Skipped = append(resp.Skipped, batchSkipItem{
			FormID:       s.FormID,
			TechnicianID: s.TechnicianID,
			Reason:       s.Reason.String(),
			Message:      s.Reason.Message(),
		})
	}
	for _, e := range result.Errors {
		resp.Errors = append(resp.Errors, batchErrorItem{
			FormID:       e.FormID,
			TechnicianID: e.TechnicianID,
			Error:        e.Err,
		})
	}

	return resp
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrInvalidConfiguration):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrInvalidTransition):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return err
	}
}
