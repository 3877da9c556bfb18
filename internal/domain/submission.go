package domain

import (
	"fmt"
	"strings"
	"time"
)

// SingleFormPeriod is the period label attributed to submissions under
// single-kind forms, which have no activation cycle. Using a fixed label
// keeps the uniqueness tuple meaningful: one evaluation per technician per
// evaluator, ever.
const SingleFormPeriod = "single"

// Answer is a single response to a form question.
type Answer struct {
	QuestionID string `json:"questionId"`
	Value      string `json:"value"`
}

// EvaluationSubmission is one evaluator's accepted evaluation of one
// technician under one form for one period. The tuple
// (FormID, EvaluatorID, TechnicianID, Period) is unique: at most one accepted
// submission per tuple ever exists, enforced by a unique index at the store.
// Submissions are immutable once created.
type EvaluationSubmission struct {
	ID           string
	FormID       string
	EvaluatorID  string
	TechnicianID string
	// Period is the YYYY-MM label of the activation window the submission is
	// attributed to, resolved at acceptance time.
	Period      string
	Answers     []Answer
	SubmittedAt time.Time
}

func (s *EvaluationSubmission) Validate() error {
	if strings.TrimSpace(s.FormID) == "" {
		return fmt.Errorf("%w: formId is required", ErrValidation)
	}
	if strings.TrimSpace(s.EvaluatorID) == "" {
		return fmt.Errorf("%w: evaluatorId is required", ErrValidation)
	}
	if strings.TrimSpace(s.TechnicianID) == "" {
		return fmt.Errorf("%w: technicianId is required", ErrValidation)
	}
	if strings.TrimSpace(s.Period) == "" {
		return fmt.Errorf("%w: period is required", ErrValidation)
	}
	if len(s.Answers) == 0 {
		return fmt.Errorf("%w: answers are required", ErrValidation)
	}
	for i, a := range s.Answers {
		if strings.TrimSpace(a.QuestionID) == "" {
			return fmt.Errorf("%w: answers[%d].questionId is required", ErrValidation, i)
		}
	}
	return nil
}
