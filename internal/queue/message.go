package queue

import (
	"fmt"
	"strings"
	"time"
)

// SubmissionAcceptedMessage is the broker payload emitted once per persisted
// evaluation submission.
type SubmissionAcceptedMessage struct {
	SubmissionID string    `json:"submissionId"`
	FormID       string    `json:"formId"`
	EvaluatorID  string    `json:"evaluatorId"`
	TechnicianID string    `json:"technicianId"`
	Period       string    `json:"period"`
	SubmittedAt  time.Time `json:"submittedAt"`
}

func (m SubmissionAcceptedMessage) Validate() error {
	if strings.TrimSpace(m.SubmissionID) == "" {
		return fmt.Errorf("submissionId is required")
	}
	if strings.TrimSpace(m.FormID) == "" {
		return fmt.Errorf("formId is required")
	}
	if strings.TrimSpace(m.Period) == "" {
		return fmt.Errorf("period is required")
	}
	return nil
}
