package domain

import (
	"fmt"
	"strings"
)

// SkipReason explains why a valid submission item was intentionally not
// processed. Skips are expected outcomes, not errors.
type SkipReason string

const (
	SkipFormNotActive        SkipReason = "FORM_NOT_ACTIVE"
	SkipAlreadySubmitted     SkipReason = "ALREADY_SUBMITTED"
	SkipTechnicianNotInScope SkipReason = "TECHNICIAN_NOT_IN_SCOPE"
)

func (r SkipReason) String() string { return string(r) }

func (r SkipReason) IsValid() bool {
	switch r {
	case SkipFormNotActive, SkipAlreadySubmitted, SkipTechnicianNotInScope:
		return true
	}
	return false
}

func ParseSkipReasonFromString(s string) (SkipReason, error) {
	r := SkipReason(strings.ToUpper(strings.TrimSpace(s)))
	if !r.IsValid() {
		return "", fmt.Errorf("%w: invalid skip reason %q", ErrValidation, s)
	}
	return r, nil
}

// Message returns the human-readable reason reported in the skipped bucket.
func (r SkipReason) Message() string {
	switch r {
	case SkipFormNotActive:
		return "form is not currently accepting submissions"
	case SkipAlreadySubmitted:
		return "an evaluation for this technician already exists for the current period"
	case SkipTechnicianNotInScope:
		return "technician is not in any unit targeted by this form"
	default:
		return strings.ToLower(string(r))
	}
}

// BatchSuccess identifies an accepted and persisted item.
type BatchSuccess struct {
	FormID       string
	TechnicianID string
	SubmissionID string
}

// BatchSkip identifies a valid item that was intentionally not processed.
type BatchSkip struct {
	FormID       string
	TechnicianID string
	Reason       SkipReason
}

// BatchError identifies an item rejected for malformed input or a
// persistence failure.
type BatchError struct {
	FormID       string
	TechnicianID string
	Err          string
}

// BatchResult is the per-call breakdown of a bulk submission. Input order is
// preserved within each bucket. It is produced once per call and never
// persisted.
type BatchResult struct {
	Successes []BatchSuccess
	Skipped   []BatchSkip
	Errors    []BatchError
}

func (r *BatchResult) AddSuccess(formID, technicianID, submissionID string) {
	r.Successes = append(r.Successes, BatchSuccess{
		FormID:       formID,
		TechnicianID: technicianID,
		SubmissionID: submissionID,
	})
}

func (r *BatchResult) AddSkip(formID, technicianID string, reason SkipReason) {
	r.Skipped = append(r.Skipped, BatchSkip{
		FormID:       formID,
		TechnicianID: technicianID,
		Reason:       reason,
	})
}

func (r *BatchResult) AddError(formID, technicianID string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	r.Errors = append(r.Errors, BatchError{
		FormID:       formID,
		TechnicianID: technicianID,
		Err:          msg,
	})
}

// Total returns the number of items accounted for across all buckets.
func (r *BatchResult) Total() int {
	return len(r.Successes) + len(r.Skipped) + len(r.Errors)
}
