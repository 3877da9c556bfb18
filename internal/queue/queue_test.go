package queue

import (
	"testing"
	"time"
)

func TestSubmissionAcceptedMessageValidate(t *testing.T) {
	t.Parallel()

	valid := SubmissionAcceptedMessage{
		SubmissionID: "sub-1",
		FormID:       "form-1",
		EvaluatorID:  "eval-1",
		TechnicianID: "tech-1",
		Period:       "2024-03",
		SubmittedAt:  time.Now().UTC(),
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() unexpected error = %v", err)
	}

	tests := []struct {
		name string
		msg  SubmissionAcceptedMessage
	}{
		{name: "missing submission id", msg: SubmissionAcceptedMessage{FormID: "form-1", Period: "2024-03"}},
		{name: "missing form id", msg: SubmissionAcceptedMessage{SubmissionID: "sub-1", Period: "2024-03"}},
		{name: "missing period", msg: SubmissionAcceptedMessage{SubmissionID: "sub-1", FormID: "form-1"}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if err := tt.msg.Validate(); err == nil {
				t.Fatal("Validate() expected error, got nil")
			}
		})
	}
}
