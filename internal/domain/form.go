package domain

import (
	"fmt"
	"strings"
	"time"
)

// FormKind distinguishes one-shot forms from monthly recurring ones.
type FormKind string

const (
	KindSingle   FormKind = "SINGLE"
	KindPeriodic FormKind = "PERIODIC"
)

func (k FormKind) String() string { return string(k) }

func (k FormKind) IsValid() bool {
	switch k {
	case KindSingle, KindPeriodic:
		return true
	}
	return false
}

func ParseFormKindFromString(s string) (FormKind, error) {
	k := FormKind(strings.ToUpper(strings.TrimSpace(s)))
	if !k.IsValid() {
		return "", fmt.Errorf("%w: invalid form kind %q", ErrValidation, s)
	}
	return k, nil
}

// FormStatus represents the lifecycle state of a form.
type FormStatus string

const (
	StatusDraft  FormStatus = "DRAFT"
	StatusActive FormStatus = "ACTIVE"
	StatusClosed FormStatus = "CLOSED"
)

func (s FormStatus) String() string { return string(s) }

func (s FormStatus) IsValid() bool {
	switch s {
	case StatusDraft, StatusActive, StatusClosed:
		return true
	}
	return false
}

func ParseFormStatusFromString(s string) (FormStatus, error) {
	st := FormStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid form status %q", ErrValidation, s)
	}
	return st, nil
}

// Question is a single item on a form. Rendering concerns stay with the
// authoring subsystem; the engine only needs identity, ordering, and the
// required flag for structural answer validation.
type Question struct {
	ID       string
	FormID   string
	Label    string
	Required bool
	Sequence int
}

// Form carries the configuration owned by the authoring subsystem plus the
// four lifecycle fields owned exclusively by this engine (Status,
// CurrentPeriod, PeriodStart, PeriodEnd).
type Form struct {
	ID           string
	Title        string
	Kind         FormKind
	Status       FormStatus
	StartDay     int
	EndDay       int
	AutoActivate bool
	// CurrentPeriod is the YYYY-MM label of the window the form is presently
	// (or most recently) associated with. After a window closes it keeps the
	// last value until the next window opens.
	CurrentPeriod string
	PeriodStart   *time.Time
	PeriodEnd     *time.Time
	Questions     []Question
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (f *Form) Validate() error {
	if strings.TrimSpace(f.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrValidation)
	}
	if !f.Kind.IsValid() {
		return fmt.Errorf("%w: invalid form kind %q", ErrValidation, f.Kind)
	}
	if !f.Status.IsValid() {
		return fmt.Errorf("%w: invalid form status %q", ErrValidation, f.Status)
	}
	if f.Kind == KindPeriodic {
		if f.StartDay < 1 || f.StartDay > 31 {
			return fmt.Errorf("%w: startDay must be in [1,31] (got %d)", ErrInvalidConfiguration, f.StartDay)
		}
		if f.EndDay < 1 || f.EndDay > 31 {
			return fmt.Errorf("%w: endDay must be in [1,31] (got %d)", ErrInvalidConfiguration, f.EndDay)
		}
	}
	return nil
}

// Question returns the question with the given id, or nil.
func (f *Form) Question(id string) *Question {
	for i := range f.Questions {
		if f.Questions[i].ID == id {
			return &f.Questions[i]
		}
	}
	return nil
}
