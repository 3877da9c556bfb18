package repository

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fieldops/evaluation-engine/internal/domain"
)

// FormModel is the persistence model for the forms table. The lifecycle
// fields (status, current_period, period_start, period_end) are written only
// through UpdateLifecycle; everything else belongs to the authoring side.
type FormModel struct {
	ID            string            `gorm:"type:uuid;primaryKey"`
	Title         string            `gorm:"type:varchar(255);not null"`
	Kind          domain.FormKind   `gorm:"type:varchar(10);not null"`
	Status        domain.FormStatus `gorm:"type:varchar(10);not null"`
	StartDay      int               `gorm:"not null;default:0"`
	EndDay        int               `gorm:"not null;default:0"`
	AutoActivate  bool              `gorm:"not null;default:false"`
	CurrentPeriod string            `gorm:"type:varchar(7);not null;default:''"`
	PeriodStart   *time.Time        `gorm:"type:timestamptz"`
	PeriodEnd     *time.Time        `gorm:"type:timestamptz"`
	Questions     []QuestionModel   `gorm:"foreignKey:FormID"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (FormModel) TableName() string {
	return "forms"
}

// QuestionModel is the persistence model for form_questions.
type QuestionModel struct {
	ID       string `gorm:"type:uuid;primaryKey"`
	FormID   string `gorm:"type:uuid;not null"`
	Label    string `gorm:"type:text;not null"`
	Required bool   `gorm:"not null;default:false"`
	Sequence int    `gorm:"not null;default:0"`
}

func (QuestionModel) TableName() string {
	return "form_questions"
}

// SubmissionModel is the persistence model for evaluation_submissions. The
// unique index over (form_id, evaluator_id, technician_id, period) is the
// authoritative idempotency guard.
type SubmissionModel struct {
	ID           string    `gorm:"type:uuid;primaryKey"`
	FormID       string    `gorm:"type:uuid;not null"`
	EvaluatorID  string    `gorm:"type:uuid;not null"`
	TechnicianID string    `gorm:"type:uuid;not null"`
	Period       string    `gorm:"type:varchar(7);not null"`
	Answers      []byte    `gorm:"type:jsonb;not null"`
	SubmittedAt  time.Time `gorm:"type:timestamptz;not null"`
	CreatedAt    time.Time
}

func (SubmissionModel) TableName() string {
	return "evaluation_submissions"
}

// FormUnitModel links a form to an organizational unit it targets.
type FormUnitModel struct {
	FormID string `gorm:"type:uuid;primaryKey"`
	UnitID string `gorm:"type:uuid;primaryKey"`
}

func (FormUnitModel) TableName() string {
	return "form_units"
}

// TechnicianUnitModel records a technician's unit membership. Ownership of
// this data is with the authoring subsystem; the engine only reads it for
// scope checks.
type TechnicianUnitModel struct {
	TechnicianID string `gorm:"type:uuid;primaryKey"`
	UnitID       string `gorm:"type:uuid;primaryKey"`
}

func (TechnicianUnitModel) TableName() string {
	return "technician_units"
}

func formModelFromDomain(f *domain.Form) *FormModel {
	if f == nil {
		return nil
	}

	questions := make([]QuestionModel, 0, len(f.Questions))
	for _, q := range f.Questions {
		questions = append(questions, QuestionModel{
			ID:       q.ID,
			FormID:   q.FormID,
			Label:    q.Label,
			Required: q.Required,
			Sequence: q.Sequence,
		})
	}

	return &FormModel{
		ID:            f.ID,
		Title:         f.Title,
		Kind:          f.Kind,
		Status:        f.Status,
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

func formModelToDomain(m *FormModel) *domain.Form {
	if m == nil {
		return nil
	}

	questions := make([]domain.Question, 0, len(m.Questions))
	for _, q := range m.Questions {
		questions = append(questions, domain.Question{
			ID:       q.ID,
			FormID:   q.FormID,
			Label:    q.Label,
			Required: q.Required,
			Sequence: q.Sequence,
		})
	}

	return &domain.Form{
		ID:            m.ID,
		Title:         m.Title,
		Kind:          m.Kind,
		Status:        m.Status,
		StartDay:      m.StartDay,
		EndDay:        m.EndDay,
		AutoActivate:  m.AutoActivate,
		CurrentPeriod: m.CurrentPeriod,
		PeriodStart:   m.PeriodStart,
		PeriodEnd:     m.PeriodEnd,
		Questions:     questions,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func submissionModelFromDomain(s *domain.EvaluationSubmission) (*SubmissionModel, error) {
	if s == nil {
		return nil, nil
	}

	answers, err := json.Marshal(s.Answers)
	if err != nil {
		return nil, fmt.Errorf("failed to encode answers: %w", err)
	}

	return &SubmissionModel{
		ID:           s.ID,
		FormID:       s.FormID,
		EvaluatorID:  s.EvaluatorID,
		TechnicianID: s.TechnicianID,
		Period:       s.Period,
		Answers:      answers,
		SubmittedAt:  s.SubmittedAt,
	}, nil
}

func submissionModelToDomain(m *SubmissionModel) (*domain.EvaluationSubmission, error) {
	if m == nil {
		return nil, nil
	}

	var answers []domain.Answer
	if len(m.Answers) > 0 {
		if err := json.Unmarshal(m.Answers, &answers); err != nil {
			return nil, fmt.Errorf("failed to decode answers for submission %s: %w", m.ID, err)
		}
	}

	return &domain.EvaluationSubmission{
		ID:           m.ID,
		FormID:       m.FormID,
		EvaluatorID:  m.EvaluatorID,
		TechnicianID: m.TechnicianID,
		Period:       m.Period,
		Answers:      answers,
		SubmittedAt:  m.SubmittedAt,
	}, nil
}
