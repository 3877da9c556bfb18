package repository

import (
	"context"
	"errors"

	"github.com/fieldops/evaluation-engine/internal/domain"
	"gorm.io/gorm"
)

type SubmissionRepository interface {
	// Create inserts the submission. A violation of the
	// (form, evaluator, technician, period) unique index surfaces as the
	// store driver's duplicate-key error; callers reclassify it.
	Create(ctx context.Context, s *domain.EvaluationSubmission) error
	Exists(ctx context.Context, formID, evaluatorID, technicianID, period string) (bool, error)
	GetByID(ctx context.Context, id string) (*domain.EvaluationSubmission, error)
	ListByFormPeriod(ctx context.Context, formID, period string) ([]domain.EvaluationSubmission, error)
	CountByFormPeriod(ctx context.Context, formID, period string) (int64, error)
}

type GormSubmissionRepo struct {
	db *gorm.DB
}

func NewGormSubmissionRepo(db *gorm.DB) *GormSubmissionRepo {
	return &GormSubmissionRepo{db: db}
}

func (r *GormSubmissionRepo) Create(ctx context.Context, s *domain.EvaluationSubmission) error {
	model, err := submissionModelFromDomain(s)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if s != nil {
		restored, err := submissionModelToDomain(model)
		if err != nil {
			return err
		}
		*s = *restored
	}
	return nil
}

func (r *GormSubmissionRepo) Exists(ctx context.Context, formID, evaluatorID, technicianID, period string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&SubmissionModel{}).
		Where("form_id = ? AND evaluator_id = ? AND technician_id = ? AND period = ?",
			formID, evaluatorID, technicianID, period).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *GormSubmissionRepo) GetByID(ctx context.Context, id string) (*domain.EvaluationSubmission, error) {
	var model SubmissionModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return submissionModelToDomain(&model)
}

func (r *GormSubmissionRepo) ListByFormPeriod(ctx context.Context, formID, period string) ([]domain.EvaluationSubmission, error) {
	var models []SubmissionModel
	err := r.db.WithContext(ctx).
		Where("form_id = ? AND period = ?", formID, period).
		Order("submitted_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	submissions := make([]domain.EvaluationSubmission, 0, len(models))
	for i := range models {
		s, err := submissionModelToDomain(&models[i])
		if err != nil {
			return nil, err
		}
		submissions = append(submissions, *s)
	}

	return submissions, nil
}

func (r *GormSubmissionRepo) CountByFormPeriod(ctx context.Context, formID, period string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&SubmissionModel{}).
		Where("form_id = ? AND period = ?", formID, period).
		Count(&count).Error
	return count, err
}
