package repository

import (
	"context"
	"errors"
	"time"

	"github.com/fieldops/evaluation-engine/internal/domain"
	"gorm.io/gorm"
)

type FormListParams struct {
	Kind     *domain.FormKind
	Status   *domain.FormStatus
	Page     int
	PageSize int
}

type FormRepository interface {
	Create(ctx context.Context, f *domain.Form) error
	GetByID(ctx context.Context, id string) (*domain.Form, error)
	List(ctx context.Context, params FormListParams) ([]domain.Form, int64, error)
	UpdateLifecycle(ctx context.Context, id string, status domain.FormStatus, currentPeriod string, periodStart, periodEnd *time.Time) error
	AssignUnits(ctx context.Context, formID string, unitIDs []string) error
}

type GormFormRepo struct {
	db *gorm.DB
}

func NewGormFormRepo(db *gorm.DB) *GormFormRepo {
	return &GormFormRepo{db: db}
}

func (r *GormFormRepo) Create(ctx context.Context, f *domain.Form) error {
	model := formModelFromDomain(f)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if f != nil {
		*f = *formModelToDomain(model)
	}
	return nil
}

func (r *GormFormRepo) GetByID(ctx context.Context, id string) (*domain.Form, error) {
	var model FormModel
	err := r.db.WithContext(ctx).
		Preload("Questions", func(db *gorm.DB) *gorm.DB {
			return db.Order("sequence ASC")
		}).
		First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return formModelToDomain(&model), nil
}

func (r *GormFormRepo) List(ctx context.Context, params FormListParams) ([]domain.Form, int64, error) {
	query := r.db.WithContext(ctx).Model(&FormModel{})

	if params.Kind != nil {
		query = query.Where("kind = ?", *params.Kind)
	}
	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := max(params.Page, 1)
	pageSize := params.PageSize
	if pageSize < 1 {
		pageSize = 50
	}
	pageSize = min(pageSize, 100)

	var models []FormModel
	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}

	forms := make([]domain.Form, 0, len(models))
	for i := range models {
		forms = append(forms, *formModelToDomain(&models[i]))
	}

	return forms, total, nil
}

// UpdateLifecycle persists the four lifecycle-owned fields. Nothing else on
// the form record is touched here; configuration stays with authoring.
func (r *GormFormRepo) UpdateLifecycle(ctx context.Context, id string, status domain.FormStatus, currentPeriod string, periodStart, periodEnd *time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&FormModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":         status,
			"current_period": currentPeriod,
			"period_start":   periodStart,
			"period_end":     periodEnd,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormFormRepo) AssignUnits(ctx context.Context, formID string, unitIDs []string) error {
	if len(unitIDs) == 0 {
		return nil
	}

	models := make([]FormUnitModel, 0, len(unitIDs))
	for _, unitID := range unitIDs {
		models = append(models, FormUnitModel{FormID: formID, UnitID: unitID})
	}
	return r.db.WithContext(ctx).Create(&models).Error
}
