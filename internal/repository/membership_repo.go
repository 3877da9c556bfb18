package repository

import (
	"context"

	"gorm.io/gorm"
)

type MembershipRepository interface {
	TechnicianInScope(ctx context.Context, formID, technicianID string) (bool, error)
}

type GormMembershipRepo struct {
	db *gorm.DB
}

func NewGormMembershipRepo(db *gorm.DB) *GormMembershipRepo {
	return &GormMembershipRepo{db: db}
}

// TechnicianInScope reports whether the technician belongs to any unit the
// form targets.
func (r *GormMembershipRepo) TechnicianInScope(ctx context.Context, formID, technicianID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Table("form_units").
		Joins("JOIN technician_units ON technician_units.unit_id = form_units.unit_id").
		Where("form_units.form_id = ? AND technician_units.technician_id = ?", formID, technicianID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
