package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"

	"github.com/fieldops/evaluation-engine/internal/repository"
)

func Migrate(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		createFormsTable(),
		createFormQuestionsTable(),
		createEvaluationSubmissionsTable(),
		createUnitScopeTables(),
	})

	return m.Migrate()
}

func createFormsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_forms",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.FormModel{}); err != nil {
				return err
			}
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_forms_status_kind ON forms (status, kind)`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.FormModel{})
		},
	}
}

func createFormQuestionsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_form_questions",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.QuestionModel{}); err != nil {
				return err
			}
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_form_questions_form_id ON form_questions (form_id, sequence)`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.QuestionModel{})
		},
	}
}

func createEvaluationSubmissionsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_evaluation_submissions",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.SubmissionModel{}); err != nil {
				return err
			}
			indexes := []string{
				// One submission per (form, evaluator, technician, period).
				// Concurrent duplicates are rejected here and reclassified by
				// the service layer.
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_submissions_unique_tuple ON evaluation_submissions (form_id, evaluator_id, technician_id, period)`,
				`CREATE INDEX IF NOT EXISTS idx_submissions_form_period ON evaluation_submissions (form_id, period)`,
				`CREATE INDEX IF NOT EXISTS idx_submissions_evaluator ON evaluation_submissions (evaluator_id, submitted_at)`,
			}
			for _, sql := range indexes {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.SubmissionModel{})
		},
	}
}

func createUnitScopeTables() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000004_create_unit_scope",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.FormUnitModel{}, &repository.TechnicianUnitModel{}); err != nil {
				return err
			}
			indexes := []string{
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_form_units_form_unit ON form_units (form_id, unit_id)`,
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_technician_units_technician_unit ON technician_units (technician_id, unit_id)`,
				`CREATE INDEX IF NOT EXISTS idx_technician_units_unit ON technician_units (unit_id)`,
			}
			for _, sql := range indexes {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			if err := tx.Migrator().DropTable(&repository.TechnicianUnitModel{}); err != nil {
				return err
			}
			return tx.Migrator().DropTable(&repository.FormUnitModel{})
		},
	}
}
