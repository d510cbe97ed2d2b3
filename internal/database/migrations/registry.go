package migrations

import (
	"github.com/jmylchreest/restorr/internal/models"
	"gorm.io/gorm"
)

// AllMigrations returns all registered migrations in order.
//   - 001: processing_jobs history table
func AllMigrations() []Migration {
	return []Migration{
		migration001ProcessingJobs(),
	}
}

func migration001ProcessingJobs() Migration {
	return Migration{
		Version:     "001",
		Description: "Create processing job history table",
		Up: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&models.ProcessingJob{})
		},
		Down: func(tx *gorm.DB) error {
			if !tx.Migrator().HasTable(&models.ProcessingJob{}) {
				return nil
			}
			return tx.Migrator().DropTable(&models.ProcessingJob{})
		},
	}
}
