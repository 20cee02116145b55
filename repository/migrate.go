package repository

import (
	"fmt"

	"github.com/amirphl/sms-dispatcher/models"
	"gorm.io/gorm"
)

// AutoMigrate creates or updates the tables owned by this service
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.IncomingMessage{},
		&models.DispatchRecord{},
		&models.Admin{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
