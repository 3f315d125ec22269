package models

import (
	"log"

	"github.com/mmdatafocus/depletions_backend/config"
	"gorm.io/gorm"
)

func MigrateTable() {
	if err := Migrate(config.GetDB()); err != nil {
		log.Fatal(err)
	}
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Product{}, &Location{}, &Source{},
		&InventoryEvent{},
		&SourceConnection{}, &SyncRun{}, &SyncError{},
	)
}
