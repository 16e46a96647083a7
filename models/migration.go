package models

import (
	"log"

	"github.com/chairtab/platform_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Barber{}, &ProcessorConnection{},
		&ExternalTransaction{},
		&CollectionConfig{},
		&PlatformCollection{}, &CollectionTransaction{},
		&CollectionEventRecord{},
		&IdempotencyKey{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
