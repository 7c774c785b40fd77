package models

import (
	"log"

	"bitbucket.org/mmdatafocus/datamart_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Category{},
		&DataItem{},
		&PurchaseRequest{},
		&DailyRequirement{}, &RequirementContribution{},
		&UserAllocatedData{},
		&Purchase{},
		&User{},
		&EventRecord{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
