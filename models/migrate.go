package models

import (
	"log"

	"github.com/procurelink/portalsync_backend/config"
)

// MigrateTable auto-migrates the shadow-store control tables. The ERP
// databases are owned by the ERP and are never migrated from here.
func MigrateTable() {
	db := config.GetDB()
	if db == nil {
		log.Printf("skip migration: shadow db not connected")
		return
	}
	if err := db.AutoMigrate(
		&PortalOrderLink{},
		&PortalSyncRun{},
		&PortalSyncError{},
	); err != nil {
		log.Printf("auto migrate failed: %v", err)
	}
}
