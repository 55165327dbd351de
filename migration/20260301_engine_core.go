package migration

import (
	"cloutcast/models"

	"gorm.io/gorm"
)

func init() {
	Register("20260301_engine_core", migrateEngineCore)
}

// migrateEngineCore creates the engine tables: rooms, memberships, users,
// markets, the append-only trade and vote logs, and payout records.
func migrateEngineCore(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.Room{},
		&models.Membership{},
		&models.User{},
		&models.Market{},
		&models.Trade{},
		&models.ResolutionVote{},
		&models.Payout{},
	); err != nil {
		return err
	}

	// Partial indexes the tags cannot express. Errors are ignored for
	// engines that lack the syntax (sqlite in tests handles both).
	db.Exec("CREATE INDEX IF NOT EXISTS idx_markets_due_active ON markets(expires_at) WHERE status = 'active'")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_markets_due_voting ON markets(voting_deadline) WHERE status = 'voting'")

	return nil
}
