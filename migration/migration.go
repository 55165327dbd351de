// Package migration runs ordered, named schema migrations. Each migration
// registers itself in init() and is applied at most once, tracked in the
// schema_migrations table.
package migration

import (
	"fmt"
	"sort"
	"time"

	"gorm.io/gorm"
)

type migrationFunc func(db *gorm.DB) error

type entry struct {
	name string
	fn   migrationFunc
}

var registry []entry

// Register adds a migration under a sortable name (date-prefixed).
func Register(name string, fn func(db *gorm.DB) error) {
	registry = append(registry, entry{name: name, fn: fn})
}

type appliedMigration struct {
	Name      string `gorm:"primaryKey"`
	AppliedAt time.Time
}

func (appliedMigration) TableName() string { return "schema_migrations" }

// RunAll applies every registered migration that has not run yet, in name
// order.
func RunAll(db *gorm.DB) error {
	if err := db.AutoMigrate(&appliedMigration{}); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	sort.Slice(registry, func(i, j int) bool { return registry[i].name < registry[j].name })

	for _, m := range registry {
		var count int64
		db.Model(&appliedMigration{}).Where("name = ?", m.name).Count(&count)
		if count > 0 {
			continue
		}

		if err := m.fn(db); err != nil {
			return fmt.Errorf("migration %s: %w", m.name, err)
		}
		if err := db.Create(&appliedMigration{Name: m.name, AppliedAt: time.Now()}).Error; err != nil {
			return fmt.Errorf("record migration %s: %w", m.name, err)
		}
	}
	return nil
}
