// Package migrations registers schema migrations for the bun migrator.
package migrations

import "github.com/uptrace/bun/migrate"

// Migrations holds every registered migration in order.
var Migrations = migrate.NewMigrations()
