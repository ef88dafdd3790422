// Package migrations embeds the schema migration files applied by the
// webhook service's migrate subcommand.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS

// Files lists migrations in apply order.
var Files = []string{
	"001_create_users.sql",
	"002_create_invoices.sql",
	"003_create_queries.sql",
	"004_create_tasks.sql",
}
