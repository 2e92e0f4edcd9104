// Package migrations embeds the schema migration files applied by the
// "migrate" subcommand.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS

// Files lists migrations in apply order.
var Files = []string{
	"001_create_jobs.sql",
	"002_create_webhook_events.sql",
	"003_create_tenant_subscriptions.sql",
	"004_create_billing_audit_log.sql",
	"005_create_schedules.sql",
}
