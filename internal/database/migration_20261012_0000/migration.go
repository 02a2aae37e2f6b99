package migration_20261012_0000

import (
	. "github.com/hercules-io/hercules/internal/database/migrations"
)

type GatewayAuditLog struct {
	Identifier string
}

func init() {
	migrationId := "20261012-0000"
	CreateMigrationFromActions(migrationId,
		AddTableColumnAction(&GatewayAuditLog{}, "identifier"),
		// at most one active schema per user and scope
		ExecAction(`
			CREATE UNIQUE INDEX IF NOT EXISTS idx_gateway_schemas_active ON gateway_schemas (user_id, scope) WHERE is_active
		`, `
			DROP INDEX IF EXISTS idx_gateway_schemas_active
		`),
		ExecActionIf(`
			CREATE INDEX IF NOT EXISTS idx_gateway_commands_pending ON gateway_commands (gateway_id, priority, created_at) WHERE status = 'pending'
		`, `
			DROP INDEX IF EXISTS idx_gateway_commands_pending
		`, NotOnSqlLite),
	)
}
