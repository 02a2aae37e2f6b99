package database

import (
	"github.com/hercules-io/hercules/internal/database/migrations"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	// migrations register themselves when imported
	_ "github.com/hercules-io/hercules/internal/database/migration_20261001_0000"
	_ "github.com/hercules-io/hercules/internal/database/migration_20261012_0000"
)

var tracer trace.Tracer

func init() {
	tracer = otel.Tracer("github.com/hercules-io/hercules/internal/database")
}

// Migrations returns all the registered apiserver migrations, oldest first.
func Migrations() *migrations.Migrations {
	return migrations.New()
}
