package migrations

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

var tracer trace.Tracer

func init() {
	tracer = otel.Tracer("github.com/hercules-io/hercules/internal/database/migrations")
}

var (
	registryMu sync.Mutex
	registry   []*gormigrate.Migration
)

type Migrations struct {
	Migrations  []*gormigrate.Migration
	GormOptions *gormigrate.Options
}

// New returns the registered migrations sorted by id.  Migration packages register
// themselves from init() through CreateMigrationFromActions.
func New() *Migrations {
	registryMu.Lock()
	list := make([]*gormigrate.Migration, len(registry))
	copy(list, registry)
	registryMu.Unlock()

	sort.Slice(list, func(i, j int) bool {
		return list[i].ID < list[j].ID
	})
	return &Migrations{
		GormOptions: &gormigrate.Options{
			TableName:      "apiserver_migrations",
			IDColumnName:   "id",
			IDColumnSize:   40,
			UseTransaction: false,
		},
		Migrations: list,
	}
}

func (m *Migrations) Migrate(ctx context.Context, db *gorm.DB) error {
	_, span := tracer.Start(ctx, "Migrate")
	defer span.End()
	return gormigrate.New(db, m.GormOptions, m.Migrations).Migrate()
}

func (m *Migrations) RollbackLast(ctx context.Context, db *gorm.DB) error {
	_, span := tracer.Start(ctx, "RollbackLast")
	defer span.End()

	gm := gormigrate.New(db, m.GormOptions, m.Migrations)
	if err := gm.RollbackLast(); err != nil {
		return err
	}
	return m.deleteMigrationTableIfEmpty(db)
}

// RollbackAll rolls back all migrations..
func (m *Migrations) RollbackAll(ctx context.Context, db *gorm.DB) error {
	_, span := tracer.Start(ctx, "RollbackAll")
	defer span.End()

	gm := gormigrate.New(db, m.GormOptions, m.Migrations)
	for {
		count, err := m.CountMigrationsApplied(db)
		if err != nil {
			return err
		}
		if count == 0 {
			break
		}
		if err := gm.RollbackLast(); err != nil {
			return err
		}
	}
	return m.deleteMigrationTableIfEmpty(db)
}

func (m *Migrations) deleteMigrationTableIfEmpty(db *gorm.DB) error {
	if !db.Migrator().HasTable(m.GormOptions.TableName) {
		return nil
	}
	result, err := m.CountMigrationsApplied(db)
	if err != nil {
		return err
	}
	if result == 0 {
		if err := db.Migrator().DropTable(m.GormOptions.TableName); err != nil {
			return fmt.Errorf("could not drop migration table: %w", err)
		}
	}
	return nil
}

func (m *Migrations) CountMigrationsApplied(db *gorm.DB) (int, error) {
	if !db.Migrator().HasTable(m.GormOptions.TableName) {
		return 0, nil
	}
	sql := fmt.Sprintf("SELECT count(%s) AS id FROM %s", m.GormOptions.IDColumnName, m.GormOptions.TableName)
	var count int
	if err := db.Raw(sql).Scan(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

type MigrationAction func(tx *gorm.DB, apply bool) error

func caller() string {
	if _, file, no, ok := runtime.Caller(2); ok {
		return fmt.Sprintf("[ %s:%d ]", file, no)
	}
	return ""
}

func CreateTableAction(table interface{}) MigrationAction {
	caller := caller()
	return func(tx *gorm.DB, apply bool) error {
		if apply {
			err := tx.AutoMigrate(table)
			if err != nil {
				return errors.Wrap(err, caller)
			}
		} else {
			err := tx.Migrator().DropTable(table)
			if err != nil {
				return errors.Wrap(err, caller)
			}
		}
		return nil
	}
}

func AddTableColumnAction(table interface{}, columnName string) MigrationAction {
	caller := caller()
	return func(tx *gorm.DB, apply bool) error {
		if apply {
			if err := tx.Migrator().AddColumn(table, columnName); err != nil {
				return errors.Wrap(err, caller)
			}
		} else {
			if err := tx.Migrator().DropColumn(table, columnName); err != nil {
				return errors.Wrap(err, caller)
			}
		}
		return nil
	}
}

func ExecAction(applySql string, unapplySql string) MigrationAction {
	return ExecActionIf(applySql, unapplySql, always)
}

// ExecActionIf runs the sql only when condition holds for the connected database.
func ExecActionIf(applySql string, unapplySql string, condition func(tx *gorm.DB) bool) MigrationAction {
	caller := caller()
	return func(tx *gorm.DB, apply bool) error {
		if !condition(tx) {
			return nil
		}
		sql := unapplySql
		if apply {
			sql = applySql
		}
		if sql == "" {
			return nil
		}
		if err := tx.Exec(sql).Error; err != nil {
			return errors.Wrap(err, caller)
		}
		return nil
	}
}

func always(*gorm.DB) bool {
	return true
}

func NotOnSqlLite(tx *gorm.DB) bool {
	return tx.Dialector.Name() != "sqlite"
}

// CreateMigrationFromActions builds a migration that applies the actions in order and
// rolls them back in reverse order, and registers it.
func CreateMigrationFromActions(id string, actions ...MigrationAction) *gormigrate.Migration {
	migration := &gormigrate.Migration{
		ID: id,
		Migrate: func(tx *gorm.DB) error {
			for _, action := range actions {
				err := action(tx, true)
				if err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			for i := len(actions) - 1; i >= 0; i-- {
				err := actions[i](tx, false)
				if err != nil {
					return err
				}
			}
			return nil
		},
	}
	registryMu.Lock()
	registry = append(registry, migration)
	registryMu.Unlock()
	return migration
}
