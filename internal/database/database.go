package database

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func nowUTC() time.Time {
	return time.Now().UTC()
}

// NewDatabase connects to postgres (or cockroach), retrying until the database is reachable.
// It returns the dsn so that callers can open driver specific connections, like a LISTEN
// connection, to the same database.
func NewDatabase(
	ctx context.Context,
	log *zap.SugaredLogger,
	host string,
	user string,
	password string,
	dbname string,
	port string,
	sslmode string,
) (*gorm.DB, string, error) {
	ctx, span := tracer.Start(ctx, "NewDatabase")
	defer span.End()

	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		host, user, password, dbname, port, sslmode)
	var db *gorm.DB
	connectDb := func() error {
		var err error
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
			Logger:         NewLogger(log),
			NowFunc:        nowUTC,
			TranslateError: true,
		})
		if err != nil {
			log.Warnf("database is not reachable yet: %s", err)
			return err
		}
		return nil
	}
	bo := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
	if err := backoff.Retry(connectDb, bo); err != nil {
		return nil, "", err
	}
	return db, dsn, nil
}

// NewTestDatabase returns a migrated, in memory sqlite database.  It is limited to one
// connection so that concurrent callers are serialized like they would be by row locks.
func NewTestDatabase() (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		NowFunc:        nowUTC,
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetConnMaxLifetime(0)

	if err := Migrations().Migrate(context.Background(), db); err != nil {
		return nil, err
	}
	return db, nil
}
