package database

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// IsDuplicateError reports whether err is a unique constraint violation.
func IsDuplicateError(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return true
	}

	// sqlite reports constraint failures as plain errors
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return true
	}
	return false
}

// IsSerializationError reports whether err is a retryable transaction conflict.
func IsSerializationError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01")
}
