package database

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/hercules-io/hercules/internal/util"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/utils"
)

var (
	// gorm interpolates bound values into the logged SQL, so secrets are masked first.
	activationCodePattern = regexp.MustCompile(`\b[A-Z0-9]{2,8}-[A-Z0-9]{4}-[A-Z0-9]{4}-([A-Z0-9]{4})\b`)
	tokenHashPattern      = regexp.MustCompile(`\b[0-9a-f]{64}\b`)
)

// RedactSQL masks activation codes (all but the last group) and token hashes in sql.
func RedactSQL(sql string) string {
	sql = activationCodePattern.ReplaceAllString(sql, "****-$1")
	return tokenHashPattern.ReplaceAllString(sql, "<token-hash>")
}

// zapLogger is a gorm logger.Interface writing to zap with the request trace id.
type zapLogger struct {
	logger        *zap.SugaredLogger
	level         logger.LogLevel
	slowThreshold time.Duration
}

func NewLogger(sugar *zap.SugaredLogger) *zapLogger {
	return &zapLogger{
		logger:        sugar,
		level:         logger.Warn,
		slowThreshold: 250 * time.Millisecond,
	}
}

func (z *zapLogger) LogMode(level logger.LogLevel) logger.Interface {
	clone := *z
	clone.level = level
	return &clone
}

func (z *zapLogger) with(ctx context.Context) *zap.SugaredLogger {
	return util.WithTrace(ctx, z.logger)
}

func (z *zapLogger) Info(ctx context.Context, msg string, args ...interface{}) {
	if z.level >= logger.Info {
		z.with(ctx).Infof(msg, args...)
	}
}

func (z *zapLogger) Warn(ctx context.Context, msg string, args ...interface{}) {
	if z.level >= logger.Warn {
		z.with(ctx).Warnf(msg, args...)
	}
}

func (z *zapLogger) Error(ctx context.Context, msg string, args ...interface{}) {
	if z.level >= logger.Error {
		z.with(ctx).Errorf(msg, args...)
	}
}

func (z *zapLogger) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	if z.level <= logger.Silent {
		return
	}
	elapsed := time.Since(begin)
	failed := err != nil && !errors.Is(err, gorm.ErrRecordNotFound)
	slow := z.slowThreshold > 0 && elapsed > z.slowThreshold

	var log func(msg string, keysAndValues ...interface{})
	switch {
	case failed && z.level >= logger.Error:
		log = z.with(ctx).With("error", err.Error()).Warnw
	case slow && z.level >= logger.Warn:
		log = z.with(ctx).With("slow_threshold", z.slowThreshold.String()).Warnw
	case z.level >= logger.Info:
		log = z.with(ctx).Debugw
	default:
		return
	}
	sql, rows := fc()
	log("sql",
		"query", RedactSQL(sql),
		"rows", rows,
		"elapsed_ms", float64(elapsed.Microseconds())/1e3,
		"caller", utils.FileWithLineNum(),
	)
}
