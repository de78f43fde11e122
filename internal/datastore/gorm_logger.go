package datastore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spooni01/ha-automation-of-todo/internal/logger"
	"gorm.io/gorm"
	gorm_logger "gorm.io/gorm/logger"
)

// gormLogger routes GORM output into the service logger at a matching
// level: SQL errors at error, slow queries at warn, statement traces at
// debug.
type gormLogger struct {
	log           logger.Logger
	level         gorm_logger.LogLevel
	slowThreshold time.Duration
}

func newGormLogger(log logger.Logger, level gorm_logger.LogLevel, slow time.Duration) *gormLogger {
	return &gormLogger{
		log:           log.With(logger.String("component", "gorm")),
		level:         level,
		slowThreshold: slow,
	}
}

// LogMode implements gorm_logger.Interface.
func (l *gormLogger) LogMode(level gorm_logger.LogLevel) gorm_logger.Interface {
	c := *l
	c.level = level
	return &c
}

func (l *gormLogger) Info(_ context.Context, msg string, args ...any) {
	if l.level >= gorm_logger.Info {
		l.log.Info(fmt.Sprintf(msg, args...))
	}
}

func (l *gormLogger) Warn(_ context.Context, msg string, args ...any) {
	if l.level >= gorm_logger.Warn {
		l.log.Warn(fmt.Sprintf(msg, args...))
	}
}

func (l *gormLogger) Error(_ context.Context, msg string, args ...any) {
	if l.level >= gorm_logger.Error {
		l.log.Error(fmt.Sprintf(msg, args...))
	}
}

// Trace implements gorm_logger.Interface. Record-not-found is not an error.
func (l *gormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gorm_logger.Silent {
		return
	}
	elapsed := time.Since(begin)
	switch {
	case err != nil && l.level >= gorm_logger.Error && !errors.Is(err, gorm.ErrRecordNotFound):
		sql, rows := fc()
		l.log.Error("sql failed",
			logger.String("sql", sql),
			logger.Int64("rows", rows),
			logger.Duration("elapsed", elapsed),
			logger.Error(err))
	case l.slowThreshold > 0 && elapsed > l.slowThreshold && l.level >= gorm_logger.Warn:
		sql, rows := fc()
		l.log.Warn("slow sql",
			logger.String("sql", sql),
			logger.Int64("rows", rows),
			logger.Duration("elapsed", elapsed),
			logger.Duration("threshold", l.slowThreshold))
	case l.level >= gorm_logger.Info:
		sql, rows := fc()
		l.log.Debug("sql",
			logger.String("sql", sql),
			logger.Int64("rows", rows),
			logger.Duration("elapsed", elapsed))
	}
}
