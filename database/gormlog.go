package database

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const slowQueryThreshold = 500 * time.Millisecond

type gormLogger struct {
	log zerolog.Logger
}

// NewLogger adapts a zerolog logger to gorm. Statements are traced at trace
// level, slow statements are reported as warnings.
func NewLogger(base zerolog.Logger) logger.Interface {
	return &gormLogger{
		log: base.With().Str("component", "gorm").Logger(),
	}
}

// LogMode implements logger.Interface.
func (d *gormLogger) LogMode(lvl logger.LogLevel) logger.Interface {
	var zl zerolog.Level
	switch lvl {
	case logger.Info:
		zl = zerolog.InfoLevel
	case logger.Warn:
		zl = zerolog.WarnLevel
	case logger.Error:
		zl = zerolog.ErrorLevel
	default:
		zl = zerolog.Disabled
	}
	return &gormLogger{log: d.log.Level(zl)}
}

// Info implements logger.Interface.
func (d *gormLogger) Info(_ context.Context, msg string, args ...any) {
	d.log.Info().Msgf(msg, args...)
}

// Warn implements logger.Interface.
func (d *gormLogger) Warn(_ context.Context, msg string, args ...any) {
	d.log.Warn().Msgf(msg, args...)
}

// Error implements logger.Interface.
func (d *gormLogger) Error(_ context.Context, msg string, args ...any) {
	d.log.Error().Msgf(msg, args...)
}

// Trace implements logger.Interface.
func (d *gormLogger) Trace(_ context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	elapsed := time.Since(begin)

	var e *zerolog.Event
	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		e = d.log.Debug().Err(err)
	case elapsed > slowQueryThreshold:
		e = d.log.Warn().Bool("slow", true)
	default:
		e = d.log.Trace()
	}

	e.Dur("elapsed", elapsed).Func(func(e *zerolog.Event) {
		sql, rows := fc()
		e.Str("sql", sql)
		e.Int64("rows_affected", rows)
	}).Msg("")
}
