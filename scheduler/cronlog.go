package scheduler

import (
	"github.com/rs/zerolog"
)

// cronLogger implements cron.Logger. Cron is chatty, info goes to debug.
type cronLogger struct {
	logger zerolog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
