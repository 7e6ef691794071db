package logging

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm/logger"
)

type gormWriter struct {
	l zerolog.Logger
}

func (w gormWriter) Printf(format string, args ...interface{}) {
	w.l.Warn().Str("component", "gorm").Msg(fmt.Sprintf(format, args...))
}

// Gorm returns a gorm logger that reports slow queries and errors through l.
// Record-not-found is expected in lookups and is not reported.
func Gorm(l zerolog.Logger) logger.Interface {
	level := logger.Warn
	if l.GetLevel() == zerolog.Disabled {
		level = logger.Silent
	}
	return logger.New(gormWriter{l: l}, logger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  level,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}
