// Package logging builds the process logger and bridges gorm's query log
// into it.
package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/hpnt/matreq/internal/config"
)

// New returns a logrus logger configured from cfg. A nil out writes to stdout.
func New(cfg config.LogConfig, out io.Writer) (*logrus.Logger, error) {
	if out == nil {
		out = os.Stdout
	}
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("logging: level %q: %w", cfg.Level, err)
	}

	log := logrus.New()
	log.SetOutput(out)
	log.SetLevel(level)
	switch cfg.Format {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	default:
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log, nil
}

// Discard returns a logger that drops everything. Used by tests and by CLI
// commands that print their own output.
func Discard() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// Gorm adapts log to gorm's logger. Only warnings (slow queries) and errors
// are forwarded unless log is at debug level, in which case every statement
// is. Each gorm level maps to the matching logrus level.
func Gorm(log logrus.FieldLogger, level logrus.Level) logger.Interface {
	lvl := logger.Warn
	if level >= logrus.DebugLevel {
		lvl = logger.Info
	}
	return &gormLogger{log: Component(log, "gorm"), level: lvl, slow: time.Second}
}

type gormLogger struct {
	log   logrus.FieldLogger
	level logger.LogLevel
	slow  time.Duration
}

func (l *gormLogger) LogMode(level logger.LogLevel) logger.Interface {
	cp := *l
	cp.level = level
	return &cp
}

func (l *gormLogger) Info(_ context.Context, msg string, args ...interface{}) {
	if l.level >= logger.Info {
		l.log.Infof(msg, args...)
	}
}

func (l *gormLogger) Warn(_ context.Context, msg string, args ...interface{}) {
	if l.level >= logger.Warn {
		l.log.Warnf(msg, args...)
	}
}

func (l *gormLogger) Error(_ context.Context, msg string, args ...interface{}) {
	if l.level >= logger.Error {
		l.log.Errorf(msg, args...)
	}
}

// Trace logs a finished statement: failures at error, slow ones at warn and
// the rest at debug when the info mode is on.
func (l *gormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= logger.Silent {
		return
	}
	elapsed := time.Since(begin)
	switch {
	case err != nil && l.level >= logger.Error && !errors.Is(err, gorm.ErrRecordNotFound):
		sql, rows := fc()
		l.log.WithError(err).WithFields(logrus.Fields{"elapsed": elapsed, "rows": rows}).Error(sql)
	case l.slow > 0 && elapsed > l.slow && l.level >= logger.Warn:
		sql, rows := fc()
		l.log.WithFields(logrus.Fields{"elapsed": elapsed, "rows": rows}).Warn("slow query: " + sql)
	case l.level >= logger.Info:
		sql, rows := fc()
		l.log.WithFields(logrus.Fields{"elapsed": elapsed, "rows": rows}).Debug(sql)
	}
}

// Component returns an entry tagged with the package that logs through it.
func Component(log logrus.FieldLogger, name string) *logrus.Entry {
	return log.WithField("component", name)
}
