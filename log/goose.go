package log

import (
	"strings"

	"github.com/pressly/goose/v3"
)

// gooseLogger implements goose.Logger, logging migration progress at debug
// level and migration failures as fatal.
type gooseLogger struct{}

var _ goose.Logger = (*gooseLogger)(nil)

func (*gooseLogger) Fatalf(format string, v ...any) { Fatalf(strings.TrimSuffix(format, "\n"), v...) }

// goose terminates its Printf formats with a newline, which zap already adds.
func (*gooseLogger) Printf(format string, v ...any) { Debugf(strings.TrimSuffix(format, "\n"), v...) }

// GooseLogger provides access to a goose compatible logger,
// hardcoded to log messages as Debug level
func GooseLogger() goose.Logger { return &gooseLogger{} }
