package logger

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// level is shared by the global logger and by every logger built with a nil level.
	//nolint:gochecknoglobals // One process-wide threshold, set from --log-level.
	level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	// global serves contexts that carry no logger of their own.
	//nolint:gochecknoglobals // Fallback for FromContext.
	global = NewWithWriter(os.Stderr, nil)
)

// errUnknownLevel is returned by Configure for an unrecognised level name.
var errUnknownLevel = errors.New("unknown log level")

// levelNames lists the accepted --log-level and POLYPACK_LOG_LEVEL spellings.
//
//nolint:gochecknoglobals // Lookup table.
var levelNames = map[string]zapcore.Level{
	"":        zapcore.InfoLevel,
	"debug":   zapcore.DebugLevel,
	"info":    zapcore.InfoLevel,
	"warn":    zapcore.WarnLevel,
	"warning": zapcore.WarnLevel,
	"error":   zapcore.ErrorLevel,
	"fatal":   zapcore.FatalLevel,
}

// NewWithWriter returns a console logger writing to w. A nil enabler
// follows the global threshold set by Configure. The global logger writes to
// stderr: stdout is left to the packaged application and to command output.
func NewWithWriter(w io.Writer, enabler zapcore.LevelEnabler, options ...zap.Option) *zap.SugaredLogger {
	if enabler == nil {
		enabler = level
	}

	//nolint:exhaustruct // Unset keys are omitted from the output.
	encoder := zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
		TimeKey:          "time",
		LevelKey:         "level",
		NameKey:          "component",
		MessageKey:       "message",
		LineEnding:       zapcore.DefaultLineEnding,
		EncodeTime:       zapcore.TimeEncoderOfLayout("15:04:05.000"),
		EncodeLevel:      zapcore.CapitalLevelEncoder,
		EncodeDuration:   zapcore.StringDurationEncoder,
		EncodeName:       zapcore.FullNameEncoder,
		ConsoleSeparator: " ",
	})

	return zap.New(zapcore.NewCore(encoder, zapcore.AddSync(w), enabler), options...).Sugar()
}

// ParseLogLevel maps a level name, in any case, to a zap level.
func ParseLogLevel(name string) (zapcore.Level, bool) {
	lvl, ok := levelNames[strings.ToLower(strings.TrimSpace(name))]
	return lvl, ok
}

// Configure sets the global threshold from a level name.
func Configure(levelName string) error {
	lvl, ok := ParseLogLevel(levelName)
	if !ok {
		return fmt.Errorf("%q: %w", levelName, errUnknownLevel)
	}

	level.SetLevel(lvl)

	return nil
}

// Level returns the global threshold.
func Level() zapcore.Level {
	return level.Level()
}

// Logger returns the global logger.
func Logger() *zap.SugaredLogger {
	return global
}
