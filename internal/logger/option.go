package logger

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// leveledCore filters a core by its own threshold instead of the global
// atomic level, so one component can be quieter or louder than the rest.
type leveledCore struct {
	zapcore.Core

	// minimum is the lowest level written through this core.
	minimum zapcore.Level
}

// Enabled reports whether l reaches the core threshold.
func (c *leveledCore) Enabled(l zapcore.Level) bool {
	return c.minimum.Enabled(l)
}

// Check registers the core for entries at or above the threshold.
//
//nolint:gocritic // AddCore requires ent to be passed by value.
func (c *leveledCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.Enabled(ent.Level) {
		return ce
	}

	return ce.AddCore(ent, c)
}

// With keeps the threshold on derived cores.
//
//nolint:ireturn,nolintlint // zap requires the interface.
func (c *leveledCore) With(fields []zapcore.Field) zapcore.Core {
	return &leveledCore{Core: c.Core.With(fields), minimum: c.minimum}
}

// WithLevel makes a derived logger use lvl regardless of the global level.
//
//nolint:ireturn,nolintlint // zap requires the interface.
func WithLevel(lvl zapcore.Level) zap.Option {
	return zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return &leveledCore{Core: core, minimum: lvl}
	})
}

// WithLevelName returns ctx with its logger pinned to the named level.
// An unknown name leaves ctx untouched and reports false.
func WithLevelName(ctx context.Context, levelName string) (context.Context, bool) {
	level, ok := ParseLogLevel(levelName)
	if !ok {
		return ctx, false
	}

	return ToContext(ctx, FromContext(ctx).WithOptions(WithLevel(level))), true
}
