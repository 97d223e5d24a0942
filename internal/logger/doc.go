// Package logger wraps zap for polypack. Every service takes a context and
// logs through the logger stored in it (ToContext, FromContext, WithName),
// falling back to a global console logger on stderr. The global level is set
// with Configure; WithLevelName pins a single context to its own level, which
// the launcher uses to keep diagnostics out of the application output.
package logger
