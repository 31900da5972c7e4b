package logger

import "sync/atomic"

type holder struct{ l Logger }

// defLogger backs the package level functions. The controller, the turnout
// manager and every component built without WithLogger fall back to it.
var defLogger atomic.Pointer[holder]

func init() {
	defLogger.Store(&holder{l: NewSlog(InfoLevel, false)})
}

func current() Logger {
	return defLogger.Load().l
}

// Debug logs at DebugLevel on the default logger.
func Debug(msg string, keysAndValues ...any) {
	current().Debug(msg, keysAndValues...)
}

// Info logs at InfoLevel on the default logger.
func Info(msg string, keysAndValues ...any) {
	current().Info(msg, keysAndValues...)
}

// Warn logs at WarnLevel on the default logger.
func Warn(msg string, keysAndValues ...any) {
	current().Warn(msg, keysAndValues...)
}

// Error logs at ErrorLevel on the default logger.
func Error(msg string, keysAndValues ...any) {
	current().Error(msg, keysAndValues...)
}

// Fatal logs on the default logger and exits.
func Fatal(msg string, keysAndValues ...any) {
	current().Fatal(msg, keysAndValues...)
}

// SetLevel changes the level of the default logger. Loggers derived from it
// with With share the level.
func SetLevel(level Level) {
	current().SetLevel(level)
}

// SetDefault replaces the default logger, typically once the configured
// level and format are known. A nil logger is ignored. Loggers already
// handed out keep writing to the previous one.
func SetDefault(l Logger) {
	if l != nil {
		defLogger.Store(&holder{l: l})
	}
}

// GetLogger returns the default logger.
func GetLogger() Logger {
	return current()
}

// With returns a child of the default logger carrying keyValues.
func With(keyValues ...any) Logger {
	return current().With(keyValues...)
}
