package diaglog

import (
	"log/slog"
	"sync/atomic"

	"diaglog/internal/entry"
)

var defaultLogger atomic.Pointer[Logger]

// SetDefault installs l as the process-wide Logger used by the package-level
// functions. Passing nil uninstalls it.
func SetDefault(l *Logger) { defaultLogger.Store(l) }

// Default returns the installed Logger, or nil.
func Default() *Logger { return defaultLogger.Load() }

// LogMessage records text on the default Logger.
func LogMessage(text string) {
	appendDefault(entry.NewMessage(text, callerLocation(1)))
}

// LogError records err on the default Logger.
func LogError(err error, description string) {
	appendDefault(entry.NewError(err, description, callerLocation(1)))
}

func appendDefault(e Entry) {
	l := Default()
	if l == nil {
		slog.Warn("[WARN-STORE] no default diaglog logger installed, dropping entry", "error", ErrNotReady)
		return
	}
	l.Append(e)
}
