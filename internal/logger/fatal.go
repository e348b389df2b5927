package logger

import (
	"fmt"
	"log/slog"
	"os"
)

// Fatal logs msg at error level and exits the process with status 1.
func Fatal(log *slog.Logger, msg string, args ...any) {
	log.Error(msg, args...)
	os.Exit(1)
}

func Fatalf(log *slog.Logger, format string, args ...any) {
	Fatal(log, fmt.Sprintf(format, args...))
}
