package logger

import (
	"fmt"
	"log/slog"
	"os"
)

// Fatal helpers exit the process after logging; main uses them for wiring
// failures where the engine never came up and there is nothing to drain.

func Fatal(msg string, args ...any) {
	slog.Error(msg, args...)
	os.Exit(1)
}

func Fatalf(format string, args ...any) {
	slog.Error(fmt.Sprintf(format, args...))
	os.Exit(1)
}

func FatalWithLogger(logger *slog.Logger, msg string, args ...any) {
	logger.Error(msg, args...)
	os.Exit(1)
}
