package logger

import (
	"fmt"
	"log/slog"

	"github.com/pterm/pterm"
)

// StyledLogger wraps slog.Logger with colour-aware helpers for the bits of
// output operators actually read: source names, proxy hosts, cache decisions.
type StyledLogger struct {
	logger *slog.Logger
}

func NewStyledLogger(logger *slog.Logger) *StyledLogger {
	return &StyledLogger{logger: logger}
}

func (sl *StyledLogger) Debug(msg string, args ...any) {
	sl.logger.Debug(msg, args...)
}

func (sl *StyledLogger) Info(msg string, args ...any) {
	sl.logger.Info(msg, args...)
}

func (sl *StyledLogger) Warn(msg string, args ...any) {
	sl.logger.Warn(msg, args...)
}

func (sl *StyledLogger) Error(msg string, args ...any) {
	sl.logger.Error(msg, args...)
}

func (sl *StyledLogger) InfoWithCount(msg string, count int, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, pterm.FgLightMagenta.Sprint("(", count, ")"))
	sl.logger.Info(styledMsg, args...)
}

func (sl *StyledLogger) InfoWithSource(msg string, sourceID string, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, pterm.FgCyan.Sprint(sourceID))
	sl.logger.Info(styledMsg, args...)
}

func (sl *StyledLogger) WarnWithSource(msg string, sourceID string, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, pterm.FgCyan.Sprint(sourceID))
	sl.logger.Warn(styledMsg, args...)
}

func (sl *StyledLogger) ErrorWithSource(msg string, sourceID string, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, pterm.FgCyan.Sprint(sourceID))
	sl.logger.Error(styledMsg, args...)
}

func (sl *StyledLogger) InfoWithProxy(msg string, proxyHost string, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, pterm.FgYellow.Sprint(proxyHost))
	sl.logger.Info(styledMsg, args...)
}

// WarnProtection highlights cache-protection events so they stand out from
// routine fetch chatter.
func (sl *StyledLogger) WarnProtection(kind string, sourceID string, args ...any) {
	styledMsg := fmt.Sprintf("%s triggered for %s",
		pterm.FgLightRed.Sprint(kind),
		pterm.FgCyan.Sprint(sourceID))
	sl.logger.Warn(styledMsg, args...)
}

func (sl *StyledLogger) With(args ...any) *StyledLogger {
	return &StyledLogger{logger: sl.logger.With(args...)}
}

func (sl *StyledLogger) GetUnderlying() *slog.Logger {
	return sl.logger
}
