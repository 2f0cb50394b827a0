// Package logging provides the structured logger used throughout device,
// preserving the level-filtered, colorized console API of the original
// hand-rolled logger while delegating formatting and filtering to slog.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// Logger wraps a *slog.Logger, adding the Success/Banner/Section
// conveniences the console output relied on.
type Logger struct {
	*slog.Logger
	out io.Writer
}

// Options configures New.
type Options struct {
	Level     slog.Level
	Writer    io.Writer
	NoColor   bool
	TimeStamp bool
}

// New builds a tint-backed Logger. A zero Options value yields Info level,
// colorized output to stderr with timestamps.
func New(opts Options) *Logger {
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}

	handler := tint.NewHandler(w, &tint.Options{
		Level:      opts.Level,
		NoColor:    opts.NoColor,
		TimeFormat: time.TimeOnly,
	})

	return &Logger{Logger: slog.New(handler), out: w}
}

// Success logs at Info level with a status=ok attribute that tells it apart
// from routine Info lines.
func (l *Logger) Success(msg string, args ...any) {
	l.Logger.Info(msg, append([]any{slog.String("status", "ok")}, args...)...)
}

// Fatal logs at Error level and terminates the process, matching the
// teacher's Fatal semantics.
func (l *Logger) Fatal(msg string, args ...any) {
	l.Logger.Error(msg, args...)
	os.Exit(1)
}

// Banner prints an unadorned, unfiltered multi-line header; used for
// process-start announcements where log-level filtering would be wrong.
func (l *Logger) Banner(lines ...string) {
	fmt.Fprintln(l.out, "────────────────────────────────────────")
	for _, line := range lines {
		fmt.Fprintln(l.out, line)
	}
	fmt.Fprintln(l.out, "────────────────────────────────────────")
}

// Section prints a single unadorned divider line labeled with title.
func (l *Logger) Section(title string) {
	fmt.Fprintf(l.out, "── %s ──\n", title)
}

// WithContext is a convenience passthrough kept for call sites that thread a
// context for future correlation-id support; it is presently a no-op.
func (l *Logger) WithContext(_ context.Context) *Logger { return l }
