package wsmqtt

import (
	"context"
	"fmt"
	"log/slog"
	"os"
)

// LogCallback receives a single leveled log line, mirroring spec.md §6's
// "severity-tagged string callback" log sink. Levels are the four spec.md
// names: "debug", "warn", "error", "fatal".
type LogCallback func(level, msg string)

// callbackHandler fans slog records out to a LogCallback, the same shape
// nishisan-dev-n-backup/internal/logging builds around slog.Handler, and
// the same four severities golang-io/mqtt's client.go/conn.go log through
// plain log.Printf calls for.
type callbackHandler struct {
	cb    LogCallback
	level slog.Leveler
}

const levelFatal = slog.Level(12) // above slog.LevelError, spec.md's "fatal"

func newCallbackHandler(cb LogCallback) *callbackHandler {
	return &callbackHandler{cb: cb, level: slog.LevelDebug}
}

func (h *callbackHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *callbackHandler) Handle(_ context.Context, r slog.Record) error {
	name := "debug"
	switch {
	case r.Level >= levelFatal:
		name = "fatal"
	case r.Level >= slog.LevelError:
		name = "error"
	case r.Level >= slog.LevelWarn:
		name = "warn"
	}
	msg := r.Message
	r.Attrs(func(a slog.Attr) bool {
		msg += fmt.Sprintf(" %s=%v", a.Key, a.Value)
		return true
	})
	h.cb(name, msg)
	return nil
}

func (h *callbackHandler) WithAttrs(_ []slog.Attr) slog.Handler { return h }
func (h *callbackHandler) WithGroup(_ string) slog.Handler      { return h }

// defaultLogger logs to os.Stderr when a Client is built without a
// LogCallback, matching golang-io/mqtt's habit of always logging
// *somewhere* rather than discarding output silently.
func defaultLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

func newLogger(cb LogCallback) *slog.Logger {
	if cb == nil {
		return defaultLogger()
	}
	return slog.New(newCallbackHandler(cb))
}
