package volren

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/gogpu/volren/device"
	"github.com/gogpu/volren/handler"
)

// nopHandler is a slog.Handler that silently discards all log records.
// Enabled returns false so callers skip message formatting entirely.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

func newNopLogger() *slog.Logger { return slog.New(nopHandler{}) }

// loggerPtr stores the active logger. Accessed atomically so that
// SetLogger can be called concurrently with logging from any goroutine.
var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(newNopLogger())
}

// SetLogger configures the logger for volren and its sub-packages.
// By default volren produces no log output.
//
// SetLogger is safe for concurrent use. Pass nil to restore the silent
// default.
//
// Log levels used by volren:
//   - [slog.LevelDebug]: buffer sizes, snapshot uploads, matrix updates
//   - [slog.LevelInfo]: device and driver selection
//   - [slog.LevelWarn]: release errors, skipped renders
//   - [slog.LevelError]: registry failures that break an object
//
// Example:
//
//	volren.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = newNopLogger()
	}
	loggerPtr.Store(l)
	device.SetLogger(l)
	handler.SetLogger(l)
}

// Logger returns the current logger. Driver packages such as backend/wgpu
// call it to share the same configuration without an import cycle.
//
// Logger is safe for concurrent use.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}
