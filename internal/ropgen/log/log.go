package log

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"ropgen/internal/logging"
)

var (
	initOnce    sync.Once
	initialized atomic.Bool
	closer      func() error
)

// Setup installs the charm logger as the default slog handler. Later calls
// are no-ops.
func Setup(debug bool) {
	initOnce.Do(func() {
		lg := logging.NewLogger(debug)
		closer = lg.Close

		slog.SetDefault(slog.New(lg.Logger))
		initialized.Store(true)
	})
}

func Initialized() bool {
	return initialized.Load()
}

// Close releases the log file opened by Setup, if any.
func Close() error {
	if closer == nil {
		return nil
	}
	return closer()
}

func RecoverPanic(name string, cleanup func()) {
	if r := recover(); r != nil {
		if Initialized() {
			slog.Error(fmt.Sprintf("Panic in %s", name),
				"panic", r,
				"stack", string(debug.Stack()))
		}
		if cleanup != nil {
			cleanup()
		}
	}
}
