// Package log provides the leveled, structured logger used by every
// kernel component. It wraps go-kit/log the same way the teacher's
// libs/log package is imported throughout (see mempool.Reactor's
// "github.com/arcology-network/consensus-engine/libs/log" usage):
// a small Logger interface plus a go-kit backed implementation, rather
// than a bare *log.Logger or fmt.Printf calls.
package log

import (
	"os"

	kitlog "github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
)

// Logger is the interface every kernel component is constructed with.
type Logger interface {
	Debug(msg string, keyvals ...interface{})
	Info(msg string, keyvals ...interface{})
	Error(msg string, keyvals ...interface{})
	With(keyvals ...interface{}) Logger
}

type kernelLogger struct {
	srcLogger kitlog.Logger
}

// NewKernelLogger returns a Logger that writes through the go-kit logger
// w, in whatever format w uses, in the same spirit as the teacher's
// log.NewTMLogger(log.NewSyncWriter(...)).
func NewKernelLogger(w kitlog.Logger) Logger {
	return &kernelLogger{srcLogger: w}
}

// NewDefaultLogger writes to stderr, synchronized for safe concurrent use
// from the scheduler thread and any ISR-simulating goroutine in tests.
func NewDefaultLogger() Logger {
	l := kitlog.NewLogfmtLogger(kitlog.NewSyncWriter(os.Stderr))
	l = kitlog.With(l, "ts", kitlog.DefaultTimestampUTC)
	return NewKernelLogger(l)
}

// NewNopLogger discards everything; used as the zero-value default for
// components constructed without an explicit logger (mirrors go-kit's
// log.NewNopLogger pattern referenced via metrics/discard elsewhere in
// the teacher's stack).
func NewNopLogger() Logger {
	return NewKernelLogger(kitlog.NewNopLogger())
}

func (l *kernelLogger) Debug(msg string, keyvals ...interface{}) {
	lg := level.Debug(l.srcLogger)
	_ = kitlog.WithPrefix(lg, "msg", msg).Log(keyvals...)
}

func (l *kernelLogger) Info(msg string, keyvals ...interface{}) {
	lg := level.Info(l.srcLogger)
	_ = kitlog.WithPrefix(lg, "msg", msg).Log(keyvals...)
}

func (l *kernelLogger) Error(msg string, keyvals ...interface{}) {
	lg := level.Error(l.srcLogger)
	_ = kitlog.WithPrefix(lg, "msg", msg).Log(keyvals...)
}

func (l *kernelLogger) With(keyvals ...interface{}) Logger {
	return &kernelLogger{srcLogger: kitlog.With(l.srcLogger, keyvals...)}
}
