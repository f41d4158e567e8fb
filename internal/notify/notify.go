// Package notify delivers short user-visible notices (the portal's toasts).
package notify

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Level of a notice.
type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Notifier surfaces a transient message to the user.
type Notifier interface {
	Notify(ctx context.Context, level Level, message string)
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, level Level, message string)

func (f Func) Notify(ctx context.Context, level Level, message string) { f(ctx, level, message) }

// Success is shorthand for n.Notify(ctx, LevelSuccess, message).
func Success(ctx context.Context, n Notifier, message string) {
	n.Notify(ctx, LevelSuccess, message)
}

// Error is shorthand for n.Notify(ctx, LevelError, message).
func Error(ctx context.Context, n Notifier, message string) {
	n.Notify(ctx, LevelError, message)
}

type suppressKey struct{}

// Suppress marks ctx so resource-service notices are not emitted for calls made with it.
// Bulk callers use it to avoid one notice per item.
func Suppress(ctx context.Context) context.Context {
	return context.WithValue(ctx, suppressKey{}, true)
}

// Suppressed reports whether ctx was marked with Suppress.
func Suppressed(ctx context.Context) bool {
	v, _ := ctx.Value(suppressKey{}).(bool)
	return v
}

// Log writes notices to a zerolog logger.
type Log struct {
	logger zerolog.Logger
}

// NewLog creates a logger-backed notifier.
func NewLog(logger zerolog.Logger) *Log {
	return &Log{logger: logger.With().Str("component", "notify").Logger()}
}

func (l *Log) Notify(_ context.Context, level Level, message string) {
	if level == LevelError {
		l.logger.Error().Msg(message)
		return
	}
	l.logger.Info().Msg(message)
}

// Nop discards every notice.
type Nop struct{}

func (Nop) Notify(context.Context, Level, string) {}

// Multi fans a notice out to several notifiers.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, level Level, message string) {
	for _, n := range m {
		n.Notify(ctx, level, message)
	}
}

// Counter records notice counts, typically backed by metrics.
type Counter interface {
	RecordNotification(level string)
}

type counted struct {
	next    Notifier
	counter Counter
}

// Counted wraps next so every notice is also counted.
func Counted(next Notifier, counter Counter) Notifier {
	return &counted{next: next, counter: counter}
}

func (c *counted) Notify(ctx context.Context, level Level, message string) {
	c.counter.RecordNotification(string(level))
	c.next.Notify(ctx, level, message)
}

// Notice is a recorded notification.
type Notice struct {
	Level   Level
	Message string
}

// Recorder keeps every notice in memory.
type Recorder struct {
	mu      sync.Mutex
	notices []Notice
}

func (r *Recorder) Notify(_ context.Context, level Level, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, Notice{Level: level, Message: message})
}

// Notices returns a copy of everything recorded so far.
func (r *Recorder) Notices() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notice, len(r.notices))
	copy(out, r.notices)
	return out
}

// Last returns the most recent notice, or the zero Notice.
func (r *Recorder) Last() Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.notices) == 0 {
		return Notice{}
	}
	return r.notices[len(r.notices)-1]
}

// Reset forgets recorded notices.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.notices = nil
	r.mu.Unlock()
}
