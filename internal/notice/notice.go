// Package notice delivers short user-facing messages about skipped or
// failed work. Delivery is fire-and-forget: a Notifier never returns an
// error to the caller.
package notice

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/starford/flashsync/internal/sse"
)

// Level is the severity of a notice.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Notice is one message shown to the user.
type Notice struct {
	ID      string    `json:"id"`
	Level   Level     `json:"level"`
	Message string    `json:"message"`
	Path    string    `json:"path,omitempty"`
	Time    time.Time `json:"time"`
}

// New builds a notice about path with a formatted message.
func New(level Level, path, format string, args ...any) Notice {
	return Notice{
		ID:      uuid.NewString(),
		Level:   level,
		Message: fmt.Sprintf(format, args...),
		Path:    path,
		Time:    time.Now().UTC(),
	}
}

// Notifier delivers notices.
type Notifier interface {
	Notify(ctx context.Context, n Notice)
}

// Log writes notices to a structured logger.
type Log struct {
	logger *slog.Logger
}

// NewLog creates a Notifier backed by logger.
func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger}
}

// Notify implements Notifier.
func (l *Log) Notify(ctx context.Context, n Notice) {
	level := slog.LevelInfo
	switch n.Level {
	case LevelWarn:
		level = slog.LevelWarn
	case LevelError:
		level = slog.LevelError
	}
	l.logger.Log(ctx, level, "notice: "+n.Message,
		slog.String("id", n.ID),
		slog.String("path", n.Path))
}

// Publisher is the part of the SSE broker used for notices.
type Publisher interface {
	Publish(event sse.Event)
}

// Broadcast publishes notices as SSE "notice" events.
type Broadcast struct {
	pub Publisher
}

// NewBroadcast creates a Notifier that publishes to pub.
func NewBroadcast(pub Publisher) *Broadcast {
	return &Broadcast{pub: pub}
}

// Notify implements Notifier.
func (b *Broadcast) Notify(_ context.Context, n Notice) {
	b.pub.Publish(sse.Event{Type: sse.TypeNotice, Data: n})
}

// Multi fans a notice out to every notifier in order.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, n Notice) {
	for _, nt := range m {
		nt.Notify(ctx, n)
	}
}

// Recorder keeps every notice in memory so tests can assert on them.
type Recorder struct {
	mu      sync.Mutex
	notices []Notice
}

// Notify implements Notifier.
func (r *Recorder) Notify(_ context.Context, n Notice) {
	r.mu.Lock()
	r.notices = append(r.notices, n)
	r.mu.Unlock()
}

// Notices returns a copy of the recorded notices.
func (r *Recorder) Notices() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notice, len(r.notices))
	copy(out, r.notices)
	return out
}

// Reset drops all recorded notices.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.notices = nil
	r.mu.Unlock()
}
