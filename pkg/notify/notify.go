// Package notify delivers short user-facing messages about the outcome of
// data operations.
package notify

import (
	"sync"
	"time"

	"github.com/harrisonrobin/eventdesk/pkg/backend"
	"go.uber.org/zap"
)

type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
)

// Toast is one transient notification.
type Toast struct {
	Level       Level
	Title       string
	Description string
	At          time.Time
}

type Notifier interface {
	Notify(t Toast)
}

// Success raises a success toast.
func Success(n Notifier, title, description string) {
	send(n, Toast{Level: LevelSuccess, Title: title, Description: description})
}

// Failure raises an error toast describing err.
func Failure(n Notifier, title string, err error) {
	send(n, Toast{Level: LevelError, Title: title, Description: backend.Message(err)})
}

func Warning(n Notifier, title, description string) {
	send(n, Toast{Level: LevelWarning, Title: title, Description: description})
}

func Info(n Notifier, title, description string) {
	send(n, Toast{Level: LevelInfo, Title: title, Description: description})
}

func send(n Notifier, t Toast) {
	if n == nil {
		return
	}
	if t.At.IsZero() {
		t.At = time.Now()
	}
	n.Notify(t)
}

// LogNotifier writes toasts to a zap logger.
type LogNotifier struct {
	Log *zap.Logger
}

func (l LogNotifier) Notify(t Toast) {
	if l.Log == nil {
		return
	}
	fields := []zap.Field{zap.String("title", t.Title)}
	if t.Description != "" {
		fields = append(fields, zap.String("description", t.Description))
	}
	switch t.Level {
	case LevelError:
		l.Log.Error("toast", fields...)
	case LevelWarning:
		l.Log.Warn("toast", fields...)
	default:
		l.Log.Info("toast", fields...)
	}
}

// Recorder keeps every toast it receives.
type Recorder struct {
	mu     sync.Mutex
	toasts []Toast
}

func (r *Recorder) Notify(t Toast) {
	r.mu.Lock()
	r.toasts = append(r.toasts, t)
	r.mu.Unlock()
}

// Toasts returns a copy of what was recorded so far.
func (r *Recorder) Toasts() []Toast {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Toast(nil), r.toasts...)
}

// Last returns the most recent toast.
func (r *Recorder) Last() (Toast, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.toasts) == 0 {
		return Toast{}, false
	}
	return r.toasts[len(r.toasts)-1], true
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	r.toasts = nil
	r.mu.Unlock()
}

// Multi fans a toast out to several notifiers.
type Multi []Notifier

func (m Multi) Notify(t Toast) {
	for _, n := range m {
		if n != nil {
			n.Notify(t)
		}
	}
}
