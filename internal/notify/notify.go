// Package notify delivers transient user notifications for graph commands.
// Notifications carry a stable ID so a pending message can later be replaced
// in place by its success or failure outcome.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Level is the severity of a notification.
type Level string

const (
	LevelLoading Level = "loading"
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Notification is a single user-visible message.
type Notification struct {
	ID        string    `json:"id"`
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Notifier receives notifications. Implementations must be safe for concurrent use.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// LogNotifier writes notifications to a structured logger.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a notifier backed by logger (nil means slog.Default()).
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// Notify logs n; errors are logged at Warn.
func (l *LogNotifier) Notify(ctx context.Context, n Notification) {
	level := slog.LevelInfo
	if n.Level == LevelError {
		level = slog.LevelWarn
	}
	l.logger.Log(ctx, level, n.Message,
		slog.String("notification_id", n.ID),
		slog.String("level", string(n.Level)),
	)
}

// Center keeps the latest notification per ID, in first-seen order.
// A render layer reads Active() to draw toasts.
type Center struct {
	mu    sync.Mutex
	order []string
	byID  map[string]Notification
	all   []Notification
}

// NewCenter creates an empty notification center.
func NewCenter() *Center {
	return &Center{byID: make(map[string]Notification)}
}

// Notify records n, replacing any earlier notification with the same ID.
func (c *Center) Notify(_ context.Context, n Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.byID[n.ID]; !ok {
		c.order = append(c.order, n.ID)
	}
	c.byID[n.ID] = n
	c.all = append(c.all, n)
}

// Active returns the current notification for every ID.
func (c *Center) Active() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Notification, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.byID[id])
	}
	return out
}

// Get returns the current notification for id.
func (c *Center) Get(id string) (Notification, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.byID[id]
	return n, ok
}

// History returns every notification received, in order.
func (c *Center) History() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Notification(nil), c.all...)
}

// Dismiss removes the notification with the given ID.
func (c *Center) Dismiss(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.byID[id]; !ok {
		return
	}
	delete(c.byID, id)
	for i, x := range c.order {
		if x == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// Multi fans a notification out to several notifiers.
type Multi []Notifier

// Notify forwards n to every notifier.
func (m Multi) Notify(ctx context.Context, n Notification) {
	for _, x := range m {
		x.Notify(ctx, n)
	}
}

var (
	_ Notifier = (*LogNotifier)(nil)
	_ Notifier = (*Center)(nil)
	_ Notifier = Multi(nil)
)
