// Package notifier publishes formatted log lines onto a per-cloud pub/sub
// topic so the chat bridge can forward them to operators. It is kept as a
// separate adapter from the job queue and the inventory cache, even though
// all three share one Redis connection in the default wiring.
package notifier

import (
	"context"
	"fmt"
	"log/slog"
)

// Publisher is the minimal pub/sub contract the notifier needs.
type Publisher interface {
	Publish(ctx context.Context, topic string, message string) error
}

// Notifier publishes one line per emitted record to the cache topic named
// after its cloud.
type Notifier struct {
	Cloud     string
	Publisher Publisher
}

// New returns a Notifier that publishes to the topic named cloud.
func New(publisher Publisher, cloud string) *Notifier {
	return &Notifier{Cloud: cloud, Publisher: publisher}
}

// Notify publishes a single formatted line, matching the "every state
// transition emits one log record routed to the Notifier" contract.
func (n *Notifier) Notify(ctx context.Context, level, msg string, attrs ...any) error {
	line := format(level, msg, attrs)
	return n.Publisher.Publish(ctx, n.Cloud, line)
}

func format(level, msg string, attrs []any) string {
	out := fmt.Sprintf("[%s] %s", level, msg)
	for i := 0; i+1 < len(attrs); i += 2 {
		out += fmt.Sprintf(" %v=%v", attrs[i], attrs[i+1])
	}
	return out
}

// Handler is an slog.Handler that mirrors WARN+ records onto a Notifier, so
// the same operational log stream that goes to stderr also reaches chat,
// matching the original SonnyHandler(logging.StreamHandler) pattern.
type Handler struct {
	next     slog.Handler
	notifier *Notifier
	minLevel slog.Level
}

// NewHandler wraps next, forwarding records at minLevel or above to notifier.
func NewHandler(next slog.Handler, notifier *Notifier, minLevel slog.Level) *Handler {
	return &Handler{next: next, notifier: notifier, minLevel: minLevel}
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= h.minLevel {
		attrs := make([]any, 0, r.NumAttrs()*2)
		r.Attrs(func(a slog.Attr) bool {
			attrs = append(attrs, a.Key, a.Value.Any())
			return true
		})
		// Best-effort: a notifier publish failure must never block or fail
		// the underlying log write.
		_ = h.notifier.Notify(ctx, r.Level.String(), r.Message, attrs...)
	}
	return h.next.Handle(ctx, r)
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Handler{next: h.next.WithAttrs(attrs), notifier: h.notifier, minLevel: h.minLevel}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{next: h.next.WithGroup(name), notifier: h.notifier, minLevel: h.minLevel}
}
