package notifier

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

type memPublisher struct {
	mu       sync.Mutex
	messages []string
}

func (p *memPublisher) Publish(ctx context.Context, topic string, message string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, topic+": "+message)
	return nil
}

func TestNotify_PublishesFormattedLine(t *testing.T) {
	pub := &memPublisher{}
	n := New(pub, "example-cloud")

	if err := n.Notify(context.Background(), "INFO", "host suspicious", "host", "hv42"); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	if len(pub.messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(pub.messages))
	}
	got := pub.messages[0]
	if !strings.Contains(got, "example-cloud:") || !strings.Contains(got, "host suspicious") || !strings.Contains(got, "host=hv42") {
		t.Errorf("unexpected message: %q", got)
	}
}

func TestHandler_ForwardsWarnAndAbove(t *testing.T) {
	pub := &memPublisher{}
	n := New(pub, "example-cloud")

	base := slog.NewTextHandler(&discardWriter{}, nil)
	h := NewHandler(base, n, slog.LevelWarn)
	logger := slog.New(h)

	logger.Info("this should not be forwarded")
	logger.Warn("host suspicious", "host", "hv42")

	if len(pub.messages) != 1 {
		t.Fatalf("expected 1 forwarded message, got %d: %v", len(pub.messages), pub.messages)
	}
	if !strings.Contains(pub.messages[0], "host suspicious") {
		t.Errorf("unexpected forwarded message: %q", pub.messages[0])
	}
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
