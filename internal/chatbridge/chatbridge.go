// Package chatbridge forwards Notifier traffic to chat and answers operator
// @-mentions. It is the one component in sonny with a persistent outbound
// connection, so reconnection is its own concern: transport.go owns the
// Slack session, this file owns coalescing, the once-per-second publish
// cadence, and backoff-governed reconnects.
package chatbridge

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/oriys/sonny/internal/inventory"
	"github.com/oriys/sonny/internal/logging"
)

// Publisher is the subscribe side of notifier.RedisPublisher.
type Publisher interface {
	Subscribe(ctx context.Context, topic string) <-chan string
}

// ChatBridge fans Notifier lines for each configured cloud into one chat
// channel, batched once a second, and answers operator commands addressed
// to the bot.
type ChatBridge struct {
	Transport Transport
	Publisher Publisher
	Channel   string

	// Clouds lists the pub/sub topics to subscribe to, in the order their
	// lines are concatenated when flushed.
	Clouds []string
	// Snapshots gives `show`/`status` read access into each cloud's
	// inventory cache, keyed the same as Clouds.
	Snapshots map[string]*inventory.Snapshot

	// ReconnectInitialInterval is the first retry delay after a connect
	// failure, doubling on each subsequent failure. Defaults to one second;
	// tests shrink it to keep the suite fast.
	ReconnectInitialInterval time.Duration
	// ReconnectMaxInterval caps the doubling. Defaults to five minutes.
	ReconnectMaxInterval time.Duration

	mu      sync.Mutex
	buffers map[string][]string
}

// New returns a ChatBridge ready for Run.
func New(t Transport, p Publisher, channel string, clouds []string, snapshots map[string]*inventory.Snapshot) *ChatBridge {
	return &ChatBridge{
		Transport: t,
		Publisher: p,
		Channel:   channel,
		Clouds:    clouds,
		Snapshots: snapshots,
		buffers:   make(map[string][]string, len(clouds)),
	}
}

// Run drains every cloud's notifier topic, flushes a coalesced chat post
// once a second, and maintains the inbound Slack connection with
// exponential-backoff reconnects. It blocks until ctx is cancelled.
func (b *ChatBridge) Run(ctx context.Context) error {
	for _, cloud := range b.Clouds {
		go b.drainCloud(ctx, cloud)
	}
	go b.publishLoop(ctx)
	return b.connectLoop(ctx)
}

func (b *ChatBridge) drainCloud(ctx context.Context, cloud string) {
	lines := b.Publisher.Subscribe(ctx, cloud)
	for line := range lines {
		b.mu.Lock()
		b.buffers[cloud] = append(b.buffers[cloud], line)
		b.mu.Unlock()
	}
}

func (b *ChatBridge) publishLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.flush(ctx)
		}
	}
}

// flush concatenates every buffered line across clouds, prefixed by cloud
// name, into one chat post. At most one post per tick, regardless of how
// many lines accumulated, is the rate limit.
func (b *ChatBridge) flush(ctx context.Context) {
	b.mu.Lock()
	var lines []string
	for _, cloud := range b.Clouds {
		for _, line := range b.buffers[cloud] {
			lines = append(lines, fmt.Sprintf("%s: %s", cloud, line))
		}
		b.buffers[cloud] = nil
	}
	b.mu.Unlock()

	if len(lines) == 0 {
		return
	}
	if err := b.Transport.PostMessage(ctx, b.Channel, strings.Join(lines, "\n")); err != nil {
		logging.Op().Warn("chatbridge: failed to post", "error", err)
	}
}

// connectLoop keeps a Slack session alive, doubling the retry delay on each
// consecutive failure and announcing "sonny re-initialized" the first time
// a connection succeeds after one failed.
func (b *ChatBridge) connectLoop(ctx context.Context) error {
	everFailed := false

	initial := b.ReconnectInitialInterval
	if initial <= 0 {
		initial = time.Second
	}
	maxInterval := b.ReconnectMaxInterval
	if maxInterval <= 0 {
		maxInterval = 5 * time.Minute
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = initial
	policy.Multiplier = 2
	policy.MaxInterval = maxInterval

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		mentions := make(chan Mention, 16)
		done := make(chan struct{})
		go func() {
			defer close(done)
			for m := range mentions {
				b.handleMention(ctx, m.Channel, m.Text)
			}
		}()

		connErr := b.Transport.Connect(ctx, mentions, func() {
			if everFailed {
				if err := b.Transport.PostMessage(ctx, b.Channel, "sonny re-initialized"); err != nil {
					logging.Op().Warn("chatbridge: failed to announce reconnect", "error", err)
				}
			}
		})
		close(mentions)
		<-done

		if ctx.Err() != nil {
			return struct{}{}, backoff.Permanent(ctx.Err())
		}
		if connErr != nil {
			everFailed = true
			logging.Op().Warn("chatbridge: transport disconnected, retrying", "error", connErr)
			return struct{}{}, connErr
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(policy),
		backoff.WithMaxElapsedTime(0)) // reconnect forever; only ctx cancellation stops us

	return err
}
