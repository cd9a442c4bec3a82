package chatbridge

import (
	"context"
	"fmt"
	"strings"

	goslack "github.com/slack-go/slack"
)

// Mention is an inbound @-mention directed at the bot.
type Mention struct {
	Channel string
	Text    string
}

// Transport is the chat backend ChatBridge drives. RTMTransport below is the
// Slack-backed implementation; tests substitute a fake so the coalescing,
// rate-limit, and reconnect logic can be exercised without a live socket.
type Transport interface {
	// Connect blocks for the lifetime of one connection, delivering
	// mentions and invoking onConnected once the handshake completes. A nil
	// return means ctx was cancelled; any other return is a disconnect the
	// caller should back off and retry on.
	Connect(ctx context.Context, mentions chan<- Mention, onConnected func()) error
	PostMessage(ctx context.Context, channel, text string) error
}

// RTMTransport drives Slack's real-time messaging API: one long-lived
// connection per Connect call, read for inbound @-mentions, REST calls for
// outbound posts — the same PostMessageContext primitive the teacher's
// Slack notifier uses.
type RTMTransport struct {
	client *goslack.Client
}

// NewRTMTransport wraps a bot token.
func NewRTMTransport(token string) *RTMTransport {
	return &RTMTransport{client: goslack.New(token)}
}

func (t *RTMTransport) PostMessage(ctx context.Context, channel, text string) error {
	_, _, err := t.client.PostMessageContext(ctx, channel, goslack.MsgOptionText(text, false))
	return err
}

// Connect opens one RTM session and forwards @-mentions of the
// authenticated bot user until the session drops or ctx is cancelled.
// ManageConnection absorbs transient blips within one session; the outer
// reconnect-with-backoff in ChatBridge.connectLoop governs what happens
// when a whole session needs replacing.
func (t *RTMTransport) Connect(ctx context.Context, mentions chan<- Mention, onConnected func()) error {
	rtm := t.client.NewRTM()
	go rtm.ManageConnection()
	defer rtm.Disconnect()

	var botUserID string
	connected := false

	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-rtm.IncomingEvents:
			if !ok {
				return fmt.Errorf("chatbridge: rtm event stream closed")
			}
			switch e := evt.Data.(type) {
			case *goslack.ConnectedEvent:
				connected = true
				if botUserID == "" && e.Info != nil && e.Info.User != nil {
					botUserID = e.Info.User.ID
				}
				if onConnected != nil {
					onConnected()
				}
			case *goslack.DisconnectedEvent:
				if connected {
					return fmt.Errorf("chatbridge: disconnected (intentional=%v)", e.Intentional)
				}
			case *goslack.MessageEvent:
				if botUserID == "" {
					continue
				}
				if text, ok := stripBotMention(e.Text, botUserID); ok {
					select {
					case mentions <- Mention{Channel: e.Channel, Text: text}:
					case <-ctx.Done():
						return nil
					}
				}
			case *goslack.InvalidAuthEvent:
				return fmt.Errorf("chatbridge: invalid slack auth")
			case *goslack.RTMError:
				return fmt.Errorf("chatbridge: rtm error: %v", e)
			}
		}
	}
}

func stripBotMention(text, botUserID string) (string, bool) {
	mention := "<@" + botUserID + ">"
	idx := strings.Index(text, mention)
	if idx < 0 {
		return "", false
	}
	return strings.TrimSpace(text[:idx] + text[idx+len(mention):]), true
}
