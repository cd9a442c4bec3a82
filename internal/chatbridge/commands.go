package chatbridge

import (
	"context"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/oriys/sonny/internal/inventory"
	"github.com/oriys/sonny/internal/logging"
)

const helpText = "commands: `help`, `status`, `show hv <name>`, `show vm <uuid_or_name>`"

// handleMention parses one @-mention into a command and posts the reply
// directly, bypassing the once-a-second notifier batching: operator
// commands are interactive and should answer immediately.
func (b *ChatBridge) handleMention(ctx context.Context, channel, text string) {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 {
		return
	}

	var reply string
	switch strings.ToLower(fields[0]) {
	case "help":
		reply = helpText
	case "status":
		reply = b.statusText(ctx)
	case "show":
		if len(fields) < 3 {
			reply = "usage: show hv <name> | show vm <uuid_or_name>"
		} else {
			reply = b.showText(ctx, strings.ToLower(fields[1]), stripMentionForm(fields[2]))
		}
	default:
		reply = "unknown command, try `help`"
	}

	if err := b.Transport.PostMessage(ctx, channel, reply); err != nil {
		logging.Op().Warn("chatbridge: failed to reply", "error", err)
	}
}

// statusText reports, per cloud, how long ago its inventory last refreshed.
func (b *ChatBridge) statusText(ctx context.Context) string {
	var lines []string
	for _, cloud := range b.Clouds {
		snap, ok := b.Snapshots[cloud]
		if !ok {
			continue
		}
		age, err := snap.Age(ctx, inventory.KeyAPIAlive)
		if err != nil {
			lines = append(lines, fmt.Sprintf("%s: inventory never refreshed", cloud))
			continue
		}
		lines = append(lines, fmt.Sprintf("%s: inventory updated %d seconds ago", cloud, int(age.Seconds())))
	}
	if len(lines) == 0 {
		return "no clouds configured"
	}
	return strings.Join(lines, "\n")
}

// showText dumps the matching hypervisor or server record as YAML, the
// first match across configured clouds in Clouds order.
func (b *ChatBridge) showText(ctx context.Context, kind, name string) string {
	switch kind {
	case "hv":
		for _, cloud := range b.Clouds {
			snap, ok := b.Snapshots[cloud]
			if !ok {
				continue
			}
			hosts, err := snap.Hosts(ctx)
			if err != nil {
				continue
			}
			if host, ok := hosts[name]; ok {
				return dumpYAML(host)
			}
		}
		return "not found"

	case "vm":
		for _, cloud := range b.Clouds {
			snap, ok := b.Snapshots[cloud]
			if !ok {
				continue
			}
			servers, err := snap.Servers(ctx)
			if err != nil {
				continue
			}
			if tenant, ok := servers[name]; ok {
				return dumpYAML(tenant)
			}
			for _, tenant := range servers {
				if tenant.Name == name {
					return dumpYAML(tenant)
				}
			}
		}
		return "not found"

	default:
		return "usage: show hv <name> | show vm <uuid_or_name>"
	}
}

func dumpYAML(v any) string {
	raw, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Sprintf("error formatting record: %v", err)
	}
	return string(raw)
}

// stripMentionForm strips Slack's `<id|name>` mention rendering down to the
// `name` portion; plain text passes through unchanged.
func stripMentionForm(s string) string {
	if !strings.HasPrefix(s, "<") || !strings.HasSuffix(s, ">") {
		return s
	}
	if i := strings.LastIndex(s, "|"); i >= 0 {
		return s[i+1 : len(s)-1]
	}
	return s
}
