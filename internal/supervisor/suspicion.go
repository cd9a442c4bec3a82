package supervisor

import (
	"time"

	"github.com/oriys/sonny/internal/inventory"
)

// GetSuspiciousHypervisors implements the suspicion predicate of spec
// §4.4.1: a host is suspicious iff every one of its agents' heartbeats is
// older than heartbeatPeriod, with the disabled/zero-VM/already-handled
// carve-outs below. It is a pure function of its inputs so it is directly
// testable without a cache.
func GetSuspiciousHypervisors(agents inventory.AgentHeartbeats, hosts map[string]inventory.Host, now time.Time, heartbeatPeriod time.Duration, warn func(host string)) []string {
	var suspicious []string
	for host, byBinary := range agents {
		h, ok := hosts[host]
		if !ok {
			continue
		}
		if h.IsAlreadyHandled() {
			continue
		}
		if h.Status == "disabled" && h.RunningVMs == 0 {
			continue
		}
		if h.Status == "disabled" && h.RunningVMs > 0 {
			if warn != nil {
				warn(host)
			}
		}
		if h.RunningVMs == 0 {
			continue
		}

		allStale := true
		for _, ts := range byBinary {
			t, err := time.Parse(inventory.HeartbeatLayout, ts)
			if err != nil {
				// An unparseable timestamp cannot be proven stale; treat the
				// host as not suspicious rather than guess.
				allStale = false
				break
			}
			if now.Sub(t) <= heartbeatPeriod {
				allStale = false
				break
			}
		}
		if allStale && len(byBinary) > 0 {
			suspicious = append(suspicious, host)
		}
	}
	return suspicious
}
