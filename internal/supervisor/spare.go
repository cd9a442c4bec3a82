package supervisor

import (
	"sort"
	"strings"

	"github.com/oriys/sonny/internal/inventory"
)

// SelectSpare implements spec §4.4.2: given a dead host's row and the
// growing set of spares already reserved this batch, return the first
// surviving candidate in iteration order, or "", false if none remain.
// hostOrder fixes the iteration order of the services mapping so selection
// is deterministic given the same snapshot, matching "ties are broken by
// that order" — callers should pass the order the cloud adapter originally
// returned services in; tests may pass a sorted order for determinism.
func SelectSpare(services map[string]inventory.Service, hosts map[string]inventory.Host, hostOrder []string, dead inventory.Host, reserved map[string]bool) (string, bool) {
	order := hostOrder
	if order == nil {
		order = make([]string, 0, len(services))
		for h := range services {
			order = append(order, h)
		}
		sort.Strings(order)
	}

	for _, h := range order {
		svc, ok := services[h]
		if !ok {
			continue
		}
		if svc.Zone != dead.Zone || svc.State != "up" || svc.Status != "disabled" {
			continue
		}
		if !strings.Contains(strings.ToLower(svc.DisabledReason), "spare") {
			continue
		}
		candidateHost, ok := hosts[h]
		if !ok {
			continue
		}
		if candidateHost.Aggregate != dead.Aggregate {
			continue
		}
		if candidateHost.VCPUsUsed != 0 {
			continue
		}
		if candidateHost.VCPUs < dead.VCPUs {
			continue
		}
		if reserved[h] {
			continue
		}
		return h, true
	}
	return "", false
}
