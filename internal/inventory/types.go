// Package inventory holds the typed view of cloud state that the supervisor
// reasons about: hosts, their agents, tenants, placement services, and the
// aggregate/zone grouping used for spare selection.
package inventory

import "strings"

// HeartbeatLayout is the exact wire format for agent heartbeat timestamps:
// UTC, no timezone suffix.
const HeartbeatLayout = "2006-01-02 15:04:05"

// Host is a single hypervisor in the fleet.
type Host struct {
	Name           string `json:"name"`
	HostIP         string `json:"host_ip"`
	State          string `json:"state"`  // "up" or "down"
	Status         string `json:"status"` // "enabled" or "disabled"
	RunningVMs     int    `json:"running_vms"`
	VCPUs          int    `json:"vcpus"`
	VCPUsUsed      int    `json:"vcpus_used"`
	Zone           string `json:"zone"`
	Aggregate      string `json:"aggregate"`
	DisabledReason string `json:"disabled_reason"`
}

// IsAlreadyHandled reports whether this host was already resurrected away
// from, so a fresh tick must not re-suspect it.
func (h Host) IsAlreadyHandled() bool {
	return h.State == "down" && strings.Contains(h.DisabledReason, "sonny")
}

// AgentHeartbeats is the "agents" cache entry: per-host, per-binary last
// heartbeat, serialized as the literal wire timestamp string so the cache
// content matches what an operator sees when dumping the raw key.
type AgentHeartbeats map[string]map[string]string

// Service is the control plane's record of a compute service running on a
// host: whether it has been administratively disabled, and why.
type Service struct {
	Host           string `json:"host"`
	Binary         string `json:"binary"`
	Status         string `json:"status"` // "enabled" or "disabled"
	State          string `json:"state"`  // "up" or "down"
	Zone           string `json:"zone"`
	DisabledReason string `json:"disables_reason"` // sic: literal upstream key name, see DESIGN.md
}

// IsSpareCandidate reports whether this service's disabled reason marks the
// host as a designated standby, independent of letter case.
func (s Service) IsSpareCandidate() bool {
	return s.State == "up" && s.Status == "disabled" && strings.Contains(strings.ToLower(s.DisabledReason), "spare")
}

// Tenant is a single running server/instance placed on a host.
type Tenant struct {
	ID                 string              `json:"id"`
	Name               string              `json:"name"`
	HypervisorHostname string              `json:"hypervisor_hostname"`
	VMState            string              `json:"vm_state"` // "active", "stopped", ...
	Addresses          map[string][]string `json:"addresses"` // network name -> ordered addresses
}

// ExternalAddresses returns the tenant's addresses on any of the configured
// provider networks (default "ext-net").
func (t Tenant) ExternalAddresses(providerNets []string) []string {
	var out []string
	for _, net := range providerNets {
		out = append(out, t.Addresses[net]...)
	}
	return out
}

// HasExternalAddress reports whether the tenant has at least one address on
// one of the configured externally-reachable networks.
func (t Tenant) HasExternalAddress(providerNets []string) bool {
	return len(t.ExternalAddresses(providerNets)) > 0
}

// Aggregate groups hosts sharing capability, e.g. a host-aggregate backing a
// flavor or availability zone.
type Aggregate struct {
	Name  string   `json:"name"`
	Zone  string   `json:"zone"`
	Hosts []string `json:"hosts"`
}

// Project is a tenancy/account record, cached by every refresh. The chat
// bridge's "show" command does not read it.
type Project struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
