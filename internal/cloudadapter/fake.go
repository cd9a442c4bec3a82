package cloudadapter

import (
	"context"
	"fmt"
	"sync"

	"github.com/oriys/sonny/internal/inventory"
)

// Fake is an in-memory Adapter used by tests, by cmd/monitor and cmd/ns4,
// and anywhere a real cloud is unavailable. It is not a reference for fidelity
// against any particular cloud API, only for the contract's shape.
type Fake struct {
	mu sync.Mutex

	Hosts      map[string]inventory.Host
	Services   map[string]inventory.Service // keyed by host
	Agents     inventory.AgentHeartbeats
	Aggregates []inventory.Aggregate
	Projects   []inventory.Project
	Servers    map[string]inventory.Tenant // keyed by tenant ID
	Interfaces map[string][]Interface      // keyed by tenant ID
	Ports      map[string]*Port            // keyed by port ID

	Rebooted []string // tenant IDs, in call order
}

// NewFake returns an empty Fake adapter ready to be populated by a test.
func NewFake() *Fake {
	return &Fake{
		Hosts:      map[string]inventory.Host{},
		Services:   map[string]inventory.Service{},
		Agents:     inventory.AgentHeartbeats{},
		Servers:    map[string]inventory.Tenant{},
		Interfaces: map[string][]Interface{},
		Ports:      map[string]*Port{},
	}
}

func (f *Fake) ListHypervisors(ctx context.Context) ([]inventory.Host, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]inventory.Host, 0, len(f.Hosts))
	for _, h := range f.Hosts {
		out = append(out, h)
	}
	return out, nil
}

func (f *Fake) ListServices(ctx context.Context) ([]inventory.Service, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]inventory.Service, 0, len(f.Services))
	for _, s := range f.Services {
		out = append(out, s)
	}
	return out, nil
}

func (f *Fake) ListAgents(ctx context.Context) (inventory.AgentHeartbeats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Agents, nil
}

func (f *Fake) ListAggregates(ctx context.Context) ([]inventory.Aggregate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Aggregates, nil
}

func (f *Fake) ListProjects(ctx context.Context) ([]inventory.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Projects, nil
}

func (f *Fake) ListServers(ctx context.Context) ([]inventory.Tenant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]inventory.Tenant, 0, len(f.Servers))
	for _, t := range f.Servers {
		out = append(out, t)
	}
	return out, nil
}

func (f *Fake) RebootServer(ctx context.Context, tenantID string, hard bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Rebooted = append(f.Rebooted, tenantID)
	return nil
}

func (f *Fake) ListServerInterfaces(ctx context.Context, tenantID string) ([]Interface, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Interfaces[tenantID], nil
}

func (f *Fake) GetPort(ctx context.Context, portID string) (*Port, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.Ports[portID]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (f *Fake) UpdatePort(ctx context.Context, portID string, bindingHostID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.Ports[portID]
	if !ok {
		return fmt.Errorf("port %s not found", portID)
	}
	p.BindingHostID = bindingHostID
	return nil
}

func (f *Fake) DisableService(ctx context.Context, host, binary, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.Services[host]
	if !ok {
		return fmt.Errorf("service %s/%s not found", host, binary)
	}
	s.Status = "disabled"
	s.DisabledReason = reason
	f.Services[host] = s
	return nil
}

func (f *Fake) EnableService(ctx context.Context, host, binary string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.Services[host]
	if !ok {
		return fmt.Errorf("service %s/%s not found", host, binary)
	}
	s.Status = "enabled"
	s.DisabledReason = ""
	f.Services[host] = s
	return nil
}
