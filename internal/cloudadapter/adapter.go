// Package cloudadapter defines the contract the InventoryRefresher and
// Resurrector consume from the cloud control plane. A production binding
// against a real OpenStack or EC2 control plane is out of scope for this
// module (see spec §1); Fake (fake.go) is the in-memory reference
// implementation used by tests and wired into cmd/monitor and cmd/ns4.
package cloudadapter

import (
	"context"

	"github.com/oriys/sonny/internal/inventory"
)

// Interface is an Interface attached to a tenant's network port.
type Interface struct {
	PortID string
	TenantID string
}

// Port is a network port binding.
type Port struct {
	ID           string
	BindingHostID string
}

// Adapter is the full surface the refresher and resurrector need from the
// cloud control plane.
type Adapter interface {
	ListHypervisors(ctx context.Context) ([]inventory.Host, error)
	ListServices(ctx context.Context) ([]inventory.Service, error)
	ListAgents(ctx context.Context) (inventory.AgentHeartbeats, error)
	ListAggregates(ctx context.Context) ([]inventory.Aggregate, error)
	ListProjects(ctx context.Context) ([]inventory.Project, error)
	ListServers(ctx context.Context) ([]inventory.Tenant, error)

	RebootServer(ctx context.Context, tenantID string, hard bool) error
	ListServerInterfaces(ctx context.Context, tenantID string) ([]Interface, error)
	GetPort(ctx context.Context, portID string) (*Port, error)
	UpdatePort(ctx context.Context, portID string, bindingHostID string) error

	DisableService(ctx context.Context, host, binary, reason string) error
	EnableService(ctx context.Context, host, binary string) error
}
