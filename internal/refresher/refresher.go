// Package refresher reloads cloud inventory into the cache, the first step
// of every supervisor tick.
package refresher

import (
	"context"
	"fmt"
	"time"

	"github.com/oriys/sonny/internal/cloudadapter"
	"github.com/oriys/sonny/internal/inventory"
	"github.com/oriys/sonny/internal/logging"
	"github.com/oriys/sonny/internal/sonnyerr"
)

// Refresher reloads the cloud's hosts/services/agents/aggregates/projects
// (and, optionally, tenants) into the cache.
type Refresher struct {
	Adapter  cloudadapter.Adapter
	Snapshot *inventory.Snapshot
}

// New returns a Refresher bound to adapter and snap.
func New(adapter cloudadapter.Adapter, snap *inventory.Snapshot) *Refresher {
	return &Refresher{Adapter: adapter, Snapshot: snap}
}

// Refresh performs, in order: optional tenants fetch, hosts, projects,
// agents, services, aggregates. Each sub-fetch overwrites its key and
// timestamp sibling. On any error, api_alive is set false and the error is
// returned (the caller's job fails). On full success, api_alive is set true.
func (r *Refresher) Refresh(ctx context.Context, includeTenants bool) error {
	if err := r.refreshStep(ctx, includeTenants); err != nil {
		if setErr := r.Snapshot.SetAPIAlive(ctx, false); setErr != nil {
			logging.Op().Warn("failed to record api_alive=false", "cloud", r.Snapshot.Cloud, "error", setErr)
		}
		return fmt.Errorf("%w: %v", sonnyerr.CloudAPIError, err)
	}
	return r.Snapshot.SetAPIAlive(ctx, true)
}

func (r *Refresher) refreshStep(ctx context.Context, includeTenants bool) error {
	if includeTenants {
		servers, err := r.Adapter.ListServers(ctx)
		if err != nil {
			return fmt.Errorf("list servers: %w", err)
		}
		byID := make(map[string]inventory.Tenant, len(servers))
		for _, s := range servers {
			byID[s.ID] = s
		}
		if err := r.Snapshot.PutServers(ctx, byID); err != nil {
			return err
		}
	}

	hosts, err := r.Adapter.ListHypervisors(ctx)
	if err != nil {
		return fmt.Errorf("list hypervisors: %w", err)
	}
	byName := make(map[string]inventory.Host, len(hosts))
	for _, h := range hosts {
		byName[h.Name] = h
	}
	if err := r.Snapshot.PutHosts(ctx, byName); err != nil {
		return err
	}

	projects, err := r.Adapter.ListProjects(ctx)
	if err != nil {
		return fmt.Errorf("list projects: %w", err)
	}
	if err := r.Snapshot.PutProjects(ctx, projects); err != nil {
		return err
	}

	agents, err := r.Adapter.ListAgents(ctx)
	if err != nil {
		return fmt.Errorf("list agents: %w", err)
	}
	if err := r.Snapshot.PutAgents(ctx, agents); err != nil {
		return err
	}

	services, err := r.Adapter.ListServices(ctx)
	if err != nil {
		return fmt.Errorf("list services: %w", err)
	}
	svcByHost := make(map[string]inventory.Service, len(services))
	for _, s := range services {
		svcByHost[s.Host] = s
	}
	if err := r.Snapshot.PutServices(ctx, svcByHost); err != nil {
		return err
	}

	aggs, err := r.Adapter.ListAggregates(ctx)
	if err != nil {
		return fmt.Errorf("list aggregates: %w", err)
	}
	if err := r.Snapshot.PutAggregates(ctx, aggs); err != nil {
		return err
	}

	return nil
}

// NeedsTenants implements the Supervisor's single freshness heuristic:
// tenants are refreshed when missing or older than 600s.
func NeedsTenants(ctx context.Context, snap *inventory.Snapshot) bool {
	age, err := snap.Age(ctx, inventory.KeyServers)
	if err != nil {
		return true
	}
	return age > 600*time.Second
}
