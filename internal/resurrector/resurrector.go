// Package resurrector implements the dead-to-spare tenant transplant: the
// precondition checks, placement rewrite, cache patch, reboot, port rebind,
// and service toggle that make up one resurrection job.
package resurrector

import (
	"context"
	"fmt"
	"strings"

	"github.com/oriys/sonny/internal/cloudadapter"
	"github.com/oriys/sonny/internal/inventory"
	"github.com/oriys/sonny/internal/logging"
	"github.com/oriys/sonny/internal/placementdb"
	"github.com/oriys/sonny/internal/prober"
	"github.com/oriys/sonny/internal/refresher"
	"github.com/oriys/sonny/internal/sonnyerr"
)

// Resurrector executes one dead->spare transplant.
type Resurrector struct {
	Adapter      cloudadapter.Adapter
	Snapshot     *inventory.Snapshot
	Placement    placementdb.Rewriter
	Prober       *prober.Prober
	ProviderNets []string
}

// New returns a Resurrector wired to its collaborators.
func New(adapter cloudadapter.Adapter, snap *inventory.Snapshot, placement placementdb.Rewriter, p *prober.Prober, providerNets []string) *Resurrector {
	return &Resurrector{Adapter: adapter, Snapshot: snap, Placement: placement, Prober: p, ProviderNets: providerNets}
}

// Resurrect runs the full procedure of spec §4.5. refreshFirst controls
// whether a synchronous tenants refresh precedes the precondition checks
// (true for supervisor-dispatched jobs, optionally false for an operator
// who just ran one manually).
func (r *Resurrector) Resurrect(ctx context.Context, deadHost, spareHost string, refreshFirst bool) error {
	if deadHost == spareHost {
		return fmt.Errorf("%w: dead host equals spare host %s", sonnyerr.PreconditionViolation, deadHost)
	}

	if refreshFirst {
		ref := refresher.New(r.Adapter, r.Snapshot)
		if err := ref.Refresh(ctx, true); err != nil {
			return fmt.Errorf("%w: refresh before resurrection: %v", sonnyerr.PreconditionViolation, err)
		}
	}

	if err := r.checkPreconditions(ctx, deadHost, spareHost); err != nil {
		return err
	}

	instances, err := r.tenantsToMove(ctx, deadHost, spareHost)
	if err != nil {
		return err
	}
	if len(instances) == 0 {
		logging.Op().Info("resurrection: nothing to move", "dead", deadHost, "spare", spareHost)
		return nil
	}

	ids := make([]string, 0, len(instances))
	for _, t := range instances {
		ids = append(ids, t.ID)
	}

	// (a) placement rewrite: one transaction, all rows.
	if err := r.Placement.RewriteHost(ctx, ids, spareHost); err != nil {
		return fmt.Errorf("placement rewrite: %w", err)
	}

	// (b) cache update: patch hypervisor_hostname for every moved tenant.
	if err := r.patchCache(ctx, instances, spareHost); err != nil {
		return fmt.Errorf("cache patch after placement rewrite: %w", err)
	}

	// (c) per-tenant reconciliation: reboot unless stopped, rebind ports.
	// All tenants are attempted even if one fails; failures are aggregated.
	var failures []error
	for _, t := range instances {
		if err := r.reconcileTenant(ctx, t, spareHost); err != nil {
			failures = append(failures, fmt.Errorf("tenant %s: %w", t.ID, err))
		}
	}

	// (d) service toggle: disable dead, enable spare. Always attempted,
	// even if (c) had partial failures, since the hosts' roles have
	// already changed at the placement layer.
	reason := fmt.Sprintf("sonny resurrection on %s", spareHost)
	if err := r.Adapter.DisableService(ctx, deadHost, "nova-compute", reason); err != nil {
		failures = append(failures, fmt.Errorf("disable service on %s: %w", deadHost, err))
	}
	if err := r.Adapter.EnableService(ctx, spareHost, "nova-compute"); err != nil {
		failures = append(failures, fmt.Errorf("enable service on %s: %w", spareHost, err))
	}

	if len(failures) > 0 {
		msgs := make([]string, len(failures))
		for i, f := range failures {
			msgs[i] = f.Error()
		}
		return fmt.Errorf("%w: %s", sonnyerr.PartialResurrection, strings.Join(msgs, "; "))
	}

	logging.Op().Info("resurrection complete", "dead", deadHost, "spare", spareHost, "tenants", len(instances))
	return nil
}

func (r *Resurrector) checkPreconditions(ctx context.Context, deadHost, spareHost string) error {
	services, err := r.Snapshot.Services(ctx)
	if err != nil {
		return fmt.Errorf("%w: read services: %v", sonnyerr.PreconditionViolation, err)
	}
	dead, ok := services[deadHost]
	if !ok {
		return fmt.Errorf("%w: no service row for dead host %s", sonnyerr.PreconditionViolation, deadHost)
	}
	spare, ok := services[spareHost]
	if !ok {
		return fmt.Errorf("%w: no service row for spare host %s", sonnyerr.PreconditionViolation, spareHost)
	}
	if spare.Status != "disabled" {
		return fmt.Errorf("%w: spare %s is not disabled", sonnyerr.PreconditionViolation, spareHost)
	}
	if spare.State != "up" {
		return fmt.Errorf("%w: spare %s is not up", sonnyerr.PreconditionViolation, spareHost)
	}
	if spare.Zone != dead.Zone {
		return fmt.Errorf("%w: spare %s zone %s != dead %s zone %s", sonnyerr.PreconditionViolation, spareHost, spare.Zone, deadHost, dead.Zone)
	}
	if !strings.Contains(strings.ToLower(spare.DisabledReason), "spare") {
		return fmt.Errorf("%w: spare %s disabled reason %q does not mention spare", sonnyerr.PreconditionViolation, spareHost, spare.DisabledReason)
	}

	hosts, err := r.Snapshot.Hosts(ctx)
	if err != nil {
		return fmt.Errorf("%w: read hosts: %v", sonnyerr.PreconditionViolation, err)
	}
	spareHostRow, ok := hosts[spareHost]
	if !ok {
		return fmt.Errorf("%w: no hypervisor row for spare host %s", sonnyerr.PreconditionViolation, spareHost)
	}
	if spareHostRow.RunningVMs != 0 {
		return fmt.Errorf("%w: spare %s has %d running vms", sonnyerr.PreconditionViolation, spareHost, spareHostRow.RunningVMs)
	}

	if r.Prober != nil {
		deadHostRow, ok := hosts[deadHost]
		if !ok || deadHostRow.HostIP == "" {
			return fmt.Errorf("%w: no resolvable address for dead host %s", sonnyerr.PreconditionViolation, deadHost)
		}
		unreachable, err := r.Prober.Probe(ctx, []string{deadHostRow.HostIP}, []int{22, 111, 16509})
		if err != nil {
			return fmt.Errorf("%w: probe dead host: %v", sonnyerr.PreconditionViolation, err)
		}
		if len(unreachable) == 0 {
			return fmt.Errorf("%w: dead host %s responded to a probe, aborting", sonnyerr.PreconditionViolation, deadHost)
		}
	}

	return nil
}

func (r *Resurrector) tenantsToMove(ctx context.Context, deadHost, spareHost string) ([]inventory.Tenant, error) {
	servers, err := r.Snapshot.Servers(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: read servers: %v", sonnyerr.PreconditionViolation, err)
	}
	var instances []inventory.Tenant
	for _, t := range servers {
		if t.HypervisorHostname == spareHost {
			return nil, fmt.Errorf("%w: tenant %s already on spare host %s", sonnyerr.PreconditionViolation, t.ID, spareHost)
		}
		if t.HypervisorHostname == deadHost {
			instances = append(instances, t)
		}
	}
	return instances, nil
}

func (r *Resurrector) patchCache(ctx context.Context, instances []inventory.Tenant, spareHost string) error {
	servers, err := r.Snapshot.Servers(ctx)
	if err != nil {
		return err
	}
	for _, t := range instances {
		if row, ok := servers[t.ID]; ok {
			row.HypervisorHostname = spareHost
			servers[t.ID] = row
		}
	}
	return r.Snapshot.PutServers(ctx, servers)
}

func (r *Resurrector) reconcileTenant(ctx context.Context, t inventory.Tenant, spareHost string) error {
	var rebootErr error
	if t.VMState != "stopped" {
		if err := r.Adapter.RebootServer(ctx, t.ID, true); err != nil {
			rebootErr = fmt.Errorf("hard reboot: %w", err)
		}
	}

	ifaces, err := r.Adapter.ListServerInterfaces(ctx, t.ID)
	if err != nil {
		if rebootErr != nil {
			return fmt.Errorf("%v; list interfaces: %w", rebootErr, err)
		}
		return fmt.Errorf("list interfaces: %w", err)
	}

	var portErrs []string
	for _, iface := range ifaces {
		port, err := r.Adapter.GetPort(ctx, iface.PortID)
		if err != nil {
			portErrs = append(portErrs, fmt.Sprintf("get port %s: %v", iface.PortID, err))
			continue
		}
		if port == nil {
			continue // missing port tolerated
		}
		if err := r.Adapter.UpdatePort(ctx, port.ID, spareHost); err != nil {
			portErrs = append(portErrs, fmt.Sprintf("rebind port %s: %v", iface.PortID, err))
		}
	}

	switch {
	case rebootErr != nil && len(portErrs) > 0:
		return fmt.Errorf("%v; %s", rebootErr, strings.Join(portErrs, "; "))
	case rebootErr != nil:
		return rebootErr
	case len(portErrs) > 0:
		return fmt.Errorf("%s", strings.Join(portErrs, "; "))
	}
	return nil
}
