package supervisor

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/oriys/sonny/internal/cache"
	"github.com/oriys/sonny/internal/cloudadapter"
	"github.com/oriys/sonny/internal/inventory"
	"github.com/oriys/sonny/internal/jobqueue"
	"github.com/oriys/sonny/internal/notifier"
	"github.com/oriys/sonny/internal/placementdb"
	"github.com/oriys/sonny/internal/refresher"
	"github.com/oriys/sonny/internal/resurrector"
)

type memPublisher struct{ lines []string }

func (p *memPublisher) Publish(ctx context.Context, topic, message string) error {
	p.lines = append(p.lines, message)
	return nil
}

type memRewriter struct{ calls [][]string }

func (r *memRewriter) RewriteHost(ctx context.Context, tenantIDs []string, newHost string) error {
	r.calls = append(r.calls, append([]string(nil), tenantIDs...))
	return nil
}

// harness wires a Supervisor against an in-memory cache, a fake cloud
// adapter, and an in-memory job queue whose probe jobs are answered by a
// test-controlled unreachable set instead of real network I/O.
type harness struct {
	sup   *Supervisor
	cloud *cloudadapter.Fake
	snap  *inventory.Snapshot
	queue *jobqueue.MemQueue
	pub   *memPublisher
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	c := cache.NewInMemoryCache()
	t.Cleanup(func() { c.Close() })

	snap := inventory.New(c, "test-cloud")
	q := jobqueue.NewMemQueue()
	fake := cloudadapter.NewFake()
	pub := &memPublisher{}
	n := notifier.New(pub, "test-cloud")

	sup := New("test-cloud", snap, q, n, []string{"ext-net"}, cfg)
	sup.RefreshTimeout = 5 * time.Second
	sup.HostProbeTimeout = 5 * time.Second
	sup.ResurrectionPoll = 10 * time.Millisecond
	sup.ResurrectionTimeout = 5 * time.Second

	return &harness{sup: sup, cloud: fake, snap: snap, queue: q, pub: pub}
}

// runProbeAwareWorkers drains refresh/resurrect jobs with the real
// collaborators and answers probe jobs directly from unreachable, so tests
// control exactly which addresses are "down" without touching real sockets.
func runProbeAwareWorkers(t *testing.T, ctx context.Context, h *harness, unreachable map[string]bool) {
	t.Helper()
	ref := refresher.New(h.cloud, h.snap)
	res := resurrector.New(h.cloud, h.snap, &memRewriter{}, nil, []string{"ext-net"})

	go func() {
		for {
			if ctx.Err() != nil {
				return
			}
			job, err := h.queue.Dequeue(ctx, 50*time.Millisecond)
			if err != nil || job == nil {
				continue
			}
			var result string
			var jobErr error
			switch job.Kind {
			case jobqueue.KindRefresh:
				jobErr = ref.Refresh(ctx, job.Context.IncludeTenants)
			case jobqueue.KindProbe:
				var out []string
				for _, a := range job.Context.Addresses {
					if unreachable[a] {
						out = append(out, a)
					}
				}
				raw, _ := json.Marshal(out)
				result = string(raw)
			case jobqueue.KindResurrect:
				jobErr = res.Resurrect(ctx, job.Context.DeadHost, job.Context.SpareHost, true)
			}
			_ = h.queue.Complete(ctx, job.ID, result, jobErr)
		}
	}()
}

func TestTick_AllHeartbeatsFresh_NoSuspicion(t *testing.T) {
	cfg := Config{MonitorPeriod: time.Hour, HeartbeatPeriod: 40 * time.Second, SuspiciousBackoff: 5, DeadBackoff: 1, CooldownPeriod: 24 * time.Hour}
	h := newHarness(t, cfg)
	h.cloud.Hosts["hv1"] = inventory.Host{Name: "hv1", Zone: "z", Aggregate: "a", Status: "enabled", RunningVMs: 3, VCPUs: 8, HostIP: "10.0.0.1"}
	h.cloud.Agents = inventory.AgentHeartbeats{"hv1": {"nova-compute": time.Now().UTC().Add(-10 * time.Second).Format(inventory.HeartbeatLayout)}}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	runProbeAwareWorkers(t, ctx, h, nil)

	h.sup.Tick(ctx)

	for _, line := range h.pub.lines {
		if strings.Contains(line, "suspicious hosts detected") {
			t.Fatalf("expected no suspicion, got: %s", line)
		}
	}
}

func TestTick_DeadHostWithSpare_Resurrects(t *testing.T) {
	cfg := Config{MonitorPeriod: time.Hour, HeartbeatPeriod: 40 * time.Second, SuspiciousBackoff: 5, DeadBackoff: 1, CooldownPeriod: 24 * time.Hour}
	h := newHarness(t, cfg)

	h.cloud.Hosts["hv42"] = inventory.Host{Name: "hv42", Zone: "nova", Aggregate: "agg1", Status: "enabled", RunningVMs: 2, VCPUs: 8, HostIP: "10.0.0.42"}
	h.cloud.Hosts["hv99"] = inventory.Host{Name: "hv99", Zone: "nova", Aggregate: "agg1", Status: "disabled", RunningVMs: 0, VCPUs: 16, HostIP: "10.0.0.99"}
	h.cloud.Services["hv42"] = inventory.Service{Host: "hv42", Binary: "nova-compute", Status: "enabled", State: "up", Zone: "nova"}
	h.cloud.Services["hv99"] = inventory.Service{Host: "hv99", Binary: "nova-compute", Status: "disabled", State: "up", Zone: "nova", DisabledReason: "spare node"}
	h.cloud.Servers["u1"] = inventory.Tenant{ID: "u1", HypervisorHostname: "hv42", VMState: "active", Addresses: map[string][]string{"ext-net": {"172.16.0.1"}}}
	h.cloud.Servers["u2"] = inventory.Tenant{ID: "u2", HypervisorHostname: "hv42", VMState: "active", Addresses: map[string][]string{"ext-net": {"172.16.0.2"}}}
	stale := time.Now().UTC().Add(-120 * time.Second).Format(inventory.HeartbeatLayout)
	h.cloud.Agents = inventory.AgentHeartbeats{"hv42": {"nova-compute": stale, "neutron-agent": stale}}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	runProbeAwareWorkers(t, ctx, h, map[string]bool{"10.0.0.42": true, "172.16.0.1": true, "172.16.0.2": true})

	h.sup.Tick(ctx)
	time.Sleep(200 * time.Millisecond)

	servers, err := h.snap.Servers(ctx)
	if err != nil {
		t.Fatalf("Servers: %v", err)
	}
	if servers["u1"].HypervisorHostname != "hv99" || servers["u2"].HypervisorHostname != "hv99" {
		t.Fatalf("expected tenants moved to hv99, got %+v", servers)
	}
	if h.cloud.Services["hv42"].Status != "disabled" || !strings.Contains(h.cloud.Services["hv42"].DisabledReason, "sonny resurrection on hv99") {
		t.Errorf("expected hv42 disabled with sonny resurrection reason, got %+v", h.cloud.Services["hv42"])
	}
	if h.cloud.Services["hv99"].Status != "enabled" {
		t.Errorf("expected hv99 enabled, got %+v", h.cloud.Services["hv99"])
	}

	if age, err := h.snap.ResurrectionAge(ctx); err != nil || age > time.Minute {
		t.Errorf("expected resurrection timestamp to be recent, age=%v err=%v", age, err)
	}
}

func TestTick_TwoDeadOneSpare_NoResurrection(t *testing.T) {
	cfg := Config{MonitorPeriod: time.Hour, HeartbeatPeriod: 40 * time.Second, SuspiciousBackoff: 5, DeadBackoff: 2, CooldownPeriod: 24 * time.Hour}
	h := newHarness(t, cfg)

	h.cloud.Hosts["hv1"] = inventory.Host{Name: "hv1", Zone: "nova", Aggregate: "agg1", Status: "enabled", RunningVMs: 1, VCPUs: 8, HostIP: "10.0.0.1"}
	h.cloud.Hosts["hv2"] = inventory.Host{Name: "hv2", Zone: "nova", Aggregate: "agg1", Status: "enabled", RunningVMs: 1, VCPUs: 8, HostIP: "10.0.0.2"}
	h.cloud.Hosts["hv99"] = inventory.Host{Name: "hv99", Zone: "nova", Aggregate: "agg1", Status: "disabled", RunningVMs: 0, VCPUs: 16, HostIP: "10.0.0.99"}
	h.cloud.Services["hv1"] = inventory.Service{Host: "hv1", Binary: "nova-compute", Status: "enabled", State: "up", Zone: "nova"}
	h.cloud.Services["hv2"] = inventory.Service{Host: "hv2", Binary: "nova-compute", Status: "enabled", State: "up", Zone: "nova"}
	h.cloud.Services["hv99"] = inventory.Service{Host: "hv99", Binary: "nova-compute", Status: "disabled", State: "up", Zone: "nova", DisabledReason: "spare node"}
	h.cloud.Servers["u1"] = inventory.Tenant{ID: "u1", HypervisorHostname: "hv1", VMState: "active", Addresses: map[string][]string{"ext-net": {"172.16.0.1"}}}
	h.cloud.Servers["u2"] = inventory.Tenant{ID: "u2", HypervisorHostname: "hv2", VMState: "active", Addresses: map[string][]string{"ext-net": {"172.16.0.2"}}}
	stale := time.Now().UTC().Add(-120 * time.Second).Format(inventory.HeartbeatLayout)
	h.cloud.Agents = inventory.AgentHeartbeats{
		"hv1": {"nova-compute": stale},
		"hv2": {"nova-compute": stale},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	runProbeAwareWorkers(t, ctx, h, map[string]bool{"10.0.0.1": true, "10.0.0.2": true, "172.16.0.1": true, "172.16.0.2": true})

	h.sup.Tick(ctx)
	time.Sleep(200 * time.Millisecond)

	servers, _ := h.snap.Servers(ctx)
	if servers["u1"].HypervisorHostname == "hv99" || servers["u2"].HypervisorHostname == "hv99" {
		t.Fatalf("expected no resurrection (single spare, two dead hosts), got %+v", servers)
	}
	if _, err := h.snap.ResurrectionAge(ctx); err == nil {
		t.Error("expected resurrection timestamp to remain unset")
	}
}

var _ placementdb.Rewriter = (*memRewriter)(nil)
