// Package supervisor is the periodic control loop: it fans inventory
// refresh, suspicion detection, probing, and resurrection into jobs that a
// worker pool executes, then arbitrates the results. GetSuspiciousHypervisors
// (suspicion.go) and SelectSpare (spare.go) are kept as pure functions so
// they are directly testable without a cache or queue.
package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/oriys/sonny/internal/inventory"
	"github.com/oriys/sonny/internal/jobqueue"
	"github.com/oriys/sonny/internal/logging"
	"github.com/oriys/sonny/internal/metrics"
	"github.com/oriys/sonny/internal/notifier"
	"github.com/oriys/sonny/internal/observability"
	"github.com/oriys/sonny/internal/refresher"
	"github.com/oriys/sonny/internal/sonnyerr"
)

// hostProbePorts are the control-plane ports a suspected host must be
// silent on across the board before its tenants are even considered.
var hostProbePorts = []int{22, 111, 16509}

// tenantProbePorts is the single port used to confirm a tenant is
// unreachable, per spec §4.4 step 7.
var tenantProbePorts = []int{22}

// Config holds the per-tick timing knobs of spec §4.4.
type Config struct {
	MonitorPeriod     time.Duration
	HeartbeatPeriod   time.Duration
	SuspiciousBackoff int
	DeadBackoff       int
	CooldownPeriod    time.Duration
}

// Supervisor drives one cloud's control loop.
type Supervisor struct {
	Cloud        string
	Snapshot     *inventory.Snapshot
	Queue        jobqueue.Queue
	Notifier     *notifier.Notifier
	ProviderNets []string
	Config       Config

	// RefreshTimeout, HostProbeTimeout bound how long a tick waits on the
	// corresponding job before giving up, per spec §5.
	RefreshTimeout   time.Duration
	HostProbeTimeout time.Duration
	// ResurrectionPoll is the interval Tick polls resurrection jobs at.
	ResurrectionPoll time.Duration
	// ResurrectionTimeout bounds how long Tick waits for each resurrection
	// job before abandoning it as background work.
	ResurrectionTimeout time.Duration
}

// New returns a Supervisor with the default per-phase timeouts of spec §5.
func New(cloud string, snap *inventory.Snapshot, q jobqueue.Queue, n *notifier.Notifier, providerNets []string, cfg Config) *Supervisor {
	return &Supervisor{
		Cloud:               cloud,
		Snapshot:            snap,
		Queue:               q,
		Notifier:            n,
		ProviderNets:        providerNets,
		Config:              cfg,
		RefreshTimeout:      90 * time.Second,
		HostProbeTimeout:    60 * time.Second,
		ResurrectionPoll:    2 * time.Second,
		ResurrectionTimeout: 10 * time.Minute,
	}
}

// Run purges stale job records once, then ticks forever until ctx is
// cancelled. A tick never overlaps the next: the period floor in Tick
// applies to tick start, not tick end, so Run is a tight loop rather than a
// ticker.
func (s *Supervisor) Run(ctx context.Context) {
	if err := s.Queue.Purge(ctx); err != nil {
		s.notify(ctx, "WARN", "failed to purge stale job records at startup", "error", err)
	}
	for ctx.Err() == nil {
		s.Tick(ctx)
	}
}

// Tick runs exactly one pass of spec §4.4's algorithm. It never returns an
// error: every failure is logged and ends the tick early, so a single bad
// tick never aborts the loop.
func (s *Supervisor) Tick(ctx context.Context) {
	t0 := time.Now()
	defer s.sleepRemainder(ctx, t0)
	defer func() { metrics.RecordTick(s.Cloud, time.Since(t0).Milliseconds()) }()

	ctx, span := observability.StartSpan(ctx, "supervisor.tick", observability.AttrCloud.String(s.Cloud))
	defer span.End()

	includeTenants := refresher.NeedsTenants(ctx, s.Snapshot)
	if err := s.awaitJob(ctx, jobqueue.KindRefresh, jobqueue.Context{IncludeTenants: includeTenants}, s.RefreshTimeout); err != nil {
		observability.SetSpanError(span, err)
		s.notify(ctx, "WARN", "refresh failed", "error", err)
		return
	}
	if !s.Snapshot.APIAlive(ctx) {
		s.notify(ctx, "WARN", "cloud api not alive, skipping tick")
		return
	}

	agents, err := s.Snapshot.Agents(ctx)
	if err != nil {
		s.notify(ctx, "WARN", "failed to read agents", "error", err)
		return
	}
	hosts, err := s.Snapshot.Hosts(ctx)
	if err != nil {
		s.notify(ctx, "WARN", "failed to read hypervisors", "error", err)
		return
	}
	metrics.SetHostsByState(s.Cloud, "total", len(hosts))

	suspicious := GetSuspiciousHypervisors(agents, hosts, time.Now().UTC(), s.Config.HeartbeatPeriod, func(host string) {
		s.notify(ctx, "WARN", "disabled host still carries running vms", "host", host)
	})

	if len(suspicious) == 0 {
		return
	}
	for range suspicious {
		metrics.RecordSuspicion(s.Cloud)
	}
	if len(suspicious) > s.Config.SuspiciousBackoff {
		s.notify(ctx, "WARN", "suspicious backoff exceeded, skipping tick", "count", len(suspicious), "limit", s.Config.SuspiciousBackoff)
		return
	}
	s.notify(ctx, "INFO", "suspicious hosts detected", "hosts", suspicious)

	nameToIP := make(map[string]string, len(suspicious))
	for _, h := range suspicious {
		if host, ok := hosts[h]; ok && host.HostIP != "" {
			nameToIP[h] = host.HostIP
		}
	}
	unreachableHosts, err := s.probeNamed(ctx, nameToIP, hostProbePorts, s.HostProbeTimeout)
	if err != nil {
		// ProbeError on a host probe is inconclusive: no unreachable set
		// means no further action this tick.
		s.notify(ctx, "WARN", "host probe failed, treating as inconclusive", "error", err)
		return
	}
	if len(unreachableHosts) == 0 {
		return
	}
	s.notify(ctx, "WARN", "hosts unreachable on control-plane ports", "hosts", unreachableHosts)

	if err := s.awaitJob(ctx, jobqueue.KindRefresh, jobqueue.Context{IncludeTenants: true}, s.RefreshTimeout); err != nil {
		s.notify(ctx, "WARN", "tenant-inclusive refresh failed", "error", err)
		return
	}

	dead := s.classifyDeadHosts(ctx, unreachableHosts)
	if len(dead) == 0 {
		return
	}
	for range dead {
		metrics.RecordDeadHost(s.Cloud)
	}

	success, failure := s.resurrect(ctx, dead)
	span.SetAttributes(observability.AttrDurationMs.Int64(time.Since(t0).Milliseconds()))
	s.notify(ctx, "INFO", "resurrection batch complete", "success", success, "failure", failure)
}

// classifyDeadHosts implements spec §4.4 steps 7-8: for each unreachable
// host, probe its externally-reachable tenants on port 22 and classify it
// dead iff every tenant IP was also unreachable. A host with no externally
// reachable tenants is presumed alive (nothing to confirm against); a probe
// failure on the tenant probe is "alive-but-isolated", never dead.
func (s *Supervisor) classifyDeadHosts(ctx context.Context, unreachableHosts []string) []string {
	type outcome struct {
		host string
		dead bool
	}
	results := make(chan outcome, len(unreachableHosts))
	var wg sync.WaitGroup

	for _, h := range unreachableHosts {
		h := h
		wg.Add(1)
		go func() {
			defer wg.Done()
			tenants, err := s.Snapshot.ServersOnHost(ctx, h, s.ProviderNets)
			if err != nil {
				s.notify(ctx, "WARN", "failed to read tenants for host", "host", h, "error", err)
				results <- outcome{h, false}
				return
			}
			if len(tenants) == 0 {
				s.notify(ctx, "INFO", "host unreachable but carries no external tenants, marking alive", "host", h)
				results <- outcome{h, false}
				return
			}

			var ips []string
			for _, t := range tenants {
				ips = append(ips, t.ExternalAddresses(s.ProviderNets)...)
			}
			addrMap := make(map[string]string, len(ips))
			for _, ip := range ips {
				addrMap[ip] = ip
			}

			unreachable, err := s.probeNamed(ctx, addrMap, tenantProbePorts, s.HostProbeTimeout)
			if err != nil {
				s.notify(ctx, "WARN", "tenant probe failed, treating host as alive-but-isolated", "host", h, "error", err)
				results <- outcome{h, false}
				return
			}

			dead := len(unreachable) == len(ips) && len(ips) > 0
			if dead {
				s.notify(ctx, "WARN", "host confirmed dead: all external tenants unreachable", "host", h)
			} else {
				s.notify(ctx, "INFO", "host alive-but-isolated: some tenants still reachable", "host", h)
			}
			results <- outcome{h, dead}
		}()
	}

	wg.Wait()
	close(results)

	var dead []string
	for r := range results {
		if r.dead {
			dead = append(dead, r.host)
		}
	}
	return dead
}

// resurrect implements spec §4.4.3: back-off, cooldown, spare reservation,
// dispatch, and polled arbitration of the resulting jobs.
func (s *Supervisor) resurrect(ctx context.Context, dead []string) (successCount, failureCount int) {
	if len(dead) > s.Config.DeadBackoff {
		if s.Config.DeadBackoff == 0 {
			s.notify(ctx, "INFO", "dead backoff is zero: dry mode, no resurrection dispatched", "dead_count", len(dead))
		} else {
			s.notify(ctx, "WARN", "dead limit exceeded, skipping resurrection", "dead_count", len(dead), "limit", s.Config.DeadBackoff)
		}
		return 0, 0
	}

	if age, err := s.Snapshot.ResurrectionAge(ctx); err == nil && age < s.Config.CooldownPeriod {
		s.notify(ctx, "INFO", "resurrection cooldown active, skipping", "age", age.String())
		return 0, 0
	}

	hosts, err := s.Snapshot.Hosts(ctx)
	if err != nil {
		s.notify(ctx, "ERROR", "failed to read hypervisors for spare selection", "error", err)
		return 0, 0
	}
	services, err := s.Snapshot.Services(ctx)
	if err != nil {
		s.notify(ctx, "ERROR", "failed to read services for spare selection", "error", err)
		return 0, 0
	}

	type pair struct{ dead, spare string }
	reserved := make(map[string]bool, len(dead))
	pairs := make([]pair, 0, len(dead))
	for _, d := range dead {
		dh, ok := hosts[d]
		if !ok {
			s.notify(ctx, "ERROR", "dead host missing from inventory, aborting batch", "host", d)
			return 0, 0
		}
		spare, ok := SelectSpare(services, hosts, nil, dh, reserved)
		if !ok {
			s.notify(ctx, "WARN", "no spare available, aborting resurrection batch", "dead", d)
			return 0, 0
		}
		reserved[spare] = true
		pairs = append(pairs, pair{d, spare})
	}

	jobIDs := make([]string, 0, len(pairs))
	for _, p := range pairs {
		job := &jobqueue.Job{Kind: jobqueue.KindResurrect, Context: jobqueue.Context{DeadHost: p.dead, SpareHost: p.spare}}
		if err := s.Queue.Enqueue(ctx, job); err != nil {
			s.notify(ctx, "ERROR", "failed to enqueue resurrection job", "dead", p.dead, "spare", p.spare, "error", err)
			continue
		}
		s.notify(ctx, "INFO", "resurrection enqueued", "dead", p.dead, "spare", p.spare, "job", job.ID)
		jobIDs = append(jobIDs, job.ID)
	}

	// Stamped at dispatch, not success, so a batch in flight blocks reentry.
	if err := s.Snapshot.MarkResurrectionDispatched(ctx); err != nil {
		s.notify(ctx, "ERROR", "failed to record resurrection cooldown timestamp", "error", err)
	}

	for _, id := range jobIDs {
		jobStart := time.Now()
		job, ok := jobqueue.WaitForTerminal(ctx, s.Queue, id, s.ResurrectionPoll, s.ResurrectionTimeout)
		if !ok {
			s.notify(ctx, "WARN", "resurrection job did not terminate within deadline, abandoning as background work", "job", id)
			metrics.RecordResurrection(s.Cloud, "timeout", time.Since(jobStart).Milliseconds())
			continue
		}
		if job.Status == jobqueue.StatusFinished {
			successCount++
			s.notify(ctx, "INFO", "resurrection succeeded", "job", id)
			metrics.RecordResurrection(s.Cloud, "success", time.Since(jobStart).Milliseconds())
		} else {
			failureCount++
			s.notify(ctx, "ERROR", "resurrection failed", "job", id, "error", job.Error)
			metrics.RecordResurrection(s.Cloud, "failed", time.Since(jobStart).Milliseconds())
		}
	}
	return successCount, failureCount
}

// awaitJob enqueues a job of kind with jobCtx and waits (1s poll cadence)
// for it to reach a terminal state within timeout.
func (s *Supervisor) awaitJob(ctx context.Context, kind jobqueue.Kind, jobCtx jobqueue.Context, timeout time.Duration) error {
	job := &jobqueue.Job{Kind: kind, Context: jobCtx}
	if err := s.Queue.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("enqueue %s job: %w", kind, err)
	}
	done, ok := jobqueue.WaitForTerminal(ctx, s.Queue, job.ID, time.Second, timeout)
	if !ok {
		return fmt.Errorf("%s job %s timed out after %s", kind, job.ID, timeout)
	}
	if done.Status == jobqueue.StatusFailed {
		return fmt.Errorf("%s job %s failed: %s", kind, job.ID, done.Error)
	}
	return nil
}

// probeNamed enqueues a probe job against the addresses in nameToIP
// (host/tenant name -> IP), waits for it to complete, and maps unreachable
// IPs back to their original names.
func (s *Supervisor) probeNamed(ctx context.Context, nameToIP map[string]string, ports []int, timeout time.Duration) ([]string, error) {
	if len(nameToIP) == 0 {
		return nil, nil
	}
	ipToName := make(map[string]string, len(nameToIP))
	addrs := make([]string, 0, len(nameToIP))
	for name, ip := range nameToIP {
		ipToName[ip] = name
		addrs = append(addrs, ip)
	}

	job := &jobqueue.Job{Kind: jobqueue.KindProbe, Context: jobqueue.Context{Addresses: addrs, Ports: ports}}
	if err := s.Queue.Enqueue(ctx, job); err != nil {
		return nil, fmt.Errorf("%w: enqueue probe: %v", sonnyerr.ProbeError, err)
	}
	done, ok := jobqueue.WaitForTerminal(ctx, s.Queue, job.ID, time.Second, timeout)
	if !ok {
		return nil, fmt.Errorf("%w: probe job %s timed out", sonnyerr.ProbeError, job.ID)
	}
	if done.Status == jobqueue.StatusFailed {
		return nil, fmt.Errorf("%w: %s", sonnyerr.ProbeError, done.Error)
	}

	var unreachableIPs []string
	if done.Result != "" {
		if err := json.Unmarshal([]byte(done.Result), &unreachableIPs); err != nil {
			return nil, fmt.Errorf("%w: decode probe result: %v", sonnyerr.ProbeError, err)
		}
	}

	out := make([]string, 0, len(unreachableIPs))
	for _, ip := range unreachableIPs {
		if name, ok := ipToName[ip]; ok {
			out = append(out, name)
		} else {
			out = append(out, ip)
		}
	}
	return out, nil
}

func (s *Supervisor) sleepRemainder(ctx context.Context, t0 time.Time) {
	remaining := s.Config.MonitorPeriod - time.Since(t0)
	if remaining <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(remaining):
	}
}

func (s *Supervisor) notify(ctx context.Context, level, msg string, attrs ...any) {
	logArgs := append([]any{"cloud", s.Cloud}, attrs...)
	switch level {
	case "WARN":
		logging.Op().Warn(msg, logArgs...)
	case "ERROR":
		logging.Op().Error(msg, logArgs...)
	default:
		logging.Op().Info(msg, logArgs...)
	}
	if s.Notifier != nil {
		if err := s.Notifier.Notify(ctx, level, msg, attrs...); err != nil {
			logging.Op().Warn("failed to publish notifier record", "error", err)
		}
	}
}
