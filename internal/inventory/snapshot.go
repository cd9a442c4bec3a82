package inventory

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/oriys/sonny/internal/cache"
)

// Snapshot is a typed, read-through view over a cloud's cache entries. It
// never holds state of its own: every accessor re-reads the backing cache
// so callers always observe the latest refresh. Collection accessors return
// only the data; callers read its age separately through Age and apply their
// own freshness policy.
type Snapshot struct {
	Cloud string
	Cache cache.Cache
}

// New returns a Snapshot bound to the given cache, namespaced for cloud.
func New(c cache.Cache, cloud string) *Snapshot {
	return &Snapshot{Cloud: cloud, Cache: c}
}

// Age returns how long ago key was last written, or an error if the key (or
// its timestamp sibling) has never been populated.
func (s *Snapshot) Age(ctx context.Context, key string) (time.Duration, error) {
	raw, err := s.Cache.Get(ctx, TimestampKey(key))
	if err != nil {
		return 0, fmt.Errorf("read timestamp for %s: %w", key, err)
	}
	sec, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		return 0, fmt.Errorf("parse timestamp for %s: %w", key, err)
	}
	ts := time.Unix(0, int64(sec*float64(time.Second)))
	return time.Since(ts), nil
}

func getJSON[T any](ctx context.Context, s *Snapshot, key string) (T, error) {
	var zero T
	raw, err := s.Cache.Get(ctx, key)
	if err != nil {
		return zero, fmt.Errorf("read %s: %w", key, err)
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return zero, fmt.Errorf("decode %s: %w", key, err)
	}
	return v, nil
}

func putJSON[T any](ctx context.Context, s *Snapshot, key string, v T) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := s.Cache.Set(ctx, key, raw, 0); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	now := float64(time.Now().UnixNano()) / float64(time.Second)
	return s.Cache.Set(ctx, TimestampKey(key), []byte(strconv.FormatFloat(now, 'f', 6, 64)), 0)
}

func (s *Snapshot) Hosts(ctx context.Context) (map[string]Host, error) {
	return getJSON[map[string]Host](ctx, s, KeyHypervisors)
}

func (s *Snapshot) PutHosts(ctx context.Context, hosts map[string]Host) error {
	return putJSON(ctx, s, KeyHypervisors, hosts)
}

func (s *Snapshot) Services(ctx context.Context) (map[string]Service, error) {
	return getJSON[map[string]Service](ctx, s, KeyServices)
}

func (s *Snapshot) PutServices(ctx context.Context, svcs map[string]Service) error {
	return putJSON(ctx, s, KeyServices, svcs)
}

// Agents returns, for each host, each agent binary's last heartbeat
// timestamp string.
func (s *Snapshot) Agents(ctx context.Context) (AgentHeartbeats, error) {
	return getJSON[AgentHeartbeats](ctx, s, KeyAgents)
}

func (s *Snapshot) PutAgents(ctx context.Context, agents AgentHeartbeats) error {
	return putJSON(ctx, s, KeyAgents, agents)
}

func (s *Snapshot) Aggregates(ctx context.Context) ([]Aggregate, error) {
	return getJSON[[]Aggregate](ctx, s, KeyAggregates)
}

func (s *Snapshot) PutAggregates(ctx context.Context, aggs []Aggregate) error {
	return putJSON(ctx, s, KeyAggregates, aggs)
}

func (s *Snapshot) Projects(ctx context.Context) ([]Project, error) {
	return getJSON[[]Project](ctx, s, KeyProjects)
}

func (s *Snapshot) PutProjects(ctx context.Context, projs []Project) error {
	return putJSON(ctx, s, KeyProjects, projs)
}

func (s *Snapshot) Servers(ctx context.Context) (map[string]Tenant, error) {
	return getJSON[map[string]Tenant](ctx, s, KeyServers)
}

func (s *Snapshot) PutServers(ctx context.Context, servers map[string]Tenant) error {
	return putJSON(ctx, s, KeyServers, servers)
}

// ServersOnHost returns the tenants currently placed on host that have at
// least one externally reachable address, matching the tenant-probe scope.
func (s *Snapshot) ServersOnHost(ctx context.Context, host string, providerNets []string) ([]Tenant, error) {
	all, err := s.Servers(ctx)
	if err != nil {
		return nil, err
	}
	var out []Tenant
	for _, t := range all {
		if t.HypervisorHostname == host && t.HasExternalAddress(providerNets) {
			out = append(out, t)
		}
	}
	return out, nil
}

// APIAlive reports whether the most recent refresh cycle completed without
// error against the cloud control plane. It is an explicit getter, never a
// bare struct field, so every read goes through the cache.
func (s *Snapshot) APIAlive(ctx context.Context) bool {
	raw, err := s.Cache.Get(ctx, KeyAPIAlive)
	if err != nil {
		return false
	}
	return string(raw) == "true"
}

// SetAPIAlive records the outcome of the most recent refresh cycle and
// stamps its timestamp sibling.
func (s *Snapshot) SetAPIAlive(ctx context.Context, alive bool) error {
	v := "false"
	if alive {
		v = "true"
	}
	if err := s.Cache.Set(ctx, KeyAPIAlive, []byte(v), 0); err != nil {
		return err
	}
	now := float64(time.Now().UnixNano()) / float64(time.Second)
	return s.Cache.Set(ctx, TimestampKey(KeyAPIAlive), []byte(strconv.FormatFloat(now, 'f', 6, 64)), 0)
}

// ResurrectionAge returns how long ago a resurrection batch was last
// dispatched. It returns cache.ErrNotFound if no batch has ever been
// dispatched (or the operator cleared it via reset-cooldown), which callers
// treat as "cooldown does not apply".
func (s *Snapshot) ResurrectionAge(ctx context.Context) (time.Duration, error) {
	raw, err := s.Cache.Get(ctx, ResurrectionCooldownKey())
	if err != nil {
		return 0, err
	}
	sec, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse resurrection timestamp: %w", err)
	}
	return time.Since(time.Unix(sec, 0)), nil
}

// MarkResurrectionDispatched stamps the cooldown clock at the moment a
// resurrection batch is enqueued, not at its eventual success, so a batch
// in flight blocks reentry per spec §4.4.3.
func (s *Snapshot) MarkResurrectionDispatched(ctx context.Context) error {
	return s.Cache.Set(ctx, ResurrectionCooldownKey(), []byte(strconv.FormatInt(time.Now().Unix(), 10)), 0)
}

// ResetResurrectionCooldown clears the cooldown clock, the operator-facing
// `reset-cooldown` operation.
func (s *Snapshot) ResetResurrectionCooldown(ctx context.Context) error {
	return s.Cache.Delete(ctx, ResurrectionCooldownKey())
}
