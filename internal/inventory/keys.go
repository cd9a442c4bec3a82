package inventory

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

// Cache key names, matching the wire contract in the external interfaces
// section: one JSON blob per collection, plus a `<key>:timestamp` sibling
// holding the unix time of the last successful refresh.
const (
	KeyHypervisors = "hypervisors"
	KeyServices    = "services"
	KeyAgents      = "agents"
	KeyAggregates  = "aggregates"
	KeyProjects    = "projects"
	KeyServers     = "servers"
	KeyAPIAlive    = "api_alive"

	keyResurrectionTimestamp = "resurrection:timestamp"
	keySuspicionPrefix       = "suspicion:"
	keyDeadPrefix            = "dead:"
)

// TimestampKey returns the sibling key holding the unix timestamp of the
// last successful write to key.
func TimestampKey(key string) string {
	return key + ":timestamp"
}

// ResurrectionCooldownKey is the key gating how often a resurrection batch
// may be dispatched. It lives in each cloud's own cache database, so every
// cloud has its own cooldown.
func ResurrectionCooldownKey() string {
	return keyResurrectionTimestamp
}

// SuspicionBackoffKey returns the per-host key name "suspicion:<host>".
// Nothing in this module reads or writes that key; the suspicious back-off
// is a per-tick count kept by the supervisor.
func SuspicionBackoffKey(host string) string {
	return keySuspicionPrefix + host
}

// DeadBackoffKey returns the per-host key name "dead:<host>". Nothing in
// this module reads or writes that key; the dead back-off is a per-tick
// count kept by the supervisor.
func DeadBackoffKey(host string) string {
	return keyDeadPrefix + host
}

// ShardIndex derives the cache database index for a cloud name: the cloud
// name's SHA-256 digest, read as a big unsigned integer, mod 15, plus one.
// Index 0 is reserved for the cross-cloud (default) namespace and is never
// returned by this function.
func ShardIndex(cloud string) int {
	sum := sha256.Sum256([]byte(cloud))
	// Reduce the 256-bit digest mod 15 using the same big-integer semantics
	// as Python's int(hexdigest, 16) % 15, without needing math/big: process
	// the digest in 64-bit chunks, folding each into the running remainder.
	var rem uint64
	for i := 0; i < len(sum); i += 8 {
		chunk := binary.BigEndian.Uint64(sum[i : i+8])
		// 2^64 mod 15 == 1, so folding by simple addition mod 15 preserves
		// the value of the full big integer mod 15.
		rem = (rem + chunk%15) % 15
	}
	return int(rem)%15 + 1
}

// DefaultNamespaceIndex is the reserved cross-cloud cache database index.
const DefaultNamespaceIndex = 0

// String helpers for operator-facing logs and chat replies.
func FormatHost(h Host) string {
	return fmt.Sprintf("%s (zone=%s aggregate=%s vcpus=%d/%d)", h.Name, h.Zone, h.Aggregate, h.VCPUsUsed, h.VCPUs)
}
