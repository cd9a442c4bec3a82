// Package sonnyerr defines the error taxonomy shared across the control
// loop: which failures are fatal at startup, which are per-job and expected
// to self-heal on the next tick, and which abort a resurrection in flight.
package sonnyerr

import "errors"

// Sentinel kinds. Wrap these with fmt.Errorf("...: %w", KindX) so callers
// can use errors.Is to classify without string matching.
var (
	// ConfigError: missing configuration section or key. Fatal at startup.
	ConfigError = errors.New("config error")

	// CacheUnavailable: the cache is unreachable. Fatal at startup.
	CacheUnavailable = errors.New("cache unavailable")

	// CloudAPIError: a refresh against the cloud adapter failed. Non-fatal;
	// the refresh job sets api_alive=false and the next tick retries.
	CloudAPIError = errors.New("cloud api error")

	// ProbeError: the port scanner itself failed (not "no hosts reachable").
	// Treated as inconclusive for host probes, alive-but-isolated for
	// tenant probes.
	ProbeError = errors.New("probe error")

	// PreconditionViolation: a resurrection precondition (spec §4.5 steps
	// 1-6) failed. The job fails before any mutation.
	PreconditionViolation = errors.New("resurrection precondition violation")

	// PartialResurrection: one or more tenants failed reboot or port rebind
	// after the placement DB commit. The job fails with side effects
	// already applied; the next refresh will observe the new placement.
	PartialResurrection = errors.New("partial resurrection")
)
