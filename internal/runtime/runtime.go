// Package runtime collapses the core's environment-variable reads into a
// single explicit value, constructed once at process start. Components
// receive a *Runtime for their tunables (Design Notes §9, "implicit
// global state"), so tests can pass a synthetic one with arbitrary
// tunables and a fake clock. Two environment reads happen elsewhere:
// statepaths.Resolve reads XDG_STATE_HOME, and cmd/surfwright reads
// SURFWRIGHT_BROWSER_BINARY when it builds the browser driver.
package runtime

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Runtime is the resolved, immutable configuration for one process
// lifetime. Every SURFWRIGHT_* environment variable except
// SURFWRIGHT_BROWSER_BINARY is read exactly once, here.
type Runtime struct {
	// StateDir overrides the on-disk state root (SURFWRIGHT_STATE_DIR).
	StateDir string

	// DaemonEnabled gates the daemon path entirely (SURFWRIGHT_DAEMON != "0").
	DaemonEnabled bool
	// DaemonIdleMS is how long the daemon waits with no accepts/in-flight
	// requests before shutting down (SURFWRIGHT_DAEMON_IDLE_MS).
	DaemonIdleMS int

	// MaxActive bounds total concurrently-running lane tasks (SURFWRIGHT_MAX_ACTIVE).
	MaxActive int
	// MaxQueueDepth bounds the per-lane queue (SURFWRIGHT_MAX_QUEUE_DEPTH).
	MaxQueueDepth int
	// QueueWaitMS is the queue-wait deadline before E_DAEMON_QUEUE_TIMEOUT (SURFWRIGHT_QUEUE_WAIT_MS).
	QueueWaitMS int

	// GCEnabled gates opportunistic maintenance (SURFWRIGHT_GC_ENABLED).
	GCEnabled bool
	// GCMinIntervalMS is the minimum spacing between opportunistic sweeps (SURFWRIGHT_GC_MIN_INTERVAL_MS).
	GCMinIntervalMS int
	// IdleProcessTTLMS is how long a managed browser may sit idle before parking (SURFWRIGHT_IDLE_PROCESS_TTL_MS).
	IdleProcessTTLMS int
	// SessionLeaseTTLMS is the default session lease TTL (SURFWRIGHT_SESSION_LEASE_TTL_MS).
	SessionLeaseTTLMS int

	// AgentID identifies the calling agent for lane keys and ownerId defaults (SURFWRIGHT_AGENT_ID).
	AgentID string

	// LogLevel and LogFormat configure obslog (SURFWRIGHT_LOG_LEVEL, SURFWRIGHT_LOG_FORMAT).
	LogLevel  string
	LogFormat string
	// MetricsEnabled gates metrics registration (SURFWRIGHT_METRICS_ENABLED).
	MetricsEnabled bool

	// MaxClientRetries and InitialBackoffMS govern the client orchestrator's
	// retry loop against queue saturation/timeout.
	MaxClientRetries int
	InitialBackoffMS int

	// Now returns the current time; overridable by tests.
	Now func() time.Time
}

// Lease bounds referenced by the SessionRecord invariant.
const (
	MinLeaseMS = 5_000
	MaxLeaseMS = 24 * 60 * 60 * 1000
)

// New resolves a Runtime from the process environment.
func New() *Runtime {
	return FromViper(newViper())
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("SURFWRIGHT")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	v.SetDefault("daemon", true)
	v.SetDefault("daemon_idle_ms", 15_000)
	v.SetDefault("max_active", 8)
	v.SetDefault("max_queue_depth", 8)
	v.SetDefault("queue_wait_ms", 2_000)
	v.SetDefault("gc_enabled", true)
	v.SetDefault("gc_min_interval_ms", 30_000)
	v.SetDefault("idle_process_ttl_ms", 10*60*1000)
	v.SetDefault("session_lease_ttl_ms", 30*60*1000)
	v.SetDefault("agent_id", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("metrics_enabled", true)
	v.SetDefault("max_client_retries", 2)
	v.SetDefault("initial_backoff_ms", 60)
	return v
}

// FromViper builds a Runtime from an already-configured viper instance,
// letting cmd/surfwright bind cobra flags onto the same keys before
// construction.
func FromViper(v *viper.Viper) *Runtime {
	return &Runtime{
		StateDir:          v.GetString("state_dir"),
		DaemonEnabled:     v.GetBool("daemon"),
		DaemonIdleMS:      v.GetInt("daemon_idle_ms"),
		MaxActive:         v.GetInt("max_active"),
		MaxQueueDepth:     v.GetInt("max_queue_depth"),
		QueueWaitMS:       v.GetInt("queue_wait_ms"),
		GCEnabled:         v.GetBool("gc_enabled"),
		GCMinIntervalMS:   v.GetInt("gc_min_interval_ms"),
		IdleProcessTTLMS:  v.GetInt("idle_process_ttl_ms"),
		SessionLeaseTTLMS: v.GetInt("session_lease_ttl_ms"),
		AgentID:           v.GetString("agent_id"),
		LogLevel:          v.GetString("log_level"),
		LogFormat:         v.GetString("log_format"),
		MetricsEnabled:    v.GetBool("metrics_enabled"),
		MaxClientRetries:  v.GetInt("max_client_retries"),
		InitialBackoffMS:  v.GetInt("initial_backoff_ms"),
		Now:               time.Now,
	}
}

// TestDefault returns a Runtime with the documented defaults and a real
// clock, for tests that don't care about environment overrides.
func TestDefault() *Runtime {
	return FromViper(newViper())
}
