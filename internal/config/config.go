// Package config assembles browserd's daemon-wide configuration from
// environment variables, with CLI flags (parsed in main) taking precedence
// where given. The struct is loaded once at startup and then shared
// read-only across every connection goroutine.
package config

import (
	"strconv"
	"strings"

	"browserd/internal/logx"
)

// DefaultSocketPath is the transport socket path used when neither
// --socket nor BROWSERD_SOCKET is given.
const DefaultSocketPath = "/tmp/buckley/browserd.sock"

// Config holds every tunable the daemon reads at startup.
type Config struct {
	// SocketPath is the local stream socket's filesystem path.
	SocketPath string

	// DefaultSessionID is used as a connection's effective session id when
	// a request's own session_id field is empty.
	DefaultSessionID string

	// AuditLogDir names the directory audit JSONL files are written to;
	// empty disables the audit log.
	AuditLogDir string

	// EngineKind selects which Engine implementation new sessions use:
	// "reference" (default) for the deterministic in-process engine, or
	// "real" for the go-rod-backed headless Chrome adapter.
	EngineKind string

	Security SecurityConfig
}

// SecurityConfig mirrors the BROWSERD_SECURITY_* environment flags (§4.9).
type SecurityConfig struct {
	EnforceNonRoot      bool
	RequireSeccomp      bool
	RequireCgroup       bool
	RequireReadonlyRoot bool
	RequireNetns        bool
	AssumeExternal      bool
	Strict              bool
	DownloadsEnabled    bool
	JSBudgetMs          uint64
	DomMutationLimit    uint64
}

// DefaultConfig returns a Config pre-filled with the documented defaults:
// no session id, no audit log, the default socket path, and every security
// flag unset (advisory-only, non-strict).
func DefaultConfig() *Config {
	return &Config{
		SocketPath: DefaultSocketPath,
		EngineKind: "reference",
	}
}

// Getenv abstracts environment lookup so tests can supply a fake map
// instead of mutating process-wide environment variables.
type Getenv func(key string) (string, bool)

// FromEnv builds a Config from env, falling back to DefaultConfig's values
// for anything env leaves unset. Malformed numeric flags default to 0 and
// are logged at Warn via log.
func FromEnv(env Getenv, log *logx.Logger) *Config {
	cfg := DefaultConfig()

	if v, ok := env("BROWSERD_SOCKET"); ok && v != "" {
		cfg.SocketPath = v
	}
	if v, ok := env("BROWSERD_SESSION_ID"); ok {
		cfg.DefaultSessionID = v
	}
	if v, ok := env("BROWSERD_AUDIT_LOG_DIR"); ok {
		cfg.AuditLogDir = v
	}
	if v, ok := env("BROWSERD_ENGINE"); ok && v != "" {
		cfg.EngineKind = strings.ToLower(strings.TrimSpace(v))
	}

	cfg.Security = SecurityConfig{
		EnforceNonRoot:      parseBool(env, "BROWSERD_SECURITY_ENFORCE_NON_ROOT"),
		RequireSeccomp:      parseBool(env, "BROWSERD_SECURITY_REQUIRE_SECCOMP"),
		RequireCgroup:       parseBool(env, "BROWSERD_SECURITY_REQUIRE_CGROUP"),
		RequireReadonlyRoot: parseBool(env, "BROWSERD_SECURITY_REQUIRE_READONLY_ROOT"),
		RequireNetns:        parseBool(env, "BROWSERD_SECURITY_REQUIRE_NETNS"),
		AssumeExternal:      parseBool(env, "BROWSERD_SECURITY_ASSUME_EXTERNAL"),
		Strict:              parseBool(env, "BROWSERD_SECURITY_STRICT"),
		DownloadsEnabled:    parseBool(env, "BROWSERD_SECURITY_DOWNLOADS_ENABLED"),
		JSBudgetMs:          parseUint64(env, "BROWSERD_SECURITY_JS_BUDGET_MS", log),
		DomMutationLimit:    parseUint64(env, "BROWSERD_SECURITY_DOM_MUTATION_LIMIT", log),
	}
	return cfg
}

// parseBool treats "1", "true", "yes", "on" (case-insensitive) as truthy and
// anything else, including an unset variable, as false.
func parseBool(env Getenv, key string) bool {
	v, ok := env(key)
	if !ok {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// parseUint64 parses key as a base-10 uint64, defaulting to 0. A malformed
// value logs a warning; an absent or blank value yields 0 silently.
func parseUint64(env Getenv, key string, log *logx.Logger) uint64 {
	v, ok := env(key)
	if !ok || strings.TrimSpace(v) == "" {
		return 0
	}
	n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
	if err != nil {
		if log != nil {
			log.Warnf("config: %s=%q is not a valid non-negative integer, defaulting to 0", key, v)
		}
		return 0
	}
	return n
}
