// Package policy implements the URL and network-allowlist checks that gate
// every navigation and clipboard-read in browserd. Nothing here touches the
// network; it only classifies strings.
package policy

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// ValidateURL checks raw against the scheme rules and, when non-empty,
// against allowlist. It returns "" on success or a human-readable reason on
// failure, matching the dispatcher's invalid_request message convention.
func ValidateURL(raw string, allowlist []string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "invalid url"
	}
	scheme := strings.ToLower(u.Scheme)
	switch scheme {
	case "file", "data", "javascript":
		return "blocked scheme"
	case "about":
		return ""
	case "http", "https":
		// falls through to host + allowlist checks below
	default:
		return "unsupported scheme"
	}
	if u.Hostname() == "" {
		return "invalid url: missing host"
	}
	if len(allowlist) == 0 {
		return ""
	}
	port := portOrKnownDefault(u)
	if !AllowlistAllows(u.Hostname(), port, allowlist) {
		return "host not in allowlist"
	}
	return ""
}

// portOrKnownDefault returns u's explicit port, or the scheme's well-known
// port when none is given.
func portOrKnownDefault(u *url.URL) string {
	if p := u.Port(); p != "" {
		return p
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
		return "443"
	case "http":
		return "80"
	default:
		return ""
	}
}

// AllowlistAllows reports whether host:port is permitted by entries, per the
// four entry forms: "*.suffix" wildcards, full URLs ("scheme://host:port"),
// "host:port" pairs, and plain hostnames. Matching is ASCII-only
// case-insensitive; entries are trimmed and empty entries are skipped.
func AllowlistAllows(host, port string, entries []string) bool {
	host = asciiLower(host)
	for _, raw := range entries {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}
		if matchesEntry(host, port, entry) {
			return true
		}
	}
	return false
}

func matchesEntry(host, port, entry string) bool {
	if strings.HasPrefix(entry, "*.") {
		suffix := asciiLower(entry[2:])
		return host == suffix || strings.HasSuffix(host, "."+suffix)
	}
	if strings.Contains(entry, "://") {
		u, err := url.Parse(entry)
		if err != nil {
			return false
		}
		entryHost := asciiLower(u.Hostname())
		if host != entryHost {
			return false
		}
		entryPort := u.Port()
		return entryPort == "" || entryPort == port
	}
	if idx := lastColonOutsideBracket(entry); idx >= 0 {
		entryHost, entryPort := entry[:idx], entry[idx+1:]
		if _, err := strconv.Atoi(entryPort); err == nil {
			return host == asciiLower(entryHost) && port == entryPort
		}
	}
	return host == asciiLower(entry)
}

// lastColonOutsideBracket finds a trailing ":port" separator, but only when
// the candidate host has no "]" (spec.md §4.2 excludes bracketed/IPv6-style
// hosts from the host:port form).
func lastColonOutsideBracket(entry string) int {
	if strings.Contains(entry, "]") {
		return -1
	}
	return strings.LastIndex(entry, ":")
}

func asciiLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// EffectiveHostPort splits a URL's host and port for callers (e.g. the
// clipboard policy) that already hold a parsed current-page URL and need the
// same host/port pair ValidateURL derives internally.
func EffectiveHostPort(raw string) (host, port string, err error) {
	u, perr := url.Parse(raw)
	if perr != nil {
		return "", "", fmt.Errorf("policy: parse url: %w", perr)
	}
	return u.Hostname(), portOrKnownDefault(u), nil
}
