// Package identity supplies coherent default device-identity fields
// (user agent, locale, timezone) for sessions whose SessionConfig leaves
// them empty, so snapshots and audit logs never carry blank identity fields.
package identity

import "browserd/internal/wire"

// Profile bundles the three identity signals a session presents: the
// User-Agent string, the locale, and the timezone. All three are kept
// mutually consistent (the default en-US profile pairs with UTC) since a session that mixes unrelated locales and timezones is a
// more useful debugging red flag than a genuinely randomized one.
type Profile struct {
	UserAgent string
	Locale    string
	Timezone  string
}

// DefaultProfile returns the profile applied when a session's config leaves
// every identity field empty.
func DefaultProfile() Profile {
	return Profile{
		UserAgent: "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 " +
			"(KHTML, like Gecko) browserd/1.0 Safari/537.36",
		Locale:   "en-US",
		Timezone: "UTC",
	}
}

// ApplyDefaults fills any of cfg's UserAgent/Locale/Timezone fields that are
// empty from a single coherent profile, leaving any field the caller set
// untouched. It mutates cfg in place.
func ApplyDefaults(cfg *wire.SessionConfig) {
	if cfg.UserAgent != "" && cfg.Locale != "" && cfg.Timezone != "" {
		return
	}
	p := DefaultProfile()
	if cfg.UserAgent == "" {
		cfg.UserAgent = p.UserAgent
	}
	if cfg.Locale == "" {
		cfg.Locale = p.Locale
	}
	if cfg.Timezone == "" {
		cfg.Timezone = p.Timezone
	}
}

// DefaultClipboardMaxBytes is the clipboard size limit applied when a
// session's config leaves clipboard.max_bytes unset. A policy that never
// sets max_bytes still has a limit enforced against it; zero means
// "use the default," never "unlimited."
const DefaultClipboardMaxBytes = 64 * 1024

// ClipboardPolicy returns cfg's clipboard policy with MaxBytes defaulted to
// DefaultClipboardMaxBytes when the config leaves it at zero.
func ClipboardPolicy(cfg *wire.SessionConfig) wire.ClipboardPolicy {
	p := cfg.Clipboard
	if p.MaxBytes == 0 {
		p.MaxBytes = DefaultClipboardMaxBytes
	}
	return p
}
