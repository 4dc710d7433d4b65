package policy_test

import (
	"testing"

	"browserd/internal/policy"
)

func TestValidateURL_BlockedSchemes(t *testing.T) {
	for _, raw := range []string{
		"file:///etc/passwd",
		"data:text/html,<script>1</script>",
		"javascript:alert(1)",
		"FILE:///etc/passwd",
	} {
		if got := policy.ValidateURL(raw, nil); got == "" {
			t.Errorf("ValidateURL(%q) = \"\", want a blocked-scheme reason", raw)
		}
	}
}

func TestValidateURL_AboutAlwaysAllowed(t *testing.T) {
	for _, raw := range []string{"about:blank", "about:config"} {
		if got := policy.ValidateURL(raw, []string{"example.com"}); got != "" {
			t.Errorf("ValidateURL(%q) = %q, want \"\"", raw, got)
		}
	}
}

func TestValidateURL_UnsupportedScheme(t *testing.T) {
	if got := policy.ValidateURL("ftp://example.com/file", nil); got == "" {
		t.Error("expected unsupported-scheme rejection for ftp://")
	}
}

func TestValidateURL_InvalidURL(t *testing.T) {
	if got := policy.ValidateURL("http://%zz", nil); got == "" {
		t.Error("expected invalid-url rejection for malformed URL")
	}
}

func TestValidateURL_MissingHost(t *testing.T) {
	if got := policy.ValidateURL("https:///path", nil); got == "" {
		t.Error("expected rejection for a URL with no host")
	}
}

func TestValidateURL_EmptyAllowlistPermitsAnyHTTP(t *testing.T) {
	if got := policy.ValidateURL("https://example.com/", nil); got != "" {
		t.Errorf("ValidateURL with empty allowlist = %q, want \"\"", got)
	}
}

func TestValidateURL_AllowlistRejectsOutsideHost(t *testing.T) {
	if got := policy.ValidateURL("https://evil.test/", []string{"example.com"}); got == "" {
		t.Error("expected allowlist rejection for evil.test")
	}
}

func TestValidateURL_AllowlistAcceptsMatchingHost(t *testing.T) {
	if got := policy.ValidateURL("https://example.com/path", []string{"example.com"}); got != "" {
		t.Errorf("ValidateURL for allowlisted host = %q, want \"\"", got)
	}
}

func TestAllowlistAllows_CanonicalForms(t *testing.T) {
	tests := []struct {
		name  string
		host  string
		port  string
		entry string
	}{
		{"plain host", "example.com", "443", "example.com"},
		{"host:port", "example.com", "8443", "example.com:8443"},
		{"full url", "example.com", "443", "https://example.com:443"},
		{"wildcard suffix", "cdn.example.com", "443", "*.example.com"},
		{"wildcard exact suffix", "example.com", "443", "*.example.com"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !policy.AllowlistAllows(tt.host, tt.port, []string{tt.entry}) {
				t.Errorf("AllowlistAllows(%q, %q, [%q]) = false, want true", tt.host, tt.port, tt.entry)
			}
		})
	}
}

func TestAllowlistAllows_PortMismatch(t *testing.T) {
	if policy.AllowlistAllows("example.com", "8080", []string{"example.com:443"}) {
		t.Error("expected port mismatch to reject")
	}
}

func TestAllowlistAllows_CaseInsensitive(t *testing.T) {
	if !policy.AllowlistAllows("EXAMPLE.com", "443", []string{"Example.COM"}) {
		t.Error("expected ASCII-case-insensitive host match")
	}
}

func TestAllowlistAllows_TrimsAndSkipsEmpty(t *testing.T) {
	if !policy.AllowlistAllows("example.com", "443", []string{"", "  ", "  example.com  "}) {
		t.Error("expected trimmed entry to match")
	}
}

func TestAllowlistAllows_NoMatch(t *testing.T) {
	if policy.AllowlistAllows("example.com", "443", []string{"other.test"}) {
		t.Error("expected no match for unrelated entry")
	}
}

func TestAllowlistAllows_URLFormWithoutPortMatchesAnyPort(t *testing.T) {
	if !policy.AllowlistAllows("example.com", "9000", []string{"https://example.com"}) {
		t.Error("expected port-less URL-form entry to match any target port")
	}
}

func TestAllowlistAllows_BracketedHostExcludedFromHostPortForm(t *testing.T) {
	// "[::1]:443"-style entries contain "]"; lastColonOutsideBracket must not
	// treat them as a host:port split, falling back to a plain-host compare
	// that simply won't match a normal hostname.
	if policy.AllowlistAllows("example.com", "443", []string{"[::1]:443"}) {
		t.Error("expected bracketed entry not to match an unrelated host")
	}
}
