package audit_test

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"browserd/internal/audit"
	"browserd/internal/logx"
)

func TestLogger_Disabled(t *testing.T) {
	for _, dir := range []string{"", "off", "OFF", "disabled", "  "} {
		l := audit.New(dir, logx.New(logx.LevelError))
		if l.Enabled() {
			t.Errorf("New(%q) should be disabled", dir)
		}
		l.Navigate("s1", "https://example.com")
	}
}

func TestLogger_NavigateWritesLine(t *testing.T) {
	dir := t.TempDir()
	l := audit.New(dir, logx.New(logx.LevelError))
	if !l.Enabled() {
		t.Fatal("expected logger to be enabled")
	}
	l.Navigate("s1", "https://example.com/")

	line := readLastLine(t, filepath.Join(dir, "s1.jsonl"))
	var rec map[string]any
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		t.Fatalf("unmarshal audit line: %v", err)
	}
	if rec["event"] != "navigate" {
		t.Errorf("event = %v, want navigate", rec["event"])
	}
	if rec["url"] != "https://example.com/" {
		t.Errorf("url = %v, want https://example.com/", rec["url"])
	}
	if rec["session_id"] != "s1" {
		t.Errorf("session_id = %v, want s1", rec["session_id"])
	}
	if _, ok := rec["ts_ms"]; !ok {
		t.Error("expected ts_ms field")
	}
}

func TestLogger_ActionOmitsDefaultFields(t *testing.T) {
	dir := t.TempDir()
	l := audit.New(dir, logx.New(logx.LevelError))
	l.Action("s1", "hover", 3, audit.ActionFields{})

	line := readLastLine(t, filepath.Join(dir, "s1.jsonl"))
	var rec map[string]any
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		t.Fatalf("unmarshal audit line: %v", err)
	}
	for _, field := range []string{"text_len", "key_len", "scroll_x", "target_node_id", "expected_state_version"} {
		if _, ok := rec[field]; ok {
			t.Errorf("expected field %q to be omitted for default value", field)
		}
	}
}

func TestLogger_ActionIncludesNonDefaultFields(t *testing.T) {
	dir := t.TempDir()
	l := audit.New(dir, logx.New(logx.LevelError))
	l.Action("s1", "type", 4, audit.ActionFields{TextLen: 5, ExpectedStateVersion: 3})

	line := readLastLine(t, filepath.Join(dir, "s1.jsonl"))
	var rec map[string]any
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		t.Fatalf("unmarshal audit line: %v", err)
	}
	if rec["text_len"] != float64(5) {
		t.Errorf("text_len = %v, want 5", rec["text_len"])
	}
	if rec["expected_state_version"] != float64(3) {
		t.Errorf("expected_state_version = %v, want 3", rec["expected_state_version"])
	}
}

func TestLogger_SanitizesSessionIDForFileName(t *testing.T) {
	dir := t.TempDir()
	l := audit.New(dir, logx.New(logx.LevelError))
	l.Navigate("weird/../id!!", "about:blank")

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one audit file, got %d", len(entries))
	}
	name := entries[0].Name()
	for _, r := range name[:len(name)-len(".jsonl")] {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			t.Errorf("sanitized file name %q contains disallowed character %q", name, r)
		}
	}
}

func TestLogger_EmptySessionIDBecomesBrowser(t *testing.T) {
	dir := t.TempDir()
	l := audit.New(dir, logx.New(logx.LevelError))
	l.Navigate("", "about:blank")

	if _, err := os.Stat(filepath.Join(dir, "browser.jsonl")); err != nil {
		t.Errorf("expected browser.jsonl to exist: %v", err)
	}
}

func readLastLine(t *testing.T, path string) string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()

	var last string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		last = sc.Text()
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scan %s: %v", path, err)
	}
	if last == "" {
		t.Fatalf("no lines found in %s", path)
	}
	return last
}
