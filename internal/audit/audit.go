// Package audit implements browserd's append-only, per-session JSONL audit
// log (spec.md §4.3). Write failures never propagate to the caller: the
// audit trail is diagnostic, not part of the protocol's correctness surface.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"browserd/internal/keylock"
	"browserd/internal/logx"
)

// Logger writes one JSONL file per session under a configured directory.
// A Logger with an empty dir is disabled: every method becomes a no-op.
type Logger struct {
	dir    string
	locks  *keylock.KeyLock
	logger *logx.Logger
}

// New creates a Logger writing under dir. dir == "", "off", or "disabled"
// (case-insensitive) disables logging entirely, matching
// BROWSERD_AUDIT_LOG_DIR's documented values.
func New(dir string, logger *logx.Logger) *Logger {
	switch strings.ToLower(strings.TrimSpace(dir)) {
	case "", "off", "disabled":
		dir = ""
	}
	return &Logger{dir: dir, locks: keylock.New(), logger: logger}
}

// Enabled reports whether the logger will actually write anything.
func (l *Logger) Enabled() bool {
	return l.dir != ""
}

// Navigate records a navigate event for sessionID.
func (l *Logger) Navigate(sessionID, url string) {
	l.write(sessionID, map[string]any{
		"event": "navigate",
		"url":   url,
	})
}

// ActionFields describes the optional, action-kind-dependent fields an
// action audit line may carry; zero values are omitted (spec.md §4.3: "any
// of ... when non-default").
type ActionFields struct {
	TextLen              int
	KeyLen               int
	ScrollX, ScrollY     float64
	ScrollUnit           string
	TargetNodeID         uint64
	TargetX, TargetY     float64
	HasTargetPoint       bool
	ExpectedStateVersion uint64
}

// Action records an action event for sessionID.
func (l *Logger) Action(sessionID, actionType string, stateVersion uint64, f ActionFields) {
	fields := map[string]any{
		"event":         "action",
		"type":          actionType,
		"state_version": stateVersion,
	}
	if f.TextLen != 0 {
		fields["text_len"] = f.TextLen
	}
	if f.KeyLen != 0 {
		fields["key_len"] = f.KeyLen
	}
	if f.ScrollX != 0 || f.ScrollY != 0 {
		fields["scroll_x"] = f.ScrollX
		fields["scroll_y"] = f.ScrollY
		fields["scroll_unit"] = f.ScrollUnit
	}
	if f.TargetNodeID != 0 {
		fields["target_node_id"] = f.TargetNodeID
	}
	if f.HasTargetPoint {
		fields["target_x"] = f.TargetX
		fields["target_y"] = f.TargetY
	}
	if f.ExpectedStateVersion != 0 {
		fields["expected_state_version"] = f.ExpectedStateVersion
	}
	l.write(sessionID, fields)
}

func (l *Logger) write(sessionID string, fields map[string]any) {
	if l.dir == "" {
		return
	}
	fields["ts_ms"] = time.Now().UnixMilli()
	fields["session_id"] = sessionID

	fileName := sanitizeSessionID(sessionID) + ".jsonl"
	path := filepath.Join(l.dir, fileName)

	l.locks.WithLock(sessionID, func() {
		if err := l.appendLine(path, fields); err != nil {
			l.logger.Errorf("audit: %v", err)
		}
	})
}

func (l *Logger) appendLine(path string, fields map[string]any) error {
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return fmt.Errorf("create audit dir: %w", err)
	}
	line, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("marshal audit line: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open audit file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write audit line: %w", err)
	}
	return nil
}

// sanitizeSessionID maps every character outside [A-Za-z0-9_-] to '_',
// substituting "browser" if the result is empty.
func sanitizeSessionID(id string) string {
	var b strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := b.String()
	if out == "" {
		return "browser"
	}
	return out
}
