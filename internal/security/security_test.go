package security_test

import (
	"testing"

	"browserd/internal/config"
	"browserd/internal/logx"
	"browserd/internal/security"
)

func TestCheck_EnforceNonRootFailsAsRoot(t *testing.T) {
	cfg := config.SecurityConfig{EnforceNonRoot: true}
	err := security.Check(cfg, logx.New(logx.LevelError), func() int { return 0 })
	if err == nil {
		t.Fatal("expected failure when enforce_non_root is set and uid is 0")
	}
}

func TestCheck_EnforceNonRootPassesAsNonRoot(t *testing.T) {
	cfg := config.SecurityConfig{EnforceNonRoot: true}
	err := security.Check(cfg, logx.New(logx.LevelError), func() int { return 1000 })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCheck_UnsatisfiedRequirementStrictFails(t *testing.T) {
	cfg := config.SecurityConfig{RequireSeccomp: true, Strict: true}
	err := security.Check(cfg, logx.New(logx.LevelError), func() int { return 1000 })
	if err == nil {
		t.Fatal("expected failure for unsatisfied require_seccomp in strict mode")
	}
}

func TestCheck_UnsatisfiedRequirementNonStrictWarnsOnly(t *testing.T) {
	cfg := config.SecurityConfig{RequireSeccomp: true, Strict: false}
	err := security.Check(cfg, logx.New(logx.LevelError), func() int { return 1000 })
	if err != nil {
		t.Fatalf("expected no error in non-strict mode, got %v", err)
	}
}

func TestCheck_AssumeExternalSatisfiesRequirements(t *testing.T) {
	cfg := config.SecurityConfig{RequireSeccomp: true, RequireNetns: true, Strict: true, AssumeExternal: true}
	err := security.Check(cfg, logx.New(logx.LevelError), func() int { return 1000 })
	if err != nil {
		t.Fatalf("expected assume_external to satisfy requirements, got %v", err)
	}
}

func TestCheck_NoRequirementsSucceeds(t *testing.T) {
	err := security.Check(config.SecurityConfig{}, logx.New(logx.LevelError), func() int { return 1000 })
	if err != nil {
		t.Fatalf("unexpected error with no requirements set: %v", err)
	}
}
