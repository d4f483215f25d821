package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWithHome_HomeFrom(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	if _, ok := HomeFrom(ctx); ok {
		t.Fatal("expected no home in empty context")
	}
	ctx = WithHome(ctx, "/foo/bar")
	got, ok := HomeFrom(ctx)
	if !ok || got != "/foo/bar" {
		t.Fatalf("HomeFrom: got %q, ok=%v; want /foo/bar, true", got, ok)
	}
}

func TestMustHomeFrom_panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic when home missing")
		}
	}()
	MustHomeFrom(context.Background())
}

func TestResolveHome_override(t *testing.T) {
	t.Parallel()
	got, err := ResolveHome("/custom/home")
	if err != nil {
		t.Fatalf("ResolveHome: %v", err)
	}
	if got != filepath.Clean("/custom/home") {
		t.Fatalf("ResolveHome: got %q", got)
	}
}

func TestResolveHome_env(t *testing.T) {
	t.Setenv("SWARMFUSE_HOME", "/env/home")
	got, err := ResolveHome("")
	if err != nil {
		t.Fatalf("ResolveHome: %v", err)
	}
	if got != filepath.Clean("/env/home") {
		t.Fatalf("ResolveHome from env: got %q", got)
	}
}

func TestResolveHome_default(t *testing.T) {
	t.Setenv("SWARMFUSE_HOME", "")
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("UserHomeDir: %v", err)
	}
	got, err := ResolveHome("")
	if err != nil {
		t.Fatalf("ResolveHome: %v", err)
	}
	want := filepath.Join(home, ".swarmfuse")
	if got != want {
		t.Fatalf("ResolveHome default: got %q, want %q", got, want)
	}
}

func TestLoad_missingFile(t *testing.T) {
	t.Parallel()
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.PollInterval() != 30*time.Second {
		t.Fatalf("default poll interval: got %v", cfg.PollInterval())
	}
	if cfg.StaleSessionThreshold() != 30*time.Minute {
		t.Fatalf("default stale session threshold: got %v", cfg.StaleSessionThreshold())
	}
	if cfg.LocalityWindow != 5 || cfg.MinSharedEvents != 3 || cfg.MinCoupling != 0.25 {
		t.Fatalf("dedup/cluster defaults: got %+v", cfg)
	}
}

func TestLoad_overlay(t *testing.T) {
	t.Parallel()
	home := t.TempDir()
	body := `
poll_interval_sec: 1.5
locality_window: 10
precedence: [safety, style]
risk_weights:
  churn: 0.5
  frequency: 0.3
`
	if err := os.WriteFile(filepath.Join(home, "config.yaml"), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(home)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.PollInterval() != 1500*time.Millisecond {
		t.Fatalf("poll interval: got %v", cfg.PollInterval())
	}
	if cfg.LocalityWindow != 10 {
		t.Fatalf("locality window: got %d", cfg.LocalityWindow)
	}
	if len(cfg.Precedence) != 2 || cfg.Precedence[0] != "safety" {
		t.Fatalf("precedence: got %v", cfg.Precedence)
	}
	if cfg.RiskWeights["churn"] != 0.5 {
		t.Fatalf("risk weights: got %v", cfg.RiskWeights)
	}
	// Untouched fields keep defaults.
	if cfg.HardTimeout() != 600*time.Second {
		t.Fatalf("hard timeout default: got %v", cfg.HardTimeout())
	}
}

func TestLoad_malformed(t *testing.T) {
	t.Parallel()
	home := t.TempDir()
	if err := os.WriteFile(filepath.Join(home, "config.yaml"), []byte("{not yaml:"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(home); err == nil {
		t.Fatal("expected error for malformed config")
	}
}
