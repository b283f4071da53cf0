package main

import (
	"flag"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// setConfig points the -config flag at a file holding text, and restores the
// command-line state when t ends.
func setConfig(t *testing.T, text string) {
	t.Helper()
	path := writeFile(t, "config.yaml", text)
	old, oldVars := *configFile, variables
	*configFile = path
	t.Cleanup(func() { *configFile, variables = old, oldVars })
}

func TestConfigBroadcastsVariables(t *testing.T) {
	setConfig(t, `
worker: [streamworker, -broadcast]
timeout: 3s
variables:
  stopwords: stop.txt
  alpha: a.txt
  beta: b.txt
broadcast:
  names: [beta]
`)
	variables = nil
	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig: unexpected error: %v", err)
	}
	if diff := cmp.Diff([]string{"beta", "alpha", "stopwords"}, cfg.Broadcast.Names); diff != "" {
		t.Errorf("Broadcast names: (-want, +got)\n%s", diff)
	}
	if cfg.Timeout != 3*time.Second {
		t.Errorf("Timeout: got %v, want 3s", cfg.Timeout)
	}
	if diff := cmp.Diff([]string{"streamworker", "-broadcast"}, cfg.Worker); diff != "" {
		t.Errorf("Worker: (-want, +got)\n%s", diff)
	}
}

func TestVarFlagOrder(t *testing.T) {
	setConfig(t, `
variables:
  mid: m.txt
`)
	variables = nil
	for _, arg := range []string{"zeta=z.txt", "aaa=a.txt", "mid=other.txt"} {
		if err := flag.Set("var", arg); err != nil {
			t.Fatalf("Set -var %s: %v", arg, err)
		}
	}

	// Repeat to check that the order does not depend on map iteration.
	for range 5 {
		cfg, err := loadConfig()
		if err != nil {
			t.Fatalf("loadConfig: unexpected error: %v", err)
		}
		if diff := cmp.Diff([]string{"zeta", "aaa", "mid"}, cfg.Broadcast.Names); diff != "" {
			t.Errorf("Broadcast names: (-want, +got)\n%s", diff)
		}
		if got := cfg.Variables["mid"]; got != "other.txt" {
			t.Errorf("Variable mid: got %q, want other.txt (flag overrides config)", got)
		}
	}
}
