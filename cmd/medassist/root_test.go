package main

import (
	"testing"
)

func TestNewRootCmd(t *testing.T) {
	cmd := NewRootCmd("1.0.0")

	if cmd == nil {
		t.Fatal("NewRootCmd returned nil")
	}

	if cmd.Use != "medassist" {
		t.Errorf("expected Use='medassist', got %q", cmd.Use)
	}

	if cmd.Version != "1.0.0" {
		t.Errorf("expected Version='1.0.0', got %q", cmd.Version)
	}
}

func TestRootCmdHasFlags(t *testing.T) {
	cmd := NewRootCmd("1.0.0")

	flags := []string{"config", "json", "verbose"}
	for _, name := range flags {
		if cmd.PersistentFlags().Lookup(name) == nil {
			t.Errorf("expected persistent flag %q to exist", name)
		}
	}
}

func TestRootCmdSubcommands(t *testing.T) {
	cmd := NewRootCmd("dev")

	expected := []string{"ask", "index", "kb", "history", "status", "watch", "download"}
	for _, name := range expected {
		found := false
		for _, sub := range cmd.Commands() {
			if sub.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("expected subcommand %q to be registered", name)
		}
	}
}
