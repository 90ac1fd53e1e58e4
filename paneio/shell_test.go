package paneio

import (
	"os/exec"
	"testing"
)

func TestResolveShellOverrideWins(t *testing.T) {
	if _, err := exec.LookPath("echo"); err != nil {
		t.Skip("echo not on PATH")
	}

	got, err := ResolveShell("echo hello", ShellConfig{})
	if err != nil {
		t.Fatalf("ResolveShell() error = %v", err)
	}
	if len(got) != 2 || got[0] != "echo" || got[1] != "hello" {
		t.Fatalf("ResolveShell() = %v, want [echo hello]", got)
	}
}

func TestResolveShellOverrideNotFound(t *testing.T) {
	if _, err := ResolveShell("definitely-not-a-real-shell-xyz", ShellConfig{}); err == nil {
		t.Fatal("expected error for a nonexistent override shell")
	}
}

func TestResolveShellFallsBackToCandidates(t *testing.T) {
	got, err := ResolveShell("", ShellConfig{})
	if err != nil {
		t.Fatalf("ResolveShell() error = %v, want a default shell to be found", err)
	}
	if len(got) == 0 {
		t.Fatal("ResolveShell() returned no command")
	}
}
