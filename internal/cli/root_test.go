package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/valter-silva-au/tasksync/internal/core"
)

func TestSetVersionInfo(t *testing.T) {
	// Save originals.
	origVersion := appVersion
	origCommit := appCommit
	origDate := appDate
	defer func() {
		appVersion = origVersion
		appCommit = origCommit
		appDate = origDate
	}()

	SetVersionInfo("1.2.3", "abc1234", "2026-02-13")

	if appVersion != "1.2.3" {
		t.Errorf("appVersion = %q, want 1.2.3", appVersion)
	}
	if appCommit != "abc1234" {
		t.Errorf("appCommit = %q, want abc1234", appCommit)
	}
	if appDate != "2026-02-13" {
		t.Errorf("appDate = %q, want 2026-02-13", appDate)
	}
}

func TestExecute_UnknownCommand(t *testing.T) {
	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs([]string{"nonexistent-command"})

	err := Execute()
	if err == nil {
		t.Fatal("expected error for unknown command")
	}
	if !strings.Contains(err.Error(), "unknown command") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestExecute_VersionSubcommand(t *testing.T) {
	origVersion := appVersion
	origCommit := appCommit
	origDate := appDate
	defer func() {
		appVersion = origVersion
		appCommit = origCommit
		appDate = origDate
	}()
	appVersion = "test-ver"
	appCommit = "test-commit"
	appDate = "test-date"

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs([]string{"version"})
	defer rootCmd.SetArgs(nil)

	err := Execute()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out.String(), "tasksync test-ver") || !strings.Contains(out.String(), "test-commit") {
		t.Errorf("unexpected version output: %q", out.String())
	}
}

func TestVersionCommand_Registration(t *testing.T) {
	found := false
	for _, cmd := range rootCmd.Commands() {
		if cmd.Name() == "version" {
			found = true
			break
		}
	}
	if !found {
		t.Error("version command not registered on root")
	}
}

func TestRootCommand_Subcommands(t *testing.T) {
	want := []string{"load", "refresh", "reset", "status", "show", "watch", "serve", "mcp", "metrics", "alerts", "config", "version"}
	registered := make(map[string]bool)
	for _, cmd := range rootCmd.Commands() {
		registered[cmd.Name()] = true
	}
	for _, name := range want {
		if !registered[name] {
			t.Errorf("command %q not registered on root", name)
		}
	}
}

func TestCommandContext_WorkspaceFlag(t *testing.T) {
	orig := workspaceFlag
	defer func() { workspaceFlag = orig }()

	workspaceFlag = "file:///work/other"
	ctx, stop := commandContext(versionCmd)
	defer stop()

	key, ok := core.WorkspaceKeyFromContext(ctx)
	if !ok || key != "file:///work/other" {
		t.Errorf("WorkspaceKeyFromContext = %q, %v", key, ok)
	}
}

func TestCommandContext_NoWorkspaceFlag(t *testing.T) {
	orig := workspaceFlag
	defer func() { workspaceFlag = orig }()

	workspaceFlag = ""
	ctx, stop := commandContext(versionCmd)
	defer stop()

	if _, ok := core.WorkspaceKeyFromContext(ctx); ok {
		t.Error("no workspace key expected without --workspace")
	}
}
