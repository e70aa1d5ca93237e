package builtin

import (
	"context"
	"strings"
	"testing"
	"time"

	"orchestra/internal/config"
)

func TestExecuteRunShellCapturesStdout(t *testing.T) {
	out, err := executeRunShell(context.Background(), config.ExecutionConfig{}, map[string]any{"command": "echo hello"})
	if err != nil {
		t.Fatalf("executeRunShell: %v", err)
	}
	if strings.TrimSpace(out) != "hello" {
		t.Errorf("got %q", out)
	}
}

func TestExecuteRunShellMissingCommand(t *testing.T) {
	if _, err := executeRunShell(context.Background(), config.ExecutionConfig{}, map[string]any{}); err == nil {
		t.Fatal("expected error for missing command")
	}
}

func TestExecuteRunShellCombinesStderr(t *testing.T) {
	out, err := executeRunShell(context.Background(), config.ExecutionConfig{}, map[string]any{"command": "echo out; echo err 1>&2"})
	if err != nil {
		t.Fatalf("executeRunShell: %v", err)
	}
	if !strings.Contains(out, "out") || !strings.Contains(out, "err") {
		t.Errorf("expected both stdout and stderr present, got %q", out)
	}
}

func TestExecuteRunShellRespectsDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := executeRunShell(ctx, config.ExecutionConfig{}, map[string]any{"command": "sleep 1"})
	if err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestExecuteRunShellRejectsDisallowedBinary(t *testing.T) {
	cfg := config.ExecutionConfig{AllowedBinaries: []string{"echo"}}
	if _, err := executeRunShell(context.Background(), cfg, map[string]any{"command": "rm -rf /tmp/whatever"}); err == nil {
		t.Fatal("expected error for disallowed binary")
	}
}

func TestExecuteRunShellAllowsListedBinary(t *testing.T) {
	cfg := config.ExecutionConfig{AllowedBinaries: []string{"echo"}}
	out, err := executeRunShell(context.Background(), cfg, map[string]any{"command": "echo hi"})
	if err != nil {
		t.Fatalf("executeRunShell: %v", err)
	}
	if strings.TrimSpace(out) != "hi" {
		t.Errorf("got %q", out)
	}
}
