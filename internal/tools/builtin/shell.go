package builtin

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"orchestra/internal/config"
	"orchestra/internal/logging"
	"orchestra/internal/tools"
	"orchestra/internal/types"
)

const maxShellOutput = 50_000

// RunShellTool executes an arbitrary shell command, constrained by cfg's
// allowed-binaries list, default working directory, and environment
// allowlist. Unrestricted command execution is the canonical DANGEROUS
// case: the Permission Manager must ask every call, not just once per
// session.
func RunShellTool(cfg config.ExecutionConfig) *tools.Tool {
	return &tools.Tool{
		Name:            "run_shell",
		Description:     "Execute a shell command and return its combined stdout/stderr",
		PermissionLevel: types.PermissionDangerous,
		Required:        []string{"command"},
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command":     map[string]any{"type": "string", "description": "The command to execute"},
				"working_dir": map[string]any{"type": "string", "description": "Working directory for the command"},
			},
			"required": []string{"command"},
		},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			return executeRunShell(ctx, cfg, args)
		},
	}
}

func binaryAllowed(command string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return false
	}
	bin := filepath.Base(fields[0])
	for _, a := range allowed {
		if a == bin {
			return true
		}
	}
	return false
}

// executeRunShell relies on the caller's context for its deadline — the
// Tool Loop applies the per-call deadline via context.WithTimeout
// before invoking this, so the command is killed when ctx is cancelled.
func executeRunShell(ctx context.Context, cfg config.ExecutionConfig, args map[string]any) (string, error) {
	command, _ := args["command"].(string)
	if command == "" {
		return "", fmt.Errorf("command is required")
	}
	if !binaryAllowed(command, cfg.AllowedBinaries) {
		return "", fmt.Errorf("command binary is not in the allowed_binaries list: %s", command)
	}
	workingDir, _ := args["working_dir"].(string)
	if workingDir == "" {
		workingDir = cfg.WorkingDirectory
	}

	logging.ToolsDebug("run_shell: cmd=%s, dir=%s", command, workingDir)

	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(ctx, "cmd", "/C", command)
	} else {
		cmd = exec.CommandContext(ctx, "sh", "-c", command)
	}
	if workingDir != "" {
		cmd.Dir = workingDir
	}
	cmd.Env = filteredEnv(cfg.AllowedEnvVars)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	output := stdout.String()
	if stderr.Len() > 0 {
		if output != "" {
			output += "\n--- stderr ---\n"
		}
		output += stderr.String()
	}
	if len(output) > maxShellOutput {
		output = output[:maxShellOutput] + "\n...[truncated]"
	}

	if err != nil {
		if ctx.Err() != nil {
			return output, fmt.Errorf("command timed out: %w", ctx.Err())
		}
		return output, fmt.Errorf("command failed: %w\noutput:\n%s", err, output)
	}

	logging.Tools("run_shell completed: %s (%d bytes output)", command, len(output))
	return output, nil
}

// filteredEnv returns the process environment restricted to allowed
// variable names, or the full environment when allowed is empty.
func filteredEnv(allowed []string) []string {
	if len(allowed) == 0 {
		return os.Environ()
	}
	allowSet := make(map[string]bool, len(allowed))
	for _, name := range allowed {
		allowSet[name] = true
	}
	var env []string
	for _, kv := range os.Environ() {
		name := kv
		if i := strings.IndexByte(kv, '='); i >= 0 {
			name = kv[:i]
		}
		if allowSet[name] {
			env = append(env, kv)
		}
	}
	return env
}

// RegisterShellTools adds the shell tool to reg.
func RegisterShellTools(reg *tools.Registry, cfg config.ExecutionConfig) {
	reg.MustRegister(RunShellTool(cfg))
}
