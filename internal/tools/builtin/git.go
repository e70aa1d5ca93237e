package builtin

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"orchestra/internal/logging"
	"orchestra/internal/tools"
	"orchestra/internal/types"
)

// runGit shells out to the git binary in dir and returns its stdout.
// On failure, stderr (or the exit error when stderr is empty) becomes
// the returned error's message; stderr from a successful run is
// discarded (git prints plenty of informational output there).
func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("git %s timed out: %w", args[0], ctx.Err())
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("git %s: %s", args[0], msg)
	}
	return stdout.String(), nil
}

// GitStatusTool reports the working tree and index state. Read-only: SAFE.
func GitStatusTool() *tools.Tool {
	return &tools.Tool{
		Name:            "git_status",
		Description:     "Show the working tree status",
		PermissionLevel: types.PermissionSafe,
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{"type": "string", "description": "Repository path (default: current directory)"},
			},
		},
		Execute: executeGitStatus,
	}
}

func executeGitStatus(ctx context.Context, args map[string]any) (string, error) {
	path, _ := args["path"].(string)

	logging.ToolsDebug("git_status: path=%s", path)

	branchOut, err := runGit(ctx, path, "branch", "--show-current")
	if err != nil {
		return "", err
	}
	branch := strings.TrimSpace(branchOut)
	if branch == "" {
		branch = "HEAD (detached)"
	}

	statusOut, err := runGit(ctx, path, "status", "--porcelain=v1", "--branch")
	if err != nil {
		return "", err
	}

	var staged, unstaged, untracked, conflicted []string
	for _, line := range strings.Split(statusOut, "\n") {
		if line == "" || strings.HasPrefix(line, "##") {
			continue
		}
		if len(line) < 3 {
			continue
		}
		code, name := line[:2], strings.TrimSpace(line[3:])
		switch {
		case code == "??":
			untracked = append(untracked, name)
		case code[0] == 'U' || code[1] == 'U' || code == "AA" || code == "DD":
			conflicted = append(conflicted, name)
		default:
			if code[0] != ' ' {
				staged = append(staged, fmt.Sprintf("%s: %s", describeStatusCode(code[0]), name))
			}
			if code[1] != ' ' {
				unstaged = append(unstaged, fmt.Sprintf("%s: %s", describeStatusCode(code[1]), name))
			}
		}
	}

	var lines []string
	lines = append(lines, fmt.Sprintf("On branch %s", branch))
	lines = append(lines, "")
	if len(staged) > 0 {
		lines = append(lines, "Changes to be committed:")
		for _, s := range staged {
			lines = append(lines, "  "+s)
		}
		lines = append(lines, "")
	}
	if len(unstaged) > 0 {
		lines = append(lines, "Changes not staged for commit:")
		for _, s := range unstaged {
			lines = append(lines, "  "+s)
		}
		lines = append(lines, "")
	}
	if len(conflicted) > 0 {
		lines = append(lines, "Unmerged paths (conflicts):")
		for _, s := range conflicted {
			lines = append(lines, "  both modified: "+s)
		}
		lines = append(lines, "")
	}
	if len(untracked) > 0 {
		lines = append(lines, "Untracked files:")
		for _, s := range untracked {
			lines = append(lines, "  "+s)
		}
		lines = append(lines, "")
	}
	if len(staged)+len(unstaged)+len(untracked)+len(conflicted) == 0 {
		lines = append(lines, "Nothing to commit, working tree clean")
	}

	return strings.Join(lines, "\n"), nil
}

func describeStatusCode(c byte) string {
	switch c {
	case 'M':
		return "modified"
	case 'A':
		return "added"
	case 'D':
		return "deleted"
	case 'R':
		return "renamed"
	case 'C':
		return "copied"
	default:
		return "changed"
	}
}

// GitDiffTool shows unified diffs, staged or unstaged. Read-only: SAFE.
func GitDiffTool() *tools.Tool {
	return &tools.Tool{
		Name:            "git_diff",
		Description:     "Show changes between commits, working tree, and the index",
		PermissionLevel: types.PermissionSafe,
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path":   map[string]any{"type": "string"},
				"staged": map[string]any{"type": "boolean", "description": "Show the staged diff instead of the working tree diff"},
				"file":   map[string]any{"type": "string", "description": "Restrict the diff to a single file"},
				"commit": map[string]any{"type": "string", "description": "Diff against a specific commit or ref"},
			},
		},
		Execute: executeGitDiff,
	}
}

func executeGitDiff(ctx context.Context, args map[string]any) (string, error) {
	path, _ := args["path"].(string)
	staged, _ := args["staged"].(bool)
	file, _ := args["file"].(string)
	commit, _ := args["commit"].(string)

	gitArgs := []string{"diff"}
	if staged {
		gitArgs = append(gitArgs, "--cached")
	}
	if commit != "" {
		gitArgs = append(gitArgs, commit)
	}
	if file != "" {
		gitArgs = append(gitArgs, "--", file)
	}

	logging.ToolsDebug("git_diff: args=%v", gitArgs)

	out, err := runGit(ctx, path, gitArgs...)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(out) == "" {
		return "No differences found", nil
	}
	return out, nil
}

// GitLogTool shows commit history. Read-only: SAFE.
func GitLogTool() *tools.Tool {
	return &tools.Tool{
		Name:            "git_log",
		Description:     "Show commit history",
		PermissionLevel: types.PermissionSafe,
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path":   map[string]any{"type": "string"},
				"limit":  map[string]any{"type": "integer", "description": "Maximum commits to return (default: 10)"},
				"file":   map[string]any{"type": "string", "description": "Restrict history to a single file"},
				"author": map[string]any{"type": "string", "description": "Filter by author"},
				"since":  map[string]any{"type": "string", "description": "Show commits more recent than this date"},
			},
		},
		Execute: executeGitLog,
	}
}

func executeGitLog(ctx context.Context, args map[string]any) (string, error) {
	path, _ := args["path"].(string)
	limit := 10
	switch v := args["limit"].(type) {
	case int:
		limit = v
	case float64:
		limit = int(v)
	}
	file, _ := args["file"].(string)
	author, _ := args["author"].(string)
	since, _ := args["since"].(string)

	gitArgs := []string{"log", "-n", strconv.Itoa(limit), "--pretty=format:%H%n%an <%ae>%n%ad%n%s%n%b%n---END---"}
	if author != "" {
		gitArgs = append(gitArgs, "--author="+author)
	}
	if since != "" {
		gitArgs = append(gitArgs, "--since="+since)
	}
	if file != "" {
		gitArgs = append(gitArgs, "--", file)
	}

	logging.ToolsDebug("git_log: args=%v", gitArgs)

	out, err := runGit(ctx, path, gitArgs...)
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "No commits found", nil
	}

	var lines []string
	for _, entry := range strings.Split(out, "---END---") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "\n", 4)
		if len(parts) < 4 {
			continue
		}
		hash, author, date, rest := parts[0], parts[1], parts[2], parts[3]
		lines = append(lines, fmt.Sprintf("commit %s", hash))
		lines = append(lines, fmt.Sprintf("Author: %s", author))
		lines = append(lines, fmt.Sprintf("Date:   %s", date))
		lines = append(lines, "")
		for _, l := range strings.Split(strings.TrimSpace(rest), "\n") {
			lines = append(lines, "    "+l)
		}
		lines = append(lines, "")
	}

	return strings.Join(lines, "\n"), nil
}

// GitCommitTool creates a commit. Mutates history, but is locally
// reversible (reset/amend), so CAUTIOUS rather than DANGEROUS.
func GitCommitTool() *tools.Tool {
	return &tools.Tool{
		Name:            "git_commit",
		Description:     "Create a commit from the staged changes",
		PermissionLevel: types.PermissionCautious,
		Required:        []string{"message"},
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path":    map[string]any{"type": "string"},
				"message": map[string]any{"type": "string"},
				"all":     map[string]any{"type": "boolean", "description": "Stage all tracked, modified files before committing"},
			},
			"required": []string{"message"},
		},
		Execute: executeGitCommit,
	}
}

func executeGitCommit(ctx context.Context, args map[string]any) (string, error) {
	path, _ := args["path"].(string)
	message, _ := args["message"].(string)
	if message == "" {
		return "", fmt.Errorf("message is required")
	}
	all, _ := args["all"].(bool)

	gitArgs := []string{"commit", "-m", message}
	if all {
		gitArgs = append(gitArgs, "-a")
	}

	logging.ToolsDebug("git_commit: all=%v", all)

	if _, err := runGit(ctx, path, gitArgs...); err != nil {
		return "", err
	}

	hashOut, err := runGit(ctx, path, "rev-parse", "--short", "HEAD")
	if err != nil {
		return "", err
	}

	logging.Tools("git_commit completed: %s", strings.TrimSpace(hashOut))
	return fmt.Sprintf("created commit %s: %s", strings.TrimSpace(hashOut), message), nil
}

// GitBranchTool lists, creates, or deletes branches. Listing is
// harmless but create/delete rewrite repository state, so the whole
// tool is CAUTIOUS.
func GitBranchTool() *tools.Tool {
	return &tools.Tool{
		Name:            "git_branch",
		Description:     "List, create, or delete git branches",
		PermissionLevel: types.PermissionCautious,
		Required:        []string{"action"},
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path":   map[string]any{"type": "string"},
				"action": map[string]any{"type": "string", "enum": []string{"list", "current", "create", "delete"}},
				"name":   map[string]any{"type": "string", "description": "Branch name (required for create/delete)"},
				"all":    map[string]any{"type": "boolean", "description": "Include remote branches when listing"},
				"force":  map[string]any{"type": "boolean", "description": "Force-delete an unmerged branch"},
			},
			"required": []string{"action"},
		},
		Execute: executeGitBranch,
	}
}

func executeGitBranch(ctx context.Context, args map[string]any) (string, error) {
	path, _ := args["path"].(string)
	action, _ := args["action"].(string)
	name, _ := args["name"].(string)
	all, _ := args["all"].(bool)
	force, _ := args["force"].(bool)

	logging.ToolsDebug("git_branch: action=%s name=%s", action, name)

	switch action {
	case "list":
		gitArgs := []string{"branch"}
		if all {
			gitArgs = append(gitArgs, "--all")
		}
		out, err := runGit(ctx, path, gitArgs...)
		if err != nil {
			return "", err
		}
		out = strings.TrimSpace(out)
		if out == "" {
			return "No branches found", nil
		}
		return out, nil

	case "current":
		out, err := runGit(ctx, path, "branch", "--show-current")
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(out), nil

	case "create":
		if name == "" {
			return "", fmt.Errorf("name is required for create action")
		}
		if _, err := runGit(ctx, path, "branch", name); err != nil {
			return "", err
		}
		logging.Tools("git_branch created: %s", name)
		return fmt.Sprintf("created branch %s", name), nil

	case "delete":
		if name == "" {
			return "", fmt.Errorf("name is required for delete action")
		}
		flag := "-d"
		if force {
			flag = "-D"
		}
		if _, err := runGit(ctx, path, "branch", flag, name); err != nil {
			return "", err
		}
		logging.Tools("git_branch deleted: %s", name)
		return fmt.Sprintf("deleted branch %s", name), nil

	default:
		return "", fmt.Errorf("unknown action: %s", action)
	}
}

// RegisterGitTools adds the git inspection/mutation tools to reg.
func RegisterGitTools(reg *tools.Registry) {
	reg.MustRegister(GitStatusTool())
	reg.MustRegister(GitDiffTool())
	reg.MustRegister(GitLogTool())
	reg.MustRegister(GitCommitTool())
	reg.MustRegister(GitBranchTool())
}
