// Package builtin registers the core's standard tool set: filesystem
// access, shell execution, and git inspection/mutation, each tagged
// with the permission level the Permission Manager consults before
// letting a model invoke it.
package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"orchestra/internal/logging"
	"orchestra/internal/tools"
	"orchestra/internal/types"
)

// ReadFileTool reads a file's contents, optionally restricted to a line
// range. Reads never mutate state, so this is SAFE.
func ReadFileTool() *tools.Tool {
	return &tools.Tool{
		Name:            "read_file",
		Description:     "Read the contents of a file",
		PermissionLevel: types.PermissionSafe,
		Required:        []string{"path"},
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path":       map[string]any{"type": "string", "description": "The file path to read"},
				"start_line": map[string]any{"type": "integer", "description": "Starting line number (1-indexed, optional)"},
				"end_line":   map[string]any{"type": "integer", "description": "Ending line number (inclusive, optional)"},
			},
			"required": []string{"path"},
		},
		Execute: executeReadFile,
	}
}

func executeReadFile(ctx context.Context, args map[string]any) (string, error) {
	path, _ := args["path"].(string)
	if path == "" {
		return "", fmt.Errorf("path is required")
	}

	logging.ToolsDebug("read_file: path=%s", path)

	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	result := string(content)

	lineArg := func(key string) (int, bool) {
		switch v := args[key].(type) {
		case int:
			return v, true
		case float64:
			return int(v), true
		}
		return 0, false
	}
	startLine, hasStart := lineArg("start_line")
	endLine, hasEnd := lineArg("end_line")
	if hasStart || hasEnd {
		lines := strings.Split(result, "\n")
		if !hasStart {
			startLine = 1
		}
		if !hasEnd {
			endLine = len(lines)
		}
		startLine--
		if startLine < 0 {
			startLine = 0
		}
		if endLine > len(lines) {
			endLine = len(lines)
		}
		result = strings.Join(lines[startLine:endLine], "\n")
	}

	logging.Tools("read_file completed: %s (%d bytes)", path, len(result))
	return result, nil
}

// WriteFileTool writes content to a file, creating it (and optionally
// its parent directories) if it doesn't exist. Mutating the workspace
// without review is the scenario the Permission Manager's CAUTIOUS tier
// exists for.
func WriteFileTool() *tools.Tool {
	return &tools.Tool{
		Name:            "write_file",
		Description:     "Write content to a file, creating it if it doesn't exist",
		PermissionLevel: types.PermissionCautious,
		Required:        []string{"path", "content"},
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path":        map[string]any{"type": "string", "description": "The file path to write"},
				"content":     map[string]any{"type": "string", "description": "The content to write"},
				"create_dirs": map[string]any{"type": "boolean", "description": "Create parent directories if missing (default: true)"},
			},
			"required": []string{"path", "content"},
		},
		Execute: executeWriteFile,
	}
}

func executeWriteFile(ctx context.Context, args map[string]any) (string, error) {
	path, _ := args["path"].(string)
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	content, _ := args["content"].(string)

	createDirs := true
	if cd, ok := args["create_dirs"].(bool); ok {
		createDirs = cd
	}

	logging.ToolsDebug("write_file: path=%s, size=%d", path, len(content))

	if createDirs {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return "", fmt.Errorf("failed to create directories: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}

	logging.Tools("write_file completed: %s (%d bytes)", path, len(content))
	return fmt.Sprintf("wrote %d bytes to %s", len(content), path), nil
}

// EditFileTool replaces text within an existing file. CAUTIOUS, same as
// write_file: it mutates the workspace.
func EditFileTool() *tools.Tool {
	return &tools.Tool{
		Name:            "edit_file",
		Description:     "Edit a file by replacing text",
		PermissionLevel: types.PermissionCautious,
		Required:        []string{"path", "old_text", "new_text"},
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path":        map[string]any{"type": "string"},
				"old_text":    map[string]any{"type": "string"},
				"new_text":    map[string]any{"type": "string"},
				"replace_all": map[string]any{"type": "boolean", "description": "Replace all occurrences (default: false)"},
			},
			"required": []string{"path", "old_text", "new_text"},
		},
		Execute: executeEditFile,
	}
}

func executeEditFile(ctx context.Context, args map[string]any) (string, error) {
	path, _ := args["path"].(string)
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	oldText, _ := args["old_text"].(string)
	if oldText == "" {
		return "", fmt.Errorf("old_text is required")
	}
	newText, _ := args["new_text"].(string)
	replaceAll, _ := args["replace_all"].(bool)

	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	contentStr := string(content)
	if !strings.Contains(contentStr, oldText) {
		return "", fmt.Errorf("old_text not found in file")
	}

	var newContent string
	var count int
	if replaceAll {
		count = strings.Count(contentStr, oldText)
		newContent = strings.ReplaceAll(contentStr, oldText, newText)
	} else {
		count = 1
		newContent = strings.Replace(contentStr, oldText, newText, 1)
	}

	if err := os.WriteFile(path, []byte(newContent), 0644); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}

	logging.Tools("edit_file completed: %s (%d replacements)", path, count)
	return fmt.Sprintf("replaced %d occurrence(s) in %s", count, path), nil
}

// DeleteFileTool deletes a single file. DANGEROUS: destructive and
// irreversible, so the Permission Manager must ask on every call.
func DeleteFileTool() *tools.Tool {
	return &tools.Tool{
		Name:            "delete_file",
		Description:     "Delete a file",
		PermissionLevel: types.PermissionDangerous,
		Required:        []string{"path"},
		Schema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"path": map[string]any{"type": "string"}},
			"required":   []string{"path"},
		},
		Execute: executeDeleteFile,
	}
}

func executeDeleteFile(ctx context.Context, args map[string]any) (string, error) {
	path, _ := args["path"].(string)
	if path == "" {
		return "", fmt.Errorf("path is required")
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("failed to stat file: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("cannot delete a directory with delete_file")
	}
	if err := os.Remove(path); err != nil {
		return "", fmt.Errorf("failed to delete file: %w", err)
	}

	logging.Tools("delete_file completed: %s", path)
	return fmt.Sprintf("deleted %s", path), nil
}

// ListFilesTool lists directory contents. SAFE: read-only.
func ListFilesTool() *tools.Tool {
	return &tools.Tool{
		Name:            "list_files",
		Description:     "List files in a directory",
		PermissionLevel: types.PermissionSafe,
		Required:        []string{"path"},
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path":           map[string]any{"type": "string"},
				"recursive":      map[string]any{"type": "boolean"},
				"include_hidden": map[string]any{"type": "boolean"},
			},
			"required": []string{"path"},
		},
		Execute: executeListFiles,
	}
}

func executeListFiles(ctx context.Context, args map[string]any) (string, error) {
	path, _ := args["path"].(string)
	if path == "" {
		path = "."
	}
	recursive, _ := args["recursive"].(bool)
	includeHidden, _ := args["include_hidden"].(bool)

	var files []string
	if recursive {
		err := filepath.Walk(path, func(p string, info os.FileInfo, err error) error {
			if err != nil {
				return nil
			}
			name := info.Name()
			if !includeHidden && strings.HasPrefix(name, ".") {
				if info.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			relPath, _ := filepath.Rel(path, p)
			if relPath == "." {
				return nil
			}
			if info.IsDir() {
				files = append(files, relPath+"/")
			} else {
				files = append(files, relPath)
			}
			return nil
		})
		if err != nil {
			return "", fmt.Errorf("failed to walk directory: %w", err)
		}
	} else {
		entries, err := os.ReadDir(path)
		if err != nil {
			return "", fmt.Errorf("failed to read directory: %w", err)
		}
		for _, entry := range entries {
			name := entry.Name()
			if !includeHidden && strings.HasPrefix(name, ".") {
				continue
			}
			if entry.IsDir() {
				files = append(files, name+"/")
			} else {
				files = append(files, name)
			}
		}
	}

	return strings.Join(files, "\n"), nil
}

// RegisterFileTools adds every filesystem tool to reg.
func RegisterFileTools(reg *tools.Registry) {
	reg.MustRegister(ReadFileTool())
	reg.MustRegister(WriteFileTool())
	reg.MustRegister(EditFileTool())
	reg.MustRegister(DeleteFileTool())
	reg.MustRegister(ListFilesTool())
}
