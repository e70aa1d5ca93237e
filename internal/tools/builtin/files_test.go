package builtin

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestExecuteReadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(path, []byte("line1\nline2\nline3"), 0644); err != nil {
		t.Fatal(err)
	}

	out, err := executeReadFile(context.Background(), map[string]any{"path": path})
	if err != nil {
		t.Fatalf("executeReadFile: %v", err)
	}
	if out != "line1\nline2\nline3" {
		t.Errorf("got %q", out)
	}
}

func TestExecuteReadFileLineRange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	os.WriteFile(path, []byte("line1\nline2\nline3"), 0644)

	out, err := executeReadFile(context.Background(), map[string]any{"path": path, "start_line": 2, "end_line": 2})
	if err != nil {
		t.Fatalf("executeReadFile: %v", err)
	}
	if out != "line2" {
		t.Errorf("got %q", out)
	}
}

func TestExecuteReadFileMissingPath(t *testing.T) {
	if _, err := executeReadFile(context.Background(), map[string]any{}); err == nil {
		t.Fatal("expected error for missing path")
	}
}

func TestExecuteWriteFileCreatesDirs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "b.txt")

	_, err := executeWriteFile(context.Background(), map[string]any{"path": path, "content": "hello"})
	if err != nil {
		t.Fatalf("executeWriteFile: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("got %q", got)
	}
}

func TestExecuteEditFileReplacesOnce(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "c.txt")
	os.WriteFile(path, []byte("foo foo foo"), 0644)

	_, err := executeEditFile(context.Background(), map[string]any{
		"path": path, "old_text": "foo", "new_text": "bar",
	})
	if err != nil {
		t.Fatalf("executeEditFile: %v", err)
	}
	got, _ := os.ReadFile(path)
	if string(got) != "bar foo foo" {
		t.Errorf("got %q", got)
	}
}

func TestExecuteEditFileReplaceAll(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "c.txt")
	os.WriteFile(path, []byte("foo foo foo"), 0644)

	_, err := executeEditFile(context.Background(), map[string]any{
		"path": path, "old_text": "foo", "new_text": "bar", "replace_all": true,
	})
	if err != nil {
		t.Fatalf("executeEditFile: %v", err)
	}
	got, _ := os.ReadFile(path)
	if string(got) != "bar bar bar" {
		t.Errorf("got %q", got)
	}
}

func TestExecuteEditFileOldTextNotFound(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "c.txt")
	os.WriteFile(path, []byte("foo"), 0644)

	if _, err := executeEditFile(context.Background(), map[string]any{
		"path": path, "old_text": "missing", "new_text": "x",
	}); err == nil {
		t.Fatal("expected error when old_text not found")
	}
}

func TestExecuteDeleteFileRemovesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "d.txt")
	os.WriteFile(path, []byte("x"), 0644)

	_, err := executeDeleteFile(context.Background(), map[string]any{"path": path})
	if err != nil {
		t.Fatalf("executeDeleteFile: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("expected file to be removed")
	}
}

func TestExecuteDeleteFileRefusesDirectory(t *testing.T) {
	dir := t.TempDir()
	if _, err := executeDeleteFile(context.Background(), map[string]any{"path": dir}); err == nil {
		t.Fatal("expected error deleting a directory")
	}
}

func TestExecuteListFilesNonRecursive(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "a.txt"), []byte("x"), 0644)
	os.Mkdir(filepath.Join(dir, "sub"), 0755)

	out, err := executeListFiles(context.Background(), map[string]any{"path": dir})
	if err != nil {
		t.Fatalf("executeListFiles: %v", err)
	}
	if out != "a.txt\nsub/" && out != "sub/\na.txt" {
		t.Errorf("got %q", out)
	}
}

func TestExecuteListFilesHidesDotfilesByDefault(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, ".hidden"), []byte("x"), 0644)
	os.WriteFile(filepath.Join(dir, "visible.txt"), []byte("x"), 0644)

	out, err := executeListFiles(context.Background(), map[string]any{"path": dir})
	if err != nil {
		t.Fatalf("executeListFiles: %v", err)
	}
	if out != "visible.txt" {
		t.Errorf("got %q", out)
	}
}
