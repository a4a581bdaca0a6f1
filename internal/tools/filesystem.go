package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ReadFileTool reads the contents of a file.
type ReadFileTool struct {
	root string
}

// NewReadFileTool creates a ReadFileTool resolving relative paths against root.
func NewReadFileTool(root string) *ReadFileTool { return &ReadFileTool{root: root} }

func (t *ReadFileTool) Name() string   { return "read_file" }
func (t *ReadFileTool) Tier() int      { return TierReadOnly }
func (t *ReadFileTool) Access() Access { return AccessRead }

func (t *ReadFileTool) Description() string {
	return "Read the contents of a file at the specified path. Relative paths are resolved against the workspace."
}

func (t *ReadFileTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "The path to the file to read",
			},
		},
		"required": []string{"path"},
	}
}

func (t *ReadFileTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	path := FirstString(params, "path", "file_path")
	if path == "" {
		return "Error: path is required", nil
	}
	path = ResolvePath(t.root, path)

	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Sprintf("Error: file not found: %s", path), nil
		}
		if os.IsPermission(err) {
			return fmt.Sprintf("Error: permission denied: %s", path), nil
		}
		return fmt.Sprintf("Error reading file: %v", err), nil
	}

	return string(content), nil
}

// WriteFileTool writes content to a file. Where a file may go is decided by
// the path-convention hook before this tool runs.
type WriteFileTool struct {
	root string
}

// NewWriteFileTool creates a WriteFileTool resolving relative paths against root.
func NewWriteFileTool(root string) *WriteFileTool { return &WriteFileTool{root: root} }

func (t *WriteFileTool) Name() string   { return "write_file" }
func (t *WriteFileTool) Tier() int      { return TierWrite }
func (t *WriteFileTool) Access() Access { return AccessWrite }

func (t *WriteFileTool) Description() string {
	return "Write content to a file at the specified path. Creates parent directories if needed."
}

func (t *WriteFileTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "The path to the file to write",
			},
			"content": map[string]any{
				"type":        "string",
				"description": "The content to write to the file",
			},
			"confirmed": map[string]any{
				"type":        "boolean",
				"description": "Set after the user explicitly confirmed a write to a protected location",
			},
		},
		"required": []string{"path", "content"},
	}
}

func (t *WriteFileTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	path := FirstString(params, "path", "file_path")
	content := GetString(params, "content", "")

	if path == "" {
		return "Error: path is required", nil
	}
	path = ResolvePath(t.root, path)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Sprintf("Error creating directory: %v", err), nil
	}

	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		if os.IsPermission(err) {
			return fmt.Sprintf("Error: permission denied: %s", path), nil
		}
		return fmt.Sprintf("Error writing file: %v", err), nil
	}

	return fmt.Sprintf("Successfully wrote %d bytes to %s", len(content), path), nil
}

// ListDirTool lists directory contents.
type ListDirTool struct {
	root string
}

// NewListDirTool creates a ListDirTool resolving relative paths against root.
func NewListDirTool(root string) *ListDirTool { return &ListDirTool{root: root} }

func (t *ListDirTool) Name() string   { return "list_dir" }
func (t *ListDirTool) Tier() int      { return TierReadOnly }
func (t *ListDirTool) Access() Access { return AccessRead }

func (t *ListDirTool) Description() string {
	return "List the contents of a directory."
}

func (t *ListDirTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "The directory path to list",
			},
		},
	}
}

func (t *ListDirTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	path := ResolvePath(t.root, GetString(params, "path", "."))

	entries, err := os.ReadDir(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Sprintf("Error: directory not found: %s", path), nil
		}
		if os.IsPermission(err) {
			return fmt.Sprintf("Error: permission denied: %s", path), nil
		}
		return fmt.Sprintf("Error reading directory: %v", err), nil
	}

	var result strings.Builder
	fmt.Fprintf(&result, "Contents of %s:\n", path)
	for _, entry := range entries {
		info, _ := entry.Info()
		switch {
		case entry.IsDir():
			fmt.Fprintf(&result, "  [DIR]  %s/\n", entry.Name())
		case info != nil:
			fmt.Fprintf(&result, "  [FILE] %s (%d bytes)\n", entry.Name(), info.Size())
		default:
			fmt.Fprintf(&result, "  [FILE] %s\n", entry.Name())
		}
	}

	return result.String(), nil
}

// ResolvePath expands ~ and resolves a relative path against root.
// The result is absolute and cleaned.
func ResolvePath(root, path string) string {
	path = expandHome(strings.TrimSpace(path))
	if !filepath.IsAbs(path) && root != "" {
		path = filepath.Join(ExpandRoot(root), path)
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return path
}

// ExpandRoot expands ~ in a configured root directory and makes it absolute.
func ExpandRoot(root string) string {
	if root == "" {
		return ""
	}
	root = expandHome(root)
	if abs, err := filepath.Abs(root); err == nil {
		return abs
	}
	return filepath.Clean(root)
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

// IsWithin reports whether path is root or below it.
func IsWithin(root, path string) bool {
	if root == "" {
		return true
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && rel != ".."
}
