package toolset

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/c360studio/cellmesh/mind"
)

// FileExecutor implements file_read, file_write, and file_list inside the
// cell workspace. Paths are confined to the workspace root.
type FileExecutor struct {
	root string
}

// NewFileExecutor creates a file executor rooted at the workspace.
func NewFileExecutor(root string) *FileExecutor {
	abs, err := filepath.Abs(root)
	if err != nil {
		abs = root
	}
	return &FileExecutor{root: abs}
}

// Execute dispatches one file tool call.
func (f *FileExecutor) Execute(ctx context.Context, call mind.ToolCall) (Result, error) {
	switch call.Name {
	case "file_read":
		return f.read(call)
	case "file_write":
		return f.write(call)
	case "file_list":
		return f.list(call)
	default:
		return Result{Error: fmt.Sprintf("unknown tool: %s", call.Name)}, nil
	}
}

// ListTools returns the file tool definitions.
func (f *FileExecutor) ListTools() []mind.ToolDefinition {
	return []mind.ToolDefinition{
		{
			Name:        "file_read",
			Description: "Read the contents of a file in the workspace",
			InputSchema: schema(map[string]any{
				"path": prop("string", "Path relative to the workspace root"),
			}, "path"),
		},
		{
			Name:        "file_write",
			Description: "Write content to a file in the workspace, creating parent directories",
			InputSchema: schema(map[string]any{
				"path":    prop("string", "Path relative to the workspace root"),
				"content": prop("string", "Content to write"),
			}, "path", "content"),
		},
		{
			Name:        "file_list",
			Description: "List files in a workspace directory",
			InputSchema: schema(map[string]any{
				"path": prop("string", "Directory path relative to the workspace root"),
			}, "path"),
		},
	}
}

// resolve confines a relative path to the workspace root.
func (f *FileExecutor) resolve(rel string) (string, error) {
	abs := filepath.Join(f.root, rel)
	abs = filepath.Clean(abs)
	if abs != f.root && !strings.HasPrefix(abs, f.root+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes workspace: %s", rel)
	}
	return abs, nil
}

func (f *FileExecutor) read(call mind.ToolCall) (Result, error) {
	var args struct {
		Path string `json:"path"`
	}
	if err := decodeArgs(call, &args); err != nil {
		return Result{}, err
	}
	path, err := f.resolve(args.Path)
	if err != nil {
		return Result{Error: err.Error()}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Result{Error: fmt.Sprintf("read %s: %v", args.Path, err)}, nil
	}
	return Result{Content: string(data)}, nil
}

func (f *FileExecutor) write(call mind.ToolCall) (Result, error) {
	var args struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := decodeArgs(call, &args); err != nil {
		return Result{}, err
	}
	path, err := f.resolve(args.Path)
	if err != nil {
		return Result{Error: err.Error()}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Result{Error: fmt.Sprintf("create directories for %s: %v", args.Path, err)}, nil
	}
	if err := os.WriteFile(path, []byte(args.Content), 0o644); err != nil {
		return Result{Error: fmt.Sprintf("write %s: %v", args.Path, err)}, nil
	}
	return Result{Content: fmt.Sprintf("wrote %d bytes to %s", len(args.Content), args.Path)}, nil
}

func (f *FileExecutor) list(call mind.ToolCall) (Result, error) {
	var args struct {
		Path string `json:"path"`
	}
	if err := decodeArgs(call, &args); err != nil {
		return Result{}, err
	}
	path, err := f.resolve(args.Path)
	if err != nil {
		return Result{Error: err.Error()}, nil
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return Result{Error: fmt.Sprintf("list %s: %v", args.Path, err)}, nil
	}
	var sb strings.Builder
	for _, e := range entries {
		if e.IsDir() {
			sb.WriteString(e.Name() + "/\n")
		} else {
			sb.WriteString(e.Name() + "\n")
		}
	}
	return Result{Content: sb.String()}, nil
}
