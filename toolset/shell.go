package toolset

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/c360studio/cellmesh/mind"
)

// DefaultShellTimeout bounds one shell invocation.
const DefaultShellTimeout = 2 * time.Minute

// ShellExecutor runs shell commands inside the cell workspace.
type ShellExecutor struct {
	workdir string
	timeout time.Duration
}

// NewShellExecutor creates a shell executor rooted at workdir.
func NewShellExecutor(workdir string) *ShellExecutor {
	return &ShellExecutor{workdir: workdir, timeout: DefaultShellTimeout}
}

// WithTimeout overrides the per-command timeout.
func (s *ShellExecutor) WithTimeout(d time.Duration) *ShellExecutor {
	s.timeout = d
	return s
}

// Execute runs the command and returns combined output. Non-zero exits are
// reported to the model, not as Go errors.
func (s *ShellExecutor) Execute(ctx context.Context, call mind.ToolCall) (Result, error) {
	var args struct {
		Command string `json:"command"`
	}
	if err := decodeArgs(call, &args); err != nil {
		return Result{}, err
	}
	if args.Command == "" {
		return Result{Error: "command is required"}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", args.Command)
	cmd.Dir = s.workdir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		return Result{
			Content: out.String(),
			Error:   fmt.Sprintf("command failed: %v", err),
		}, nil
	}
	return Result{Content: out.String()}, nil
}

// ListTools returns the shell definition.
func (s *ShellExecutor) ListTools() []mind.ToolDefinition {
	return []mind.ToolDefinition{
		{
			Name:        "shell",
			Description: "Run a shell command in the cell workspace and return its output",
			InputSchema: schema(map[string]any{
				"command": prop("string", "Shell command to run"),
			}, "command"),
		},
	}
}
