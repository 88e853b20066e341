package mission

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/c360studio/cellmesh/bus"
	"github.com/c360studio/cellmesh/envelope"
	"github.com/c360studio/cellmesh/resource"
)

// DefaultCheckTimeout bounds the natsResponse wait.
const DefaultCheckTimeout = 30 * time.Second

// CheckRunner evaluates mission completion checks against the workspace and
// the bus.
type CheckRunner struct {
	bus bus.Bus
}

// NewCheckRunner builds a check runner.
func NewCheckRunner(b bus.Bus) *CheckRunner {
	return &CheckRunner{bus: b}
}

// Run evaluates every check and returns their statuses in spec order.
func (r *CheckRunner) Run(ctx context.Context, workspace string, checks []resource.CheckSpec) []resource.CheckStatus {
	out := make([]resource.CheckStatus, 0, len(checks))
	for _, c := range checks {
		out = append(out, r.runOne(ctx, workspace, c))
	}
	return out
}

func (r *CheckRunner) runOne(ctx context.Context, workspace string, c resource.CheckSpec) resource.CheckStatus {
	st := resource.CheckStatus{Name: c.Name}
	switch c.Type {
	case resource.CheckFileExists:
		st.Status, st.Output = r.fileExists(workspace, c)
	case resource.CheckCommand:
		st.Status, st.Output = r.command(ctx, workspace, c)
	case resource.CheckCoverage:
		st.Status, st.Output = r.coverage(ctx, workspace, c)
	case resource.CheckNATSResponse:
		st.Status, st.Output = r.natsResponse(ctx, c)
	default:
		st.Status = resource.CheckError
		st.Output = fmt.Sprintf("unknown check type %q", c.Type)
	}
	return st
}

func (r *CheckRunner) fileExists(workspace string, c resource.CheckSpec) (resource.CheckState, string) {
	if len(c.Paths) == 0 {
		return resource.CheckError, "paths is required"
	}
	for _, p := range c.Paths {
		if filepath.IsAbs(p) || strings.Contains(p, "..") {
			return resource.CheckFailed, "path traversal blocked"
		}
		if _, err := os.Stat(filepath.Join(workspace, p)); err != nil {
			return resource.CheckFailed, fmt.Sprintf("missing %s", p)
		}
	}
	return resource.CheckPassed, ""
}

func (r *CheckRunner) command(ctx context.Context, workspace string, c resource.CheckSpec) (resource.CheckState, string) {
	if c.Command == "" {
		return resource.CheckError, "command is required"
	}
	success, fail, err := compilePatterns(c)
	if err != nil {
		return resource.CheckError, err.Error()
	}

	stdout, stderr, exitErr := runCommand(ctx, workspace, c.Command)
	combined := stdout + stderr

	// A fail-pattern match overrides everything else.
	if fail != nil && fail.MatchString(combined) {
		return resource.CheckFailed, trimOutput(combined)
	}
	if exitErr != nil {
		return resource.CheckFailed, trimOutput(combined)
	}
	if success != nil && !success.MatchString(stdout) {
		return resource.CheckFailed, trimOutput(stdout)
	}
	return resource.CheckPassed, ""
}

func (r *CheckRunner) coverage(ctx context.Context, workspace string, c resource.CheckSpec) (resource.CheckState, string) {
	if c.Command == "" {
		return resource.CheckError, "command is required"
	}
	if c.JSONPath == "" {
		return resource.CheckError, "jsonPath is required"
	}

	stdout, _, exitErr := runCommand(ctx, workspace, c.Command)
	if exitErr != nil {
		return resource.CheckError, fmt.Sprintf("command failed: %v", exitErr)
	}

	var doc any
	if err := json.Unmarshal([]byte(stdout), &doc); err != nil {
		return resource.CheckError, fmt.Sprintf("parse output: %v", err)
	}
	got, err := resolveJSONPath(doc, c.JSONPath)
	if err != nil {
		return resource.CheckError, err.Error()
	}
	ok, err := compare(got, c.Operator, c.Value)
	if err != nil {
		return resource.CheckError, err.Error()
	}
	if !ok {
		return resource.CheckFailed, fmt.Sprintf("%s = %v, want %s %v", c.JSONPath, got, c.Operator, c.Value)
	}
	return resource.CheckPassed, ""
}

func (r *CheckRunner) natsResponse(ctx context.Context, c resource.CheckSpec) (resource.CheckState, string) {
	if c.Subject == "" {
		return resource.CheckError, "subject is required"
	}
	success, fail, err := compilePatterns(c)
	if err != nil {
		return resource.CheckError, err.Error()
	}

	timeout := DefaultCheckTimeout
	if c.TimeoutSeconds > 0 {
		timeout = time.Duration(c.TimeoutSeconds) * time.Second
	}
	msgs, err := r.bus.Fetch(ctx, streamFor(c.Subject), c.Subject, 100, timeout)
	if err != nil {
		return resource.CheckError, fmt.Sprintf("fetch %s: %v", c.Subject, err)
	}

	matched := false
	for _, m := range msgs {
		s := string(m)
		if fail != nil && fail.MatchString(s) {
			return resource.CheckFailed, trimOutput(s)
		}
		if success == nil || success.MatchString(s) {
			matched = true
		}
	}
	if !matched {
		return resource.CheckFailed, fmt.Sprintf("no matching message on %s", c.Subject)
	}
	return resource.CheckPassed, ""
}

// streamFor picks the capturing stream for a subject.
func streamFor(subject string) string {
	if strings.HasPrefix(subject, "cell.events.") {
		return envelope.StreamEvents
	}
	return envelope.StreamInbox
}

func compilePatterns(c resource.CheckSpec) (success, fail *regexp.Regexp, err error) {
	if c.SuccessPattern != "" {
		if success, err = regexp.Compile(c.SuccessPattern); err != nil {
			return nil, nil, fmt.Errorf("bad successPattern: %w", err)
		}
	}
	if c.FailPattern != "" {
		if fail, err = regexp.Compile(c.FailPattern); err != nil {
			return nil, nil, fmt.Errorf("bad failPattern: %w", err)
		}
	}
	return success, fail, nil
}

func runCommand(ctx context.Context, workspace, command string) (stdout, stderr string, err error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = workspace
	var out, errOut strings.Builder
	cmd.Stdout = &out
	cmd.Stderr = &errOut
	err = cmd.Run()
	return out.String(), errOut.String(), err
}

// resolveJSONPath walks a dot-path (optionally prefixed $.) through decoded
// JSON and coerces the leaf to a number.
func resolveJSONPath(doc any, path string) (float64, error) {
	path = strings.TrimPrefix(path, "$.")
	cur := doc
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return 0, fmt.Errorf("jsonPath %s: %q is not an object", path, part)
		}
		cur, ok = obj[part]
		if !ok {
			return 0, fmt.Errorf("jsonPath %s: %q not found", path, part)
		}
	}
	n, ok := cur.(float64)
	if !ok {
		return 0, fmt.Errorf("jsonPath %s: value %v is not a number", path, cur)
	}
	return n, nil
}

func compare(got float64, operator string, want float64) (bool, error) {
	switch operator {
	case "==":
		return got == want, nil
	case "<":
		return got < want, nil
	case "<=":
		return got <= want, nil
	case ">":
		return got > want, nil
	case ">=":
		return got >= want, nil
	default:
		return false, fmt.Errorf("unknown operator %q", operator)
	}
}

func trimOutput(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 500 {
		s = s[:500] + "..."
	}
	return s
}
