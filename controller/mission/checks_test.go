package mission

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/cellmesh/bus"
	"github.com/c360studio/cellmesh/resource"
)

func runCheck(t *testing.T, workspace string, spec resource.CheckSpec) resource.CheckStatus {
	t.Helper()
	r := NewCheckRunner(bus.NewInProc())
	out := r.Run(context.Background(), workspace, []resource.CheckSpec{spec})
	require.Len(t, out, 1)
	return out[0]
}

func TestFileExistsCheck(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "done.txt"), []byte("x"), 0o644))

	st := runCheck(t, dir, resource.CheckSpec{
		Name: "files", Type: resource.CheckFileExists, Paths: []string{"done.txt"},
	})
	assert.Equal(t, resource.CheckPassed, st.Status)

	st = runCheck(t, dir, resource.CheckSpec{
		Name: "files", Type: resource.CheckFileExists, Paths: []string{"missing.txt"},
	})
	assert.Equal(t, resource.CheckFailed, st.Status)
}

func TestFileExistsBlocksTraversal(t *testing.T) {
	dir := t.TempDir()
	for _, p := range []string{"../etc/passwd", "/etc/passwd", "a/../../b"} {
		st := runCheck(t, dir, resource.CheckSpec{
			Name: "files", Type: resource.CheckFileExists, Paths: []string{p},
		})
		assert.Equal(t, resource.CheckFailed, st.Status, p)
		assert.Equal(t, "path traversal blocked", st.Output, p)
	}
}

func TestCommandCheck(t *testing.T) {
	dir := t.TempDir()

	st := runCheck(t, dir, resource.CheckSpec{
		Name: "cmd", Type: resource.CheckCommand, Command: "echo ok", SuccessPattern: "ok",
	})
	assert.Equal(t, resource.CheckPassed, st.Status)

	st = runCheck(t, dir, resource.CheckSpec{
		Name: "cmd", Type: resource.CheckCommand, Command: "echo nope", SuccessPattern: "ok",
	})
	assert.Equal(t, resource.CheckFailed, st.Status)

	st = runCheck(t, dir, resource.CheckSpec{
		Name: "cmd", Type: resource.CheckCommand, Command: "exit 3",
	})
	assert.Equal(t, resource.CheckFailed, st.Status)
}

func TestCommandFailPatternOverridesSuccess(t *testing.T) {
	st := runCheck(t, t.TempDir(), resource.CheckSpec{
		Name:           "cmd",
		Type:           resource.CheckCommand,
		Command:        "echo 'ok but ERROR happened'",
		SuccessPattern: "ok",
		FailPattern:    "ERROR",
	})
	assert.Equal(t, resource.CheckFailed, st.Status)
}

func TestCommandMissingIsError(t *testing.T) {
	st := runCheck(t, t.TempDir(), resource.CheckSpec{Name: "cmd", Type: resource.CheckCommand})
	assert.Equal(t, resource.CheckError, st.Status)
}

func TestCoverageCheck(t *testing.T) {
	dir := t.TempDir()

	st := runCheck(t, dir, resource.CheckSpec{
		Name:     "cov",
		Type:     resource.CheckCoverage,
		Command:  `echo '{"totals":{"percent":83.5}}'`,
		JSONPath: "$.totals.percent",
		Operator: ">=",
		Value:    80,
	})
	assert.Equal(t, resource.CheckPassed, st.Status)

	st = runCheck(t, dir, resource.CheckSpec{
		Name:     "cov",
		Type:     resource.CheckCoverage,
		Command:  `echo '{"totals":{"percent":70}}'`,
		JSONPath: "totals.percent",
		Operator: ">=",
		Value:    80,
	})
	assert.Equal(t, resource.CheckFailed, st.Status)

	st = runCheck(t, dir, resource.CheckSpec{
		Name:     "cov",
		Type:     resource.CheckCoverage,
		Command:  `echo 'not json'`,
		JSONPath: "x",
		Operator: "==",
	})
	assert.Equal(t, resource.CheckError, st.Status)

	st = runCheck(t, dir, resource.CheckSpec{
		Name:     "cov",
		Type:     resource.CheckCoverage,
		Command:  `echo '{"x":1}'`,
		JSONPath: "x",
		Operator: "~=",
	})
	assert.Equal(t, resource.CheckError, st.Status)
}

func TestNATSResponseCheck(t *testing.T) {
	b := bus.NewInProc()
	ctx := context.Background()
	require.NoError(t, b.Publish(ctx, "cell.default.worker.inbox", []byte(`{"result":"task complete"}`)))

	r := NewCheckRunner(b)
	out := r.Run(ctx, "", []resource.CheckSpec{{
		Name: "nats", Type: resource.CheckNATSResponse,
		Subject: "cell.default.worker.inbox", SuccessPattern: "complete",
	}})
	assert.Equal(t, resource.CheckPassed, out[0].Status)

	out = r.Run(ctx, "", []resource.CheckSpec{{
		Name: "nats", Type: resource.CheckNATSResponse,
		Subject: "cell.default.worker.inbox", FailPattern: "complete",
	}})
	assert.Equal(t, resource.CheckFailed, out[0].Status)

	out = r.Run(ctx, "", []resource.CheckSpec{{
		Name: "nats", Type: resource.CheckNATSResponse, Subject: "cell.default.empty.inbox",
	}})
	assert.Equal(t, resource.CheckFailed, out[0].Status)
}

func TestUnknownCheckTypeIsError(t *testing.T) {
	st := runCheck(t, "", resource.CheckSpec{Name: "x", Type: "telepathy"})
	assert.Equal(t, resource.CheckError, st.Status)
}

func TestResolveJSONPath(t *testing.T) {
	doc := map[string]any{"a": map[string]any{"b": 1.5}}
	n, err := resolveJSONPath(doc, "a.b")
	require.NoError(t, err)
	assert.Equal(t, 1.5, n)

	_, err = resolveJSONPath(doc, "a.missing")
	assert.Error(t, err)

	_, err = resolveJSONPath(doc, "a")
	assert.Error(t, err, "non-numeric leaf")
}
