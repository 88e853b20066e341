package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/cellmesh/bus"
	"github.com/c360studio/cellmesh/envelope"
	"github.com/c360studio/cellmesh/resource"
	"github.com/c360studio/cellmesh/store"
	"github.com/c360studio/cellmesh/store/inmem"
)

type fixture struct {
	bus    *bus.InProc
	res    *resource.InMemStore
	stores *store.Stores
	mux    *http.ServeMux
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		bus:    bus.NewInProc(),
		res:    resource.NewInMemStore(),
		stores: inmem.New(),
	}
	srv := NewServer(f.bus, f.res, *f.stores)
	f.mux = http.NewServeMux()
	srv.Register(f.mux)
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[map[string]bool](t, rec)["ok"])
}

func TestExecPublishesToInbox(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/v1/cells/planner/exec",
		ExecRequest{Message: "summarize the backlog"})
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[ExecResponse](t, rec)
	assert.True(t, resp.OK)
	require.NotEmpty(t, resp.MessageID)

	msgs := f.bus.Retained(envelope.InboxSubject("default", "planner"))
	require.Len(t, msgs, 1)
	env, err := envelope.Unmarshal(msgs[0])
	require.NoError(t, err)
	assert.Equal(t, resp.MessageID, env.ID)
	assert.Equal(t, "api", env.From)
	assert.Equal(t, "summarize the backlog", env.Content())
}

func TestExecHonorsNamespace(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/v1/cells/planner/exec",
		ExecRequest{Message: "hi", Namespace: "staging"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, f.bus.Retained(envelope.InboxSubject("staging", "planner")), 1)
	assert.Empty(t, f.bus.Retained(envelope.InboxSubject("default", "planner")))
}

func TestExecValidation(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/cells/planner/exec", ExecRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/cells/Bad_Name/exec", ExecRequest{Message: "hi"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/cells/planner/exec",
		ExecRequest{Message: "hi", Namespace: "Not.Valid"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCellEventsEndpoint(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, typ := range []string{"started", "response"} {
		require.NoError(t, f.stores.Events.AppendEvent(ctx, &store.CellEvent{
			CellName: "planner", Namespace: "default", EventType: typ,
		}))
	}

	rec := f.do(t, http.MethodGet, "/api/v1/cells/planner/events", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string][]store.CellEvent](t, rec)
	assert.Len(t, body["events"], 2)

	rec = f.do(t, http.MethodGet, "/api/v1/cells/planner/events?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode[map[string][]store.CellEvent](t, rec)
	assert.Len(t, body["events"], 1)
}

func TestCellBudgetEndpoint(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cellID := resource.ObjectKey("default", "planner")
	require.NoError(t, f.stores.Ledger.InitRoot(ctx, cellID, 100))
	require.NoError(t, f.stores.Ledger.Spend(ctx, cellID, 12.5))

	rec := f.do(t, http.MethodGet, "/api/v1/cells/planner/budget", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[BudgetResponse](t, rec)
	require.NotNil(t, resp.Balance)
	assert.Equal(t, 100.0, resp.Balance.Allocated)
	assert.Equal(t, 12.5, resp.Balance.Spent)
	assert.Equal(t, 87.5, resp.Available)
	require.Len(t, resp.History, 2)
	assert.Equal(t, store.OpSpend, resp.History[0].Operation)

	rec = f.do(t, http.MethodGet, "/api/v1/cells/nobody/budget", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCellTreeEndpoint(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	root := resource.ObjectKey("default", "root")
	child := resource.ObjectKey("default", "child")
	_, err := f.stores.Tree.Insert(ctx, root, "", "default")
	require.NoError(t, err)
	_, err = f.stores.Tree.Insert(ctx, child, root, "default")
	require.NoError(t, err)

	rec := f.do(t, http.MethodGet, "/api/v1/cells/root/tree", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[TreeResponse](t, rec)
	require.NotNil(t, resp.Node)
	assert.Equal(t, 0, resp.Node.Depth)
	assert.Equal(t, 1, resp.Node.DescendantCount)
	require.Len(t, resp.Children, 1)
	assert.Equal(t, child, resp.Children[0].CellID)

	rec = f.do(t, http.MethodGet, "/api/v1/cells/orphan/tree", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSpawnRequestApproveFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.stores.Spawns.CreateSpawnRequest(ctx, &store.SpawnRequest{
		ID: "req-1", ParentID: "default.root", Namespace: "default",
	}))

	rec := f.do(t, http.MethodGet, "/api/v1/spawn-requests", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	pending := decode[map[string][]store.SpawnRequest](t, rec)
	require.Len(t, pending["spawnRequests"], 1)

	rec = f.do(t, http.MethodPost, "/api/v1/spawn-requests/req-1/approve",
		DecideRequest{Actor: "operator"})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[DecideResponse](t, rec)
	assert.Equal(t, store.SpawnApproved, resp.Status)

	req, err := f.stores.Spawns.GetSpawnRequest(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, store.SpawnApproved, req.Status)

	entries, err := f.stores.Audit.ListAudit(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "operator", entries[0].Actor)
	assert.Equal(t, "spawn_request_approved", entries[0].Action)
	assert.Equal(t, "req-1", entries[0].Subject)

	// Deciding twice conflicts.
	rec = f.do(t, http.MethodPost, "/api/v1/spawn-requests/req-1/approve",
		DecideRequest{Actor: "operator"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSpawnRequestRejectRequiresReason(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.stores.Spawns.CreateSpawnRequest(ctx, &store.SpawnRequest{
		ID: "req-2", ParentID: "default.root", Namespace: "default",
	}))

	rec := f.do(t, http.MethodPost, "/api/v1/spawn-requests/req-2/reject", DecideRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/spawn-requests/req-2/reject",
		DecideRequest{Reason: "over budget"})
	require.Equal(t, http.StatusOK, rec.Code)

	req, err := f.stores.Spawns.GetSpawnRequest(ctx, "req-2")
	require.NoError(t, err)
	assert.Equal(t, store.SpawnRejected, req.Status)
	assert.Equal(t, "over budget", req.Reason)
}

func TestSpawnRequestNotFound(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/v1/spawn-requests/ghost/approve", DecideRequest{})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListCells(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	obj, err := resource.New(resource.KindCell, "default", "planner", resource.CellSpec{})
	require.NoError(t, err)
	_, err = f.res.Create(ctx, obj)
	require.NoError(t, err)

	rec := f.do(t, http.MethodGet, "/api/v1/cells", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string][]resource.Object](t, rec)
	require.Len(t, body["cells"], 1)
	assert.Equal(t, "planner", body["cells"][0].Meta.Name)
}

func TestAuditEndpoint(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.stores.Audit.AppendAudit(ctx, &store.AuditEntry{
		Actor: "validator", Action: "spawn_denied", Subject: "default.root",
	}))

	rec := f.do(t, http.MethodGet, "/api/v1/audit", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string][]store.AuditEntry](t, rec)
	require.Len(t, body["audit"], 1)
	assert.Equal(t, "spawn_denied", body["audit"][0].Action)
}
