package mission

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/cellmesh/bus"
	"github.com/c360studio/cellmesh/envelope"
	"github.com/c360studio/cellmesh/resource"
)

type fixture struct {
	store *resource.InMemStore
	bus   *bus.InProc
	rec   *Reconciler
	now   time.Time
	cost  float64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: resource.NewInMemStore(),
		bus:   bus.NewInProc(),
		now:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	cost := func(context.Context, string, string) (float64, error) { return f.cost, nil }
	f.rec = NewReconciler(f.store, f.bus, cost, WithClock(func() time.Time { return f.now }))
	return f
}

func (f *fixture) create(t *testing.T, name string, spec resource.MissionSpec) *resource.Object {
	t.Helper()
	obj, err := resource.New(resource.KindMission, "default", name, spec)
	require.NoError(t, err)
	created, err := f.store.Create(context.Background(), obj)
	require.NoError(t, err)
	return created
}

func (f *fixture) reconcile(t *testing.T, name string) resource.MissionStatus {
	t.Helper()
	obj, err := f.store.Get(context.Background(), resource.KindMission, "default", name)
	require.NoError(t, err)
	err = f.rec.Reconcile(context.Background(), resource.WatchEvent{Type: resource.WatchModified, Object: obj})
	require.NoError(t, err)

	obj, err = f.store.Get(context.Background(), resource.KindMission, "default", name)
	require.NoError(t, err)
	var status resource.MissionStatus
	require.NoError(t, obj.DecodeStatus(&status))
	return status
}

func TestMissionHappyPath(t *testing.T) {
	f := newFixture(t)
	f.create(t, "m", resource.MissionSpec{
		Entrypoint: resource.EntrypointSpec{Cell: "worker", Message: "do the thing"},
		Completion: resource.CompletionSpec{Checks: []resource.CheckSpec{{
			Name: "out", Type: resource.CheckCommand, Command: "echo ok", SuccessPattern: "ok",
		}}},
	})

	status := f.reconcile(t, "m")
	assert.Equal(t, resource.MissionRunning, status.Phase)
	assert.Equal(t, 1, status.Attempt)
	require.NotNil(t, status.StartedAt)

	// The objective reached the entrypoint inbox.
	inbox := f.bus.Retained(envelope.InboxSubject("default", "worker"))
	require.Len(t, inbox, 1)
	env, err := envelope.Unmarshal(inbox[0])
	require.NoError(t, err)
	assert.Equal(t, "do the thing", env.Content())
	assert.Equal(t, "worker", env.To)

	status = f.reconcile(t, "m")
	assert.Equal(t, resource.MissionSucceeded, status.Phase)
	require.Len(t, status.Checks, 1)
	assert.Equal(t, resource.CheckPassed, status.Checks[0].Status)
}

func TestMissionTimeoutRetry(t *testing.T) {
	f := newFixture(t)
	f.create(t, "m", resource.MissionSpec{
		Entrypoint: resource.EntrypointSpec{Cell: "worker", Message: "go"},
		Completion: resource.CompletionSpec{
			Checks:      []resource.CheckSpec{{Name: "never", Type: resource.CheckCommand, Command: "false"}},
			MaxAttempts: 3,
			Timeout:     resource.Duration(30 * time.Minute),
		},
	})

	status := f.reconcile(t, "m")
	require.Equal(t, resource.MissionRunning, status.Phase)

	f.now = f.now.Add(31 * time.Minute)
	status = f.reconcile(t, "m")
	assert.Equal(t, resource.MissionPending, status.Phase)
	assert.Equal(t, "Timed out, retrying", status.Message)
	assert.Equal(t, 1, status.Attempt)
	require.Len(t, status.History, 1)
	assert.Equal(t, "timeout", status.History[0].Result)

	status = f.reconcile(t, "m")
	assert.Equal(t, resource.MissionRunning, status.Phase)
	assert.Equal(t, 2, status.Attempt)
}

func TestMissionTimeoutExhaustsAttempts(t *testing.T) {
	f := newFixture(t)
	f.create(t, "m", resource.MissionSpec{
		Entrypoint: resource.EntrypointSpec{Cell: "worker", Message: "go"},
		Completion: resource.CompletionSpec{
			Checks:  []resource.CheckSpec{{Name: "never", Type: resource.CheckCommand, Command: "false"}},
			Timeout: resource.Duration(time.Minute),
		},
	})

	f.reconcile(t, "m")
	f.now = f.now.Add(2 * time.Minute)
	status := f.reconcile(t, "m")
	assert.Equal(t, resource.MissionFailed, status.Phase)
	assert.Equal(t, "Mission timed out", status.Message)
}

func TestMissionBudgetExhaustedAtExactCost(t *testing.T) {
	f := newFixture(t)
	f.create(t, "m", resource.MissionSpec{
		Entrypoint: resource.EntrypointSpec{Cell: "worker", Message: "go"},
		Budget:     resource.MissionBudget{MaxCost: 2.5},
		Completion: resource.CompletionSpec{Checks: []resource.CheckSpec{{
			Name: "c", Type: resource.CheckCommand, Command: "true",
		}}},
	})

	f.reconcile(t, "m")
	f.cost = 2.5
	status := f.reconcile(t, "m")
	assert.Equal(t, resource.MissionFailed, status.Phase)
	assert.Equal(t, "Budget exhausted", status.Message)
	assert.InDelta(t, 2.5, status.Cost, 1e-9)
}

func TestMissionReviewFlow(t *testing.T) {
	f := newFixture(t)
	f.create(t, "m", resource.MissionSpec{
		Entrypoint: resource.EntrypointSpec{Cell: "worker", Message: "go"},
		Completion: resource.CompletionSpec{
			Checks: []resource.CheckSpec{{Name: "c", Type: resource.CheckCommand, Command: "true"}},
			Review: resource.ReviewSpec{Enabled: true},
		},
	})

	f.reconcile(t, "m")
	status := f.reconcile(t, "m")
	assert.Equal(t, resource.MissionRunning, status.Phase)
	require.NotNil(t, status.Review)
	assert.Equal(t, resource.ReviewPending, status.Review.Status)

	// Approve and reconcile again.
	status.Review.Status = resource.ReviewApproved
	_, err := f.store.SetStatus(context.Background(), resource.KindMission, "default", "m", status)
	require.NoError(t, err)

	status = f.reconcile(t, "m")
	assert.Equal(t, resource.MissionSucceeded, status.Phase)
}

func TestMissionReviewRejectedRetries(t *testing.T) {
	f := newFixture(t)
	f.create(t, "m", resource.MissionSpec{
		Entrypoint: resource.EntrypointSpec{Cell: "worker", Message: "go"},
		Completion: resource.CompletionSpec{
			Checks:      []resource.CheckSpec{{Name: "c", Type: resource.CheckCommand, Command: "true"}},
			MaxAttempts: 2,
			Review:      resource.ReviewSpec{Enabled: true},
		},
	})

	f.reconcile(t, "m")
	status := f.reconcile(t, "m")
	require.NotNil(t, status.Review)

	status.Review.Status = resource.ReviewRejected
	_, err := f.store.SetStatus(context.Background(), resource.KindMission, "default", "m", status)
	require.NoError(t, err)

	status = f.reconcile(t, "m")
	assert.Equal(t, resource.MissionPending, status.Phase)
	assert.Nil(t, status.Review)

	status = f.reconcile(t, "m")
	assert.Equal(t, resource.MissionRunning, status.Phase)
	assert.Equal(t, 2, status.Attempt)

	// Second rejection exhausts attempts.
	status = f.reconcile(t, "m")
	require.NotNil(t, status.Review)
	status.Review.Status = resource.ReviewRejected
	_, err = f.store.SetStatus(context.Background(), resource.KindMission, "default", "m", status)
	require.NoError(t, err)

	status = f.reconcile(t, "m")
	assert.Equal(t, resource.MissionFailed, status.Phase)
	assert.Equal(t, "Review rejected", status.Message)
}

func TestMissionTerminalPhasesAbsorb(t *testing.T) {
	f := newFixture(t)
	f.create(t, "m", resource.MissionSpec{
		Entrypoint: resource.EntrypointSpec{Cell: "worker", Message: "go"},
	})
	_, err := f.store.SetStatus(context.Background(), resource.KindMission, "default", "m",
		resource.MissionStatus{Phase: resource.MissionSucceeded, Attempt: 1})
	require.NoError(t, err)

	status := f.reconcile(t, "m")
	assert.Equal(t, resource.MissionSucceeded, status.Phase)
	assert.Equal(t, 1, status.Attempt)

	// No objective is re-sent for a terminal mission.
	assert.Empty(t, f.bus.Retained(envelope.InboxSubject("default", "worker")))
}

func TestMissionFailingCheckKeepsRunning(t *testing.T) {
	f := newFixture(t)
	f.create(t, "m", resource.MissionSpec{
		Entrypoint: resource.EntrypointSpec{Cell: "worker", Message: "go"},
		Completion: resource.CompletionSpec{Checks: []resource.CheckSpec{{
			Name: "never", Type: resource.CheckCommand, Command: "false",
		}}},
	})

	f.reconcile(t, "m")
	status := f.reconcile(t, "m")
	assert.Equal(t, resource.MissionRunning, status.Phase)
	require.Len(t, status.Checks, 1)
	assert.Equal(t, resource.CheckFailed, status.Checks[0].Status)
}

func TestMissionCheckConfigErrorIsErrorNotFailed(t *testing.T) {
	f := newFixture(t)
	f.create(t, "m", resource.MissionSpec{
		Entrypoint: resource.EntrypointSpec{Cell: "worker", Message: "go"},
		Completion: resource.CompletionSpec{Checks: []resource.CheckSpec{{
			Name: "broken", Type: resource.CheckCommand,
		}}},
	})

	f.reconcile(t, "m")
	status := f.reconcile(t, "m")
	assert.Equal(t, resource.MissionRunning, status.Phase)
	assert.Equal(t, resource.CheckError, status.Checks[0].Status)
}

func TestMissionInvalidEntrypointFails(t *testing.T) {
	f := newFixture(t)
	f.create(t, "m", resource.MissionSpec{
		Entrypoint: resource.EntrypointSpec{Cell: "Not.A.Cell", Message: "go"},
	})

	status := f.reconcile(t, "m")
	assert.Equal(t, resource.MissionFailed, status.Phase)
	assert.Contains(t, status.Message, "invalid cell name")
}
