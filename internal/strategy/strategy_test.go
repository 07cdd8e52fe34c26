package strategy

import (
	"context"
	"testing"

	"github.com/ivanpostolski/one-prompt-agents/internal/jobstore"
	"github.com/stretchr/testify/require"
)

func newInProgressJob(t *testing.T, store *jobstore.Store, id string) {
	t.Helper()
	store.Insert(jobstore.Job{ID: id, Status: jobstore.StatusInQueue})
	require.NoError(t, store.Mark(id, jobstore.StatusInProgress))
}

func TestContinueLastUnchecked_EmptyPlan(t *testing.T) {
	store := jobstore.NewStore()
	newInProgressJob(t, store, "j1")
	inst := NewContinueLastUnchecked(store, nil)()

	d := inst.NextTurn(context.Background(), FinalOutput{}, nil, "Echo", "j1")
	require.False(t, d.End)
	require.True(t, d.HasNextMsg)
	require.Contains(t, d.NextMsg, "Plan shouldn't be empty")
}

func TestContinueLastUnchecked_AllChecked(t *testing.T) {
	store := jobstore.NewStore()
	newInProgressJob(t, store, "j1")
	inst := NewContinueLastUnchecked(store, nil)()

	d := inst.NextTurn(context.Background(), FinalOutput{Plan: []Step{{StepName: "s1", Checked: true}}}, nil, "Echo", "j1")
	require.True(t, d.End)
	require.False(t, d.HasNextMsg)
}

func TestContinueLastUnchecked_PartiallyChecked(t *testing.T) {
	store := jobstore.NewStore()
	newInProgressJob(t, store, "j1")
	inst := NewContinueLastUnchecked(store, nil)()

	d := inst.NextTurn(context.Background(), FinalOutput{Plan: []Step{{StepName: "s1", Checked: false}}}, nil, "Echo", "j1")
	require.False(t, d.End)
	require.Equal(t, "Continue with the first step of the plan that is not checked yet. And after verifing the step goal mark it as checked.", d.NextMsg)
}

func TestContinueLastUnchecked_NotInProgressEndsSilently(t *testing.T) {
	store := jobstore.NewStore()
	store.Insert(jobstore.Job{ID: "j1", Status: jobstore.StatusInQueue})
	inst := NewContinueLastUnchecked(store, nil)()

	d := inst.NextTurn(context.Background(), FinalOutput{Plan: []Step{{StepName: "s1", Checked: false}}}, nil, "Echo", "j1")
	require.False(t, d.End)
	require.False(t, d.HasNextMsg)
}

func TestPlanWatcher_FlagsUncheckedStepRemoval(t *testing.T) {
	store := jobstore.NewStore()
	newInProgressJob(t, store, "j1")
	inst := NewPlanWatcher(store, nil)()

	// Turn 1: introduce step s1, unchecked.
	d := inst.NextTurn(context.Background(), FinalOutput{Plan: []Step{{StepName: "s1", Checked: false}}}, nil, "Echo", "j1")
	require.False(t, d.End)

	// Turn 2: s1 disappears without being checked.
	d = inst.NextTurn(context.Background(), FinalOutput{Plan: []Step{{StepName: "s2", Checked: false}}}, nil, "Echo", "j1")
	require.False(t, d.End)
	require.Contains(t, d.NextMsg, "s1 was unexpectedly removed")
}

func TestPlanWatcher_NoWarningWhenCheckedStepRemoved(t *testing.T) {
	store := jobstore.NewStore()
	newInProgressJob(t, store, "j1")
	inst := NewPlanWatcher(store, nil)()

	// Turn 1: s1 already checked, s2 still open.
	d := inst.NextTurn(context.Background(), FinalOutput{Plan: []Step{{StepName: "s1", Checked: true}, {StepName: "s2", Checked: false}}}, nil, "Echo", "j1")
	require.False(t, d.End)

	// Turn 2: the checked s1 is dropped, which is not flagged.
	d = inst.NextTurn(context.Background(), FinalOutput{Plan: []Step{{StepName: "s2", Checked: false}}}, nil, "Echo", "j1")
	require.False(t, d.End)
	require.NotContains(t, d.NextMsg, "unexpectedly removed")

	// Turn 3: every remaining step is checked.
	d = inst.NextTurn(context.Background(), FinalOutput{Plan: []Step{{StepName: "s2", Checked: true}}}, nil, "Echo", "j1")
	require.True(t, d.End)
}

func TestRegistry_UnknownFallsBackToDefault(t *testing.T) {
	store := jobstore.NewStore()
	def := NewContinueLastUnchecked(store, nil)
	reg := NewRegistry(map[string]Factory{DefaultName: def}, nil)

	require.False(t, reg.Has("nonexistent"))
	f := reg.Lookup("nonexistent")
	require.NotNil(t, f)
}
