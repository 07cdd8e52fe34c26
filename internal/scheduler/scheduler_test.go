package scheduler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ivanpostolski/one-prompt-agents/internal/agent"
	"github.com/ivanpostolski/one-prompt-agents/internal/jobstore"
	"github.com/ivanpostolski/one-prompt-agents/internal/runner"
	"github.com/ivanpostolski/one-prompt-agents/internal/schema"
	"github.com/ivanpostolski/one-prompt-agents/internal/strategy"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(store *jobstore.Store) *strategy.Registry {
	return strategy.NewRegistry(map[string]strategy.Factory{
		strategy.DefaultName: strategy.NewContinueLastUnchecked(store, nil),
		"plan_watcher":       strategy.NewPlanWatcher(store, nil),
	}, nil)
}

// fakeRunner scripts AgentRunner.Run via a plain function, letting tests
// mutate store state mid-turn (simulating a synchronous start_and_wait tool
// call performed by the model before it returns its final_output).
type fakeRunner struct {
	run func(call int) (runner.Output, error)
	n   int
}

func (f *fakeRunner) Run(_ context.Context, in runner.Input, _ runner.Hooks) (runner.Output, error) {
	f.n++
	return f.run(f.n)
}

func planOutput(checked bool) map[string]any {
	return map[string]any{
		"plan": []map[string]any{
			{"step_name": "s1", "checked": checked},
		},
	}
}

func newAgentWithRunner(t *testing.T, name string, jobs *jobstore.System, r runner.AgentRunner) *agent.Agent {
	t.Helper()
	return agent.New(name, "prompt.md", "be helpful", "Result", "", "o4-mini", strategy.DefaultName, nil, jobs, r, nil)
}

func TestScheduler_SimpleJobCompletesOnFirstCheckedPlan(t *testing.T) {
	jobs := jobstore.NewSystem()
	r := &fakeRunner{run: func(int) (runner.Output, error) {
		return runner.Output{FinalOutput: planOutput(true), History: []jobstore.Turn{{Role: jobstore.RoleAssistant, Content: "done"}}}, nil
	}}
	ag := newAgentWithRunner(t, "writer", jobs, r)
	sched := New(jobs, map[string]*agent.Agent{"writer": ag}, newTestRegistry(jobs.Store), schema.NewRegistry(), nil, nil)

	id := jobs.Submit("writer", "draft a memo", strategy.DefaultName, nil)

	ctx, cancel := context.WithCancel(context.Background())
	sched.Start(ctx)
	waitForStatus(t, jobs.Store, id, jobstore.StatusDone)
	cancel()
	jobs.Queue.Close()
	sched.Wait()

	require.Equal(t, 1, r.n)
}

func TestScheduler_JobWithUnmetDependencyRequeuesWithBackoff(t *testing.T) {
	jobs := jobstore.NewSystem()
	r := &fakeRunner{run: func(int) (runner.Output, error) {
		return runner.Output{FinalOutput: planOutput(true), History: nil}, nil
	}}
	ag := newAgentWithRunner(t, "writer", jobs, r)
	sched := New(jobs, map[string]*agent.Agent{"writer": ag}, newTestRegistry(jobs.Store), schema.NewRegistry(), nil, nil, WithBackoff(20*time.Millisecond))

	depID := jobs.Submit("writer", "unrelated dep", strategy.DefaultName, nil)
	id := jobs.Submit("writer", "draft a memo", strategy.DefaultName, []string{depID})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.Start(ctx)

	waitForStatus(t, jobs.Store, depID, jobstore.StatusDone)
	waitForStatus(t, jobs.Store, id, jobstore.StatusDone)
}

func TestScheduler_SuspendedJobViaStartAndWaitStopsWithoutCompleting(t *testing.T) {
	jobs := jobstore.NewSystem()
	r := &fakeRunner{}
	ag := newAgentWithRunner(t, "writer", jobs, r)
	sched := New(jobs, map[string]*agent.Agent{"writer": ag}, newTestRegistry(jobs.Store), schema.NewRegistry(), nil, nil)

	id := jobs.Submit("writer", "draft a memo", strategy.DefaultName, nil)

	// The first turn appends a dependency + note to the caller job (as
	// _start_and_wait would) and returns an incomplete plan.
	r.run = func(call int) (runner.Output, error) {
		require.NoError(t, jobs.Store.AppendDependencyAndNote(id, "childjob", "Job childjob has been started."))
		return runner.Output{FinalOutput: planOutput(false), History: []jobstore.Turn{{Role: jobstore.RoleAssistant, Content: "waiting"}}}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.Start(ctx)

	waitForStatus(t, jobs.Store, id, jobstore.StatusInQueue)

	job, ok := jobs.Store.Get(id)
	require.True(t, ok)
	require.Equal(t, []string{"childjob"}, job.DependsOn)
	require.Equal(t, 1, r.n)
}

func TestScheduler_RunnerErrorIsFedBackAndRetried(t *testing.T) {
	jobs := jobstore.NewSystem()
	r := &fakeRunner{run: func(call int) (runner.Output, error) {
		if call == 1 {
			return runner.Output{}, fmt.Errorf("model timed out")
		}
		return runner.Output{FinalOutput: planOutput(true), History: []jobstore.Turn{{Role: jobstore.RoleAssistant, Content: "recovered"}}}, nil
	}}
	ag := newAgentWithRunner(t, "writer", jobs, r)
	sched := New(jobs, map[string]*agent.Agent{"writer": ag}, newTestRegistry(jobs.Store), schema.NewRegistry(), nil, nil)

	id := jobs.Submit("writer", "draft a memo", strategy.DefaultName, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.Start(ctx)

	waitForStatus(t, jobs.Store, id, jobstore.StatusDone)
	require.Equal(t, 2, r.n)
}

func TestScheduler_MaxTurnsReachedLeavesJobInProgress(t *testing.T) {
	jobs := jobstore.NewSystem()
	r := &fakeRunner{run: func(int) (runner.Output, error) {
		return runner.Output{FinalOutput: planOutput(false), History: []jobstore.Turn{{Role: jobstore.RoleAssistant, Content: "still going"}}}, nil
	}}
	ag := newAgentWithRunner(t, "writer", jobs, r)
	sched := New(jobs, map[string]*agent.Agent{"writer": ag}, newTestRegistry(jobs.Store), schema.NewRegistry(), nil, nil, WithNumWorkers(1))

	id := jobs.Submit("writer", "draft a memo", strategy.DefaultName, nil)

	// Run the loop directly (bypassing the queue and worker pool): the job
	// never leaves in_progress, so there is no status change to wait for, and
	// a synchronous call returns only after all MaxTurns turns have run.
	require.NoError(t, jobs.Store.Mark(id, jobstore.StatusInProgress))
	require.NoError(t, sched.autonomousChat(context.Background(), id))

	job, ok := jobs.Store.Get(id)
	require.True(t, ok)
	require.Equal(t, jobstore.StatusInProgress, job.Status)
	require.Equal(t, MaxTurns, r.n)
}

func waitForStatus(t *testing.T, store *jobstore.Store, id string, want jobstore.Status) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		job, ok := store.Get(id)
		if ok && job.Status == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("job %q never reached status %q", id, want)
}
