package agent

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ivanpostolski/one-prompt-agents/internal/config"
	"github.com/ivanpostolski/one-prompt-agents/internal/jobstore"
	"github.com/ivanpostolski/one-prompt-agents/internal/runner"
	"github.com/ivanpostolski/one-prompt-agents/internal/schema"
	"github.com/stretchr/testify/require"
)

func newTestAgent(t *testing.T, name string, tools []ToolHandle, jobs *jobstore.System) *Agent {
	t.Helper()
	return New(name, "prompt.md", "be helpful", "Result", "", "o4-mini", "default", tools, jobs, &runner.Stub{}, nil)
}

func TestAgent_HandleStart_SubmitsJobAndReturnsID(t *testing.T) {
	jobs := jobstore.NewSystem()
	a := newTestAgent(t, "writer", nil, jobs)

	result, err := a.handleStart(context.Background(), "draft a memo")
	require.NoError(t, err)

	job := mustOneJob(t, jobs)
	require.Contains(t, result, job.ID)
	require.Equal(t, jobstore.StatusInQueue, job.Status)
	require.Equal(t, "draft a memo", job.InitialText)
}

func TestAgent_HandleStartAndWait_AppendsDependencyToCaller(t *testing.T) {
	jobs := jobstore.NewSystem()
	a := newTestAgent(t, "writer", nil, jobs)

	callerID := jobs.Submit("orchestrator", "plan the memo", "default", nil)
	jobs.Store.Mark(callerID, jobstore.StatusInProgress)

	result, err := a.handleStartAndWait(context.Background(), map[string]any{
		"agent_inputs": "draft the appendix",
		"your_job_id":  callerID,
	})
	require.NoError(t, err)
	require.NotEmpty(t, result)

	caller, ok := jobs.Store.Get(callerID)
	require.True(t, ok)
	require.Len(t, caller.DependsOn, 1)
	require.Equal(t, jobstore.StatusInQueue, caller.Status)
	require.NotEmpty(t, caller.ChatHistory)
	require.Equal(t, jobstore.RoleSystem, caller.ChatHistory[len(caller.ChatHistory)-1].Role)
}

func TestAgent_HandleStartAndWait_UnknownCallerErrors(t *testing.T) {
	jobs := jobstore.NewSystem()
	a := newTestAgent(t, "writer", nil, jobs)

	_, err := a.handleStartAndWait(context.Background(), map[string]any{
		"agent_inputs": "draft the appendix",
		"your_job_id":  "missing",
	})
	require.Error(t, err)
}

// fakeTool is a ToolHandle stand-in for an ExternalServer in resolution tests.
type fakeTool struct{ name string }

func (f fakeTool) ToolName() string   { return f.name }
func (f fakeTool) ConnectURL() string { return "http://" + f.name }

func TestLoad_AgentToolWinsOverExternalOfSameName(t *testing.T) {
	// researcher is both a config-derived agent and the name of an unrelated
	// external server; Load must resolve writer's tool to the agent.
	root := t.TempDir()
	for name, tools := range map[string]string{"researcher": `[]`, "writer": `["researcher"]`} {
		folder := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(folder, 0o755))
		cfg := `{"name":"` + name + `","prompt_file":"prompt.txt","return_type":"` + name + `Result","tools":` + tools + `}`
		require.NoError(t, os.WriteFile(filepath.Join(folder, "config.json"), []byte(cfg), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(folder, "prompt.txt"), []byte("be helpful"), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(folder, "return_type.json"), []byte(`{"type":"object"}`), 0o644))
	}
	configs, err := config.Discover(root)
	require.NoError(t, err)
	order, err := config.TopoSort(configs)
	require.NoError(t, err)

	jobs := jobstore.NewSystem()
	external := map[string]ToolHandle{"researcher": fakeTool{name: "researcher"}}
	newRunner := func(string) runner.AgentRunner { return &runner.Stub{} }
	loaded, err := Load(configs, order, external, jobs, schema.NewRegistry(), newRunner, NewPortAllocator(18801), nil)
	require.NoError(t, err)
	defer func() {
		for _, a := range loaded {
			_ = a.Cleanup(context.Background())
		}
	}()

	writer := loaded["writer"]
	require.Len(t, writer.Tools, 1)
	require.Same(t, loaded["researcher"], writer.Tools[0])
}

func mustOneJob(t *testing.T, jobs *jobstore.System) jobstore.Job {
	t.Helper()
	done := jobs.Store.DoneJobs()
	require.Empty(t, done)
	id, err := jobs.Queue.Get(context.Background())
	require.NoError(t, err)
	job, ok := jobs.Store.Get(id)
	require.True(t, ok)
	return job
}
