package agent

import (
	"context"
	"fmt"

	"github.com/ivanpostolski/one-prompt-agents/internal/jobstore"
	"github.com/ivanpostolski/one-prompt-agents/internal/transport"
)

// Admin hosts the process-global capability-server tools that are not
// specific to any one agent: get_job, get_job_details, and
// change_agent_model.
type Admin struct {
	store  *jobstore.Store
	agents map[string]*Agent
	server *transport.Server
}

// NewAdmin constructs the process-global admin facade bound to the shared
// Job Store and the fully-loaded agent registry.
func NewAdmin(store *jobstore.Store, agents map[string]*Agent) *Admin {
	return &Admin{store: store, agents: agents}
}

// Serve binds the admin capability server at addr (MAIN_MCP_PORT) and
// registers its three tools.
func (a *Admin) Serve(addr string) error {
	a.server = transport.NewServer(addr)
	a.server.AddTool("get_job", a.handleGetJob)
	a.server.AddTool("get_job_details", a.handleGetJobDetails)
	a.server.AddTool("change_agent_model", a.handleChangeAgentModel)
	return a.server.Start()
}

// Stop shuts the admin server down.
func (a *Admin) Stop(ctx context.Context) error {
	if a.server == nil {
		return nil
	}
	return a.server.Stop(ctx)
}

func (a *Admin) handleGetJob(_ context.Context, arguments any) (any, error) {
	jobID, _ := argString(arguments, "job_id")
	job, ok := a.store.Get(jobID)
	if !ok {
		return "Job not found.", nil
	}
	return job.String(), nil
}

func (a *Admin) handleGetJobDetails(_ context.Context, arguments any) (any, error) {
	jobID, _ := argString(arguments, "job_id")
	job, ok := a.store.Get(jobID)
	if !ok {
		return "Job not found.", nil
	}
	return job, nil
}

func (a *Admin) handleChangeAgentModel(_ context.Context, arguments any) (any, error) {
	args, _ := arguments.(map[string]any)
	agentName, _ := args["agent_name"].(string)
	newModel, _ := args["new_model"].(string)

	ag, ok := a.agents[agentName]
	if !ok {
		return nil, fmt.Errorf("agent %q not found", agentName)
	}
	if newModel == "" {
		return nil, fmt.Errorf("new_model not provided")
	}
	ag.SetModel(newModel)
	return fmt.Sprintf("Model of agent %s changed to %s.", agentName, newModel), nil
}

func argString(arguments any, key string) (string, bool) {
	if s, ok := arguments.(string); ok && key == "job_id" {
		return s, true
	}
	args, ok := arguments.(map[string]any)
	if !ok {
		return "", false
	}
	v, ok := args[key].(string)
	return v, ok
}
