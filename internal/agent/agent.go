// Package agent implements the Capability-Server Facade (C2): each loaded
// Agent is both a callable (AgentClient, held by peers) and a server
// (AgentServer, what the agent runs) — the two compose into one runtime
// Agent type, per the Design Note on self-exposure as a remote tool.
package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/ivanpostolski/one-prompt-agents/internal/jobstore"
	"github.com/ivanpostolski/one-prompt-agents/internal/runner"
	"github.com/ivanpostolski/one-prompt-agents/internal/telemetry"
	"github.com/ivanpostolski/one-prompt-agents/internal/transport"
)

// ToolHandle is anything an Agent can call as a tool: another Agent, or a
// pre-registered external capability server.
type ToolHandle interface {
	ToolName() string
	ConnectURL() string
}

// ExternalServer is a handle to a pre-registered, out-of-process capability
// server (filesystem, MongoDB, email, web scraping, ...). Only the call
// shape is specified here; the servers themselves are external collaborators.
type ExternalServer struct {
	Name string
	URL  string
}

func (e ExternalServer) ToolName() string   { return e.Name }
func (e ExternalServer) ConnectURL() string { return e.URL }

// Agent is one instantiated, runtime agent: bound to a conversation schema,
// a resolved tool list, an owning JobQueue/Store, and a hosted capability
// server exposing start_agent_<name> and _start_and_wait_<name>.
type Agent struct {
	Name               string
	PromptFile         string
	Instructions       string
	ReturnType         string
	InputsDescription  string
	DefaultStrategy    string

	mu    sync.RWMutex
	model string

	Tools []ToolHandle

	jobs   *jobstore.System
	runner runner.AgentRunner
	logger telemetry.Logger

	server  *transport.Server
	clients map[string]*transport.Client
}

// New constructs a runtime Agent. The caller is responsible for registering
// start_agent_<name> / _start_and_wait_<name> on the returned Agent's Server
// via Serve, and for eventually calling Cleanup.
func New(name, promptFile, instructions, returnType, inputsDescription, model, defaultStrategy string, tools []ToolHandle, jobs *jobstore.System, r runner.AgentRunner, logger telemetry.Logger) *Agent {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Agent{
		Name:              name,
		PromptFile:        promptFile,
		Instructions:      instructions,
		ReturnType:        returnType,
		InputsDescription: inputsDescription,
		DefaultStrategy:   defaultStrategy,
		model:             model,
		Tools:             tools,
		jobs:              jobs,
		runner:            r,
		logger:            logger,
		clients:           make(map[string]*transport.Client),
	}
}

// ToolName identifies this agent as a tool to its callers.
func (a *Agent) ToolName() string { return a.Name }

// ConnectURL returns the SSE endpoint other agents dial to call this agent.
func (a *Agent) ConnectURL() string {
	if a.server == nil {
		return ""
	}
	return "http://" + a.server.Addr() + "/sse"
}

// Model returns the agent's current model identifier.
func (a *Agent) Model() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.model
}

// SetModel replaces the agent's model identifier at runtime; backs the
// process-global change_agent_model tool.
func (a *Agent) SetModel(newModel string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.model = newModel
}

// Serve binds the agent's own capability server at addr and registers its
// two exposed tools: start_agent_<name> (non-blocking submit) and
// _start_and_wait_<name> (suspend-caller-until-child-done).
func (a *Agent) Serve(addr string) error {
	a.server = transport.NewServer(addr)
	a.server.AddTool(fmt.Sprintf("start_agent_%s", a.Name), a.handleStart)
	a.server.AddTool(fmt.Sprintf("_start_and_wait_%s", a.Name), a.handleStartAndWait)
	return a.server.Start()
}

// Runner exposes the bound AgentRunner for the scheduler.
func (a *Agent) Runner() runner.AgentRunner { return a.runner }

// EnsureToolsConnected dials every outbound tool connection this agent
// depends on, retrying briefly per tool. Mirrors the original connect_mcps
// helper; it is safe to call repeatedly (Connect is idempotent).
func (a *Agent) EnsureToolsConnected(ctx context.Context) error {
	const retries = 3
	for _, tool := range a.Tools {
		client := a.clientFor(tool)
		var lastErr error
		for attempt := 1; attempt <= retries; attempt++ {
			if err := client.Connect(ctx); err != nil {
				lastErr = err
				a.logger.Warn(ctx, "agent: tool connect attempt failed", "agent", a.Name, "tool", tool.ToolName(), "attempt", attempt, "error", err.Error())
				continue
			}
			lastErr = nil
			break
		}
		if lastErr != nil {
			return fmt.Errorf("agent %q: connect to tool %q: %w", a.Name, tool.ToolName(), lastErr)
		}
	}
	return nil
}

func (a *Agent) clientFor(tool ToolHandle) *transport.Client {
	if c, ok := a.clients[tool.ToolName()]; ok {
		return c
	}
	c := transport.NewClient(tool.ConnectURL())
	a.clients[tool.ToolName()] = c
	return c
}

// RunnerTools resolves this agent's Tools into the callable shape an
// AgentRunner declares to the model: a peer agent contributes both its
// start_agent_<name> (fire-and-forget) and _start_and_wait_<name> (blocking)
// handlers, an external capability server contributes its one named tool.
// Every call goes through the same transport.Client EnsureToolsConnected
// already dialed.
func (a *Agent) RunnerTools() []runner.Tool {
	tools := make([]runner.Tool, 0, len(a.Tools)*2)
	for _, tool := range a.Tools {
		client := a.clientFor(tool)
		if peer, ok := tool.(*Agent); ok {
			startName := fmt.Sprintf("start_agent_%s", peer.Name)
			waitName := fmt.Sprintf("_start_and_wait_%s", peer.Name)
			tools = append(tools,
				runner.Tool{
					Name:        startName,
					Description: fmt.Sprintf("Starts the %s agent async. No wait for its response.", peer.Name),
					Call:        callThrough(client, startName),
				},
				runner.Tool{
					Name:        waitName,
					Description: fmt.Sprintf("Starts a new job for the agent %s and waits until it's finished.", peer.Name),
					Call:        callThrough(client, waitName),
				},
			)
			continue
		}
		name := tool.ToolName()
		tools = append(tools, runner.Tool{
			Name:        name,
			Description: fmt.Sprintf("External capability server %q.", name),
			Call:        callThrough(client, name),
		})
	}
	return tools
}

func callThrough(client *transport.Client, toolName string) func(context.Context, any) (any, error) {
	return func(ctx context.Context, arguments any) (any, error) {
		return client.Call(ctx, toolName, arguments)
	}
}

// Cleanup stops the agent's hosted capability server. Outbound clients hold
// no persistent resources beyond the HTTP client, so nothing else to release.
func (a *Agent) Cleanup(ctx context.Context) error {
	if a.server == nil {
		return nil
	}
	return a.server.Stop(ctx)
}

func (a *Agent) handleStart(ctx context.Context, arguments any) (any, error) {
	jobID := a.jobs.Submit(a.Name, stringify(arguments), a.DefaultStrategy, nil)
	return fmt.Sprintf("Agent is running. Job started: %s", jobID), nil
}

func (a *Agent) handleStartAndWait(ctx context.Context, arguments any) (any, error) {
	args, _ := arguments.(map[string]any)
	agentInputs, _ := args["agent_inputs"].(string)
	yourJobID, _ := args["your_job_id"].(string)

	childID := a.jobs.Submit(a.Name, agentInputs, a.DefaultStrategy, nil)

	if _, ok := a.jobs.Store.Get(yourJobID); !ok {
		return nil, fmt.Errorf("job %q not found. You must provide your own job id to wait for another job", yourJobID)
	}

	note := fmt.Sprintf("Job %s has been started.", childID)
	if err := a.jobs.Store.AppendDependencyAndNote(yourJobID, childID, note); err != nil {
		return nil, err
	}
	a.jobs.Queue.Put(yourJobID)

	return fmt.Sprintf("Job %s has been started. To wait for its completion return your plan.", childID), nil
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
