// Package runner declares the external AgentRunner contract. The actual LLM
// invocation is explicitly out of scope for this system (see spec.md §1):
// AgentRunner is an opaque collaborator that consumes a conversation history
// and returns a typed final output plus the updated history. This package
// also provides an in-memory test double used by the scheduler's own tests
// and by integration tests further up the stack.
package runner

import (
	"context"

	"github.com/ivanpostolski/one-prompt-agents/internal/jobstore"
)

// Hooks captures per-turn generation and tool-start events for logging only;
// it never influences control flow.
type Hooks interface {
	OnGeneration(ctx context.Context, agentName string, content string)
	OnToolStart(ctx context.Context, agentName string, toolName string)
}

// Tool is one capability the model may invoke during a Run call: a peer
// agent's start_agent_<name>/_start_and_wait_<name> handler, or an external
// capability server's tool, reachable through the caller's already-connected
// transport.Client. This is the Go-native equivalent of the original's
// Agent(mcp_servers=mcp_servers): the resolved tool graph reaching the model
// client so it can declare and dispatch tool calls itself.
type Tool struct {
	Name        string
	Description string
	Call        func(ctx context.Context, arguments any) (any, error)
}

// Input bundles everything a single AgentRunner.Run call needs.
type Input struct {
	AgentName    string
	Model        string
	Instructions string
	History      []jobstore.Turn
	Tools        []Tool
}

// Output is what a single AgentRunner.Run call returns: the decoded
// final_output document (validated against the agent's return_type schema
// by the caller) and the canonical, updated history (including the new
// assistant turn and any tool calls/results the runner performed).
type Output struct {
	FinalOutput any
	History     []jobstore.Turn
}

// AgentRunner is the opaque LLM-invocation facility. Implementations may
// call out to a real model provider; this package only specifies the shape.
type AgentRunner interface {
	Run(ctx context.Context, in Input, hooks Hooks) (Output, error)
}

// MaxToolRounds bounds how many request/tool-call round-trips a single Run
// call will drive before giving up, so a model that never stops requesting
// tools cannot hang a worker indefinitely.
const MaxToolRounds = 8
