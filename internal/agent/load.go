package agent

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ivanpostolski/one-prompt-agents/internal/config"
	"github.com/ivanpostolski/one-prompt-agents/internal/jobstore"
	"github.com/ivanpostolski/one-prompt-agents/internal/runner"
	"github.com/ivanpostolski/one-prompt-agents/internal/schema"
	"github.com/ivanpostolski/one-prompt-agents/internal/telemetry"
)

// DefaultModel is used when an AgentConfig omits the model field.
const DefaultModel = "o4-mini"

// PortAllocator hands out sequential capability-server ports starting at a
// base (8001 by default), one per loaded agent, per spec.md §6.
type PortAllocator struct {
	next int
}

// NewPortAllocator constructs an allocator starting at base.
func NewPortAllocator(base int) *PortAllocator { return &PortAllocator{next: base} }

// Next returns the next unused port.
func (p *PortAllocator) Next() int {
	port := p.next
	p.next++
	return port
}

// RunnerFactory constructs the AgentRunner bound to one agent. In
// production this would dial the real model provider; tests typically
// supply a shared runner.Stub for every agent.
type RunnerFactory func(agentName string) runner.AgentRunner

// Load instantiates a runtime Agent for each name in order (which must be a
// valid topological order of configs, dependencies first), resolving each
// config's tools list to either an already-loaded Agent or an external
// capability server. A tool name that matches both resolves to the agent
// (agents-as-tools win over externals of the same name).
func Load(
	configs map[string]config.AgentConfig,
	order []string,
	external map[string]ToolHandle,
	jobs *jobstore.System,
	schemas *schema.Registry,
	newRunner RunnerFactory,
	ports *PortAllocator,
	logger telemetry.Logger,
) (map[string]*Agent, error) {
	loaded := make(map[string]*Agent, len(order))

	for _, name := range order {
		cfg, ok := configs[name]
		if !ok {
			return nil, fmt.Errorf("agent: config %q missing from configs map", name)
		}

		promptPath := filepath.Join(cfg.Folder(), cfg.PromptFile)
		instructions, err := os.ReadFile(promptPath)
		if err != nil {
			return nil, fmt.Errorf("agent: read prompt file %q: %w", promptPath, err)
		}

		schemaPath := filepath.Join(cfg.Folder(), "return_type.json")
		schemaRaw, err := os.ReadFile(schemaPath)
		if err != nil {
			return nil, fmt.Errorf("agent: read return_type schema %q: %w", schemaPath, err)
		}
		if err := schemas.Compile(cfg.ReturnType, schemaRaw); err != nil {
			return nil, err
		}

		tools := make([]ToolHandle, 0, len(cfg.Tools))
		for _, toolName := range cfg.Tools {
			if dep, ok := loaded[toolName]; ok {
				tools = append(tools, dep)
				continue
			}
			if ext, ok := external[toolName]; ok {
				tools = append(tools, ext)
				continue
			}
			return nil, fmt.Errorf("agent: config %q references unresolved tool %q", name, toolName)
		}

		model := cfg.Model
		if model == "" {
			model = DefaultModel
		}

		a := New(cfg.Name, cfg.PromptFile, string(instructions), cfg.ReturnType, cfg.InputsDescription, model, cfg.StrategyName, tools, jobs, newRunner(cfg.Name), logger)
		addr := fmt.Sprintf("127.0.0.1:%d", ports.Next())
		if err := a.Serve(addr); err != nil {
			return nil, fmt.Errorf("agent: start capability server for %q: %w", name, err)
		}
		loaded[name] = a
	}

	return loaded, nil
}
