package scheduler

import (
	"context"

	"github.com/ivanpostolski/one-prompt-agents/internal/telemetry"
)

// loggingHooks forwards per-turn generation and tool-start events to the
// structured logger; it never influences control flow.
type loggingHooks struct {
	logger telemetry.Logger
}

func (h loggingHooks) OnGeneration(ctx context.Context, agentName, content string) {
	h.logger.Debug(ctx, "scheduler: generation", "agent", agentName, "content", content)
}

func (h loggingHooks) OnToolStart(ctx context.Context, agentName, toolName string) {
	h.logger.Debug(ctx, "scheduler: tool started", "agent", agentName, "tool", toolName)
}
