package runner

import (
	"context"
	"fmt"

	"github.com/ivanpostolski/one-prompt-agents/internal/jobstore"
)

// NoopHooks discards generation and tool-start events.
type NoopHooks struct{}

func (NoopHooks) OnGeneration(context.Context, string, string) {}
func (NoopHooks) OnToolStart(context.Context, string, string)  {}

// Stub is a scriptable AgentRunner test double: each call to Run consumes
// the next entry of Turns (looping the last entry once exhausted) and
// appends one assistant turn to the provided history. An entry with Err set
// causes Run to return that error instead, without advancing history,
// mirroring the end-to-end scenarios in spec.md §8 (S2, S6).
type Stub struct {
	Turns []StubTurn
	calls int
}

// StubTurn scripts one AgentRunner.Run call.
type StubTurn struct {
	FinalOutput any
	Err         error
}

// Calls reports how many times Run has been invoked.
func (s *Stub) Calls() int { return s.calls }

func (s *Stub) Run(_ context.Context, in Input, hooks Hooks) (Output, error) {
	idx := s.calls
	if idx >= len(s.Turns) {
		if len(s.Turns) == 0 {
			return Output{}, fmt.Errorf("runner: stub has no scripted turns")
		}
		idx = len(s.Turns) - 1
	}
	s.calls++
	turn := s.Turns[idx]

	if hooks != nil {
		hooks.OnGeneration(context.Background(), in.AgentName, "stub turn")
	}

	if turn.Err != nil {
		return Output{}, turn.Err
	}

	history := append([]jobstore.Turn(nil), in.History...)
	history = append(history, jobstore.Turn{Role: jobstore.RoleAssistant, Content: turn.FinalOutput})
	return Output{FinalOutput: turn.FinalOutput, History: history}, nil
}
