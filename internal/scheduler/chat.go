package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ivanpostolski/one-prompt-agents/internal/jobstore"
	"github.com/ivanpostolski/one-prompt-agents/internal/runner"
	"github.com/ivanpostolski/one-prompt-agents/internal/strategy"
)

// autonomousChat drives job id through its multi-turn conversation loop: it
// builds the first (or resume) user message, repeatedly calls the bound
// agent's runner, persists history and summary after every turn, and
// consults the job's termination strategy to decide whether to end, keep
// going, or stop because the job was suspended (moved back to in_queue, or
// found no longer in_progress) out from under the loop.
func (s *Scheduler) autonomousChat(ctx context.Context, id string) error {
	job, ok := s.jobs.Store.Get(id)
	if !ok {
		return fmt.Errorf("job %q not found", id)
	}
	ag, ok := s.agents[job.AgentName]
	if !ok {
		return fmt.Errorf("no loaded agent named %q", job.AgentName)
	}

	factory := s.strategies.Lookup(job.StrategyName)
	inst := factory()

	ctx, span := s.tracer.Start(ctx, "autonomous_chat")
	defer span.End()

	if err := ag.EnsureToolsConnected(ctx); err != nil {
		s.logger.Error(ctx, "scheduler: could not connect agent's tools", "job_id", id, "agent", ag.Name, "error", err.Error())
		return err
	}
	tools := ag.RunnerTools()

	var history []jobstore.Turn
	var nextMsg string

	if len(job.ChatHistory) == 0 {
		parts := make([]string, 0, 3)
		if job.ID != "" {
			parts = append(parts, fmt.Sprintf("Your JOB_ID is %s.", job.ID))
		}
		parts = append(parts, job.InitialText)
		if start := inst.StartInstruction(); start != "" {
			parts = append(parts, start)
		}
		nextMsg = strings.Join(parts, " ")
		s.logger.Info(ctx, "scheduler: starting new job", "job_id", id, "agent", ag.Name, "prompt", nextMsg)
	} else {
		history = append([]jobstore.Turn(nil), job.ChatHistory...)
		nextMsg = "Jobs waited have ended. Resume your task."
		s.logger.Info(ctx, "scheduler: resuming job", "job_id", id, "agent", ag.Name)
	}

	hooks := loggingHooks{logger: s.logger}

	for check := 1; check <= MaxTurns; check++ {
		s.logger.Debug(ctx, "scheduler: turn starting", "job_id", id, "check", check, "max_turns", MaxTurns)

		turnInput := append(append([]jobstore.Turn(nil), history...), jobstore.Turn{Role: jobstore.RoleUser, Content: nextMsg})
		in := runner.Input{AgentName: ag.Name, Model: ag.Model(), Instructions: ag.Instructions, History: turnInput, Tools: tools}
		out, err := ag.Runner().Run(ctx, in, hooks)
		if err != nil {
			s.logger.Error(ctx, "scheduler: turn failed", "job_id", id, "check", check, "error", err.Error())
			nextMsg = fmt.Sprintf("The last attempt failed with an error: %s. Please review the situation, check your plan, and try to recover and continue the task.", err)
			continue
		}

		history = out.History
		if err := s.jobs.Store.SetChatHistory(id, history); err != nil {
			return err
		}

		finalOut, decodeErr := decodeFinalOutput(out.FinalOutput)
		if decodeErr != nil {
			s.logger.Warn(ctx, "scheduler: could not interpret final_output as a plan", "job_id", id, "error", decodeErr.Error())
		}
		if err := s.schemas.Validate(ag.ReturnType, out.FinalOutput); err != nil {
			s.logger.Warn(ctx, "scheduler: final_output failed schema validation", "job_id", id, "error", err.Error())
		}
		if finalOut.Summary != "" {
			if err := s.jobs.Store.SetSummary(id, finalOut.Summary); err != nil {
				return err
			}
		}

		decision := inst.NextTurn(ctx, finalOut, history, ag.Name, id)

		if decision.End {
			s.logger.Info(ctx, "scheduler: approved by strategy", "job_id", id, "check", check)
			return s.jobs.Store.Mark(id, jobstore.StatusDone)
		}

		current, ok := s.jobs.Store.Get(id)
		if !ok {
			return fmt.Errorf("job %q vanished mid-run", id)
		}
		if current.Status == jobstore.StatusInQueue {
			s.logger.Info(ctx, "scheduler: job moved to queue mid-run, stopping loop", "job_id", id)
			return nil
		}
		if !decision.HasNextMsg {
			s.logger.Info(ctx, "scheduler: strategy signaled run should end without completion", "job_id", id)
			return nil
		}

		nextMsg = decision.NextMsg
	}

	s.logger.Info(ctx, "scheduler: max turns reached, job remains in_progress", "job_id", id, "max_turns", MaxTurns)
	return nil
}

// decodeFinalOutput re-interprets an agent's opaque final_output document as
// the subset of fields built-in strategies consult (plan, summary), tolerant
// of custom return_type schemas that carry extra fields.
func decodeFinalOutput(doc any) (strategy.FinalOutput, error) {
	var out strategy.FinalOutput
	if doc == nil {
		return out, nil
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, err
	}
	return out, nil
}
