package strategy

import (
	"context"
	"strconv"
	"strings"

	"github.com/ivanpostolski/one-prompt-agents/internal/jobstore"
	"github.com/ivanpostolski/one-prompt-agents/internal/telemetry"
)

// planWatcher carries per-instance memory (plan_dict) across turns so it can
// flag steps that were unexpectedly dropped from the plan while still
// unchecked.
type planWatcher struct {
	store    jobStatusReader
	logger   telemetry.Logger
	planDict map[string]Step
}

// NewPlanWatcher builds a Factory for the "plan_watcher" strategy.
func NewPlanWatcher(store *jobstore.Store, logger telemetry.Logger) Factory {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return func() Instance {
		return &planWatcher{store: store, logger: logger, planDict: map[string]Step{}}
	}
}

func (s *planWatcher) StartInstruction() string { return "Start by making a plan" }

func (s *planWatcher) NextTurn(ctx context.Context, out FinalOutput, _ []jobstore.Turn, _, jobID string) Decision {
	if !isInProgress(s.store, jobID) {
		s.logger.Info(ctx, "strategy: job status is not in_progress, signaling run to end", "job_id", jobID, "strategy", "plan_watcher")
		return Decision{End: false}
	}

	newPlanDict := make(map[string]Step, len(out.Plan))
	for i, step := range out.Plan {
		name := step.StepName
		if name == "" {
			name = strconv.Itoa(i)
		}
		newPlanDict[name] = step
	}

	var messages []string
	for name, old := range s.planDict {
		if _, stillPresent := newPlanDict[name]; !stillPresent && !old.Checked {
			messages = append(messages, "The step: "+name+" was unexpectedly removed from your plan, please review it and add it again properly.")
		}
	}
	s.planDict = newPlanDict

	switch {
	case len(out.Plan) == 0:
		messages = append(messages, "Plan shouldn't be empty. Revisit the conversation history and generate a new plan according to your goals.")
		return Decision{NextMsg: strings.Join(messages, " "), HasNextMsg: true}
	case allChecked(out.Plan):
		return Decision{End: true}
	default:
		if len(messages) == 0 {
			messages = append(messages, "Continue with the first step of the plan that is not checked yet. And after verifying the step goal mark it as checked.")
		}
		return Decision{NextMsg: strings.Join(messages, " "), HasNextMsg: true}
	}
}
