package strategy

import (
	"context"

	"github.com/ivanpostolski/one-prompt-agents/internal/jobstore"
	"github.com/ivanpostolski/one-prompt-agents/internal/telemetry"
)

// continueLastUnchecked is the "default" strategy: it keeps asking the agent
// to continue with the first unchecked plan step until every step is
// checked.
type continueLastUnchecked struct {
	store  jobStatusReader
	logger telemetry.Logger
}

// NewContinueLastUnchecked builds a Factory for the default strategy, bound
// to the given Job Store so NextTurn can query fresh job status.
func NewContinueLastUnchecked(store *jobstore.Store, logger telemetry.Logger) Factory {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return func() Instance {
		return &continueLastUnchecked{store: store, logger: logger}
	}
}

func (s *continueLastUnchecked) StartInstruction() string { return "Start by making a plan" }

func (s *continueLastUnchecked) NextTurn(ctx context.Context, out FinalOutput, _ []jobstore.Turn, _, jobID string) Decision {
	if !isInProgress(s.store, jobID) {
		s.logger.Info(ctx, "strategy: job status is not in_progress, signaling run to end", "job_id", jobID, "strategy", "default")
		return Decision{End: false}
	}

	switch {
	case len(out.Plan) == 0:
		return Decision{
			NextMsg:    "Plan shouldn't be empty. Revisit the conversation history and generate a new plan according to your goals.",
			HasNextMsg: true,
		}
	case allChecked(out.Plan):
		return Decision{End: true}
	default:
		return Decision{
			NextMsg:    "Continue with the first step of the plan that is not checked yet. And after verifing the step goal mark it as checked.",
			HasNextMsg: true,
		}
	}
}

func allChecked(steps []Step) bool {
	for _, s := range steps {
		if !s.Checked {
			return false
		}
	}
	return true
}
