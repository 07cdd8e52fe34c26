// Package strategy implements the pluggable termination-strategy protocol
// (C5): per-job state machines that inspect each turn's structured output
// and decide whether the job is complete, needs another turn with a
// corrective message, or has been externally suspended.
package strategy

import (
	"context"

	"github.com/ivanpostolski/one-prompt-agents/internal/jobstore"
)

// Step is the canonical structured-output shape the built-in strategies
// expect: a single plan step with a name and a checked flag.
type Step struct {
	StepName string `json:"step_name"`
	Checked  bool   `json:"checked"`
}

// FinalOutput is the subset of an agent's structured turn output that
// built-in strategies consult. Custom return_type schemas may carry
// additional fields; only Plan and Summary are interpreted here.
type FinalOutput struct {
	Plan    []Step `json:"plan"`
	Summary string `json:"summary,omitempty"`
}

// Decision is the result of Strategy.NextTurn: whether to end the job, and
// if not, the corrective message to feed back as the next user turn.
type Decision struct {
	End        bool
	NextMsg    string
	HasNextMsg bool
}

// Instance is a per-job strategy instance. A fresh Instance is created for
// every autonomous-chat loop invocation (see Factory).
type Instance interface {
	// StartInstruction is appended to the very first user message of a new
	// job, e.g. "Start by making a plan".
	StartInstruction() string

	// NextTurn inspects the turn's structured output and the job's current
	// status (read fresh from the store, since the job may have been
	// externally suspended concurrently) and returns a Decision.
	NextTurn(ctx context.Context, out FinalOutput, history []jobstore.Turn, agentName, jobID string) Decision
}

// Factory constructs a fresh Instance, one per job run.
type Factory func() Instance

// jobStatusReader is the minimal store capability strategies need: reading
// a job's current status fresh on every turn.
type jobStatusReader interface {
	Get(id string) (jobstore.Job, bool)
}

func isInProgress(store jobStatusReader, jobID string) bool {
	job, ok := store.Get(jobID)
	if !ok {
		return false
	}
	return job.Status == jobstore.StatusInProgress
}
