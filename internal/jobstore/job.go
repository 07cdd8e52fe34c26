// Package jobstore owns the in-memory Job Store and FIFO Queue. It is the
// single source of truth for Job state: every other component holds only a
// job id and queries the store to obtain a current snapshot.
package jobstore

import (
	"strings"

	"github.com/google/uuid"
)

// Role tags a chat_history entry's originator.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
)

// Status is a Job's lifecycle state.
type Status string

const (
	StatusInDraft    Status = "in_draft"
	StatusInQueue    Status = "in_queue"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
	StatusError      Status = "error"
)

// Turn is one entry in a Job's chat_history: a role-tagged, opaque content
// record. Schedulers append turns; strategies and runners read them.
// Synthetic scheduler-authored notes (e.g. "Job X has been started.") use
// RoleSystem so strategies can recognize and tolerate them.
type Turn struct {
	Role    Role
	Content any
}

// Job is one execution of one agent against one initial prompt.
type Job struct {
	ID           string
	AgentName    string
	InitialText  string
	StrategyName string
	DependsOn    []string
	Status       Status
	ChatHistory  []Turn
	Summary      string
}

// NewID returns a short, globally-unique job identifier: the last 6
// characters of a UUIDv4, mirroring the original Python implementation's
// str(uuid.uuid4())[-6:].
func NewID() string {
	full := uuid.NewString()
	if len(full) <= 6 {
		return full
	}
	return full[len(full)-6:]
}

// Clone returns a defensive deep-ish copy of the job suitable for returning
// from the store without letting callers mutate internal state.
func (j Job) Clone() Job {
	cp := j
	if j.DependsOn != nil {
		cp.DependsOn = append([]string(nil), j.DependsOn...)
	}
	if j.ChatHistory != nil {
		cp.ChatHistory = append([]Turn(nil), j.ChatHistory...)
	}
	return cp
}

// String renders a human-readable "<id>: <status>[. Summary: <summary>]"
// line, the exact shape returned by the get_job capability-server tool.
func (j Job) String() string {
	var b strings.Builder
	b.WriteString(j.ID)
	b.WriteString(": ")
	b.WriteString(string(j.Status))
	if j.Summary != "" {
		b.WriteString(". Summary: ")
		b.WriteString(j.Summary)
	}
	return b.String()
}
