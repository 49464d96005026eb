// Package api defines the JSON wire types shared by the scheduler facade
// and the worker agent.
package api

import (
	"fmt"

	"github.com/kilnproject/kiln/pool"
)

// JobDescriptor is the submitter-supplied payload. It satisfies the
// scheduler's item contract: Hint names state a worker may have cached
// (empty for none) and the cost pair estimates build duration with and
// without that state.
type JobDescriptor struct {
	Name          string   `json:"name"`
	Hint          string   `json:"cacheHint,omitempty"`
	CostCached    uint32   `json:"costCached"`
	CostNonCached uint32   `json:"costNonCached"`
	Cmd           []string `json:"cmd,omitempty"`
}

func (j *JobDescriptor) CacheHint() string { return j.Hint }

func (j *JobDescriptor) CostEstimate() pool.Cost {
	return pool.Cost{Cached: j.CostCached, NonCached: j.CostNonCached}
}

func (j *JobDescriptor) String() string {
	return fmt.Sprintf("%s(hint=%q)", j.Name, j.Hint)
}

// SubmitRequest submits one job to a pool.
type SubmitRequest struct {
	Urgent bool          `json:"urgent"`
	Job    JobDescriptor `json:"job"`
}

type SubmitReply struct {
	TicketID string `json:"ticketId"`
}

// TicketStatus reports submitter-visible progress.
type TicketStatus struct {
	TicketID string `json:"ticketId"`
	Accepted bool   `json:"accepted"`
	Job      string `json:"job,omitempty"`
}

// RegisterRequest registers a worker agent under a unique name.
type RegisterRequest struct {
	Name string `json:"name"`
}

// Pop actions tell the agent what to do next.
const (
	ActionRun      = "run"
	ActionUpdate   = "update"
	ActionFinished = "finished"
)

// PopReply is the long-poll response. Action run carries a job; update asks
// the agent to re-exec and re-register; finished means the worker was
// released.
type PopReply struct {
	Action   string         `json:"action"`
	TicketID string         `json:"ticketId,omitempty"`
	Job      *JobDescriptor `json:"job,omitempty"`
}

// StartedRequest attaches the worker-side job capability to a ticket.
type StartedRequest struct {
	JobID  string `json:"jobId"`
	Worker string `json:"worker"`
}

type ActiveRequest struct {
	Active bool `json:"active"`
}

type ActiveReply struct {
	Active bool `json:"active"`
}

// ErrorReply is the uniform error body.
type ErrorReply struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
