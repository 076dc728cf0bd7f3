package core

import "strings"

// Pseudo agent identifiers used by the backend for run-level signals.
const (
	// WorkflowAgentID addresses the run as a whole. Events for it never
	// create an AgentNode.
	WorkflowAgentID = "workflow"
	// HitlAgentID is the pseudo-node reflecting human checkpoint outcomes.
	HitlAgentID = "hitl"
	// RefinerAgentID is the node driving the refinement loop.
	RefinerAgentID = "refiner"
)

// LifecycleStatus is the status string carried by a wire event.
type LifecycleStatus string

// Known lifecycle statuses. Values outside this set are preserved verbatim
// by the normalizer and do not change any node status.
const (
	StatusStarting             LifecycleStatus = "starting"
	StatusRunning              LifecycleStatus = "running"
	StatusThinking             LifecycleStatus = "thinking"
	StatusStreaming            LifecycleStatus = "streaming"
	StatusCompleted            LifecycleStatus = "completed"
	StatusError                LifecycleStatus = "error"
	StatusAwaitingApproval     LifecycleStatus = "awaiting_approval"
	StatusApproved             LifecycleStatus = "approved"
	StatusRejected             LifecycleStatus = "rejected"
	StatusTimeout              LifecycleStatus = "timeout"
	StatusRetryRequested       LifecycleStatus = "retry_requested"
	StatusRestarting           LifecycleStatus = "restarting"
	StatusStopped              LifecycleStatus = "stopped"
	StatusIterationStart       LifecycleStatus = "iteration_start"
	StatusMaxIterationsReached LifecycleStatus = "max_iterations_reached"
)

var knownStatuses = map[LifecycleStatus]struct{}{
	StatusStarting: {}, StatusRunning: {}, StatusThinking: {}, StatusStreaming: {},
	StatusCompleted: {}, StatusError: {}, StatusAwaitingApproval: {}, StatusApproved: {},
	StatusRejected: {}, StatusTimeout: {}, StatusRetryRequested: {}, StatusRestarting: {},
	StatusStopped: {}, StatusIterationStart: {}, StatusMaxIterationsReached: {},
}

// ParseLifecycleStatus lower-cases and trims s. The second return value
// reports whether the status is one of the known constants.
func ParseLifecycleStatus(s string) (LifecycleStatus, bool) {
	st := LifecycleStatus(strings.ToLower(strings.TrimSpace(s)))
	_, ok := knownStatuses[st]
	return st, ok
}

// NodeStatus maps a lifecycle status onto the node status it implies. The
// boolean is false for statuses that carry no node transition (retry,
// restart, stop, refinement signals, unknown values).
func (s LifecycleStatus) NodeStatus() (NodeStatus, bool) {
	switch s {
	case StatusStarting, StatusRunning, StatusThinking, StatusStreaming, StatusAwaitingApproval, StatusIterationStart:
		return NodeRunning, true
	case StatusCompleted, StatusApproved:
		return NodeCompleted, true
	case StatusError, StatusRejected, StatusTimeout:
		return NodeError, true
	default:
		return "", false
	}
}

// PipelineEvent is the canonical update produced once per wire record.
// Optional fields are pointers (or a nil slice) so absence can be told apart
// from a zero value: an absent field means "unchanged", never "reset".
type PipelineEvent struct {
	AgentID                 string           `json:"agent_id"`
	Status                  LifecycleStatus  `json:"status"`
	DisplayTitle            *string          `json:"display_title,omitempty"`
	Description             *string          `json:"description,omitempty"`
	Message                 *string          `json:"message,omitempty"`
	StreamingFragment       *string          `json:"streaming_fragment,omitempty"`
	ExecutionTimeSeconds    *float64         `json:"execution_time_seconds,omitempty"`
	Artifacts               []ArtifactRecord `json:"artifacts,omitempty"`
	HitlRequest             *HitlRequest     `json:"hitl_request,omitempty"`
	RefinementIteration     *int             `json:"refinement_iteration,omitempty"`
	MaxRefinementIterations *int             `json:"max_refinement_iterations,omitempty"`
	IsFinal                 *bool            `json:"is_final,omitempty"`
	Error                   *string          `json:"error,omitempty"`
}

// IsWorkflow reports whether the event addresses the run as a whole.
func (e PipelineEvent) IsWorkflow() bool { return e.AgentID == WorkflowAgentID }

// Final reports whether the backend flagged this as the last event of the run.
func (e PipelineEvent) Final() bool { return e.IsFinal != nil && *e.IsFinal }

// IsTerminal reports whether applying the event closes the run: a workflow
// completion or any event flagged final.
func (e PipelineEvent) IsTerminal() bool {
	return e.Final() || (e.IsWorkflow() && e.Status == StatusCompleted)
}

// HasArtifacts reports whether the event carried an artifacts field at all.
func (e PipelineEvent) HasArtifacts() bool { return e.Artifacts != nil }

// MessageText returns the message or the empty string.
func (e PipelineEvent) MessageText() string {
	if e.Message == nil {
		return ""
	}
	return *e.Message
}

// ErrorText returns the error message, falling back to Message for error
// statuses that only carry free-form text.
func (e PipelineEvent) ErrorText() string {
	if e.Error != nil && *e.Error != "" {
		return *e.Error
	}
	if st, ok := e.Status.NodeStatus(); ok && st == NodeError {
		return e.MessageText()
	}
	return ""
}
