package core

// NodeStatus is the coarse status of an AgentNode.
type NodeStatus string

const (
	NodePending   NodeStatus = "pending"
	NodeRunning   NodeStatus = "running"
	NodeCompleted NodeStatus = "completed"
	NodeError     NodeStatus = "error"
)

// Rank orders node statuses along pending < running < {completed, error}.
func (s NodeStatus) Rank() int {
	switch s {
	case NodeRunning:
		return 1
	case NodeCompleted, NodeError:
		return 2
	default:
		return 0
	}
}

// IsTerminal reports whether the status is completed or error.
func (s NodeStatus) IsTerminal() bool { return s == NodeCompleted || s == NodeError }

// CanTransition reports whether a node may move from s to next without a
// controller reset. Terminal statuses never change into each other.
func (s NodeStatus) CanTransition(next NodeStatus) bool {
	if s == next {
		return false
	}
	return next.Rank() > s.Rank()
}

// AgentNode is one named stage of the pipeline. Nodes are created on first
// sighting and never removed during a run.
type AgentNode struct {
	ID                    string          `json:"id"`
	Title                 string          `json:"title"`
	Description           string          `json:"description,omitempty"`
	Status                NodeStatus      `json:"status"`
	ExecutionTimeSeconds  *float64        `json:"execution_time_seconds,omitempty"`
	LastStreamingFragment string          `json:"last_streaming_fragment,omitempty"`
	Output                string          `json:"output,omitempty"`
	Message               string          `json:"message,omitempty"`
	Error                 string          `json:"error,omitempty"`
	LastLifecycle         LifecycleStatus `json:"last_lifecycle,omitempty"`
}

// NewAgentNode returns a pending node titled after its id.
func NewAgentNode(id string) AgentNode {
	return AgentNode{ID: id, Title: id, Status: NodePending}
}

// Reset returns the node in pending state with its streamed text cleared.
// Title and description are kept.
func (n AgentNode) Reset() AgentNode {
	n.Status = NodePending
	n.LastStreamingFragment = ""
	n.Output = ""
	n.Error = ""
	n.ExecutionTimeSeconds = nil
	return n
}
