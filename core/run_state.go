package core

import (
	"maps"
	"sort"
	"time"
)

// ReasoningCarry is the per-agent state the reasoning extractor threads
// between fragments.
type ReasoningCarry struct {
	// Pending holds a trailing fragment that may be the start of a marker.
	Pending string `json:"pending,omitempty"`
	// Thinking is true between an open and a close marker.
	Thinking bool `json:"thinking,omitempty"`
	// Partial is the reasoning text seen since the last open marker.
	Partial string `json:"partial,omitempty"`
}

// IsZero reports whether the carry holds no buffered text.
func (c ReasoningCarry) IsZero() bool { return c == ReasoningCarry{} }

// RunState is the aggregate view of one run. It is owned by the consumer
// loop and mutated only by folding one PipelineEvent at a time. Snapshots
// handed to callers are deep copies produced by Clone.
type RunState struct {
	RunID                   string                    `json:"run_id"`
	Nodes                   map[string]AgentNode      `json:"nodes"`
	NodeOrder               []string                  `json:"node_order"`
	Artifacts               map[string]ArtifactRecord `json:"artifacts"`
	ProgressPercent         float64                   `json:"progress_percent"`
	RefinementIteration     int                       `json:"refinement_iteration"`
	MaxRefinementIterations int                       `json:"max_refinement_iterations,omitempty"`
	RefinementOutcome       string                    `json:"refinement_outcome,omitempty"`
	RetryRequested          bool                      `json:"retry_requested,omitempty"`
	OutstandingHitl         *HitlRequest              `json:"outstanding_hitl,omitempty"`
	HitlOpenedAt            time.Time                 `json:"hitl_opened_at,omitempty"`
	ReasoningBuffer         []string                  `json:"reasoning_buffer"`
	ReasoningInProgress     string                    `json:"reasoning_in_progress,omitempty"`
	ReasoningCarry          map[string]ReasoningCarry `json:"reasoning_carry,omitempty"`
	IsRunning               bool                      `json:"is_running"`
	Closed                  bool                      `json:"closed"`
	Cancelled               bool                      `json:"cancelled,omitempty"`
	TerminalError           string                    `json:"terminal_error,omitempty"`
	LastMessage             string                    `json:"last_message,omitempty"`
	EventsApplied           int                       `json:"events_applied"`
	StartedAt               time.Time                 `json:"started_at"`
	UpdatedAt               time.Time                 `json:"updated_at"`
}

// NewRunState returns an empty running state for runID.
func NewRunState(runID string) RunState {
	now := time.Now().UTC()
	return RunState{
		RunID:           runID,
		Nodes:           map[string]AgentNode{},
		NodeOrder:       []string{},
		Artifacts:       map[string]ArtifactRecord{},
		ReasoningBuffer: []string{},
		ReasoningCarry:  map[string]ReasoningCarry{},
		IsRunning:       true,
		StartedAt:       now,
		UpdatedAt:       now,
	}
}

// Clone returns a deep copy safe for independent mutation.
func (s RunState) Clone() RunState {
	c := s
	c.Nodes = make(map[string]AgentNode, len(s.Nodes))
	for id, n := range s.Nodes {
		if n.ExecutionTimeSeconds != nil {
			v := *n.ExecutionTimeSeconds
			n.ExecutionTimeSeconds = &v
		}
		c.Nodes[id] = n
	}
	c.NodeOrder = append([]string(nil), s.NodeOrder...)
	c.Artifacts = make(map[string]ArtifactRecord, len(s.Artifacts))
	for k, a := range s.Artifacts {
		if a.SizeBytes != nil {
			v := *a.SizeBytes
			a.SizeBytes = &v
		}
		c.Artifacts[k] = a
	}
	c.OutstandingHitl = s.OutstandingHitl.Clone()
	c.ReasoningBuffer = append([]string(nil), s.ReasoningBuffer...)
	c.ReasoningCarry = maps.Clone(s.ReasoningCarry)
	if c.ReasoningCarry == nil {
		c.ReasoningCarry = map[string]ReasoningCarry{}
	}
	return c
}

// Node returns the node with id and whether it exists.
func (s RunState) Node(id string) (AgentNode, bool) {
	n, ok := s.Nodes[id]
	return n, ok
}

// OrderedNodes returns nodes in first-seen order.
func (s RunState) OrderedNodes() []AgentNode {
	out := make([]AgentNode, 0, len(s.NodeOrder))
	for _, id := range s.NodeOrder {
		if n, ok := s.Nodes[id]; ok {
			out = append(out, n)
		}
	}
	return out
}

// SortedArtifacts returns artifacts ordered by filename.
func (s RunState) SortedArtifacts() []ArtifactRecord {
	out := make([]ArtifactRecord, 0, len(s.Artifacts))
	for _, a := range s.Artifacts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Filename < out[j].Filename })
	return out
}

// ReasoningTranscript returns completed reasoning blocks followed by the
// in-progress one, if any.
func (s RunState) ReasoningTranscript() []string {
	out := append([]string(nil), s.ReasoningBuffer...)
	if s.ReasoningInProgress != "" {
		out = append(out, s.ReasoningInProgress)
	}
	return out
}

// CountByStatus returns how many nodes are in each status.
func (s RunState) CountByStatus() map[NodeStatus]int {
	counts := map[NodeStatus]int{}
	for _, n := range s.Nodes {
		counts[n.Status]++
	}
	return counts
}
