package testutil

import (
	"github.com/hupe1980/pipewatch/core"
)

// StateBuilder helps construct run states with fluent chaining for tests.
// Example:
//
//	s := NewStateBuilder("run-1").Node("coder", core.NodeRunning).Build()
type StateBuilder struct {
	s core.RunState
}

// NewStateBuilder creates a builder for a running state with the given id.
func NewStateBuilder(runID string) *StateBuilder {
	return &StateBuilder{s: core.NewRunState(runID)}
}

// Node registers a node with status in insertion order (chainable).
func (b *StateBuilder) Node(id string, status core.NodeStatus) *StateBuilder {
	n := core.NewAgentNode(id)
	n.Status = status
	if _, ok := b.s.Nodes[id]; !ok {
		b.s.NodeOrder = append(b.s.NodeOrder, id)
	}
	b.s.Nodes[id] = n
	return b
}

// Artifact stores a record (chainable).
func (b *StateBuilder) Artifact(filename, content string) *StateBuilder {
	b.s.Artifacts[filename] = core.ArtifactRecord{Filename: filename, Content: content, Action: core.ArtifactCreated}
	return b
}

// Iteration sets the refinement counters (chainable).
func (b *StateBuilder) Iteration(n, limit int) *StateBuilder {
	b.s.RefinementIteration = n
	b.s.MaxRefinementIterations = limit
	return b
}

// Outstanding sets an open checkpoint (chainable).
func (b *StateBuilder) Outstanding(requestID string, allowSkip bool) *StateBuilder {
	b.s.OutstandingHitl = &core.HitlRequest{RequestID: requestID, Title: "review", AllowSkip: allowSkip}
	return b
}

// Build returns a deep copy of the built state.
func (b *StateBuilder) Build() core.RunState { return b.s.Clone() }
