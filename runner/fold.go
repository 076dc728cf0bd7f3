package runner

import (
	"sort"
	"strings"

	"github.com/hupe1980/pipewatch/artifact"
	"github.com/hupe1980/pipewatch/core"
	"github.com/hupe1980/pipewatch/hitl"
	"github.com/hupe1980/pipewatch/pipeline"
	"github.com/hupe1980/pipewatch/reasoning"
)

// folder applies one event to a run state through every observer.
type folder struct {
	machine     *pipeline.Machine
	coordinator *hitl.Coordinator
	extractor   *reasoning.Extractor
}

// apply folds ev into s in place and returns the non-fatal errors it raised.
func (f *folder) apply(s *core.RunState, ev core.PipelineEvent) []error {
	if s.Closed {
		return nil
	}
	var warnings []error

	if err := f.coordinator.Observe(s, ev); err != nil {
		warnings = append(warnings, err)
	}

	if ev.StreamingFragment != nil {
		res := f.extractor.Extract(*ev.StreamingFragment, s.ReasoningCarry[ev.AgentID])
		visible := res.Visible
		ev.StreamingFragment = &visible
		s.ReasoningBuffer = append(s.ReasoningBuffer, res.Reasoning...)
		setCarry(s, ev.AgentID, res.Carry)
	}

	if len(ev.Artifacts) > 0 {
		s.Artifacts = artifact.MergeAll(s.Artifacts, ev.Artifacts)
	}

	if err := f.machine.Step(s, ev); err != nil {
		warnings = append(warnings, err)
	}
	return warnings
}

// resolve applies a validated checkpoint response.
func (f *folder) resolve(s *core.RunState, resp core.HitlResponse) (hitl.Outcome, error) {
	out, err := f.coordinator.Resolve(s, resp)
	if err != nil {
		return out, err
	}
	if !s.Closed {
		s.ProgressPercent = pipeline.Progress(*s)
	}
	return out, nil
}

// flush ends every open reasoning stream. Held back visible text is appended
// to its node; unterminated blocks stay in progress.
func (f *folder) flush(s *core.RunState) {
	for agentID, carry := range s.ReasoningCarry {
		visible, _, next := f.extractor.Flush(carry)
		if visible != "" {
			if n, ok := s.Nodes[agentID]; ok {
				n.LastStreamingFragment = visible
				n.Output += visible
				s.Nodes[agentID] = n
			}
		}
		setCarry(s, agentID, next)
	}
}

func setCarry(s *core.RunState, agentID string, c core.ReasoningCarry) {
	if s.ReasoningCarry == nil {
		s.ReasoningCarry = map[string]core.ReasoningCarry{}
	}
	if c.IsZero() {
		delete(s.ReasoningCarry, agentID)
	} else {
		s.ReasoningCarry[agentID] = c
	}
	s.ReasoningInProgress = inProgress(s)
}

// inProgress joins the open blocks of all agents in node order, followed by
// agents without a node.
func inProgress(s *core.RunState) string {
	var parts []string
	seen := map[string]bool{}
	for _, id := range s.NodeOrder {
		seen[id] = true
		if c, ok := s.ReasoningCarry[id]; ok && c.Thinking {
			if p := c.Partial + c.Pending; p != "" {
				parts = append(parts, p)
			}
		}
	}
	rest := make([]string, 0)
	for id := range s.ReasoningCarry {
		if !seen[id] {
			rest = append(rest, id)
		}
	}
	sort.Strings(rest)
	for _, id := range rest {
		if c := s.ReasoningCarry[id]; c.Thinking {
			if p := c.Partial + c.Pending; p != "" {
				parts = append(parts, p)
			}
		}
	}
	return strings.Join(parts, "\n")
}
