package pipeline

import (
	"fmt"
	"time"

	"github.com/hupe1980/pipewatch/core"
)

// RefinementController drives the bounded refinement loop on top of the node
// graph. It reacts to iteration_start and max_iterations_reached from the
// refiner (or the workflow), and to retry_requested and restarting from the
// workflow or hitl pseudo-agents.
type RefinementController struct {
	gates         []string
	maxIterations int
}

// NewRefinementController creates a controller resetting gates on every new
// iteration. maxIterations is a fallback bound; zero means unknown.
func NewRefinementController(gates []string, maxIterations int) *RefinementController {
	return &RefinementController{
		gates:         append([]string(nil), gates...),
		maxIterations: maxIterations,
	}
}

// Gates returns the configured quality gate node ids.
func (c *RefinementController) Gates() []string { return append([]string(nil), c.gates...) }

// Observe applies the refinement side effects of ev to s.
func (c *RefinementController) Observe(s *core.RunState, ev core.PipelineEvent) {
	if ev.MaxRefinementIterations != nil && *ev.MaxRefinementIterations > 0 {
		s.MaxRefinementIterations = *ev.MaxRefinementIterations
	} else if s.MaxRefinementIterations == 0 && c.maxIterations > 0 {
		s.MaxRefinementIterations = c.maxIterations
	}

	loopScoped := ev.AgentID == core.RefinerAgentID || ev.IsWorkflow()
	runScoped := ev.IsWorkflow() || ev.AgentID == core.HitlAgentID

	switch ev.Status {
	case core.StatusIterationStart:
		if loopScoped {
			c.startIteration(s, ev)
		}
	case core.StatusMaxIterationsReached:
		if loopScoped {
			c.finish(s, ev.MessageText())
		}
	case core.StatusRetryRequested:
		if runScoped {
			s.RetryRequested = true
		}
	case core.StatusRestarting:
		if runScoped {
			c.restart(s)
		}
	}
}

func (c *RefinementController) startIteration(s *core.RunState, ev core.PipelineEvent) {
	target := s.RefinementIteration + 1
	if ev.RefinementIteration != nil {
		if *ev.RefinementIteration <= s.RefinementIteration {
			return
		}
		target = *ev.RefinementIteration
	}
	if limit := s.MaxRefinementIterations; limit > 0 && target > limit {
		c.finish(s, fmt.Sprintf("refinement iteration %d exceeds maximum of %d", target, limit))
		return
	}

	s.RefinementIteration = target
	s.RefinementOutcome = ""
	for _, id := range c.gates {
		if n, ok := s.Nodes[id]; ok {
			s.Nodes[id] = n.Reset()
		}
	}
}

// finish forces the refiner to completed. Reaching the bound is a clean end
// of the loop, not a failure.
func (c *RefinementController) finish(s *core.RunState, reason string) {
	if reason == "" {
		if s.MaxRefinementIterations > 0 {
			reason = fmt.Sprintf("maximum refinement iterations reached (%d)", s.MaxRefinementIterations)
		} else {
			reason = "maximum refinement iterations reached"
		}
	}
	n := ensureNode(s, core.RefinerAgentID)
	n.Status = core.NodeCompleted
	n.Message = reason
	n.Error = ""
	s.Nodes[n.ID] = n
	s.RefinementOutcome = reason
}

func (c *RefinementController) restart(s *core.RunState) {
	for id, n := range s.Nodes {
		s.Nodes[id] = n.Reset()
	}
	s.Artifacts = map[string]core.ArtifactRecord{}
	s.ProgressPercent = 0
	s.IsRunning = true
	s.RetryRequested = false
	s.TerminalError = ""
	s.RefinementOutcome = ""
	// a restarted run re-issues its checkpoints under new ids
	s.OutstandingHitl = nil
	s.HitlOpenedAt = time.Time{}
}
