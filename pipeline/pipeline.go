package pipeline

import (
	"time"

	"github.com/hupe1980/pipewatch/core"
)

// Options configures a Machine.
type Options struct {
	// QualityGateNodes are reset to pending when a refinement iteration starts.
	QualityGateNodes []string
	// MaxRefinementIterations is used until the backend reports its own bound.
	// Zero means unknown.
	MaxRefinementIterations int
	// Now stamps UpdatedAt. Defaults to time.Now.
	Now func() time.Time
}

// Machine applies events to a RunState.
type Machine struct {
	opts       Options
	refinement *RefinementController
}

// New creates a Machine.
func New(optFns ...func(o *Options)) *Machine {
	opts := Options{
		Now: time.Now,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Machine{
		opts:       opts,
		refinement: NewRefinementController(opts.QualityGateNodes, opts.MaxRefinementIterations),
	}
}

// Refinement returns the controller used by the machine.
func (m *Machine) Refinement() *RefinementController { return m.refinement }

// Apply returns the state that results from applying ev to s. s is left
// untouched. Events for a closed run are ignored.
func (m *Machine) Apply(s core.RunState, ev core.PipelineEvent) core.RunState {
	next := s.Clone()
	_ = m.Step(&next, ev)
	return next
}

// Step applies ev to s in place. It returns a *core.AgentError when the event
// reports a node failure; the failure is already recorded on the node and
// the run continues.
func (m *Machine) Step(s *core.RunState, ev core.PipelineEvent) error {
	if s.Closed {
		return nil
	}
	if s.Nodes == nil {
		s.Nodes = map[string]core.AgentNode{}
	}

	s.EventsApplied++
	s.UpdatedAt = m.opts.Now().UTC()
	if msg := ev.MessageText(); msg != "" {
		s.LastMessage = msg
	}

	var agentErr error
	if ev.IsWorkflow() {
		m.applyWorkflow(s, ev)
	} else {
		agentErr = m.applyNode(s, ev)
	}

	m.refinement.Observe(s, ev)

	if ev.IsTerminal() {
		closeRun(s)
		return agentErr
	}
	if !s.Closed {
		s.ProgressPercent = Progress(*s)
	}
	return agentErr
}

func (m *Machine) applyNode(s *core.RunState, ev core.PipelineEvent) error {
	n := ensureNode(s, ev.AgentID)

	if ev.DisplayTitle != nil && *ev.DisplayTitle != "" {
		n.Title = *ev.DisplayTitle
	}
	if ev.Description != nil {
		n.Description = *ev.Description
	}
	if ev.ExecutionTimeSeconds != nil {
		v := *ev.ExecutionTimeSeconds
		n.ExecutionTimeSeconds = &v
	}
	if ev.StreamingFragment != nil && *ev.StreamingFragment != "" {
		n.LastStreamingFragment = *ev.StreamingFragment
		n.Output += *ev.StreamingFragment
	}
	if msg := ev.MessageText(); msg != "" {
		n.Message = msg
	}
	n.LastLifecycle = ev.Status

	var agentErr error
	if next, ok := ev.Status.NodeStatus(); ok {
		if n.Status.CanTransition(next) {
			n.Status = next
		}
		if next == core.NodeError {
			n.Error = ev.ErrorText()
			if n.Error == "" {
				n.Error = string(ev.Status)
			}
			agentErr = &core.AgentError{AgentID: n.ID, Message: n.Error}
		}
	}

	s.Nodes[n.ID] = n
	return agentErr
}

func (m *Machine) applyWorkflow(s *core.RunState, ev core.PipelineEvent) {
	switch ev.Status {
	case core.StatusError, core.StatusTimeout:
		msg := ev.ErrorText()
		if msg == "" {
			msg = "workflow " + string(ev.Status)
		}
		s.TerminalError = msg
		s.IsRunning = false
		s.Closed = true
		s.ProgressPercent = Progress(*s)
	case core.StatusStopped:
		s.IsRunning = false
	case core.StatusStarting, core.StatusRunning:
		s.IsRunning = true
	}
}

// ensureNode returns the node for id, registering a pending one on first
// sighting.
func ensureNode(s *core.RunState, id string) core.AgentNode {
	if n, ok := s.Nodes[id]; ok {
		return n
	}
	n := core.NewAgentNode(id)
	s.Nodes[id] = n
	s.NodeOrder = append(s.NodeOrder, id)
	return n
}

// closeRun applies the terminal override.
func closeRun(s *core.RunState) {
	for id, n := range s.Nodes {
		if n.Status != core.NodeError {
			n.Status = core.NodeCompleted
			s.Nodes[id] = n
		}
	}
	s.ProgressPercent = 100
	s.IsRunning = false
	s.Closed = true
}

// Progress computes the aggregate progress heuristic for s.
func Progress(s core.RunState) float64 {
	total := len(s.Nodes)
	if total == 0 {
		return 0
	}
	var completed, running int
	for _, n := range s.Nodes {
		switch n.Status {
		case core.NodeCompleted:
			completed++
		case core.NodeRunning:
			running++
		}
	}
	p := 100 * (float64(completed) + 0.5*float64(running)) / float64(total)
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}
