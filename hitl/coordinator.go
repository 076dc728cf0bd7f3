// Package hitl coordinates human-in-the-loop checkpoints.
//
// The Coordinator is a two-state machine, Idle and AwaitingResponse, kept
// inside the RunState itself (RunState.OutstandingHitl). An awaiting_approval
// event carrying a request opens a checkpoint; only a caller response with
// the matching request id closes it. A second checkpoint arriving while one
// is open is reported as a *core.ProtocolViolation and never replaces the
// open one. Replays of the open request are accepted silently.
//
// Outcomes are recorded optimistically on the "hitl" pseudo-node so the
// dashboard reflects a decision before the backend confirms it.
package hitl

import (
	"time"

	"github.com/hupe1980/pipewatch/core"
)

// Options configures a Coordinator.
type Options struct {
	// Now stamps HitlOpenedAt. Defaults to time.Now.
	Now func() time.Time
}

// Coordinator applies checkpoint transitions to a RunState.
type Coordinator struct {
	now func() time.Time
}

// New creates a Coordinator.
func New(optFns ...func(o *Options)) *Coordinator {
	opts := Options{Now: time.Now}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Coordinator{now: opts.Now}
}

// Outcome describes a resolved checkpoint.
type Outcome struct {
	RequestID string
	Action    core.HitlAction
	// Waited is how long the checkpoint stayed outstanding.
	Waited time.Duration
}

// Observe opens a checkpoint when ev is an awaiting_approval event with a
// request. It returns a *core.ProtocolViolation when a different request is
// already outstanding; s is then left unchanged.
func (c *Coordinator) Observe(s *core.RunState, ev core.PipelineEvent) error {
	if ev.Status != core.StatusAwaitingApproval || ev.HitlRequest == nil {
		return nil
	}
	req := ev.HitlRequest

	if cur := s.OutstandingHitl; cur != nil {
		if cur.RequestID == req.RequestID {
			return nil
		}
		return &core.ProtocolViolation{
			Kind:        core.ViolationConcurrentCheckpoint,
			RequestID:   req.RequestID,
			Outstanding: cur.RequestID,
			Message:     "a checkpoint is already awaiting a response",
		}
	}

	s.OutstandingHitl = req.Clone()
	s.HitlOpenedAt = c.now().UTC()

	n := hitlNode(s).Reset()
	n.Status = core.NodeRunning
	n.LastLifecycle = core.StatusAwaitingApproval
	n.Message = req.Title
	s.Nodes[n.ID] = n
	return nil
}

// Validate checks resp against the outstanding checkpoint of s without
// changing anything.
func (c *Coordinator) Validate(s core.RunState, resp core.HitlResponse) (core.HitlAction, error) {
	cur := s.OutstandingHitl
	if cur == nil {
		return "", &core.ProtocolViolation{
			Kind:      core.ViolationNoOutstanding,
			RequestID: resp.RequestID,
			Message:   "no checkpoint is awaiting a response",
		}
	}
	if resp.RequestID != cur.RequestID {
		return "", &core.ProtocolViolation{
			Kind:        core.ViolationUnknownRequest,
			RequestID:   resp.RequestID,
			Outstanding: cur.RequestID,
		}
	}
	action, ok := core.ParseHitlAction(string(resp.Action))
	if !ok {
		return "", &core.ProtocolViolation{
			Kind:      core.ViolationInvalidAction,
			RequestID: resp.RequestID,
			Message:   "unknown action " + string(resp.Action),
		}
	}
	if action == core.HitlSkip && !cur.AllowSkip {
		return "", &core.ProtocolViolation{
			Kind:      core.ViolationSkipNotAllowed,
			RequestID: resp.RequestID,
			Message:   "checkpoint does not allow skipping",
		}
	}
	return action, nil
}

// Resolve validates resp, records the outcome on the hitl node and returns
// the state to Idle.
func (c *Coordinator) Resolve(s *core.RunState, resp core.HitlResponse) (Outcome, error) {
	action, err := c.Validate(*s, resp)
	if err != nil {
		return Outcome{}, err
	}

	out := Outcome{RequestID: resp.RequestID, Action: action}
	if !s.HitlOpenedAt.IsZero() {
		out.Waited = c.now().Sub(s.HitlOpenedAt)
	}

	n := hitlNode(s)
	switch action {
	case core.HitlReject:
		n.Status = core.NodeError
		n.LastLifecycle = core.StatusRejected
		n.Error = "rejected"
		if resp.Feedback != nil && *resp.Feedback != "" {
			n.Error = "rejected: " + *resp.Feedback
		}
		n.Message = n.Error
	case core.HitlRetry:
		n.Status = core.NodeCompleted
		n.LastLifecycle = core.StatusRetryRequested
		n.Message = "retry requested"
		if resp.Feedback != nil && *resp.Feedback != "" {
			n.Message += ": " + *resp.Feedback
		}
		s.RetryRequested = true
	default:
		n.Status = core.NodeCompleted
		n.LastLifecycle = core.StatusApproved
		n.Message = outcomeText(action)
	}
	s.Nodes[n.ID] = n

	s.OutstandingHitl = nil
	s.HitlOpenedAt = time.Time{}
	s.UpdatedAt = c.now().UTC()
	return out, nil
}

func outcomeText(a core.HitlAction) string {
	switch a {
	case core.HitlSkip:
		return "skipped"
	case core.HitlModify:
		return "approved with modifications"
	default:
		return "approved"
	}
}

func hitlNode(s *core.RunState) core.AgentNode {
	if s.Nodes == nil {
		s.Nodes = map[string]core.AgentNode{}
	}
	if n, ok := s.Nodes[core.HitlAgentID]; ok {
		return n
	}
	n := core.NewAgentNode(core.HitlAgentID)
	s.Nodes[n.ID] = n
	s.NodeOrder = append(s.NodeOrder, n.ID)
	return n
}
