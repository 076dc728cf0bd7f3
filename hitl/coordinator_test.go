package hitl

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/pipewatch/core"
	tu "github.com/hupe1980/pipewatch/internal/testutil"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newCoordinator() (*Coordinator, *clock) {
	clk := &clock{t: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	return New(func(o *Options) { o.Now = clk.now }), clk
}

func awaiting(id string, allowSkip bool) core.PipelineEvent {
	return tu.NewEventBuilder("planner", core.StatusAwaitingApproval).Hitl(id, "Review plan", allowSkip).Build()
}

func feedback(s string) *string { return &s }

func TestObserve_OpensCheckpoint(t *testing.T) {
	c, clk := newCoordinator()
	s := core.NewRunState("r")

	require.NoError(t, c.Observe(&s, awaiting("req-1", false)))
	require.NotNil(t, s.OutstandingHitl)
	assert.Equal(t, "req-1", s.OutstandingHitl.RequestID)
	assert.Equal(t, clk.t, s.HitlOpenedAt)
	assert.Equal(t, core.NodeRunning, s.Nodes[core.HitlAgentID].Status)
	assert.Equal(t, "Review plan", s.Nodes[core.HitlAgentID].Message)
}

func TestObserve_IgnoresOtherEvents(t *testing.T) {
	c, _ := newCoordinator()
	s := core.NewRunState("r")
	require.NoError(t, c.Observe(&s, tu.NewEventBuilder("planner", core.StatusAwaitingApproval).Build()))
	require.NoError(t, c.Observe(&s, tu.NewEventBuilder("planner", core.StatusRunning).Hitl("x", "t", false).Build()))
	assert.Nil(t, s.OutstandingHitl)
	assert.Empty(t, s.Nodes)
}

func TestObserve_ConcurrentCheckpointIsViolation(t *testing.T) {
	c, _ := newCoordinator()
	s := core.NewRunState("r")
	require.NoError(t, c.Observe(&s, awaiting("req-1", false)))

	err := c.Observe(&s, awaiting("req-2", true))
	require.ErrorIs(t, err, core.ErrProtocolViolation)
	var pv *core.ProtocolViolation
	require.ErrorAs(t, err, &pv)
	assert.Equal(t, core.ViolationConcurrentCheckpoint, pv.Kind)
	assert.Equal(t, "req-1", pv.Outstanding)
	assert.Equal(t, "req-1", s.OutstandingHitl.RequestID, "must not overwrite")
}

func TestObserve_ReplayIsIdempotent(t *testing.T) {
	c, _ := newCoordinator()
	s := core.NewRunState("r")
	require.NoError(t, c.Observe(&s, awaiting("req-1", false)))
	before := s.Clone()
	require.NoError(t, c.Observe(&s, awaiting("req-1", false)))
	assert.Equal(t, before, s)
}

func TestValidate_Errors(t *testing.T) {
	c, _ := newCoordinator()
	open := tu.NewStateBuilder("r").Outstanding("req-1", false).Build()

	tests := []struct {
		name  string
		state core.RunState
		resp  core.HitlResponse
		kind  string
	}{
		{"no outstanding", core.NewRunState("r"), core.HitlResponse{RequestID: "req-1", Action: core.HitlApprove}, core.ViolationNoOutstanding},
		{"unknown id", open, core.HitlResponse{RequestID: "req-9", Action: core.HitlApprove}, core.ViolationUnknownRequest},
		{"bad action", open, core.HitlResponse{RequestID: "req-1", Action: "shrug"}, core.ViolationInvalidAction},
		{"skip refused", open, core.HitlResponse{RequestID: "req-1", Action: core.HitlSkip}, core.ViolationSkipNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Validate(tt.state, tt.resp)
			var pv *core.ProtocolViolation
			require.ErrorAs(t, err, &pv)
			assert.Equal(t, tt.kind, pv.Kind)
		})
	}
}

func TestResolve_Outcomes(t *testing.T) {
	tests := []struct {
		action     core.HitlAction
		allowSkip  bool
		wantStatus core.NodeStatus
		wantMsg    string
		wantRetry  bool
	}{
		{"approved", false, core.NodeCompleted, "approved", false},
		{core.HitlModify, false, core.NodeCompleted, "approved with modifications", false},
		{core.HitlSkip, true, core.NodeCompleted, "skipped", false},
		{core.HitlReject, false, core.NodeError, "rejected: too risky", false},
		{core.HitlRetry, false, core.NodeCompleted, "retry requested: too risky", true},
	}
	for _, tt := range tests {
		t.Run(string(tt.action), func(t *testing.T) {
			c, clk := newCoordinator()
			s := core.NewRunState("r")
			require.NoError(t, c.Observe(&s, awaiting("req-1", tt.allowSkip)))
			clk.t = clk.t.Add(90 * time.Second)

			out, err := c.Resolve(&s, core.HitlResponse{RequestID: "req-1", Action: tt.action, Feedback: feedback("too risky")})
			require.NoError(t, err)
			assert.Equal(t, 90*time.Second, out.Waited)
			assert.Nil(t, s.OutstandingHitl)
			assert.True(t, s.HitlOpenedAt.IsZero())

			n := s.Nodes[core.HitlAgentID]
			assert.Equal(t, tt.wantStatus, n.Status)
			assert.Equal(t, tt.wantMsg, n.Message)
			assert.Equal(t, tt.wantRetry, s.RetryRequested)
		})
	}
}

func TestResolve_NewCheckpointResetsHitlNode(t *testing.T) {
	c, _ := newCoordinator()
	s := core.NewRunState("r")
	require.NoError(t, c.Observe(&s, awaiting("req-1", false)))
	_, err := c.Resolve(&s, core.HitlResponse{RequestID: "req-1", Action: core.HitlReject})
	require.NoError(t, err)
	assert.Equal(t, core.NodeError, s.Nodes[core.HitlAgentID].Status)

	require.NoError(t, c.Observe(&s, awaiting("req-2", false)))
	n := s.Nodes[core.HitlAgentID]
	assert.Equal(t, core.NodeRunning, n.Status)
	assert.Empty(t, n.Error)
	assert.Equal(t, []string{core.HitlAgentID}, s.NodeOrder)
}

func TestResolve_FailedValidationLeavesStateUntouched(t *testing.T) {
	c, _ := newCoordinator()
	s := core.NewRunState("r")
	require.NoError(t, c.Observe(&s, awaiting("req-1", false)))
	before := s.Clone()

	_, err := c.Resolve(&s, core.HitlResponse{RequestID: "other", Action: core.HitlApprove})
	require.Error(t, err)
	assert.Equal(t, before, s)
}
