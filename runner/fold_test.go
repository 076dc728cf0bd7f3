package runner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/pipewatch/core"
	"github.com/hupe1980/pipewatch/hitl"
	tu "github.com/hupe1980/pipewatch/internal/testutil"
	"github.com/hupe1980/pipewatch/pipeline"
	"github.com/hupe1980/pipewatch/reasoning"
)

func newFolder() *folder {
	return &folder{
		machine:     pipeline.New(func(o *pipeline.Options) { o.QualityGateNodes = []string{"reviewer"} }),
		coordinator: hitl.New(),
		extractor:   reasoning.New("", ""),
	}
}

func TestFolder_ArtifactsFromAnyAgent(t *testing.T) {
	f := newFolder()
	s := core.NewRunState("r")
	f.apply(&s, tu.NewEventBuilder("coder", core.StatusCompleted).Artifact("a.py", "1").Build())
	f.apply(&s, tu.NewEventBuilder("reviewer", core.StatusCompleted).Artifact("a.py", "2").Artifact("b.py", "x").Build())

	assert.Len(t, s.Artifacts, 2)
	assert.Equal(t, "2", s.Artifacts["a.py"].Content)
}

func TestFolder_RestartAcceptsReissuedCheckpoint(t *testing.T) {
	f := newFolder()
	s := core.NewRunState("r")
	errs := f.apply(&s, tu.NewEventBuilder(core.HitlAgentID, core.StatusAwaitingApproval).Hitl("r1", "Approve plan", false).Build())
	require.Empty(t, errs)
	f.apply(&s, tu.NewEventBuilder(core.WorkflowAgentID, core.StatusRestarting).Build())

	errs = f.apply(&s, tu.NewEventBuilder(core.HitlAgentID, core.StatusAwaitingApproval).Hitl("r2", "Approve plan", false).Build())
	assert.Empty(t, errs)
	require.NotNil(t, s.OutstandingHitl)
	assert.Equal(t, "r2", s.OutstandingHitl.RequestID)
	assert.Equal(t, core.NodeRunning, s.Nodes[core.HitlAgentID].Status)
}

func TestFolder_ClosedRunIgnoresEverything(t *testing.T) {
	f := newFolder()
	s := core.NewRunState("r")
	f.apply(&s, tu.NewEventBuilder(core.WorkflowAgentID, core.StatusCompleted).Build())
	before := s.Clone()

	warns := f.apply(&s, tu.NewEventBuilder("x", core.StatusAwaitingApproval).Hitl("r1", "t", false).Artifact("late.txt", "").Build())
	assert.Empty(t, warns)
	assert.Equal(t, before, s)
}

func TestFolder_ResolveRecomputesProgress(t *testing.T) {
	f := newFolder()
	s := core.NewRunState("r")
	f.apply(&s, tu.NewEventBuilder("planner", core.StatusAwaitingApproval).Hitl("req", "t", false).Build())
	assert.InDelta(t, 50, s.ProgressPercent, 1e-9)

	_, err := f.resolve(&s, core.HitlResponse{RequestID: "req", Action: core.HitlApprove})
	require.NoError(t, err)
	assert.InDelta(t, 75, s.ProgressPercent, 1e-9)
}

func TestFolder_FlushReleasesHeldText(t *testing.T) {
	f := newFolder()
	s := core.NewRunState("r")
	f.apply(&s, tu.NewEventBuilder("coder", core.StatusStreaming).Fragment("x <th").Build())
	assert.Equal(t, "x ", s.Nodes["coder"].Output)

	f.flush(&s)
	assert.Equal(t, "x <th", s.Nodes["coder"].Output)
	assert.Empty(t, s.ReasoningCarry)
	assert.Empty(t, s.ReasoningInProgress)
}

func TestFolder_AgentErrorWarning(t *testing.T) {
	f := newFolder()
	s := core.NewRunState("r")
	warns := f.apply(&s, tu.NewEventBuilder("coder", core.StatusError).Error("boom").Build())
	require.Len(t, warns, 1)
	assert.ErrorIs(t, warns[0], core.ErrAgentError)
	assert.True(t, s.IsRunning)
}
