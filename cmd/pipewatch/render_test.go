package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/pipewatch/core"
	tu "github.com/hupe1980/pipewatch/internal/testutil"
)

func init() { color.NoColor = true }

func TestRenderer_PrintsOnlyChanges(t *testing.T) {
	var buf bytes.Buffer
	r := newRenderer(&buf)

	st := tu.NewStateBuilder("run-1").Node("planner", core.NodeRunning).Build()
	r.render(st)
	r.render(st)
	assert.Equal(t, 1, strings.Count(buf.String(), "planner"))

	st = tu.NewStateBuilder("run-1").
		Node("planner", core.NodeCompleted).
		Artifact("main.go", "package main").
		Build()
	r.render(st)
	out := buf.String()
	assert.Contains(t, out, "completed")
	assert.Contains(t, out, "+ main.go")
}

func TestParseAnswer(t *testing.T) {
	tests := []struct {
		line     string
		action   core.HitlAction
		feedback string
		modified string
		ok       bool
	}{
		{line: "a", action: core.HitlApprove, ok: true},
		{line: "approve looks good", action: core.HitlApprove, feedback: "looks good", ok: true},
		{line: "r too slow\n", action: core.HitlReject, feedback: "too slow", ok: true},
		{line: "t", action: core.HitlRetry, ok: true},
		{line: "s", action: core.HitlSkip, ok: true},
		{line: "m use sqlite", action: core.HitlModify, modified: "use sqlite", ok: true},
		{line: "maybe", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			resp, ok := parseAnswer("req-1", tt.line)
			require.Equal(t, tt.ok, ok)
			if !ok {
				return
			}
			assert.Equal(t, "req-1", resp.RequestID)
			assert.Equal(t, tt.action, resp.Action)
			if tt.feedback != "" {
				require.NotNil(t, resp.Feedback)
				assert.Equal(t, tt.feedback, *resp.Feedback)
			} else {
				assert.Nil(t, resp.Feedback)
			}
			if tt.modified != "" {
				require.NotNil(t, resp.ModifiedContent)
				assert.Equal(t, tt.modified, *resp.ModifiedContent)
			}
		})
	}
}

func TestSummary(t *testing.T) {
	var buf bytes.Buffer
	st := tu.NewStateBuilder("run-9").Node("coder", core.NodeError).Build()
	st.TerminalError = "backend timed out"
	summary(&buf, st, nil)
	assert.Contains(t, buf.String(), "run-9")
	assert.Contains(t, buf.String(), "1 failed")
	assert.Contains(t, buf.String(), "error: backend timed out")
}
