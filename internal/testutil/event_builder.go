package testutil

import (
	"encoding/json"

	"github.com/hupe1980/pipewatch/core"
)

// EventBuilder provides a fluent helper for constructing events in tests.
// Example:
//
//	ev := NewEventBuilder("coder", core.StatusRunning).Fragment("hello").Build()
//	rec := NewEventBuilder("workflow", core.StatusCompleted).Final().Wire()
//
// Chain only the parts you need; absent parts stay nil.
type EventBuilder struct {
	ev core.PipelineEvent
}

// NewEventBuilder creates a builder for agent with status.
func NewEventBuilder(agent string, status core.LifecycleStatus) *EventBuilder {
	return &EventBuilder{ev: core.PipelineEvent{AgentID: agent, Status: status}}
}

// Title sets the display title (chainable).
func (b *EventBuilder) Title(t string) *EventBuilder { b.ev.DisplayTitle = &t; return b }

// Description sets the node description (chainable).
func (b *EventBuilder) Description(d string) *EventBuilder { b.ev.Description = &d; return b }

// Message sets the free-form message (chainable).
func (b *EventBuilder) Message(m string) *EventBuilder { b.ev.Message = &m; return b }

// Fragment sets the streaming text fragment (chainable).
func (b *EventBuilder) Fragment(f string) *EventBuilder { b.ev.StreamingFragment = &f; return b }

// ExecTime sets the execution time in seconds (chainable).
func (b *EventBuilder) ExecTime(s float64) *EventBuilder { b.ev.ExecutionTimeSeconds = &s; return b }

// Error sets the error text (chainable).
func (b *EventBuilder) Error(e string) *EventBuilder { b.ev.Error = &e; return b }

// Iteration sets the refinement iteration (chainable).
func (b *EventBuilder) Iteration(n int) *EventBuilder { b.ev.RefinementIteration = &n; return b }

// MaxIterations sets the refinement bound (chainable).
func (b *EventBuilder) MaxIterations(n int) *EventBuilder { b.ev.MaxRefinementIterations = &n; return b }

// Final flags the event as the last of the run (chainable).
func (b *EventBuilder) Final() *EventBuilder { t := true; b.ev.IsFinal = &t; return b }

// Artifact appends a created artifact with content (chainable).
func (b *EventBuilder) Artifact(filename, content string) *EventBuilder {
	b.ev.Artifacts = append(b.ev.Artifacts, core.ArtifactRecord{
		Filename: filename,
		Content:  content,
		Action:   core.ArtifactCreated,
	})
	return b
}

// Hitl attaches a checkpoint request (chainable).
func (b *EventBuilder) Hitl(requestID, title string, allowSkip bool) *EventBuilder {
	b.ev.HitlRequest = &core.HitlRequest{
		RequestID:      requestID,
		WorkflowID:     "wf-test",
		CheckpointType: "plan_review",
		Title:          title,
		AllowSkip:      allowSkip,
	}
	return b
}

// Build returns the event.
func (b *EventBuilder) Build() core.PipelineEvent { return b.ev }

// Wire returns the event encoded as a backend wire record using the
// backend's field names.
func (b *EventBuilder) Wire() string {
	m := map[string]any{
		"agent":  b.ev.AgentID,
		"status": string(b.ev.Status),
	}
	if b.ev.DisplayTitle != nil {
		m["title"] = *b.ev.DisplayTitle
	}
	if b.ev.Description != nil {
		m["description"] = *b.ev.Description
	}
	if b.ev.Message != nil {
		m["message"] = *b.ev.Message
	}
	if b.ev.StreamingFragment != nil {
		m["stream_chunk"] = *b.ev.StreamingFragment
	}
	if b.ev.ExecutionTimeSeconds != nil {
		m["execution_time"] = *b.ev.ExecutionTimeSeconds
	}
	if b.ev.Error != nil {
		m["error"] = *b.ev.Error
	}
	if b.ev.RefinementIteration != nil {
		m["iteration"] = *b.ev.RefinementIteration
	}
	if b.ev.MaxRefinementIterations != nil {
		m["max_iterations"] = *b.ev.MaxRefinementIterations
	}
	if b.ev.IsFinal != nil {
		m["is_final"] = *b.ev.IsFinal
	}
	if b.ev.Artifacts != nil {
		arts := make([]map[string]any, 0, len(b.ev.Artifacts))
		for _, a := range b.ev.Artifacts {
			arts = append(arts, map[string]any{
				"filename": a.Filename,
				"content":  a.Content,
				"action":   string(a.Action),
			})
		}
		m["artifacts"] = arts
	}
	if r := b.ev.HitlRequest; r != nil {
		m["hitl_request"] = map[string]any{
			"request_id":      r.RequestID,
			"workflow_id":     r.WorkflowID,
			"checkpoint_type": r.CheckpointType,
			"title":           r.Title,
			"description":     r.Description,
			"content":         r.Content,
			"allow_skip":      r.AllowSkip,
		}
	}
	data, err := json.Marshal(m)
	if err != nil {
		panic(err)
	}
	return string(data)
}

// SSE frames records as server-sent events terminated by the done marker.
func SSE(records ...string) string {
	out := ""
	for _, r := range records {
		out += "data: " + r + "\n\n"
	}
	return out + "data: [DONE]\n\n"
}

// NDJSON joins records with newlines.
func NDJSON(records ...string) string {
	out := ""
	for _, r := range records {
		out += r + "\n"
	}
	return out
}
