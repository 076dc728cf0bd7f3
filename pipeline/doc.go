// Package pipeline folds normalized events into the node graph of a run.
//
// Machine.Apply is a pure transition: it clones the incoming RunState,
// applies one PipelineEvent and returns the result. Machine.Step performs the
// same transition in place for callers that already own a private copy.
//
// Node statuses only move forward along pending < running < {completed,
// error}. The RefinementController layered on top is the only component
// allowed to move a node back to pending, either for the configured quality
// gate nodes on a new iteration or for every node on a full restart.
//
// Progress is a heuristic: 100 * (completed + 0.5*running) / total, clamped
// to [0,100]. It says nothing about wall-clock time remaining.
package pipeline
