// Package core provides the foundational domain types shared by every stage of
// the stream consumer:
//
//   - PipelineEvent (one canonical update decoded from a wire record)
//   - AgentNode (one named stage of the orchestration pipeline)
//   - ArtifactRecord (a generated file keyed by filename)
//   - HitlRequest / HitlResponse (human approval checkpoints)
//   - RunState (the aggregate folded from events by the consumer loop)
//
// It also defines the error taxonomy (TransportError, ParseFailure,
// ProtocolViolation, AgentError) used across packages. The package keeps
// behavior out of scope: transitions live in pipeline, artifact, hitl and
// reasoning, which all operate on the values declared here.
package core
