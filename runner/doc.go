// Package runner implements the consumer loop that turns a backend event
// stream into a live RunState.
//
// A Runner owns at most one current run. Start opens the stream through a
// Backend and spawns a single consumer goroutine per run: it pulls records
// from the transport decoder, normalizes them and folds each event, one at a
// time, through the HITL coordinator, the reasoning extractor, the artifact
// merge and the pipeline state machine. No other goroutine writes the
// state; readers get deep-copied snapshots.
//
// # Error policy
//   - Parse failures are logged, counted and skipped.
//   - Protocol violations and agent errors are reported through OnWarning;
//     the run continues.
//   - Only a transport failure ends a run early. The last good state is kept
//     and annotated with the error.
//
// # HITL
//
// The loop never blocks on a checkpoint: it keeps draining the stream while a
// request is outstanding. RunHandle.SubmitHitlResponse validates the
// response, posts it to the backend and only then applies the outcome through
// the loop.
//
// # Cancellation
//
// Cancel stops the decoder, freezes the state at its last applied value and
// clears IsRunning. An outstanding request stays readable for a grace period
// in which late responses are accepted as no-ops.
package runner
