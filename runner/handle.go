package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/hupe1980/pipewatch/artifact"
	"github.com/hupe1980/pipewatch/core"
	"github.com/hupe1980/pipewatch/logging"
	"github.com/hupe1980/pipewatch/metrics"
	"github.com/hupe1980/pipewatch/transport"
)

type applyRequest struct {
	resp  core.HitlResponse
	reply chan error
}

type readResult struct {
	record string
	err    error
}

// RunHandle is one run started by a Runner. Query methods return copies and
// are safe for concurrent use.
type RunHandle struct {
	id      string
	ctx     context.Context
	cancel  context.CancelFunc
	stream  transport.RecordStream
	backend HitlResponder
	opts    Options
	logger  *logging.StreamLogger
	fold    *folder

	applyCh    chan applyRequest
	done       chan struct{}
	cancelOnce sync.Once
	submitMu   sync.Mutex

	mu          sync.RWMutex
	snapshot    core.RunState
	err         error
	cancelledAt time.Time
}

// ID returns the run id.
func (h *RunHandle) ID() string { return h.id }

// Done is closed when the consumer loop has stopped.
func (h *RunHandle) Done() <-chan struct{} { return h.done }

// Err returns the transport error that ended the run, if any.
func (h *RunHandle) Err() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.err
}

// State returns a snapshot of the run state.
func (h *RunHandle) State() core.RunState {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.snapshot.Clone()
}

// GetOutstandingHitl returns the open checkpoint or nil. A cancelled run
// keeps returning it until its grace period has passed.
func (h *RunHandle) GetOutstandingHitl() *core.HitlRequest {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.snapshot.Cancelled && !h.inGraceLocked() {
		return nil
	}
	return h.snapshot.OutstandingHitl.Clone()
}

// GetArtifacts returns the run's file set ordered by filename.
func (h *RunHandle) GetArtifacts() []core.ArtifactRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return artifact.Set(h.snapshot.Artifacts).Artifacts()
}

// GetArtifact returns one artifact or artifact.ErrNotFound.
func (h *RunHandle) GetArtifact(filename string) (core.ArtifactRecord, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return artifact.Set(h.snapshot.Artifacts).Get(filename)
}

// GetReasoningTranscript returns completed reasoning blocks followed by the
// one still in progress.
func (h *RunHandle) GetReasoningTranscript() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.snapshot.ReasoningTranscript()
}

// SubmitHitlResponse answers the outstanding checkpoint. The response is
// validated, delivered to the backend and then applied to the run. For a
// cancelled run it is a no-op during the grace period and ErrRunCancelled
// afterwards.
func (h *RunHandle) SubmitHitlResponse(ctx context.Context, resp core.HitlResponse) error {
	h.submitMu.Lock()
	defer h.submitMu.Unlock()

	snap := h.State()
	if snap.Cancelled {
		return h.lateResponse(resp)
	}

	action, err := h.fold.coordinator.Validate(snap, resp)
	if err != nil {
		h.reportViolation(err)
		return err
	}
	resp.Action = action

	if err := h.backend.SubmitHitlResponse(ctx, resp); err != nil {
		h.logger.Warn("hitl submission failed", "request_id", resp.RequestID, "error", err.Error())
		return fmt.Errorf("failed to submit hitl response: %w", err)
	}

	reply := make(chan error, 1)
	select {
	case h.applyCh <- applyRequest{resp: resp, reply: reply}:
		return <-reply
	case <-h.done:
		return h.applyDetached(resp)
	}
}

func (h *RunHandle) lateResponse(resp core.HitlResponse) error {
	h.mu.RLock()
	inGrace := h.inGraceLocked()
	h.mu.RUnlock()
	if !inGrace {
		return ErrRunCancelled
	}
	h.logger.Debug("ignoring late hitl response for cancelled run", "request_id", resp.RequestID)
	return nil
}

func (h *RunHandle) inGraceLocked() bool {
	if h.cancelledAt.IsZero() {
		return true
	}
	return h.opts.Now().Sub(h.cancelledAt) <= h.opts.GracePeriod
}

func (h *RunHandle) cancelAndWait() {
	h.release()
	<-h.done
}

// release stops the decoder and unblocks the reader goroutine.
func (h *RunHandle) release() {
	h.cancelOnce.Do(func() {
		h.cancel()
		if err := h.stream.Close(); err != nil {
			h.logger.Debug("closing stream", "error", err.Error())
		}
	})
}

func (h *RunHandle) loop() {
	defer close(h.done)

	state := h.State()
	records := make(chan readResult, h.opts.RecordBuffer)
	go h.read(records)

	for {
		select {
		case <-h.ctx.Done():
			h.finishCancelled(&state)
			return
		case req := <-h.applyCh:
			req.reply <- h.applyResponse(&state, req.resp)
		case rr := <-records:
			if h.ctx.Err() != nil {
				h.finishCancelled(&state)
				return
			}
			if rr.err != nil {
				h.finishStream(&state, rr.err)
				return
			}
			h.handleRecord(&state, rr.record)
			if state.Closed {
				outcome := metrics.OutcomeCompleted
				if state.TerminalError != "" {
					outcome = metrics.OutcomeFailed
				}
				h.finish(state, outcome)
				return
			}
		}
	}
}

func (h *RunHandle) read(out chan<- readResult) {
	for {
		rec, err := h.stream.Next(h.ctx)
		select {
		case out <- readResult{record: rec, err: err}:
		case <-h.ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

func (h *RunHandle) handleRecord(state *core.RunState, rec string) {
	ev, err := h.opts.Normalizer.Normalize(rec)
	if err != nil {
		h.opts.Metrics.ParseFailure()
		h.logger.LogParseFailure(rec, err)
		h.warn(err)
		return
	}

	for _, w := range h.fold.apply(state, ev) {
		var ae *core.AgentError
		if errors.As(w, &ae) {
			h.logger.Warn("agent reported error", "agent_id", ae.AgentID, "error", ae.Message)
			h.warn(w)
			continue
		}
		h.reportViolation(w)
	}

	h.opts.Metrics.EventApplied(string(ev.Status))
	h.opts.Metrics.SetProgress(state.ProgressPercent)
	h.publish(*state)
}

func (h *RunHandle) applyResponse(state *core.RunState, resp core.HitlResponse) error {
	out, err := h.fold.resolve(state, resp)
	if err != nil {
		h.reportViolation(err)
		return err
	}
	h.opts.Metrics.ObserveHitlWait(string(out.Action), out.Waited)
	h.opts.Metrics.SetProgress(state.ProgressPercent)
	h.logger.Info("checkpoint resolved", "request_id", out.RequestID, "action", string(out.Action), "waited", out.Waited)
	h.publish(*state)
	return nil
}

// applyDetached resolves a checkpoint after the loop has stopped; the
// snapshot is then the only copy of the state.
func (h *RunHandle) applyDetached(resp core.HitlResponse) error {
	h.mu.Lock()
	state := h.snapshot.Clone()
	if state.Cancelled {
		h.mu.Unlock()
		return h.lateResponse(resp)
	}
	out, err := h.fold.resolve(&state, resp)
	if err != nil {
		h.mu.Unlock()
		h.reportViolation(err)
		return err
	}
	h.snapshot = state.Clone()
	h.mu.Unlock()

	h.opts.Metrics.ObserveHitlWait(string(out.Action), out.Waited)
	h.notify(state)
	h.save(state)
	return nil
}

func (h *RunHandle) finishStream(state *core.RunState, err error) {
	if errors.Is(err, io.EOF) {
		h.fold.flush(state)
		state.IsRunning = false
		h.finish(*state, metrics.OutcomeEOF)
		return
	}

	state.IsRunning = false
	state.Closed = true
	state.TerminalError = err.Error()

	h.mu.Lock()
	h.err = err
	h.mu.Unlock()

	h.opts.Metrics.TransportError()
	h.logger.LogTransportError(err)
	h.finish(*state, metrics.OutcomeFailed)
}

func (h *RunHandle) finishCancelled(state *core.RunState) {
	now := h.opts.Now()
	state.Cancelled = true
	state.IsRunning = false

	h.mu.Lock()
	h.cancelledAt = now
	h.mu.Unlock()

	h.finish(*state, metrics.OutcomeCancelled)
}

func (h *RunHandle) finish(state core.RunState, outcome string) {
	h.release()
	h.publish(state)
	h.save(state)
	h.opts.Metrics.RunFinished(outcome)
	h.logger.LogRunSummary(state.EventsApplied, len(state.Artifacts), state.ProgressPercent,
		h.opts.Now().Sub(state.StartedAt), state.TerminalError)
}

func (h *RunHandle) save(state core.RunState) {
	if err := h.opts.History.Save(context.Background(), state); err != nil {
		h.logger.Warn("failed to save run history", "error", err.Error())
	}
}

func (h *RunHandle) publish(state core.RunState) {
	h.mu.Lock()
	h.snapshot = state.Clone()
	h.mu.Unlock()
	h.notify(state)
}

func (h *RunHandle) notify(state core.RunState) {
	if h.opts.OnSnapshot != nil {
		h.opts.OnSnapshot(state.Clone())
	}
}

func (h *RunHandle) reportViolation(err error) {
	var pv *core.ProtocolViolation
	if errors.As(err, &pv) {
		h.opts.Metrics.ProtocolViolation(pv.Kind)
		h.logger.LogProtocolViolation(err)
	}
	h.warn(err)
}

func (h *RunHandle) warn(err error) {
	if h.opts.OnWarning != nil {
		h.opts.OnWarning(h.id, err)
	}
}
