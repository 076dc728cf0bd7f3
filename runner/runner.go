package runner

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/pipewatch/core"
	"github.com/hupe1980/pipewatch/hitl"
	"github.com/hupe1980/pipewatch/history"
	"github.com/hupe1980/pipewatch/logging"
	"github.com/hupe1980/pipewatch/metrics"
	"github.com/hupe1980/pipewatch/normalize"
	"github.com/hupe1980/pipewatch/pipeline"
	"github.com/hupe1980/pipewatch/reasoning"
	"github.com/hupe1980/pipewatch/transport"
)

// StreamOpener starts a run on the backend and returns its record stream.
type StreamOpener interface {
	OpenStream(ctx context.Context, req transport.TaskRequest) (transport.RecordStream, error)
}

// HitlResponder delivers checkpoint responses over the side channel.
type HitlResponder interface {
	SubmitHitlResponse(ctx context.Context, resp core.HitlResponse) error
}

// Backend is the orchestration backend as seen by the runner.
// *transport.Client implements it.
type Backend interface {
	StreamOpener
	HitlResponder
}

var _ Backend = (*transport.Client)(nil)

// Options holds dependency + configuration overrides passed to New().
type Options struct {
	// Normalizer converts wire records into events.
	Normalizer *normalize.Normalizer
	// QualityGateNodes are reset on every refinement iteration.
	QualityGateNodes []string
	// MaxRefinementIterations is the bound assumed until the backend sends one.
	MaxRefinementIterations int
	// ReasoningOpenMarker and ReasoningCloseMarker delimit reasoning blocks.
	ReasoningOpenMarker  string
	ReasoningCloseMarker string
	// GracePeriod keeps a cancelled run's checkpoint addressable.
	GracePeriod time.Duration
	// RecordBuffer is the number of decoded records read ahead of the fold.
	RecordBuffer int
	// History receives the final state of every run.
	History core.HistoryStore
	// Metrics is optional.
	Metrics *metrics.Metrics
	Logger  *logging.StreamLogger
	// OnSnapshot is called from the consumer goroutine after every applied
	// event with a private copy of the state. It must not block for long.
	OnSnapshot func(state core.RunState)
	// OnWarning receives parse failures, protocol violations and agent
	// errors. Called from the goroutine that observed them.
	OnWarning func(runID string, err error)
	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

// Runner coordinates the current run: opens the stream, drives the consumer
// loop, tracks cancellation and persists history. Public methods are safe for
// concurrent use.
type Runner struct {
	backend Backend
	opts    Options
	logger  *logging.StreamLogger

	startMu sync.Mutex
	mu      sync.Mutex
	current *RunHandle
}

// New constructs a Runner with optional overrides.
func New(backend Backend, optFns ...func(o *Options)) *Runner {
	opts := Options{
		GracePeriod:  30 * time.Second,
		RecordBuffer: 64,
		Now:          time.Now,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Normalizer == nil {
		opts.Normalizer = normalize.New()
	}
	if opts.History == nil {
		opts.History = history.NewInMemoryStore(history.DefaultSize)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewLogger(&logging.LoggerConfig{Level: logging.LogLevelInfo, Output: io.Discard})
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.RecordBuffer < 0 {
		opts.RecordBuffer = 0
	}

	return &Runner{
		backend: backend,
		opts:    opts,
		logger:  opts.Logger.WithComponent("runner"),
	}
}

// History returns the store that receives finished runs.
func (r *Runner) History() core.HistoryStore { return r.opts.History }

// Current returns the current run or nil.
func (r *Runner) Current() *RunHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Start cancels the current run, if any, and starts a new one. ctx bounds the
// lifetime of the new run.
func (r *Runner) Start(ctx context.Context, req transport.TaskRequest) (*RunHandle, error) {
	r.startMu.Lock()
	defer r.startMu.Unlock()

	if prev := r.Current(); prev != nil {
		prev.cancelAndWait()
	}

	runID := uuid.NewString()
	runCtx, cancel := context.WithCancel(ctx)

	stream, err := r.backend.OpenStream(runCtx, req)
	if err != nil {
		cancel()
		r.opts.Metrics.TransportError()
		return nil, fmt.Errorf("failed to open stream: %w", err)
	}

	h := r.newHandle(runCtx, cancel, runID, stream)
	r.mu.Lock()
	r.current = h
	r.mu.Unlock()
	r.logger.WithRun(runID).Info("run started", "workflow_id", req.WorkflowID)
	r.opts.Metrics.RunStarted()

	go h.loop()

	return h, nil
}

// Cancel cancels h and waits for its consumer loop to stop. Cancelling a
// finished run is a no-op.
func (r *Runner) Cancel(h *RunHandle) error {
	if h == nil {
		return ErrNoCurrentRun
	}
	h.cancelAndWait()
	return nil
}

// CancelCurrent cancels the current run.
func (r *Runner) CancelCurrent() error {
	return r.Cancel(r.Current())
}

func (r *Runner) newHandle(ctx context.Context, cancel context.CancelFunc, runID string, stream transport.RecordStream) *RunHandle {
	state := core.NewRunState(runID)
	state.StartedAt = r.opts.Now().UTC()
	state.UpdatedAt = state.StartedAt

	return &RunHandle{
		id:       runID,
		ctx:      ctx,
		cancel:   cancel,
		stream:   stream,
		backend:  r.backend,
		opts:     r.opts,
		logger:   r.logger.WithRun(runID),
		snapshot: state,
		fold: &folder{
			machine: pipeline.New(func(o *pipeline.Options) {
				o.QualityGateNodes = r.opts.QualityGateNodes
				o.MaxRefinementIterations = r.opts.MaxRefinementIterations
				o.Now = r.opts.Now
			}),
			coordinator: hitl.New(func(o *hitl.Options) { o.Now = r.opts.Now }),
			extractor:   reasoning.New(r.opts.ReasoningOpenMarker, r.opts.ReasoningCloseMarker),
		},
		applyCh: make(chan applyRequest),
		done:    make(chan struct{}),
	}
}
