// Package pipewatch provides a high-level façade that wires the stream
// consumer from a config.Config. Most applications interact with this
// package by:
//  1. Loading a configuration via config.Load
//  2. Creating a Pipewatch via New (optionally overriding the backend,
//     metrics registry or logger)
//  3. Starting runs asynchronously (Start) or synchronously (RunSync)
//
// The façade delegates consumption to runner.Runner and exposes the same
// run through an optional HTTP server.
package pipewatch

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hupe1980/pipewatch/config"
	"github.com/hupe1980/pipewatch/core"
	"github.com/hupe1980/pipewatch/history"
	"github.com/hupe1980/pipewatch/logging"
	"github.com/hupe1980/pipewatch/metrics"
	"github.com/hupe1980/pipewatch/normalize"
	"github.com/hupe1980/pipewatch/runner"
	"github.com/hupe1980/pipewatch/server"
	"github.com/hupe1980/pipewatch/transport"
)

// Options configures the Pipewatch instance.
type Options struct {
	// Backend overrides the HTTP client built from the backend config.
	Backend runner.Backend
	// Registerer receives the consumer metrics. Defaults to
	// prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer
	// Gatherer backs the /metrics route of Server.
	Gatherer prometheus.Gatherer
	// LogOutput receives structured logs. Defaults to os.Stderr.
	LogOutput io.Writer
	// OnSnapshot and OnWarning are forwarded to the runner.
	OnSnapshot func(core.RunState)
	OnWarning  func(runID string, err error)
}

// Pipewatch aggregates the runner and its services.
type Pipewatch struct {
	cfg     config.Config
	opts    Options
	logger  *logging.StreamLogger
	runner  *runner.Runner
	history core.HistoryStore
	closeFn func() error
}

// New wires a Pipewatch from cfg.
func New(cfg config.Config, optFns ...func(o *Options)) (*Pipewatch, error) {
	opts := Options{
		Registerer: prometheus.DefaultRegisterer,
		Gatherer:   prometheus.DefaultGatherer,
		LogOutput:  os.Stderr,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := logging.NewLogger(&logging.LoggerConfig{
		Level:  logging.ParseLevel(cfg.Log.Level),
		Format: cfg.Log.Format,
		Output: opts.LogOutput,
	})

	store, closeFn, err := openHistory(cfg.History)
	if err != nil {
		return nil, err
	}

	backend := opts.Backend
	if backend == nil {
		backend = transport.NewClient(cfg.Backend.BaseURL, func(o *transport.ClientOptions) {
			o.StreamPath = cfg.Backend.StreamPath
			o.HitlPath = cfg.Backend.HitlPath
			o.SubmitTimeout = cfg.Backend.Timeout
			o.Logger = logger.WithComponent("transport")
		})
	}

	r := runner.New(backend, func(o *runner.Options) {
		o.Normalizer = normalize.New(func(no *normalize.Options) {
			no.LenientJSON = cfg.Normalize.LenientJSON
			no.Logger = logger.WithComponent("normalize")
		})
		o.QualityGateNodes = cfg.Pipeline.QualityGateNodes
		o.MaxRefinementIterations = cfg.Pipeline.MaxRefinementIterations
		o.ReasoningOpenMarker = cfg.Reasoning.OpenMarker
		o.ReasoningCloseMarker = cfg.Reasoning.CloseMarker
		o.GracePeriod = cfg.Hitl.GracePeriod
		o.History = store
		o.Metrics = metrics.MustNew(opts.Registerer)
		o.Logger = logger
		o.OnSnapshot = opts.OnSnapshot
		o.OnWarning = opts.OnWarning
	})

	return &Pipewatch{
		cfg:     cfg,
		opts:    opts,
		logger:  logger,
		runner:  r,
		history: store,
		closeFn: closeFn,
	}, nil
}

func openHistory(cfg config.HistoryConfig) (core.HistoryStore, func() error, error) {
	if cfg.SQLitePath != "" {
		s, err := history.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open history: %w", err)
		}
		return s, s.Close, nil
	}
	return history.NewInMemoryStore(cfg.Size), func() error { return nil }, nil
}

// Runner returns the underlying runner.
func (p *Pipewatch) Runner() *runner.Runner { return p.runner }

// Logger returns the root logger.
func (p *Pipewatch) Logger() *logging.StreamLogger { return p.logger }

// History returns the store of finished runs.
func (p *Pipewatch) History() core.HistoryStore { return p.history }

// Start begins a run, cancelling the current one.
func (p *Pipewatch) Start(ctx context.Context, req transport.TaskRequest) (*runner.RunHandle, error) {
	return p.runner.Start(ctx, req)
}

// RunSync starts a run and blocks until it finishes or ctx is done. The
// returned state is the last snapshot either way.
func (p *Pipewatch) RunSync(ctx context.Context, req transport.TaskRequest) (core.RunState, error) {
	h, err := p.runner.Start(ctx, req)
	if err != nil {
		return core.RunState{}, err
	}
	select {
	case <-h.Done():
		return h.State(), h.Err()
	case <-ctx.Done():
		_ = p.runner.Cancel(h)
		return h.State(), ctx.Err()
	}
}

// Server builds the HTTP façade over this instance. Runs started over HTTP
// live until ctx is done.
func (p *Pipewatch) Server(ctx context.Context) *server.Server {
	return server.New(p.runner, func(o *server.Options) {
		o.Gatherer = p.opts.Gatherer
		o.BaseContext = ctx
		o.Logger = p.logger.WithComponent("server")
	})
}

// Close cancels the current run and releases the history store.
func (p *Pipewatch) Close() error {
	if p.runner.Current() != nil {
		_ = p.runner.CancelCurrent()
	}
	return p.closeFn()
}
