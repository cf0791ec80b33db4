package rmr

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/drblury/xappflow/internal/runtime/errors"
	"github.com/drblury/xappflow/internal/runtime/logging"
)

// PipelineConfig holds the queue size and the poll intervals of the pipeline.
// The intervals bound how long Stop takes to be observed.
type PipelineConfig struct {
	QueueSize        int
	ReadyBackoff     time.Duration
	EventWaitTimeout time.Duration
	DispatchTimeout  time.Duration
}

// DefaultPipelineConfig returns a queue of 1024 and one second poll intervals.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		QueueSize:        1024,
		ReadyBackoff:     time.Second,
		EventWaitTimeout: time.Second,
		DispatchTimeout:  time.Second,
	}
}

func (c PipelineConfig) withDefaults() PipelineConfig {
	d := DefaultPipelineConfig()
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if c.ReadyBackoff <= 0 {
		c.ReadyBackoff = d.ReadyBackoff
	}
	if c.EventWaitTimeout <= 0 {
		c.EventWaitTimeout = d.EventWaitTimeout
	}
	if c.DispatchTimeout <= 0 {
		c.DispatchTimeout = d.DispatchTimeout
	}
	return c
}

// PipelineObserver is notified of every message crossing the pipeline.
type PipelineObserver interface {
	MessageReceived(mtype int32)
	MessageDispatched(mtype int32, registered bool, elapsed time.Duration, err error)
	MessageDropped(mtype int32)
}

type nopObserver struct{}

func (nopObserver) MessageReceived(int32)                                {}
func (nopObserver) MessageDispatched(int32, bool, time.Duration, error) {}
func (nopObserver) MessageDropped(int32)                                 {}

// PipelineOption customises NewPipeline.
type PipelineOption func(*Pipeline)

// WithPipelineLogger sets the logger of the receiver and processor.
func WithPipelineLogger(log logging.ServiceLogger) PipelineOption {
	return func(p *Pipeline) {
		if log != nil {
			p.logger = log
		}
	}
}

// WithObserver registers an observer.
func WithObserver(o PipelineObserver) PipelineOption {
	return func(p *Pipeline) {
		if o != nil {
			p.observer = o
		}
	}
}

// WithMiddleware appends middlewares applied around every handler.
func WithMiddleware(mws ...Middleware) PipelineOption {
	return func(p *Pipeline) {
		p.middlewares = append(p.middlewares, mws...)
	}
}

type runState struct {
	flag     atomic.Bool
	stopped  chan struct{}
	stopOnce sync.Once
	dropped  atomic.Int64
}

func (s *runState) running() bool { return s.flag.Load() }

func (s *runState) stop() {
	s.flag.Store(false)
	s.stopOnce.Do(func() { close(s.stopped) })
}

// Pipeline runs one receiver and one processor over a shared client.
type Pipeline struct {
	shared   *SharedClient
	registry *Registry
	cfg      PipelineConfig
	logger   logging.ServiceLogger
	observer PipelineObserver

	mwMu        sync.RWMutex
	middlewares []Middleware

	mu       sync.Mutex
	state    *runState
	queue    chan *Buffer
	active   atomic.Pointer[chan *Buffer]
	recvDone chan error
	procDone chan struct{}
	started  bool
	joined   bool
	joinErr  error
}

// NewPipeline wires a pipeline. Nothing runs until Start.
func NewPipeline(shared *SharedClient, registry *Registry, cfg PipelineConfig, opts ...PipelineOption) *Pipeline {
	if registry == nil {
		registry = NewRegistry()
	}
	p := &Pipeline{
		shared:   shared,
		registry: registry,
		cfg:      cfg.withDefaults(),
		logger:   logging.NopLogger(),
		observer: nopObserver{},
		state:    &runState{stopped: make(chan struct{})},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Registry returns the handler registry.
func (p *Pipeline) Registry() *Registry { return p.registry }

// Config returns the effective configuration.
func (p *Pipeline) Config() PipelineConfig { return p.cfg }

// Use appends middlewares. It may be called while running.
func (p *Pipeline) Use(mws ...Middleware) {
	p.mwMu.Lock()
	defer p.mwMu.Unlock()
	p.middlewares = append(p.middlewares, mws...)
}

func (p *Pipeline) currentMiddlewares() []Middleware {
	p.mwMu.RLock()
	defer p.mwMu.RUnlock()
	return p.middlewares
}

// Start sets the running flag and launches the receiver and processor.
func (p *Pipeline) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return errors.ErrAlreadyStarted
	}
	p.started = true
	p.state.flag.Store(true)

	p.queue = make(chan *Buffer, p.cfg.QueueSize)
	p.active.Store(&p.queue)
	p.recvDone = make(chan error, 1)
	p.procDone = make(chan struct{})

	proc := &processor{
		shared:      p.shared,
		in:          p.queue,
		state:       p.state,
		registry:    p.registry,
		middlewares: p.currentMiddlewares,
		done:        p.procDone,
		cfg:         p.cfg,
		logger:      p.logger.With(logging.LogFields{"component": "processor"}),
		observer:    p.observer,
	}
	recv := &receiver{
		shared:   p.shared,
		out:      p.queue,
		state:    p.state,
		procDone: p.procDone,
		cfg:      p.cfg,
		logger:   p.logger.With(logging.LogFields{"component": "receiver"}),
		observer: p.observer,
	}
	go proc.run()
	go func() { p.recvDone <- recv.run() }()
	return nil
}

// Stop clears the running flag. It does not wait; use Join for that.
func (p *Pipeline) Stop() {
	p.state.stop()
}

// Running reports whether the pipeline was started and not yet stopped.
func (p *Pipeline) Running() bool { return p.state.running() }

// Dropped returns the number of messages released without dispatch.
func (p *Pipeline) Dropped() int64 { return p.state.dropped.Load() }

// QueueDepth returns the number of buffers waiting for the processor.
func (p *Pipeline) QueueDepth() int {
	if q := p.active.Load(); q != nil {
		return len(*q)
	}
	return 0
}

// IsReady reports whether the transport is ready.
func (p *Pipeline) IsReady() bool { return p.shared.IsReady() }

// Join waits for the receiver and the processor to exit and returns the
// receiver's terminal error. Buffers left on the queue are released. Later
// calls return the same result.
func (p *Pipeline) Join() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return errors.ErrNotStarted
	}
	if p.joined {
		return p.joinErr
	}

	err := <-p.recvDone
	<-p.procDone
	for buf := range p.queue {
		p.drop(buf)
	}
	p.joined = true
	p.joinErr = err
	return err
}

func (p *Pipeline) drop(buf *Buffer) {
	mtype := buf.MessageType()
	_ = p.shared.Do(func(*Client) error {
		buf.release()
		return nil
	})
	p.state.dropped.Add(1)
	p.observer.MessageDropped(mtype)
}
