package rmr

import (
	"fmt"
	"runtime/debug"
	"time"

	"github.com/drblury/xappflow/internal/runtime/logging"
)

// processor takes buffers off the handoff queue and dispatches them by their
// captured message type.
type processor struct {
	shared      *SharedClient
	in          <-chan *Buffer
	state       *runState
	registry    *Registry
	middlewares func() []Middleware
	done        chan struct{}
	cfg         PipelineConfig
	logger      logging.ServiceLogger
	observer    PipelineObserver
}

func (p *processor) run() {
	defer close(p.done)
	p.logger.Info("Starting processor", nil)

	wait := time.NewTimer(p.cfg.DispatchTimeout)
	defer wait.Stop()
	for {
		resetTimer(wait, p.cfg.DispatchTimeout)
		select {
		case buf, ok := <-p.in:
			if !ok {
				p.logger.Info("Processor stopped, queue closed", nil)
				return
			}
			p.process(buf)
		case <-wait.C:
		}
		if !p.state.running() {
			p.logger.Info("Processor stopped", nil)
			return
		}
	}
}

func (p *processor) process(buf *Buffer) {
	mtype := buf.MessageType()
	handler, registered := p.registry.Lookup(mtype)
	mws := p.middlewares()
	for i := len(mws) - 1; i >= 0; i-- {
		handler = mws[i](handler)
	}

	start := time.Now()
	err := p.shared.Do(func(c *Client) error {
		defer buf.release()
		return invoke(handler, buf, c)
	})
	elapsed := time.Since(start)

	if err != nil {
		p.logger.Error("Handler failed", err, logging.LogFields{"mtype": mtype, "registered": registered})
	} else if !registered {
		p.logger.Debug("Default handler called", logging.LogFields{"mtype": mtype})
	}
	p.observer.MessageDispatched(mtype, registered, elapsed, err)
}

func invoke(h HandlerFunc, buf *Buffer, c *Client) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return h(buf, c)
}

// PanicError is returned for a handler that panicked.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("handler panic: %v", e.Value)
}
