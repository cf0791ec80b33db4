package rmr

import (
	"time"

	"github.com/drblury/xappflow/internal/runtime/errors"
	"github.com/drblury/xappflow/internal/runtime/logging"
)

// receiver waits for the transport to become ready and then moves every
// inbound message onto the handoff queue.
type receiver struct {
	shared   *SharedClient
	out      chan<- *Buffer
	state    *runState
	procDone <-chan struct{}
	cfg      PipelineConfig
	logger   logging.ServiceLogger
	observer PipelineObserver
}

func (r *receiver) run() error {
	defer close(r.out)
	r.logger.Info("Starting receiver", nil)

	if err := r.waitReady(); err != nil {
		r.logger.Error("Transport not ready, receiver stopped", err, nil)
		return err
	}
	r.logger.Info("Transport ready", nil)

	var notify <-chan struct{}
	err := r.shared.Do(func(c *Client) error {
		ch, err := c.RecvNotify()
		notify = ch
		return err
	})
	if err != nil {
		return err
	}

	wait := time.NewTimer(r.cfg.EventWaitTimeout)
	defer wait.Stop()
	for r.state.running() {
		resetTimer(wait, r.cfg.EventWaitTimeout)
		select {
		case <-notify:
		case <-wait.C:
			continue
		case <-r.state.stopped:
			continue
		}

		var buf *Buffer
		err := r.shared.Do(func(c *Client) error {
			b, err := c.receive()
			buf = b
			return err
		})
		if err != nil {
			r.logger.Error("Receive failed, receiver stopped", err, nil)
			return err
		}
		r.logger.Trace("Message received", logging.LogFields{
			"mtype": buf.MessageType(),
			"state": buf.State().String(),
			"len":   buf.Len(),
			"cap":   buf.PayloadCapacity(),
		})
		r.observer.MessageReceived(buf.MessageType())
		r.forward(buf)
	}
	r.logger.Info("Receiver stopped", nil)
	return nil
}

func (r *receiver) waitReady() error {
	for {
		if r.shared.IsReady() {
			return nil
		}
		r.logger.Debug("Waiting for transport to be ready", nil)
		select {
		case <-time.After(r.cfg.ReadyBackoff):
		case <-r.state.stopped:
		}
		if !r.state.running() {
			return errors.ErrNotReadyAtShutdown
		}
	}
}

// forward blocks while the queue is full. The buffer is released instead when
// the processor has exited or the pipeline is stopping.
func (r *receiver) forward(buf *Buffer) {
	poll := time.NewTimer(r.cfg.EventWaitTimeout)
	defer poll.Stop()
	for {
		select {
		case r.out <- buf:
			return
		case <-r.procDone:
			r.drop(buf)
			return
		case <-poll.C:
			if !r.state.running() {
				r.drop(buf)
				return
			}
			poll.Reset(r.cfg.EventWaitTimeout)
		}
	}
}

func (r *receiver) drop(buf *Buffer) {
	mtype := buf.MessageType()
	_ = r.shared.Do(func(*Client) error {
		buf.release()
		return nil
	})
	r.state.dropped.Add(1)
	r.observer.MessageDropped(mtype)
	r.logger.Debug("Message dropped", logging.LogFields{"mtype": mtype})
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
