// Package io provides a file journal bus for xappflow. Publishers append one
// JSON record per message; subscribers tail the file and pick the records of
// their topic. Useful for capturing and replaying traffic on a single host.
package io

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/xappflow/internal/runtime/jsoncodec"
	"github.com/drblury/xappflow/transport"
	"github.com/drblury/xappflow/transport/bridge"
)

// TransportName is the name used to register this driver.
const TransportName = "io"

// DefaultFilePath is used when no journal file is configured.
const DefaultFilePath = "messages.log"

// PollInterval is how often subscribers look for appended records.
var PollInterval = 50 * time.Millisecond

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(filePath string, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return &Publisher{filePath: filePath}, nil
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(filePath string, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return &Subscriber{filePath: filePath, logger: logger}, nil
}

// Register registers the journal driver with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.IOCapabilities)
}

// Build creates a bridge driver over the journal file.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Driver, error) {
	filePath := cfg.GetIOFile()
	if filePath == "" {
		filePath = DefaultFilePath
	}
	pub, err := PublisherFactory(filePath, logger)
	if err != nil {
		return nil, err
	}
	sub, err := SubscriberFactory(filePath, logger)
	if err != nil {
		return nil, err
	}
	return bridge.FromConfig(TransportName, pub, sub, cfg, logger)
}

// Capabilities returns the capabilities of this driver.
func Capabilities() transport.Capabilities {
	return transport.IOCapabilities
}

type record struct {
	UUID     string            `json:"uuid"`
	Topic    string            `json:"topic"`
	Metadata map[string]string `json:"metadata"`
	Payload  []byte            `json:"payload"`
}

// Publisher appends records to the journal.
type Publisher struct {
	filePath string
	mu       sync.Mutex
}

// Publish appends messages to the journal.
func (p *Publisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	f, err := os.OpenFile(p.filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, msg := range messages {
		if err := jsoncodec.Encode(w, record{UUID: msg.UUID, Topic: topic, Metadata: msg.Metadata, Payload: msg.Payload}); err != nil {
			return err
		}
	}
	return w.Flush()
}

// Close is a no-op; the journal is reopened per publish.
func (p *Publisher) Close() error {
	return nil
}

// Subscriber tails the journal.
type Subscriber struct {
	filePath string
	logger   watermill.LoggerAdapter
}

// Subscribe delivers records for topic appended after the call.
func (s *Subscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	f, err := os.OpenFile(s.filePath, os.O_RDONLY|os.O_CREATE, 0o600)
	if err != nil {
		return nil, err
	}
	offset, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	out := make(chan *message.Message)
	go func() {
		defer close(out)
		defer f.Close()
		s.tail(ctx, f, offset, topic, out)
	}()
	return out, nil
}

func (s *Subscriber) tail(ctx context.Context, f *os.File, offset int64, topic string, out chan<- *message.Message) {
	reader := bufio.NewReader(f)
	var partial []byte
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 && err == nil {
			line = append(partial, line...)
			partial = nil
			offset += int64(len(line))
			if !s.emit(ctx, line, topic, out) {
				return
			}
			continue
		}
		if err != nil && !errors.Is(err, io.EOF) {
			s.logger.Error("Journal read failed", err, watermill.LogFields{"file": s.filePath})
			return
		}
		// incomplete trailing line: keep it until the writer finishes it
		partial = append(partial, line...)

		select {
		case <-ctx.Done():
			return
		case <-time.After(PollInterval):
		}
		if _, err := f.Seek(offset+int64(len(partial)), io.SeekStart); err != nil {
			s.logger.Error("Journal seek failed", err, watermill.LogFields{"file": s.filePath})
			return
		}
		reader.Reset(f)
	}
}

func (s *Subscriber) emit(ctx context.Context, line []byte, topic string, out chan<- *message.Message) bool {
	var rec record
	if err := jsoncodec.Unmarshal(line, &rec); err != nil {
		s.logger.Error("Journal record skipped", err, watermill.LogFields{"file": s.filePath})
		return true
	}
	if rec.Topic != topic {
		return true
	}
	msg := message.NewMessage(rec.UUID, rec.Payload)
	for k, v := range rec.Metadata {
		msg.Metadata.Set(k, v)
	}
	select {
	case out <- msg:
	case <-ctx.Done():
		return false
	}
	select {
	case <-msg.Acked():
	case <-msg.Nacked():
		s.logger.Debug("Journal record nacked", watermill.LogFields{"uuid": msg.UUID})
	case <-ctx.Done():
		return false
	}
	return true
}

// Close is a no-op; subscriptions end with their context.
func (s *Subscriber) Close() error {
	return nil
}
