package handlers

import (
	"context"
	"fmt"

	"github.com/drblury/xappflow/internal/runtime/logging"
)

type fakeMessage struct {
	mtype    int32
	outType  int32
	subID    int32
	xaction  []byte
	source   string
	payload  []byte
	capacity int
	replies  int
}

func newFakeMessage(mtype int32, payload []byte) *fakeMessage {
	return &fakeMessage{
		mtype:    mtype,
		outType:  mtype,
		subID:    -1,
		xaction:  []byte("tx-1"),
		source:   "localhost:4570",
		payload:  payload,
		capacity: 4096,
	}
}

func (m *fakeMessage) MessageType() int32       { return m.mtype }
func (m *fakeMessage) SubID() int32             { return m.subID }
func (m *fakeMessage) Xaction() []byte          { return m.xaction }
func (m *fakeMessage) Source() string           { return m.source }
func (m *fakeMessage) Payload() []byte          { return append([]byte(nil), m.payload...) }
func (m *fakeMessage) Context() context.Context { return context.Background() }
func (m *fakeMessage) SetType(mtype int32)      { m.outType = mtype }

func (m *fakeMessage) SetPayload(data []byte) error {
	if len(data) > m.capacity {
		return fmt.Errorf("payload of %d bytes exceeds %d", len(data), m.capacity)
	}
	m.payload = append([]byte(nil), data...)
	return nil
}

func (m *fakeMessage) reply() error {
	m.replies++
	return nil
}

func nopLogger() logging.ServiceLogger {
	return logging.NopLogger()
}
