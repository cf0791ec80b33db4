package transport

import (
	"fmt"
	"strconv"
)

// State is the per-message status reported by the bus.
type State int32

const (
	StateOK         State = 0
	StateBadArg     State = 1
	StateNoEndpoint State = 2
	StateEmpty      State = 3
	StateInitFailed State = 5
	StateSendFailed State = 6
	StateRecvFailed State = 7
	StateTimeout    State = 14
	StateOverflow   State = 15
	StateTruncated  State = 16
)

var stateNames = map[State]string{
	StateOK:         "OK",
	StateBadArg:     "BAD_ARG",
	StateNoEndpoint: "NO_ENDPOINT",
	StateEmpty:      "EMPTY",
	StateInitFailed: "INIT_FAILED",
	StateSendFailed: "SEND_FAILED",
	StateRecvFailed: "RECV_FAILED",
	StateTimeout:    "TIMEOUT",
	StateOverflow:   "OVERFLOW",
	StateTruncated:  "TRUNCATED",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "STATE(" + strconv.Itoa(int(s)) + ")"
}

// Msg is a bus message buffer. Payload always has len == capacity; Len marks
// how many of those bytes are meaningful.
type Msg struct {
	MType   int32
	SubID   int32
	State   State
	Len     int
	Xaction []byte
	Source  string
	Payload []byte
}

// NewMsg allocates a buffer with size bytes of payload capacity.
func NewMsg(size int) (*Msg, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrBadAllocSize, size)
	}
	return &Msg{
		MType:   -1,
		SubID:   UnsetSubID,
		State:   StateOK,
		Payload: make([]byte, size),
	}, nil
}

// PayloadCapacity returns the number of payload bytes the buffer can hold.
func (m *Msg) PayloadCapacity() int {
	return len(m.Payload)
}

// Bytes returns the meaningful part of the payload.
func (m *Msg) Bytes() []byte {
	n := m.Len
	if n > len(m.Payload) {
		n = len(m.Payload)
	}
	if n < 0 {
		n = 0
	}
	return m.Payload[:n]
}

// Clone returns a deep copy sized to the meaningful payload.
func (m *Msg) Clone() *Msg {
	body := m.Bytes()
	out := &Msg{
		MType:   m.MType,
		SubID:   m.SubID,
		State:   m.State,
		Len:     len(body),
		Source:  m.Source,
		Payload: append([]byte(nil), body...),
	}
	if len(m.Xaction) > 0 {
		out.Xaction = append([]byte(nil), m.Xaction...)
	}
	return out
}

// Deliver copies src into dst. The destination payload grows when src carries
// more bytes than dst can hold, as a receive into an undersized buffer would.
func Deliver(dst, src *Msg) *Msg {
	body := src.Bytes()
	if len(body) > len(dst.Payload) {
		dst.Payload = make([]byte, len(body))
	}
	copy(dst.Payload, body)
	dst.Len = len(body)
	dst.MType = src.MType
	dst.SubID = src.SubID
	dst.Source = src.Source
	dst.State = StateOK
	dst.Xaction = append(dst.Xaction[:0], src.Xaction...)
	return dst
}
