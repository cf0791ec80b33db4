package rmr

import (
	"context"
	"fmt"

	"github.com/drblury/xappflow/internal/runtime/errors"
	"github.com/drblury/xappflow/transport"
)

// Buffer wraps a transport message for the lifetime of one receive or one
// application allocation. The message type is captured when the buffer is
// wrapped; SetType changes the outgoing type without changing MessageType.
type Buffer struct {
	client        *Client
	msg           *transport.Msg
	mtype         int32
	pipelineOwned bool
	freed         bool
	ctx           context.Context
}

func wrap(c *Client, msg *transport.Msg, pipelineOwned bool) *Buffer {
	return &Buffer{client: c, msg: msg, mtype: msg.MType, pipelineOwned: pipelineOwned}
}

// MessageType returns the type the buffer carried when it was received or
// allocated. Dispatch uses this value.
func (b *Buffer) MessageType() int32 { return b.mtype }

// Type returns the current type on the underlying message.
func (b *Buffer) Type() int32 { return b.msg.MType }

// SetType sets the type used for the next Send or Reply.
func (b *Buffer) SetType(mtype int32) { b.msg.MType = mtype }

// SubID returns the subscription id.
func (b *Buffer) SubID() int32 { return b.msg.SubID }

// SetSubID sets the subscription id.
func (b *Buffer) SetSubID(id int32) { b.msg.SubID = id }

// State returns the transport state code of the last operation.
func (b *Buffer) State() transport.State { return b.msg.State }

// Len returns the number of meaningful payload bytes.
func (b *Buffer) Len() int { return b.msg.Len }

// PayloadCapacity returns the usable payload size.
func (b *Buffer) PayloadCapacity() int { return b.msg.PayloadCapacity() }

// Payload returns a copy of the first Len bytes of the payload.
func (b *Buffer) Payload() []byte {
	src := b.msg.Bytes()
	out := make([]byte, len(src))
	copy(out, src)
	return out
}

// SetPayload copies data into the payload and sets Len. Data larger than the
// capacity is rejected and the buffer is left unchanged.
func (b *Buffer) SetPayload(data []byte) error {
	if len(data) > b.msg.PayloadCapacity() {
		return fmt.Errorf("%w: %d bytes, capacity %d", errors.ErrPayloadTooLarge, len(data), b.msg.PayloadCapacity())
	}
	b.msg.Len = copy(b.msg.Payload, data)
	return nil
}

// Xaction returns a copy of the transaction id.
func (b *Buffer) Xaction() []byte {
	return append([]byte(nil), b.msg.Xaction...)
}

// SetXaction sets the transaction id.
func (b *Buffer) SetXaction(id []byte) error {
	if len(id) > transport.MaxXactionLen {
		return fmt.Errorf("%w: xaction of %d bytes exceeds %d", errors.ErrPayloadTooLarge, len(id), transport.MaxXactionLen)
	}
	b.msg.Xaction = append([]byte(nil), id...)
	return nil
}

// Source returns the address of the sender.
func (b *Buffer) Source() string { return b.msg.Source }

// Context returns the context attached by middleware, or context.Background.
func (b *Buffer) Context() context.Context {
	if b.ctx == nil {
		return context.Background()
	}
	return b.ctx
}

// SetContext attaches ctx to the buffer for the rest of the dispatch.
func (b *Buffer) SetContext(ctx context.Context) { b.ctx = ctx }

// Checkpoint holds the header fields and payload of a buffer at one point
// of a dispatch.
type Checkpoint struct {
	mtype   int32
	subID   int32
	source  string
	xaction []byte
	payload []byte
}

// Checkpoint copies the current header fields and payload.
func (b *Buffer) Checkpoint() Checkpoint {
	return Checkpoint{
		mtype:   b.msg.MType,
		subID:   b.msg.SubID,
		source:  b.msg.Source,
		xaction: b.Xaction(),
		payload: b.Payload(),
	}
}

// Restore puts back the fields saved by Checkpoint, undoing any SetType,
// SetPayload or SetXaction made since.
func (b *Buffer) Restore(cp Checkpoint) {
	b.msg.MType = cp.mtype
	b.msg.SubID = cp.subID
	b.msg.Source = cp.source
	b.msg.State = transport.StateOK
	b.msg.Xaction = append([]byte(nil), cp.xaction...)
	b.msg.Len = copy(b.msg.Payload, cp.payload)
}

// Freed reports whether the buffer has been released.
func (b *Buffer) Freed() bool { return b.freed }

// Free releases an application-owned buffer. Buffers handed to handlers by
// the pipeline are released by the pipeline and return ErrBufferInUse.
func (b *Buffer) Free() error {
	if b.freed {
		return errors.ErrBufferFreed
	}
	if b.pipelineOwned {
		return errors.ErrBufferInUse
	}
	b.release()
	return nil
}

func (b *Buffer) release() {
	if b.freed {
		return
	}
	b.freed = true
	b.client.free(b.msg)
}

func (b *Buffer) String() string {
	return fmt.Sprintf("Buffer{mtype=%d subid=%d len=%d state=%s src=%q}", b.mtype, b.msg.SubID, b.msg.Len, b.msg.State, b.msg.Source)
}
