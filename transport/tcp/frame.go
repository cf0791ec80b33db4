package tcp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/drblury/xappflow/transport"
)

const (
	fieldMType   protowire.Number = 1
	fieldSubID   protowire.Number = 2
	fieldXaction protowire.Number = 3
	fieldSource  protowire.Number = 4
	fieldPayload protowire.Number = 5
)

var errFrameTooLarge = errors.New("tcp: frame exceeds limit")

// encodeMsg renders the header fields and meaningful payload of msg.
func encodeMsg(msg *transport.Msg) []byte {
	body := msg.Bytes()
	b := make([]byte, 0, len(body)+len(msg.Source)+len(msg.Xaction)+24)
	b = protowire.AppendTag(b, fieldMType, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(msg.MType)))
	b = protowire.AppendTag(b, fieldSubID, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(msg.SubID)))
	if len(msg.Xaction) > 0 {
		b = protowire.AppendTag(b, fieldXaction, protowire.BytesType)
		b = protowire.AppendBytes(b, msg.Xaction)
	}
	if msg.Source != "" {
		b = protowire.AppendTag(b, fieldSource, protowire.BytesType)
		b = protowire.AppendString(b, msg.Source)
	}
	b = protowire.AppendTag(b, fieldPayload, protowire.BytesType)
	b = protowire.AppendBytes(b, body)
	return b
}

func decodeMsg(b []byte) (*transport.Msg, error) {
	msg := &transport.Msg{SubID: transport.UnsetSubID}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		switch {
		case num == fieldMType && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			msg.MType = int32(protowire.DecodeZigZag(v))
			b = b[n:]
		case num == fieldSubID && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			msg.SubID = int32(protowire.DecodeZigZag(v))
			b = b[n:]
		case num == fieldXaction && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			msg.Xaction = append([]byte(nil), v...)
			b = b[n:]
		case num == fieldSource && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			msg.Source = v
			b = b[n:]
		case num == fieldPayload && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			msg.Payload = append([]byte(nil), v...)
			msg.Len = len(v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return msg, nil
}

func writeFrame(w io.Writer, msg *transport.Msg) error {
	body := encodeMsg(msg)
	frame := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(frame, uint32(len(body)))
	copy(frame[4:], body)
	_, err := w.Write(frame)
	return err
}

func readFrame(r io.Reader, limit int) (*transport.Msg, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(hdr[:])
	if limit > 0 && int(size) > limit {
		return nil, fmt.Errorf("%w: %d > %d", errFrameTooLarge, size, limit)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return decodeMsg(body)
}
