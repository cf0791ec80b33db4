package bridge

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/xappflow/transport"
)

// Header keys carrying message fields as watermill metadata.
const (
	HeaderMType   = "rmr_mtype"
	HeaderSubID   = "rmr_subid"
	HeaderXaction = "rmr_xaction"
	HeaderSource  = "rmr_src"
)

var topicReplacer = strings.NewReplacer(":", "_", "/", "_", " ", "_")

// TopicFor returns the topic an endpoint with address addr subscribes to.
func TopicFor(prefix, addr string) string {
	if prefix == "" {
		prefix = "rmr"
	}
	return prefix + "." + topicReplacer.Replace(addr)
}

// ToWatermill converts msg into a watermill message.
func ToWatermill(msg *transport.Msg) *message.Message {
	wm := message.NewMessage(watermill.NewUUID(), append([]byte(nil), msg.Bytes()...))
	wm.Metadata.Set(HeaderMType, strconv.FormatInt(int64(msg.MType), 10))
	wm.Metadata.Set(HeaderSubID, strconv.FormatInt(int64(msg.SubID), 10))
	if len(msg.Xaction) > 0 {
		wm.Metadata.Set(HeaderXaction, hex.EncodeToString(msg.Xaction))
	}
	if msg.Source != "" {
		wm.Metadata.Set(HeaderSource, msg.Source)
	}
	return wm
}

// FromWatermill decodes a watermill message produced by ToWatermill.
func FromWatermill(wm *message.Message) (*transport.Msg, error) {
	mtype, err := strconv.ParseInt(wm.Metadata.Get(HeaderMType), 10, 32)
	if err != nil {
		return nil, fmt.Errorf("bridge: bad %s header: %w", HeaderMType, err)
	}
	msg := &transport.Msg{
		MType:   int32(mtype),
		SubID:   transport.UnsetSubID,
		Source:  wm.Metadata.Get(HeaderSource),
		Payload: append([]byte(nil), wm.Payload...),
		Len:     len(wm.Payload),
	}
	if raw := wm.Metadata.Get(HeaderSubID); raw != "" {
		subID, err := strconv.ParseInt(raw, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("bridge: bad %s header: %w", HeaderSubID, err)
		}
		msg.SubID = int32(subID)
	}
	if raw := wm.Metadata.Get(HeaderXaction); raw != "" {
		x, err := hex.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("bridge: bad %s header: %w", HeaderXaction, err)
		}
		msg.Xaction = x
	}
	return msg, nil
}
