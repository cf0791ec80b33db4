// Package rnib reads the RAN network information base that the E2 manager
// keeps in the shared data layer.
package rnib

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/drblury/xappflow/internal/runtime/sdl"
)

const (
	// Namespace is the data layer namespace owned by the E2 manager.
	Namespace = "e2Manager"

	GroupENB = "ENB"
	GroupGNB = "GNB"
)

// ConnectionStatus is the E2 connection state of a node.
type ConnectionStatus int32

const (
	ConnectionStatusUnknown ConnectionStatus = iota
	ConnectionStatusConnected
	ConnectionStatusDisconnected
	ConnectionStatusConnectedSetupFailed
	ConnectionStatusConnecting
	ConnectionStatusShuttingDown
	ConnectionStatusShutDown
)

var connectionStatusNames = map[ConnectionStatus]string{
	ConnectionStatusUnknown:              "UNKNOWN_CONNECTION_STATUS",
	ConnectionStatusConnected:            "CONNECTED",
	ConnectionStatusDisconnected:         "DISCONNECTED",
	ConnectionStatusConnectedSetupFailed: "CONNECTED_SETUP_FAILED",
	ConnectionStatusConnecting:           "CONNECTING",
	ConnectionStatusShuttingDown:         "SHUTTING_DOWN",
	ConnectionStatusShutDown:             "SHUT_DOWN",
}

func (s ConnectionStatus) String() string {
	if name, ok := connectionStatusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("ConnectionStatus(%d)", int32(s))
}

// GlobalNbID identifies a node across PLMNs.
type GlobalNbID struct {
	PlmnID string `json:"plmnId"`
	NbID   string `json:"nbId"`
}

// NbIdentity is the entry stored for every node known to the E2 manager.
type NbIdentity struct {
	InventoryName    string           `json:"inventoryName"`
	GlobalNbID       *GlobalNbID      `json:"globalNbId,omitempty"`
	ConnectionStatus ConnectionStatus `json:"connectionStatus"`
}

// ErrDecode wraps every malformed NbIdentity.
var ErrDecode = errors.New("rnib: nodeb identity decode error")

// Reader reads node identities from a data layer.
type Reader struct {
	storage sdl.Storage
}

// NewReader returns a reader over storage.
func NewReader(storage sdl.Storage) *Reader {
	return &Reader{storage: storage}
}

// GetEnbIDs returns the LTE nodes.
func (r *Reader) GetEnbIDs(ctx context.Context) ([]*NbIdentity, error) {
	return r.idsOf(ctx, GroupENB)
}

// GetGnbIDs returns the NR nodes.
func (r *Reader) GetGnbIDs(ctx context.Context) ([]*NbIdentity, error) {
	return r.idsOf(ctx, GroupGNB)
}

// GetNodebIDs returns the LTE nodes followed by the NR nodes.
func (r *Reader) GetNodebIDs(ctx context.Context) ([]*NbIdentity, error) {
	enbs, err := r.GetEnbIDs(ctx)
	if err != nil {
		return nil, err
	}
	gnbs, err := r.GetGnbIDs(ctx)
	if err != nil {
		return nil, err
	}
	return append(enbs, gnbs...), nil
}

func (r *Reader) idsOf(ctx context.Context, group string) ([]*NbIdentity, error) {
	members, err := r.storage.GetMembers(ctx, Namespace, group)
	if err != nil {
		return nil, fmt.Errorf("rnib: read %s: %w", group, err)
	}
	ids := make([]*NbIdentity, 0, len(members))
	for _, member := range members {
		id, err := UnmarshalNbIdentity(member)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// MarshalNbIdentity encodes id in the protobuf wire format.
func MarshalNbIdentity(id *NbIdentity) []byte {
	var b []byte
	if id.InventoryName != "" {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, id.InventoryName)
	}
	if id.GlobalNbID != nil {
		var inner []byte
		if id.GlobalNbID.PlmnID != "" {
			inner = protowire.AppendTag(inner, 1, protowire.BytesType)
			inner = protowire.AppendString(inner, id.GlobalNbID.PlmnID)
		}
		if id.GlobalNbID.NbID != "" {
			inner = protowire.AppendTag(inner, 2, protowire.BytesType)
			inner = protowire.AppendString(inner, id.GlobalNbID.NbID)
		}
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, inner)
	}
	if id.ConnectionStatus != ConnectionStatusUnknown {
		b = protowire.AppendTag(b, 3, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(int64(id.ConnectionStatus)))
	}
	return b
}

// UnmarshalNbIdentity decodes a protobuf encoded NbIdentity. Unknown fields
// are skipped.
func UnmarshalNbIdentity(data []byte) (*NbIdentity, error) {
	id := &NbIdentity{}
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, value []byte, varint uint64) error {
		switch {
		case num == 1 && typ == protowire.BytesType:
			id.InventoryName = string(value)
		case num == 2 && typ == protowire.BytesType:
			global := &GlobalNbID{}
			if err := walkFields(value, func(num protowire.Number, typ protowire.Type, value []byte, _ uint64) error {
				if typ != protowire.BytesType {
					return nil
				}
				switch num {
				case 1:
					global.PlmnID = string(value)
				case 2:
					global.NbID = string(value)
				}
				return nil
			}); err != nil {
				return err
			}
			id.GlobalNbID = global
		case num == 3 && typ == protowire.VarintType:
			id.ConnectionStatus = ConnectionStatus(int32(varint))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return id, nil
}

type fieldFunc func(num protowire.Number, typ protowire.Type, value []byte, varint uint64) error

func walkFields(data []byte, fn fieldFunc) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrDecode, protowire.ParseError(n))
		}
		data = data[n:]

		var (
			value  []byte
			varint uint64
		)
		switch typ {
		case protowire.BytesType:
			value, n = protowire.ConsumeBytes(data)
		case protowire.VarintType:
			varint, n = protowire.ConsumeVarint(data)
		default:
			n = protowire.ConsumeFieldValue(num, typ, data)
		}
		if n < 0 {
			return fmt.Errorf("%w: field %d: %v", ErrDecode, num, protowire.ParseError(n))
		}
		data = data[n:]

		if err := fn(num, typ, value, varint); err != nil {
			return err
		}
	}
	return nil
}
