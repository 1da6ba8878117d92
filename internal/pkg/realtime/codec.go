package realtime

import (
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"feedsync/internal/domain/feed/model"
)

// Op codes trail the msgpack body on the wire.
const (
	OpInsert byte = iota + 1
	OpUpdate
	OpDelete
)

var ErrMalformedPacket = errors.New("malformed change packet")

func opFor(t model.ChangeType) (byte, error) {
	switch t {
	case model.Inserted:
		return OpInsert, nil
	case model.Updated:
		return OpUpdate, nil
	case model.Deleted:
		return OpDelete, nil
	}
	return 0, fmt.Errorf("%w: change type %q", ErrMalformedPacket, t)
}

// Encode marshals ev and appends its op code.
func Encode(ev model.ChangeEvent) ([]byte, error) {
	op, err := opFor(ev.Type)
	if err != nil {
		return nil, err
	}
	packet, err := msgpack.Marshal(&ev)
	if err != nil {
		return nil, err
	}
	return append(packet, op), nil
}

// Decode reverses Encode. The op code is authoritative for the change type.
func Decode(payload []byte) (model.ChangeEvent, error) {
	var ev model.ChangeEvent
	if len(payload) < 2 {
		return ev, ErrMalformedPacket
	}
	op := payload[len(payload)-1]
	if err := msgpack.Unmarshal(payload[:len(payload)-1], &ev); err != nil {
		return ev, fmt.Errorf("%w: %v", ErrMalformedPacket, err)
	}
	switch op {
	case OpInsert:
		ev.Type = model.Inserted
	case OpUpdate:
		ev.Type = model.Updated
	case OpDelete:
		ev.Type = model.Deleted
	default:
		return ev, fmt.Errorf("%w: op code %d", ErrMalformedPacket, op)
	}
	return ev, nil
}
