// Package trace records the events the arbiter delivers. Each delivery
// is one protobuf wire message behind a 4-byte big-endian length prefix,
// so a trace can be streamed to a file and read back by the dump command.
package trace

import (
	"errors"
	"fmt"
	"math"

	"github.com/bnema/grabarbiter/internal/input"
	"google.golang.org/protobuf/encoding/protowire"
)

// maxRecordSize bounds a single encoded record.
const maxRecordSize = 4096

// ErrRecordTooLarge is returned for a length prefix above maxRecordSize.
var ErrRecordTooLarge = errors.New("trace record too large")

// Record is one delivery with its position in the trace.
type Record struct {
	Seq uint64
	input.Delivery
}

// Delivery fields.
const (
	fieldSeq    protowire.Number = 1
	fieldClient protowire.Number = 2
	fieldDevice protowire.Number = 3
	fieldWindow protowire.Number = 4
	fieldGrab   protowire.Number = 5
	fieldLevel  protowire.Number = 6
	fieldEvent  protowire.Number = 7
)

// Event fields.
const (
	fieldType       protowire.Number = 1
	fieldDeviceID   protowire.Number = 2
	fieldSourceID   protowire.Number = 3
	fieldDetail     protowire.Number = 4
	fieldTouchID    protowire.Number = 5
	fieldMods       protowire.Number = 6
	fieldRootX      protowire.Number = 7
	fieldRootY      protowire.Number = 8
	fieldTime       protowire.Number = 9
	fieldFlags      protowire.Number = 10
	fieldNumTouches protowire.Number = 11
	fieldResource   protowire.Number = 12
	fieldReason     protowire.Number = 13
)

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendDouble(b []byte, num protowire.Number, v float64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}

// Marshal encodes r as a wire message.
func Marshal(r Record) []byte {
	var b []byte
	b = appendVarint(b, fieldSeq, r.Seq)
	b = appendVarint(b, fieldClient, uint64(r.Client))
	b = appendVarint(b, fieldDevice, uint64(r.Device))
	b = appendVarint(b, fieldWindow, uint64(r.Window))
	b = appendVarint(b, fieldGrab, uint64(r.Grab))
	b = appendVarint(b, fieldLevel, uint64(r.Level))
	b = protowire.AppendTag(b, fieldEvent, protowire.BytesType)
	return protowire.AppendBytes(b, marshalEvent(r.Event))
}

func marshalEvent(ev input.Event) []byte {
	var b []byte
	b = appendVarint(b, fieldType, uint64(ev.Type))
	b = appendVarint(b, fieldDeviceID, uint64(ev.DeviceID))
	b = appendVarint(b, fieldSourceID, uint64(ev.SourceID))
	b = appendVarint(b, fieldDetail, uint64(ev.Detail))
	b = appendVarint(b, fieldTouchID, uint64(ev.TouchID))
	b = appendVarint(b, fieldMods, uint64(ev.Mods))
	b = appendDouble(b, fieldRootX, ev.RootX)
	b = appendDouble(b, fieldRootY, ev.RootY)
	b = appendVarint(b, fieldTime, uint64(ev.Time))
	b = appendVarint(b, fieldFlags, uint64(ev.Flags))
	b = appendVarint(b, fieldNumTouches, uint64(ev.NumTouches))
	b = appendVarint(b, fieldResource, uint64(ev.Resource))
	b = appendVarint(b, fieldReason, uint64(ev.Reason))
	return b
}

// fields walks the fields of a wire message. Unknown fields are passed
// to fn like any other; fn consumes the value and returns its length.
func fields(b []byte, fn func(num protowire.Number, typ protowire.Type, b []byte) int) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		m := fn(num, typ, b)
		if m < 0 {
			return fmt.Errorf("field %d: %w", num, protowire.ParseError(m))
		}
		b = b[m:]
	}
	return nil
}

// Unmarshal decodes a wire message produced by Marshal.
func Unmarshal(b []byte) (Record, error) {
	var (
		r     Record
		evErr error
	)
	err := fields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		if num == fieldEvent && typ == protowire.BytesType {
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n
			}
			r.Event, evErr = unmarshalEvent(v)
			return n
		}
		if typ != protowire.VarintType {
			return protowire.ConsumeFieldValue(num, typ, b)
		}
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return n
		}
		switch num {
		case fieldSeq:
			r.Seq = v
		case fieldClient:
			r.Client = input.ClientID(v)
		case fieldDevice:
			r.Device = input.DeviceID(v)
		case fieldWindow:
			r.Window = input.XID(v)
		case fieldGrab:
			r.Grab = input.XID(v)
		case fieldLevel:
			r.Level = input.Level(v)
		}
		return n
	})
	if err == nil {
		err = evErr
	}
	if err != nil {
		return Record{}, fmt.Errorf("failed to decode trace record: %w", err)
	}
	return r, nil
}

func unmarshalEvent(b []byte) (input.Event, error) {
	var ev input.Event
	err := fields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch typ {
		case protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return n
			}
			switch num {
			case fieldRootX:
				ev.RootX = math.Float64frombits(v)
			case fieldRootY:
				ev.RootY = math.Float64frombits(v)
			}
			return n
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return n
			}
			switch num {
			case fieldType:
				ev.Type = input.EventType(v)
			case fieldDeviceID:
				ev.DeviceID = input.DeviceID(v)
			case fieldSourceID:
				ev.SourceID = input.DeviceID(v)
			case fieldDetail:
				ev.Detail = uint32(v)
			case fieldTouchID:
				ev.TouchID = uint32(v)
			case fieldMods:
				ev.Mods = uint32(v)
			case fieldTime:
				ev.Time = uint32(v)
			case fieldFlags:
				ev.Flags = input.Flags(v)
			case fieldNumTouches:
				ev.NumTouches = uint32(v)
			case fieldResource:
				ev.Resource = input.XID(v)
			case fieldReason:
				ev.Reason = input.AcceptMode(v)
			}
			return n
		}
		return protowire.ConsumeFieldValue(num, typ, b)
	})
	return ev, err
}
