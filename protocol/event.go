package protocol

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// EventKind identifies a statistics event.
type EventKind byte

const (
	EventTxSuccess      EventKind = 'S'
	EventTxFailure      EventKind = 'F'
	EventPaymentSuccess EventKind = 'P'
	EventPaymentFailed  EventKind = 'X'
)

// Entity codes carried by TxSuccess and TxFailure.
const (
	EntityHotel   uint8 = 0
	EntityAirline uint8 = 1
	EntityBank    uint8 = 2
)

// Event is a best-effort statistics event sent by the coordinator.
type Event struct {
	Kind       EventKind
	Entity     uint8  // TxSuccess, TxFailure
	DurationMs uint32 // TxSuccess, PaymentSuccess
	Reason     string // TxFailure, PaymentFailed
}

func TxSuccess(entity uint8, durationMs uint32) Event {
	return Event{Kind: EventTxSuccess, Entity: entity, DurationMs: durationMs}
}

func TxFailure(entity uint8, reason string) Event {
	return Event{Kind: EventTxFailure, Entity: entity, Reason: reason}
}

func PaymentSuccess(durationMs uint32) Event {
	return Event{Kind: EventPaymentSuccess, DurationMs: durationMs}
}

func PaymentFailed(reason string) Event {
	return Event{Kind: EventPaymentFailed, Reason: reason}
}

// Encode encodes an event
/*
	TxSuccess:      'S' entity duration(uint32 LE)
	TxFailure:      'F' entity reason...
	PaymentSuccess: 'P' duration(uint32 LE)
	PaymentFailed:  'X' reason...
*/
func (e Event) Encode() ([]byte, error) {
	switch e.Kind {
	case EventTxSuccess:
		var buf = make([]byte, 6)
		buf[0] = byte(e.Kind)
		buf[1] = e.Entity
		binary.LittleEndian.PutUint32(buf[2:6], e.DurationMs)
		return buf, nil

	case EventTxFailure:
		return append([]byte{byte(e.Kind), e.Entity}, e.Reason...), nil

	case EventPaymentSuccess:
		var buf = make([]byte, 5)
		buf[0] = byte(e.Kind)
		binary.LittleEndian.PutUint32(buf[1:5], e.DurationMs)
		return buf, nil

	case EventPaymentFailed:
		return append([]byte{byte(e.Kind)}, e.Reason...), nil
	}

	return nil, fmt.Errorf("event kind %#x: %w", byte(e.Kind), ErrUnknownOpcode)
}

func DecodeEvent(data []byte) (Event, error) {
	var e Event

	if len(data) == 0 {
		return e, fmt.Errorf("empty event: %w", ErrTruncated)
	}

	e.Kind = EventKind(data[0])

	switch e.Kind {
	case EventTxSuccess:
		if len(data) != 6 {
			return e, fmt.Errorf("tx success needs 6 bytes, got %d: %w", len(data), ErrTruncated)
		}
		e.Entity = data[1]
		e.DurationMs = binary.LittleEndian.Uint32(data[2:6])

	case EventTxFailure:
		if len(data) < 2 {
			return e, fmt.Errorf("tx failure needs at least 2 bytes: %w", ErrTruncated)
		}
		e.Entity = data[1]
		e.Reason = strings.ToValidUTF8(string(data[2:]), "�")

	case EventPaymentSuccess:
		if len(data) != 5 {
			return e, fmt.Errorf("payment success needs 5 bytes, got %d: %w", len(data), ErrTruncated)
		}
		e.DurationMs = binary.LittleEndian.Uint32(data[1:5])

	case EventPaymentFailed:
		e.Reason = strings.ToValidUTF8(string(data[1:]), "�")

	default:
		return e, fmt.Errorf("event opcode %#x: %w", data[0], ErrUnknownOpcode)
	}

	return e, nil
}
