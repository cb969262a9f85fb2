package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/Konstantsiy/alglobo"
)

var (
	ErrUnknownOpcode = errors.New("unknown opcode")
	ErrTruncated     = errors.New("truncated message")
	ErrUnexpected    = errors.New("unexpected message")
)

type Kind byte

const (
	KindPrepare  Kind = 'P'
	KindAbort    Kind = 'A'
	KindCommit   Kind = 'C'
	KindResponse Kind = 'R'
)

func (k Kind) String() string {
	switch k {
	case KindPrepare:
		return "Prepare"
	case KindAbort:
		return "Abort"
	case KindCommit:
		return "Commit"
	case KindResponse:
		return "Response"
	}

	return fmt.Sprintf("Kind(%#x)", byte(k))
}

// Message is a transaction control message exchanged between the coordinator
// and a participant.
//
// Prepare carries the whole transaction, Abort and Commit only Transaction.ID,
// Response only Success.
type Message struct {
	Kind        Kind
	Transaction alglobo.Transaction
	Success     bool
}

func NewPrepare(tx alglobo.Transaction) Message {
	return Message{Kind: KindPrepare, Transaction: tx}
}

func NewAbort(id uint32) Message {
	return Message{Kind: KindAbort, Transaction: alglobo.Transaction{ID: id}}
}

func NewCommit(id uint32) Message {
	return Message{Kind: KindCommit, Transaction: alglobo.Transaction{ID: id}}
}

func NewResponse(success bool) Message {
	return Message{Kind: KindResponse, Success: success}
}

// ID returns the transaction id the message refers to.
func (m Message) ID() uint32 {
	return m.Transaction.ID
}

// Encode encodes a message into a byte slice
/*
	Prepare:
	[0]      - 'P'
	[1..5]   - transaction id, uint32 LE
	[5..9]   - airline price, uint32 LE
	[9..13]  - hotel price, uint32 LE
	[13..]   - client, UTF-8

	Abort / Commit:
	[0]      - 'A' / 'C'
	[1..5]   - transaction id, uint32 LE

	Response:
	[0]      - 'R'
	[1]      - 't' or 'f'
*/
func (m Message) Encode() ([]byte, error) {
	switch m.Kind {
	case KindPrepare:
		var buf = make([]byte, 13+len(m.Transaction.Client))
		buf[0] = byte(KindPrepare)
		binary.LittleEndian.PutUint32(buf[1:5], m.Transaction.ID)
		binary.LittleEndian.PutUint32(buf[5:9], m.Transaction.AirlinePrice)
		binary.LittleEndian.PutUint32(buf[9:13], m.Transaction.HotelPrice)
		copy(buf[13:], m.Transaction.Client)
		return buf, nil

	case KindAbort, KindCommit:
		var buf = make([]byte, 5)
		buf[0] = byte(m.Kind)
		binary.LittleEndian.PutUint32(buf[1:5], m.Transaction.ID)
		return buf, nil

	case KindResponse:
		var flag = byte('f')
		if m.Success {
			flag = 't'
		}
		return []byte{byte(KindResponse), flag}, nil
	}

	return nil, fmt.Errorf("encode %v: %w", m.Kind, ErrUnknownOpcode)
}

// DecodeMessage decodes a transaction message previously produced by Encode.
// An invalid client string is decoded lossily; an unknown opcode or a short
// payload is an error.
func DecodeMessage(data []byte) (Message, error) {
	var msg Message

	if len(data) == 0 {
		return msg, fmt.Errorf("empty message: %w", ErrTruncated)
	}

	msg.Kind = Kind(data[0])

	switch msg.Kind {
	case KindPrepare:
		if len(data) < 13 {
			return msg, fmt.Errorf("prepare needs at least 13 bytes, got %d: %w", len(data), ErrTruncated)
		}

		msg.Transaction.ID = binary.LittleEndian.Uint32(data[1:5])
		msg.Transaction.AirlinePrice = binary.LittleEndian.Uint32(data[5:9])
		msg.Transaction.HotelPrice = binary.LittleEndian.Uint32(data[9:13])
		msg.Transaction.Client = strings.ToValidUTF8(string(data[13:]), "�")

	case KindAbort, KindCommit:
		if len(data) != 5 {
			return msg, fmt.Errorf("%v needs 5 bytes, got %d: %w", msg.Kind, len(data), ErrTruncated)
		}

		msg.Transaction.ID = binary.LittleEndian.Uint32(data[1:5])

	case KindResponse:
		if len(data) != 2 {
			return msg, fmt.Errorf("response needs 2 bytes, got %d: %w", len(data), ErrTruncated)
		}

		switch data[1] {
		case 't':
			msg.Success = true
		case 'f':
			msg.Success = false
		default:
			return msg, fmt.Errorf("invalid response flag %#x: %w", data[1], ErrUnknownOpcode)
		}

	default:
		return msg, fmt.Errorf("transaction message opcode %#x: %w", data[0], ErrUnknownOpcode)
	}

	return msg, nil
}
