package protocol

import (
	"encoding/binary"
	"fmt"
)

// ControlSize is the size of every election datagram.
const ControlSize = 5

// Control is an election control opcode.
type Control byte

const (
	ControlElection     Control = 'E'
	ControlOk           Control = 'O'
	ControlCoordinator  Control = 'C'
	ControlPing         Control = 'P'
	ControlPong         Control = 'p'
	ControlGracefulQuit Control = 'Q'
)

func (c Control) String() string {
	switch c {
	case ControlElection:
		return "Election"
	case ControlOk:
		return "Ok"
	case ControlCoordinator:
		return "Coordinator"
	case ControlPing:
		return "Ping"
	case ControlPong:
		return "Pong"
	case ControlGracefulQuit:
		return "GracefulQuit"
	}

	return fmt.Sprintf("Control(%#x)", byte(c))
}

func (c Control) valid() bool {
	switch c {
	case ControlElection, ControlOk, ControlCoordinator, ControlPing, ControlPong, ControlGracefulQuit:
		return true
	}
	return false
}

// EncodeControl builds an election datagram
/*
	[0]    - opcode
	[1..5] - sender id, uint32 LE
*/
func EncodeControl(c Control, senderID uint32) [ControlSize]byte {
	var buf [ControlSize]byte
	buf[0] = byte(c)
	binary.LittleEndian.PutUint32(buf[1:5], senderID)
	return buf
}

func DecodeControl(data []byte) (Control, uint32, error) {
	if len(data) != ControlSize {
		return 0, 0, fmt.Errorf("control datagram needs %d bytes, got %d: %w", ControlSize, len(data), ErrTruncated)
	}

	var c = Control(data[0])
	if !c.valid() {
		return 0, 0, fmt.Errorf("control opcode %#x: %w", data[0], ErrUnknownOpcode)
	}

	return c, binary.LittleEndian.Uint32(data[1:5]), nil
}
