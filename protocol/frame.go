package protocol

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// MaxFrameSize limits a single frame, a Prepare with a long client name
// still fits comfortably.
const MaxFrameSize = 64 * 1024

var ErrFrameTooLarge = errors.New("frame too large")

// WriteFrame writes payload prefixed by its 4-byte little-endian length.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("write %d bytes: %w", len(payload), ErrFrameTooLarge)
	}

	var buf = make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(payload)))
	copy(buf[4:], payload)

	_, err := w.Write(buf)
	return err
}

// ReadFrame reads one length-prefixed frame. It returns io.EOF only when the
// stream ends cleanly between frames.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("frame header: %w", ErrTruncated)
		}
		return nil, err
	}

	var size = binary.LittleEndian.Uint32(header[:])
	if size > MaxFrameSize {
		return nil, fmt.Errorf("read %d bytes: %w", size, ErrFrameTooLarge)
	}

	var payload = make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("frame payload: %w", ErrTruncated)
		}
		return nil, err
	}

	return payload, nil
}

// Conn carries transaction messages over a stream connection.
// It is not safe for concurrent use, every Conn has a single owner.
type Conn struct {
	conn   net.Conn
	reader *bufio.Reader
}

func NewConn(conn net.Conn) *Conn {
	return &Conn{conn: conn, reader: bufio.NewReader(conn)}
}

// Dial connects to a transaction protocol listener.
func Dial(addr string, timeout time.Duration) (*Conn, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}

	return NewConn(conn), nil
}

func (c *Conn) Send(msg Message) error {
	payload, err := msg.Encode()
	if err != nil {
		return err
	}

	return WriteFrame(c.conn, payload)
}

func (c *Conn) Receive() (Message, error) {
	payload, err := ReadFrame(c.reader)
	if err != nil {
		return Message{}, err
	}

	return DecodeMessage(payload)
}

// Request sends msg and waits for the peer's Response, giving up after timeout.
func (c *Conn) Request(msg Message, timeout time.Duration) (bool, error) {
	if timeout > 0 {
		if err := c.conn.SetDeadline(time.Now().Add(timeout)); err != nil {
			return false, err
		}
		defer c.conn.SetDeadline(time.Time{})
	}

	if err := c.Send(msg); err != nil {
		return false, fmt.Errorf("send %v: %w", msg.Kind, err)
	}

	resp, err := c.Receive()
	if err != nil {
		return false, fmt.Errorf("receive response to %v: %w", msg.Kind, err)
	}

	if resp.Kind != KindResponse {
		return false, fmt.Errorf("expected Response to %v, got %v: %w", msg.Kind, resp.Kind, ErrUnexpected)
	}

	return resp.Success, nil
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *Conn) Close() error {
	return c.conn.Close()
}
