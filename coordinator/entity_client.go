package coordinator

import (
	"fmt"
	"time"

	"github.com/Konstantsiy/alglobo"
	"github.com/Konstantsiy/alglobo/protocol"
	"github.com/hashicorp/go-hclog"
)

// Participant is the coordinator view of a transactional entity.
type Participant interface {
	CreateTransaction(tx alglobo.Transaction) bool
	Commit(id uint32)
	Abort(id uint32)
}

// EntityClient owns the connection to one participant.
// It is not safe for concurrent use.
type EntityClient struct {
	name    string
	addr    string
	timeout time.Duration // dial and request timeout
	logger  hclog.Logger

	conn *protocol.Conn // nil after a failure until the next reconnect
}

// DialEntity connects to the participant listening on addr.
func DialEntity(name, addr string, timeout time.Duration, logger hclog.Logger) (*EntityClient, error) {
	conn, err := protocol.Dial(addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to %s at %s: %w", name, addr, err)
	}

	return &EntityClient{
		name:    name,
		addr:    addr,
		timeout: timeout,
		logger:  logger.Named(name),
		conn:    conn,
	}, nil
}

func (c *EntityClient) Name() string {
	return c.name
}

// CreateTransaction prepares tx on the participant. A transport failure is
// reported as a rejection after one reconnect attempt, so the caller never
// waits on a dead participant for longer than the request timeout.
func (c *EntityClient) CreateTransaction(tx alglobo.Transaction) bool {
	if c.conn == nil {
		c.reconnect()
		return false
	}

	ok, err := c.conn.Request(protocol.NewPrepare(tx), c.timeout)
	if err != nil {
		c.logger.Warn("prepare failed", "tx", tx.ID, "error", err)
		c.reconnect()
		return false
	}

	return ok
}

// Commit and Abort have no recovery action: the participant log is
// idempotent and unresolved ids are picked up by a later pass.
func (c *EntityClient) Commit(id uint32) {
	c.decide(protocol.NewCommit(id))
}

func (c *EntityClient) Abort(id uint32) {
	c.decide(protocol.NewAbort(id))
}

func (c *EntityClient) decide(msg protocol.Message) {
	if c.conn == nil {
		c.reconnect()
		if c.conn == nil {
			c.logger.Error("decision lost", "kind", msg.Kind, "tx", msg.ID())
			return
		}
	}

	if _, err := c.conn.Request(msg, c.timeout); err != nil {
		c.logger.Error("decision may be lost", "kind", msg.Kind, "tx", msg.ID(), "error", err)
		// the stream may hold a late response, start over on a fresh one
		c.reconnect()
	}
}

// reconnect makes exactly one attempt to replace the connection.
func (c *EntityClient) reconnect() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}

	conn, err := protocol.Dial(c.addr, c.timeout)
	if err != nil {
		c.logger.Warn("reconnect failed", "addr", c.addr, "error", err)
		return
	}

	c.logger.Info("reconnected", "addr", c.addr)
	c.conn = conn
}

func (c *EntityClient) Close() error {
	if c.conn == nil {
		return nil
	}

	var err = c.conn.Close()
	c.conn = nil
	return err
}
