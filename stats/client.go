package stats

import (
	"net"
	"sync"
	"time"

	"github.com/Konstantsiy/alglobo/protocol"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-metrics"
)

const defaultBuffer = 128

// Client ships events to the stats server in the background. Events are
// dropped when the buffer is full or the server is unreachable; payment
// processing never waits on statistics.
type Client struct {
	addr    string
	timeout time.Duration
	metrics *metrics.Metrics
	logger  hclog.Logger

	events chan protocol.Event
	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup

	conn net.Conn // owned by the writer goroutine
}

func NewClient(addr string, timeout time.Duration, m *metrics.Metrics, logger hclog.Logger) *Client {
	return &Client{
		addr:    addr,
		timeout: timeout,
		metrics: m,
		logger:  logger.Named("stats"),
		events:  make(chan protocol.Event, defaultBuffer),
		done:    make(chan struct{}),
	}
}

func (c *Client) Start() {
	c.wg.Add(1)
	go c.run()
}

// Send never blocks.
func (c *Client) Send(event protocol.Event) {
	select {
	case <-c.done:
		return
	default:
	}

	select {
	case c.events <- event:
	default:
		c.drop(event, "buffer full")
	}
}

// Close flushes the buffered events, then closes the connection.
func (c *Client) Close() {
	c.once.Do(func() { close(c.done) })
	c.wg.Wait()
}

func (c *Client) run() {
	defer c.wg.Done()
	defer func() {
		if c.conn != nil {
			_ = c.conn.Close()
		}
	}()

	for {
		select {
		case event := <-c.events:
			c.write(event)
		case <-c.done:
			for {
				select {
				case event := <-c.events:
					c.write(event)
				default:
					return
				}
			}
		}
	}
}

func (c *Client) write(event protocol.Event) {
	payload, err := event.Encode()
	if err != nil {
		c.drop(event, err.Error())
		return
	}

	if c.conn == nil {
		conn, err := net.DialTimeout("tcp", c.addr, c.timeout)
		if err != nil {
			c.drop(event, "stats server unreachable")
			return
		}
		c.conn = conn
	}

	_ = c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	if err = protocol.WriteFrame(c.conn, payload); err != nil {
		c.logger.Debug("connection lost", "error", err)
		_ = c.conn.Close()
		c.conn = nil
		c.drop(event, "write failed")
		return
	}

	c.metrics.IncrCounter([]string{"stats", "sent"}, 1)
}

func (c *Client) drop(event protocol.Event, reason string) {
	c.logger.Debug("event dropped", "kind", string(event.Kind), "reason", reason)
	c.metrics.IncrCounter([]string{"stats", "dropped"}, 1)
}
