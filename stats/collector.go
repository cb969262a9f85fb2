package stats

import (
	"errors"
	"io"
	"net"
	"sync"

	"github.com/Konstantsiy/alglobo/protocol"
	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-metrics"
)

var entityNames = map[uint8]string{
	protocol.EntityHotel:   "hotel",
	protocol.EntityAirline: "airline",
	protocol.EntityBank:    "bank",
}

func entityName(entity uint8) string {
	if name, ok := entityNames[entity]; ok {
		return name
	}
	return "unknown"
}

// Summary aggregates every event received so far.
type Summary struct {
	Payments       uint32 `json:"payments"`
	FailedPayments uint32 `json:"failed_payments"`
	TotalMs        uint64 `json:"total_ms"`
	AverageMs      uint32 `json:"average_ms"` // integer average of successful payment durations

	EntitySuccess map[string]uint32 `json:"entity_success"`
	EntityFailure map[string]uint32 `json:"entity_failure"`
}

// Collector is the stats server: it accepts any number of coordinator
// connections and folds their events into one summary.
type Collector struct {
	listener net.Listener
	metrics  *metrics.Metrics
	logger   hclog.Logger

	mx      sync.Mutex
	summary Summary
	conns   map[net.Conn]struct{}
	closed  bool

	wg sync.WaitGroup
}

func NewCollector(addr string, m *metrics.Metrics, logger hclog.Logger) (*Collector, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	return &Collector{
		listener: listener,
		metrics:  m,
		logger:   logger.Named("stats"),
		summary: Summary{
			EntitySuccess: make(map[string]uint32),
			EntityFailure: make(map[string]uint32),
		},
		conns: make(map[net.Conn]struct{}),
	}, nil
}

func (c *Collector) Addr() net.Addr {
	return c.listener.Addr()
}

// Serve accepts connections until Shutdown is called.
func (c *Collector) Serve() error {
	c.logger.Info("listening", "addr", c.listener.Addr().String())

	for {
		conn, err := c.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}

		c.mx.Lock()
		if c.closed {
			c.mx.Unlock()
			_ = conn.Close()
			return nil
		}
		c.conns[conn] = struct{}{}
		c.wg.Add(1)
		c.mx.Unlock()

		go c.handleConn(conn)
	}
}

func (c *Collector) Shutdown() {
	_ = c.listener.Close()

	c.mx.Lock()
	c.closed = true
	for conn := range c.conns {
		_ = conn.Close()
	}
	c.mx.Unlock()

	c.wg.Wait()
}

func (c *Collector) handleConn(conn net.Conn) {
	defer c.wg.Done()
	defer func() {
		c.mx.Lock()
		delete(c.conns, conn)
		c.mx.Unlock()
		_ = conn.Close()
	}()

	var logger = c.logger.With("session", uuid.NewString(), "remote", conn.RemoteAddr().String())
	logger.Info("client connected")

	for {
		payload, err := protocol.ReadFrame(conn)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				logger.Info("client disconnected")
			} else {
				logger.Error("closing connection", "error", err)
			}
			return
		}

		event, err := protocol.DecodeEvent(payload)
		if err != nil {
			logger.Warn("malformed event", "error", err)
			continue
		}

		c.Record(event)
	}
}

// Record folds one event into the summary.
func (c *Collector) Record(event protocol.Event) {
	c.mx.Lock()
	defer c.mx.Unlock()

	switch event.Kind {
	case protocol.EventTxSuccess:
		var name = entityName(event.Entity)
		c.summary.EntitySuccess[name]++
		c.metrics.AddSample([]string{"entity", name, "prepare_ms"}, float32(event.DurationMs))
		c.logger.Debug("entity accepted", "entity", name, "duration_ms", event.DurationMs)

	case protocol.EventTxFailure:
		var name = entityName(event.Entity)
		c.summary.EntityFailure[name]++
		c.metrics.IncrCounter([]string{"entity", name, "rejected"}, 1)
		c.logger.Info("entity rejected", "entity", name, "reason", event.Reason)

	case protocol.EventPaymentSuccess:
		c.summary.Payments++
		c.summary.TotalMs += uint64(event.DurationMs)
		c.summary.AverageMs = uint32(c.summary.TotalMs / uint64(c.summary.Payments))
		c.metrics.IncrCounter([]string{"payments", "processed"}, 1)
		c.metrics.AddSample([]string{"payments", "duration_ms"}, float32(event.DurationMs))
		c.logger.Info("payment processed", "duration_ms", event.DurationMs, "average_ms", c.summary.AverageMs)

	case protocol.EventPaymentFailed:
		c.summary.FailedPayments++
		c.metrics.IncrCounter([]string{"payments", "failed"}, 1)
		c.logger.Info("payment failed", "reason", event.Reason)
	}
}

func (c *Collector) Summary() Summary {
	c.mx.Lock()
	defer c.mx.Unlock()

	var res = c.summary
	res.EntitySuccess = make(map[string]uint32, len(c.summary.EntitySuccess))
	for k, v := range c.summary.EntitySuccess {
		res.EntitySuccess[k] = v
	}
	res.EntityFailure = make(map[string]uint32, len(c.summary.EntityFailure))
	for k, v := range c.summary.EntityFailure {
		res.EntityFailure[k] = v
	}
	return res
}
