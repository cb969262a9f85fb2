package participant

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/Konstantsiy/alglobo/protocol"
	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
)

// Server accepts coordinator connections for one participant entity.
type Server struct {
	listener net.Listener
	sm       *StateMachine
	logger   hclog.Logger

	mx     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool

	wg sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

func NewServer(addr string, sm *StateMachine, logger hclog.Logger) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		listener: listener,
		sm:       sm,
		logger:   logger.Named("server"),
		conns:    make(map[net.Conn]struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Serve accepts connections until Shutdown is called.
func (s *Server) Serve() error {
	s.logger.Info("listening", "addr", s.listener.Addr().String())

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}

		s.mx.Lock()
		if s.closed {
			s.mx.Unlock()
			_ = conn.Close()
			return nil
		}
		s.conns[conn] = struct{}{}
		s.wg.Add(1)
		s.mx.Unlock()

		go s.handleConn(conn)
	}
}

// Shutdown closes the listener and every open connection, then waits for the
// connection goroutines.
func (s *Server) Shutdown() {
	s.cancel()
	_ = s.listener.Close()

	s.mx.Lock()
	s.closed = true
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.mx.Unlock()

	s.wg.Wait()
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mx.Lock()
		delete(s.conns, conn)
		s.mx.Unlock()
		_ = conn.Close()
	}()

	var (
		logger = s.logger.With("session", uuid.NewString(), "remote", conn.RemoteAddr().String())
		pc     = protocol.NewConn(conn)
	)

	logger.Info("client connected")

	for {
		msg, err := pc.Receive()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				logger.Info("client disconnected")
			} else {
				logger.Error("closing connection", "error", err)
			}
			return
		}

		success, err := s.sm.Handle(s.ctx, msg)
		if err != nil {
			logger.Error("closing connection", "kind", msg.Kind, "tx", msg.ID(), "error", err)
			return
		}

		// the decision is already in the log, a lost response is the coordinator's problem
		if err = pc.Send(protocol.NewResponse(success)); err != nil {
			logger.Warn("cannot send response", "tx", msg.ID(), "error", err)
		}
	}
}
