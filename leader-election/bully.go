package election

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/Konstantsiy/alglobo/protocol"
	"github.com/hashicorp/go-hclog"
)

// ErrStopped is returned by blocking calls once the replica set was told
// there is no more work, or the replica was shut down.
var ErrStopped = errors.New("leader election stopped")

type Options struct {
	// ElectionTimeout is how long a candidate waits for an Ok before
	// declaring itself leader.
	ElectionTimeout time.Duration
	// HealthCheckInterval is both the ping period and the pong deadline.
	HealthCheckInterval time.Duration
	// TickInterval bounds every receive so timers are checked between datagrams.
	TickInterval time.Duration
}

func DefaultOptions() Options {
	return Options{
		ElectionTimeout:     10 * time.Second,
		HealthCheckInterval: 2 * time.Second,
		TickInterval:        100 * time.Millisecond,
	}
}

// Bully elects the replica with the highest live id as leader.
//
// A single responder goroutine owns the socket reads and is the only writer of
// the leader id and the election phase. Callers only send datagrams and read
// the shared state.
type Bully struct {
	id     uint32
	conn   net.PacketConn
	peers  map[uint32]net.Addr // every other replica
	opts   Options
	logger hclog.Logger

	state *stateValue

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Listen binds the address of id in peers and creates a Bully over it.
func Listen(id uint32, peers map[uint32]string, opts Options, logger hclog.Logger) (*Bully, error) {
	var addr, ok = peers[id]
	if !ok {
		return nil, fmt.Errorf("replica %d has no address", id)
	}

	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("cannot listen on %s: %w", addr, err)
	}

	b, err := New(id, conn, peers, opts, logger)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	return b, nil
}

// New creates a Bully that owns conn. peers maps every replica id, this one
// included, to its UDP address.
func New(id uint32, conn net.PacketConn, peers map[uint32]string, opts Options, logger hclog.Logger) (*Bully, error) {
	var resolved = make(map[uint32]net.Addr, len(peers))

	for peerID, addr := range peers {
		if peerID == id {
			continue
		}

		udpAddr, err := net.ResolveUDPAddr("udp", addr)
		if err != nil {
			return nil, fmt.Errorf("invalid address %q for replica %d: %w", addr, peerID, err)
		}
		resolved[peerID] = udpAddr
	}

	if opts.TickInterval <= 0 || opts.ElectionTimeout <= 0 || opts.HealthCheckInterval <= 0 {
		return nil, fmt.Errorf("election timings must be positive: %+v", opts)
	}

	return &Bully{
		id:     id,
		conn:   conn,
		peers:  resolved,
		opts:   opts,
		logger: logger.Named("bully").With("replica", id),
		// every replica joins with an election
		state: newStateValue(state{phase: Idle, electionRequested: true}),
	}, nil
}

// Start runs the responder goroutine.
func (b *Bully) Start() {
	b.logger.Info("started", "addr", b.conn.LocalAddr().String())

	b.wg.Add(1)
	go b.responder()
}

// Shutdown stops the responder and closes the socket without telling the
// other replicas, which will notice through their health checks.
func (b *Bully) Shutdown() {
	b.closeOnce.Do(func() {
		b.state.update(func(st *state) { st.stopped = true })
		_ = b.conn.Close()
		b.wg.Wait()
	})
}

func (b *Bully) ID() uint32 {
	return b.id
}

// LeaderID blocks until a leader is known.
func (b *Bully) LeaderID(ctx context.Context) (uint32, error) {
	st, err := b.state.waitUntil(ctx, 0, func(st state) bool {
		return st.stopped || st.knownLeader()
	})
	if err != nil {
		return 0, err
	}

	if st.stopped {
		return 0, ErrStopped
	}

	return st.leaderID, nil
}

// IsLeader blocks while an election is in progress.
func (b *Bully) IsLeader(ctx context.Context) (bool, error) {
	leaderID, err := b.LeaderID(ctx)
	if err != nil {
		return false, err
	}

	return leaderID == b.id, nil
}

// FindNewLeader asks the responder to start an election. It is a no-op while
// an election is already in flight.
func (b *Bully) FindNewLeader() {
	b.state.update(func(st *state) {
		if st.stopped || st.phase != Idle {
			return
		}
		st.electionRequested = true
	})
}

// WaitUntilBecomingLeader health-checks the current leader until this replica
// is promoted. It returns ErrStopped when the replica set was told to stop.
func (b *Bully) WaitUntilBecomingLeader(ctx context.Context) error {
	for {
		leaderID, err := b.LeaderID(ctx)
		if err != nil {
			return err
		}

		if leaderID == b.id {
			return nil
		}

		if err = b.checkLeader(ctx, leaderID); err != nil {
			return err
		}
	}
}

// GracefulQuit tells every replica there is no more work and stops this one.
func (b *Bully) GracefulQuit() {
	b.logger.Info("announcing graceful quit")

	for _, peerID := range b.peerIDs() {
		b.send(protocol.ControlGracefulQuit, peerID)
	}

	b.state.update(func(st *state) { st.stopped = true })
}

func (b *Bully) HasFinished() bool {
	return b.state.load().stopped
}

// checkLeader pings leaderID once and waits up to one health-check interval.
func (b *Bully) checkLeader(ctx context.Context, leaderID uint32) error {
	var (
		started = time.Now()
		seq     uint64
		epoch   uint64
	)

	b.state.update(func(st *state) {
		st.pingsSent++
		st.strayPong = false
		seq = st.pingsSent
		epoch = st.leaderEpoch
	})
	b.send(protocol.ControlPing, leaderID)

	var leaderChanged = func(st state) bool {
		return st.stopped || !st.knownLeader() || st.leaderID != leaderID || st.leaderEpoch != epoch
	}

	st, err := b.state.waitUntil(ctx, b.opts.HealthCheckInterval, func(st state) bool {
		return leaderChanged(st) || st.pongsReceived >= seq || st.strayPong
	})

	switch {
	case errors.Is(err, errWaitTimeout):
		b.logger.Warn("leader did not answer ping", "leader", leaderID)
		b.FindNewLeader()
		return nil

	case err != nil:
		return err

	case leaderChanged(st):
		return nil

	case st.pongsReceived < seq:
		b.logger.Warn("pong from unexpected replica", "leader", leaderID, "from", st.strayFrom)
		b.FindNewLeader()
		return nil
	}

	var remaining = b.opts.HealthCheckInterval - time.Since(started)
	if remaining <= 0 {
		return nil
	}

	_, err = b.state.waitUntil(ctx, remaining, leaderChanged)
	if err != nil && !errors.Is(err, errWaitTimeout) {
		return err
	}

	return nil
}

// responder is the only reader of the socket. Every iteration consumes a
// pending election request, checks timers and waits at most one tick for a
// datagram.
func (b *Bully) responder() {
	defer b.wg.Done()

	var buf = make([]byte, protocol.ControlSize+1)

	for {
		if b.state.load().stopped {
			b.logger.Info("responder stopped")
			return
		}

		b.consumeElectionRequest()
		b.tick()

		if err := b.conn.SetReadDeadline(time.Now().Add(b.opts.TickInterval)); err != nil {
			b.logger.Info("responder stopped", "error", err)
			return
		}

		n, from, err := b.conn.ReadFrom(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				b.logger.Info("responder stopped")
				return
			}

			b.logger.Warn("receive failed", "error", err)
			continue
		}

		msg, peerID, err := protocol.DecodeControl(buf[:n])
		if err != nil {
			// nothing was applied, the datagram is dropped
			b.logger.Error("discarding malformed datagram", "from", from.String(), "error", err)
			continue
		}

		b.handle(msg, peerID)
	}
}

func (b *Bully) handle(msg protocol.Control, peerID uint32) {
	b.logger.Trace("received", "msg", msg, "peer", peerID)

	switch msg {
	case protocol.ControlElection:
		if peerID >= b.id {
			return
		}

		b.send(protocol.ControlOk, peerID)

		if b.state.load().phase == Idle {
			b.startElection()
		}

	case protocol.ControlOk:
		b.logger.Debug("received ok", "peer", peerID)

		b.state.update(func(st *state) {
			if st.phase == FindingLeader {
				st.phase = WaitingForCoordinator
				st.phaseSince = time.Now()
			}
		})

	case protocol.ControlCoordinator:
		b.logger.Info("new leader", "leader", peerID)

		b.state.update(func(st *state) {
			st.setLeader(peerID)
		})

		// a lower id only wins when our Ok got lost, claim leadership back
		if peerID < b.id {
			b.startElection()
		}

	case protocol.ControlPing:
		b.send(protocol.ControlPong, peerID)

	case protocol.ControlPong:
		b.state.update(func(st *state) {
			if st.pongsReceived >= st.pingsSent {
				// answers a ping that was already given up on
				return
			}
			if st.hasLeader && peerID == st.leaderID {
				st.pongsReceived++
				return
			}
			st.strayPong = true
			st.strayFrom = peerID
		})

	case protocol.ControlGracefulQuit:
		b.logger.Info("replica set told to stop", "peer", peerID)

		b.state.update(func(st *state) { st.stopped = true })
	}
}

func (b *Bully) consumeElectionRequest() {
	var start bool

	b.state.update(func(st *state) {
		if !st.electionRequested {
			return
		}

		st.electionRequested = false
		if st.phase == Idle {
			st.phase = FindingLeader
			st.phaseSince = time.Now()
			st.hasLeader = false
			start = true
		}
	})

	if start {
		b.logger.Info("looking for leader")
		b.sendElection()
	}
}

func (b *Bully) startElection() {
	b.state.update(func(st *state) {
		// an election in flight answers any pending request
		st.electionRequested = false
		st.phase = FindingLeader
		st.phaseSince = time.Now()
		st.hasLeader = false
	})

	b.logger.Info("looking for leader")
	b.sendElection()
}

// sendElection only reaches higher ids, they are the only ones able to veto.
func (b *Bully) sendElection() {
	for _, peerID := range b.peerIDs() {
		if peerID > b.id {
			b.send(protocol.ControlElection, peerID)
		}
	}
}

func (b *Bully) tick() {
	var st = b.state.load()

	switch st.phase {
	case FindingLeader:
		if time.Since(st.phaseSince) >= b.opts.ElectionTimeout {
			b.becomeLeader()
		}

	case WaitingForCoordinator:
		if time.Since(st.phaseSince) >= 2*b.opts.ElectionTimeout {
			b.logger.Warn("no coordinator announced, restarting election")
			b.startElection()
		}
	}
}

func (b *Bully) becomeLeader() {
	b.logger.Info("announcing myself as leader")

	for _, peerID := range b.peerIDs() {
		b.send(protocol.ControlCoordinator, peerID)
	}

	b.state.update(func(st *state) {
		st.setLeader(b.id)
	})
}

// send is fire-and-forget, a lost datagram is covered by the timeouts.
func (b *Bully) send(msg protocol.Control, peerID uint32) {
	var addr, ok = b.peers[peerID]
	if !ok {
		b.logger.Warn("unknown replica", "peer", peerID, "msg", msg)
		return
	}

	var data = protocol.EncodeControl(msg, b.id)
	if _, err := b.conn.WriteTo(data[:], addr); err != nil {
		b.logger.Debug("send failed", "peer", peerID, "msg", msg, "error", err)
	}
}

func (b *Bully) peerIDs() []uint32 {
	var ids = make([]uint32, 0, len(b.peers))
	for id := range b.peers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
