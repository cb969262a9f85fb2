package election

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var errWaitTimeout = errors.New("wait timed out")

type Phase int

const (
	// Idle - a leader is known (maybe us), nothing in flight
	Idle Phase = iota

	// FindingLeader - Election sent to higher ids, waiting for an Ok
	FindingLeader

	// WaitingForCoordinator - a higher id answered Ok, waiting for its Coordinator
	WaitingForCoordinator
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "Idle"
	case FindingLeader:
		return "FindingLeader"
	case WaitingForCoordinator:
		return "WaitingForCoordinator"
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// state is the election state of one replica.
// leaderID and phase are only changed by the responder goroutine.
type state struct {
	leaderID  uint32
	hasLeader bool // false while an election is in progress

	phase      Phase
	phaseSince time.Time

	// electionRequested is set by FindNewLeader and consumed by the responder
	electionRequested bool

	// leaderEpoch counts leader announcements, health-check counters restart
	// with every announcement
	leaderEpoch uint64

	// health check: a Pong only answers a Ping still outstanding, so a late
	// Pong cannot satisfy a later check
	pingsSent     uint64
	pongsReceived uint64
	strayPong     bool // a Pong from a replica that is not the leader
	strayFrom     uint32

	stopped bool
}

// knownLeader reports whether the leader id can be read.
func (s state) knownLeader() bool {
	return s.hasLeader && !s.electionRequested
}

// setLeader records an announced leader and starts a new health-check epoch.
func (s *state) setLeader(id uint32) {
	s.leaderID = id
	s.hasLeader = true
	s.phase = Idle
	s.phaseSince = time.Now()

	s.leaderEpoch++
	s.pingsSent = 0
	s.pongsReceived = 0
	s.strayPong = false
}

// stateValue guards the election state. Every update wakes all waiters.
type stateValue struct {
	mx      sync.Mutex
	st      state
	changed chan struct{}
}

func newStateValue(initial state) *stateValue {
	return &stateValue{st: initial, changed: make(chan struct{})}
}

func (v *stateValue) load() state {
	v.mx.Lock()
	defer v.mx.Unlock()
	return v.st
}

func (v *stateValue) update(fn func(st *state)) state {
	v.mx.Lock()
	defer v.mx.Unlock()

	fn(&v.st)

	close(v.changed)
	v.changed = make(chan struct{})

	return v.st
}

// waitUntil blocks until ready holds, ctx is done or timeout elapses.
// A zero timeout waits without limit.
func (v *stateValue) waitUntil(ctx context.Context, timeout time.Duration, ready func(st state) bool) (state, error) {
	var deadline <-chan time.Time
	if timeout > 0 {
		var timer = time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		v.mx.Lock()
		var (
			st      = v.st
			changed = v.changed
		)
		v.mx.Unlock()

		if ready(st) {
			return st, nil
		}

		select {
		case <-changed:
		case <-deadline:
			return st, errWaitTimeout
		case <-ctx.Done():
			return st, ctx.Err()
		}
	}
}
