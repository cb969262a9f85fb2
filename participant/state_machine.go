package participant

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Konstantsiy/alglobo/protocol"
	"github.com/hashicorp/go-hclog"
)

var (
	ErrProtocolViolation = errors.New("protocol violation")
	ErrShutdown          = errors.New("state machine is shut down")
)

type request struct {
	msg    protocol.Message
	respCh chan reply
}

type reply struct {
	success bool
	err     error
}

// StateMachine owns the transaction log of one participant. Every message is
// applied by a single goroutine, connections only exchange requests with it.
type StateMachine struct {
	entity Entity
	store  Store
	logger hclog.Logger

	requests chan request

	// signal to stop the owner goroutine
	shutdownCh chan struct{}
	doneCh     chan struct{}
	stopOnce   sync.Once
}

// NewStateMachine creates a state machine over store. Entries already
// committed in store are applied to entity again, so a durable store rebuilds
// the entity state of the previous run.
func NewStateMachine(entity Entity, store Store, logger hclog.Logger) (*StateMachine, error) {
	var sm = &StateMachine{
		entity:     entity,
		store:      store,
		logger:     logger.Named(entity.Name()),
		requests:   make(chan request),
		shutdownCh: make(chan struct{}),
		doneCh:     make(chan struct{}),
	}

	var restored int
	err := store.ForEach(func(id uint32, entry Entry) error {
		if entry.Status == StatusCommit {
			entity.Apply(entry.Tx)
			restored++
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("cannot restore transaction log: %w", err)
	}

	if restored > 0 {
		sm.logger.Info("restored committed transactions", "count", restored)
	}

	return sm, nil
}

func (sm *StateMachine) Start() {
	sm.logger.Info("started")

	go func() {
		defer close(sm.doneCh)

		for {
			select {
			case <-sm.shutdownCh:
				sm.logger.Info("stopped")
				return

			case req := <-sm.requests:
				success, err := sm.apply(req.msg)
				req.respCh <- reply{success: success, err: err}
			}
		}
	}()
}

// Shutdown stops the owner goroutine, use Wait to block until it returns.
func (sm *StateMachine) Shutdown() {
	sm.stopOnce.Do(func() {
		close(sm.shutdownCh)
	})
}

// Wait blocks until the goroutine started by Start has returned.
func (sm *StateMachine) Wait() {
	<-sm.doneCh
}

// Handle applies msg and returns the value to answer the coordinator with.
// Only Prepare, Abort and Commit are valid, anything else is a protocol
// violation the connection must not survive.
func (sm *StateMachine) Handle(ctx context.Context, msg protocol.Message) (bool, error) {
	switch msg.Kind {
	case protocol.KindPrepare, protocol.KindAbort, protocol.KindCommit:
	default:
		return false, fmt.Errorf("%s cannot handle %v: %w", sm.entity.Name(), msg.Kind, ErrProtocolViolation)
	}

	var req = request{msg: msg, respCh: make(chan reply, 1)}

	select {
	case sm.requests <- req:
	case <-sm.shutdownCh:
		return false, ErrShutdown
	case <-ctx.Done():
		return false, ctx.Err()
	}

	select {
	case r := <-req.respCh:
		return r.success, r.err
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (sm *StateMachine) apply(msg protocol.Message) (bool, error) {
	sm.logger.Debug("handle", "kind", msg.Kind, "tx", msg.ID())

	switch msg.Kind {
	case protocol.KindPrepare:
		return sm.prepare(msg)
	case protocol.KindAbort:
		return sm.abort(msg.ID())
	case protocol.KindCommit:
		return sm.commit(msg.ID())
	}

	return false, ErrProtocolViolation
}

// prepare checks the log first so a retried Prepare gets the first
// answer, business rules only run for ids never seen before.
func (sm *StateMachine) prepare(msg protocol.Message) (bool, error) {
	var tx = msg.Transaction

	entry, found, err := sm.store.Get(tx.ID)
	if err != nil {
		return false, fmt.Errorf("prepare %d: %w", tx.ID, err)
	}

	if found {
		sm.logger.Info("prepare retried", "tx", tx.ID, "status", entry.Status)
		return entry.Status != StatusAbort, nil
	}

	if !sm.entity.Accept(tx) {
		sm.logger.Info("transaction rejected", "tx", tx.ID, "client", tx.Client)
		return false, nil
	}

	if err = sm.store.Put(tx.ID, Entry{Status: StatusAccepted, Tx: tx}); err != nil {
		return false, fmt.Errorf("prepare %d: %w", tx.ID, err)
	}

	sm.logger.Info("transaction accepted", "tx", tx.ID, "client", tx.Client)
	return true, nil
}

func (sm *StateMachine) abort(id uint32) (bool, error) {
	entry, found, err := sm.store.Get(id)
	if err != nil {
		return false, fmt.Errorf("abort %d: %w", id, err)
	}

	if found && entry.Status == StatusCommit {
		// a committed effect cannot be undone, the coordinator never aborts after commit
		sm.logger.Warn("abort for committed transaction ignored", "tx", id)
		return true, nil
	}

	var tx = entry.Tx
	tx.ID = id

	if err = sm.store.Put(id, Entry{Status: StatusAbort, Tx: tx}); err != nil {
		return false, fmt.Errorf("abort %d: %w", id, err)
	}

	sm.logger.Info("transaction aborted", "tx", id)
	return true, nil
}

func (sm *StateMachine) commit(id uint32) (bool, error) {
	entry, found, err := sm.store.Get(id)
	if err != nil {
		return false, fmt.Errorf("commit %d: %w", id, err)
	}

	if !found {
		sm.logger.Warn("commit for unknown transaction ignored", "tx", id)
		return true, nil
	}

	if entry.Status != StatusAccepted {
		sm.logger.Debug("commit already resolved", "tx", id, "status", entry.Status)
		return true, nil
	}

	if err = sm.store.Put(id, Entry{Status: StatusCommit, Tx: entry.Tx}); err != nil {
		return false, fmt.Errorf("commit %d: %w", id, err)
	}

	sm.entity.Apply(entry.Tx)

	sm.logger.Info("transaction committed", "tx", id)
	return true, nil
}
