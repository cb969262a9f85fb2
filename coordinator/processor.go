package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/Konstantsiy/alglobo"
	"github.com/Konstantsiy/alglobo/protocol"
	"github.com/hashicorp/go-hclog"
)

// Queue yields pending transactions, ok is false once it is exhausted.
type Queue interface {
	Pop() (tx alglobo.Transaction, ok bool)
}

// ResultSink records the outcome of every resolved transaction exactly once.
type ResultSink interface {
	LogSuccess(tx alglobo.Transaction) error
	LogFailure(tx alglobo.Transaction) error
}

// StatsSink delivers best-effort statistics, Send must never block for long.
type StatsSink interface {
	Send(event protocol.Event)
}

// Leadership reports whether this replica may keep acting as coordinator.
type Leadership interface {
	IsLeader(ctx context.Context) (bool, error)
}

type ProcessorConfig struct {
	Hotel   Participant
	Airline Participant
	Bank    Participant

	Results ResultSink
	Stats   StatsSink

	// Pause is slept before every transaction, it makes demos observable.
	Pause time.Duration
}

type step struct {
	entity      uint8
	name        string
	participant Participant
}

// Processor runs two-phase commit for queued payments, one at a time.
type Processor struct {
	steps   []step // prepare order
	results ResultSink
	stats   StatsSink
	pause   time.Duration
	logger  hclog.Logger
}

func NewProcessor(cfg ProcessorConfig, logger hclog.Logger) *Processor {
	return &Processor{
		steps: []step{
			{entity: protocol.EntityHotel, name: "hotel", participant: cfg.Hotel},
			{entity: protocol.EntityAirline, name: "airline", participant: cfg.Airline},
			{entity: protocol.EntityBank, name: "bank", participant: cfg.Bank},
		},
		results: cfg.Results,
		stats:   cfg.Stats,
		pause:   cfg.Pause,
		logger:  logger.Named("processor"),
	}
}

// Process prepares tx on hotel, airline and bank in that order. The first
// rejection aborts the participants that already accepted and stops there;
// when all accept, all are committed. The outcome is recorded in the result
// sink, whose error is returned.
func (p *Processor) Process(tx alglobo.Transaction) (bool, error) {
	var (
		started  = time.Now()
		prepared = make([]step, 0, len(p.steps))
	)

	for _, s := range p.steps {
		var stepStarted = time.Now()

		if !s.participant.CreateTransaction(tx) {
			var reason = fmt.Sprintf("%s rejected transaction %d", s.name, tx.ID)
			p.logger.Info("transaction failed", "tx", tx.ID, "rejected_by", s.name)
			p.stats.Send(protocol.TxFailure(s.entity, reason))

			for _, accepted := range prepared {
				accepted.participant.Abort(tx.ID)
			}

			p.stats.Send(protocol.PaymentFailed(reason))

			if err := p.results.LogFailure(tx); err != nil {
				return false, fmt.Errorf("cannot record failed transaction %d: %w", tx.ID, err)
			}
			return false, nil
		}

		p.stats.Send(protocol.TxSuccess(s.entity, millisSince(stepStarted)))
		prepared = append(prepared, s)
	}

	for _, s := range prepared {
		s.participant.Commit(tx.ID)
	}

	p.logger.Info("transaction approved", "tx", tx.ID, "client", tx.Client)
	p.stats.Send(protocol.PaymentSuccess(millisSince(started)))

	if err := p.results.LogSuccess(tx); err != nil {
		return true, fmt.Errorf("cannot record processed transaction %d: %w", tx.ID, err)
	}
	return true, nil
}

// Run drains queue while this replica is the leader. It reports drained=true
// once the queue is empty and false when leadership was lost first.
func (p *Processor) Run(ctx context.Context, queue Queue, leadership Leadership) (bool, error) {
	for {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		isLeader, err := leadership.IsLeader(ctx)
		if err != nil {
			return false, err
		}

		if !isLeader {
			p.logger.Warn("leadership lost, stop processing")
			return false, nil
		}

		tx, ok := queue.Pop()
		if !ok {
			p.logger.Info("all payments have been processed")
			return true, nil
		}

		if p.pause > 0 {
			select {
			case <-ctx.Done():
				return false, ctx.Err()
			case <-time.After(p.pause):
			}
		}

		if _, err = p.Process(tx); err != nil {
			return false, err
		}
	}
}

func millisSince(t time.Time) uint32 {
	return uint32(time.Since(t).Milliseconds())
}
