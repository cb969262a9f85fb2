package coordinator

import (
	"context"
	"errors"

	election "github.com/Konstantsiy/alglobo/leader-election"
	"github.com/hashicorp/go-hclog"
)

// LeaderElection decides which replica is the active coordinator.
type LeaderElection interface {
	Leadership
	WaitUntilBecomingLeader(ctx context.Context) error
	GracefulQuit()
	HasFinished() bool
}

// Worker does the leader's work. It returns drained=true when there is
// nothing left for any replica to do.
type Worker interface {
	Work(ctx context.Context, leadership Leadership) (drained bool, err error)
}

type WorkerFunc func(ctx context.Context, leadership Leadership) (bool, error)

func (f WorkerFunc) Work(ctx context.Context, leadership Leadership) (bool, error) {
	return f(ctx, leadership)
}

// Replication runs the worker only while this replica is the leader.
type Replication struct {
	election LeaderElection
	worker   Worker
	logger   hclog.Logger
}

func NewReplication(le LeaderElection, worker Worker, logger hclog.Logger) *Replication {
	return &Replication{
		election: le,
		worker:   worker,
		logger:   logger.Named("replication"),
	}
}

// Run returns nil once the replica set was told to stop, either by this
// replica after draining the queue or by another one.
func (r *Replication) Run(ctx context.Context) error {
	for !r.election.HasFinished() {
		isLeader, err := r.election.IsLeader(ctx)
		if errors.Is(err, election.ErrStopped) {
			break
		}
		if err != nil {
			return err
		}

		if !isLeader {
			r.logger.Info("this replica is not the leader")

			err = r.election.WaitUntilBecomingLeader(ctx)
			if errors.Is(err, election.ErrStopped) {
				break
			}
			if err != nil {
				return err
			}
			continue
		}

		r.logger.Info("this replica is the current leader")

		drained, err := r.worker.Work(ctx, r.election)
		if errors.Is(err, election.ErrStopped) {
			break
		}
		if err != nil {
			return err
		}

		if drained {
			r.election.GracefulQuit()
			return nil
		}
	}

	r.logger.Info("leader has informed there is no more work to do, graceful quit")
	return nil
}
