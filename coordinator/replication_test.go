package coordinator

import (
	"context"
	"errors"
	"testing"

	election "github.com/Konstantsiy/alglobo/leader-election"
	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"
)

// fakeElection follows a script of leadership answers.
type fakeElection struct {
	leader     []bool // IsLeader answers, the last one repeats
	promotions int    // WaitUntilBecomingLeader calls before it reports ErrStopped
	waits      int
	quits      int
	finished   bool
}

func (e *fakeElection) IsLeader(context.Context) (bool, error) {
	if e.finished {
		return false, election.ErrStopped
	}
	var answer = e.leader[0]
	if len(e.leader) > 1 {
		e.leader = e.leader[1:]
	}
	return answer, nil
}

func (e *fakeElection) WaitUntilBecomingLeader(context.Context) error {
	e.waits++
	if e.waits > e.promotions {
		e.finished = true
		return election.ErrStopped
	}
	return nil
}

func (e *fakeElection) GracefulQuit() {
	e.quits++
	e.finished = true
}

func (e *fakeElection) HasFinished() bool {
	return e.finished
}

func TestReplication_LeaderDrainsAndQuits(t *testing.T) {
	var (
		le    = &fakeElection{leader: []bool{true}}
		calls int
	)

	var r = NewReplication(le, WorkerFunc(func(ctx context.Context, leadership Leadership) (bool, error) {
		calls++
		return true, nil
	}), hclog.NewNullLogger())

	require.NoError(t, r.Run(context.Background()))
	require.Equal(t, 1, calls)
	require.Equal(t, 1, le.quits)
	require.Zero(t, le.waits)
}

func TestReplication_FollowerObservesQuit(t *testing.T) {
	var (
		le    = &fakeElection{leader: []bool{false}}
		calls int
	)

	var r = NewReplication(le, WorkerFunc(func(context.Context, Leadership) (bool, error) {
		calls++
		return true, nil
	}), hclog.NewNullLogger())

	require.NoError(t, r.Run(context.Background()))
	require.Zero(t, calls)
	require.Zero(t, le.quits)
	require.Equal(t, 1, le.waits)
}

func TestReplication_PromotedFollower(t *testing.T) {
	var (
		le    = &fakeElection{leader: []bool{false, true}, promotions: 1}
		calls int
	)

	var r = NewReplication(le, WorkerFunc(func(context.Context, Leadership) (bool, error) {
		calls++
		return true, nil
	}), hclog.NewNullLogger())

	require.NoError(t, r.Run(context.Background()))
	require.Equal(t, 1, le.waits)
	require.Equal(t, 1, calls)
	require.Equal(t, 1, le.quits)
}

func TestReplication_LeadershipLostMidRun(t *testing.T) {
	var (
		le    = &fakeElection{leader: []bool{true, false}, promotions: 0}
		calls int
	)

	var r = NewReplication(le, WorkerFunc(func(context.Context, Leadership) (bool, error) {
		calls++
		return false, nil
	}), hclog.NewNullLogger())

	require.NoError(t, r.Run(context.Background()))
	require.Equal(t, 1, calls)
	require.Equal(t, 1, le.waits)
	require.Zero(t, le.quits)
}

func TestReplication_WorkerError(t *testing.T) {
	var (
		le       = &fakeElection{leader: []bool{true}}
		expected = errors.New("cannot connect to hotel")
	)

	var r = NewReplication(le, WorkerFunc(func(context.Context, Leadership) (bool, error) {
		return false, expected
	}), hclog.NewNullLogger())

	require.ErrorIs(t, r.Run(context.Background()), expected)
	require.Zero(t, le.quits)
}
