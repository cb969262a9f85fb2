package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/Konstantsiy/alglobo"
	"github.com/Konstantsiy/alglobo/protocol"
	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"
)

// callLog records the calls every fake participant receives, in order.
type callLog struct {
	mx    sync.Mutex
	calls []string
}

func (l *callLog) add(format string, args ...any) {
	l.mx.Lock()
	defer l.mx.Unlock()
	l.calls = append(l.calls, fmt.Sprintf(format, args...))
}

func (l *callLog) all() []string {
	l.mx.Lock()
	defer l.mx.Unlock()
	return append([]string(nil), l.calls...)
}

type fakeParticipant struct {
	name   string
	log    *callLog
	reject map[uint32]bool
}

func (p *fakeParticipant) CreateTransaction(tx alglobo.Transaction) bool {
	p.log.add("%s prepare %d", p.name, tx.ID)
	return !p.reject[tx.ID]
}

func (p *fakeParticipant) Commit(id uint32) { p.log.add("%s commit %d", p.name, id) }

func (p *fakeParticipant) Abort(id uint32) { p.log.add("%s abort %d", p.name, id) }

type fakeResults struct {
	succeeded []uint32
	failed    []uint32
	err       error
}

func (r *fakeResults) LogSuccess(tx alglobo.Transaction) error {
	r.succeeded = append(r.succeeded, tx.ID)
	return r.err
}

func (r *fakeResults) LogFailure(tx alglobo.Transaction) error {
	r.failed = append(r.failed, tx.ID)
	return r.err
}

type fakeStats struct {
	events []protocol.Event
}

func (s *fakeStats) Send(event protocol.Event) {
	s.events = append(s.events, event)
}

func (s *fakeStats) kinds() []protocol.EventKind {
	var kinds []protocol.EventKind
	for _, e := range s.events {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

type sliceQueue struct {
	txs []alglobo.Transaction
}

func (q *sliceQueue) Pop() (alglobo.Transaction, bool) {
	if len(q.txs) == 0 {
		return alglobo.Transaction{}, false
	}
	var tx = q.txs[0]
	q.txs = q.txs[1:]
	return tx, true
}

type fixedLeadership struct {
	answers []bool // consumed one per call, the last one repeats
	err     error
}

func (l *fixedLeadership) IsLeader(context.Context) (bool, error) {
	if l.err != nil {
		return false, l.err
	}
	var answer = l.answers[0]
	if len(l.answers) > 1 {
		l.answers = l.answers[1:]
	}
	return answer, nil
}

type testProcessor struct {
	*Processor
	log     *callLog
	hotel   *fakeParticipant
	airline *fakeParticipant
	bank    *fakeParticipant
	results *fakeResults
	stats   *fakeStats
}

func setupProcessor() *testProcessor {
	var (
		log = &callLog{}
		tp  = &testProcessor{
			log:     log,
			hotel:   &fakeParticipant{name: "hotel", log: log, reject: map[uint32]bool{}},
			airline: &fakeParticipant{name: "airline", log: log, reject: map[uint32]bool{}},
			bank:    &fakeParticipant{name: "bank", log: log, reject: map[uint32]bool{}},
			results: &fakeResults{},
			stats:   &fakeStats{},
		}
	)

	tp.Processor = NewProcessor(ProcessorConfig{
		Hotel:   tp.hotel,
		Airline: tp.airline,
		Bank:    tp.bank,
		Results: tp.results,
		Stats:   tp.stats,
	}, hclog.NewNullLogger())

	return tp
}

func TestProcessor_AllAccept(t *testing.T) {
	var p = setupProcessor()

	ok, err := p.Process(alglobo.Transaction{ID: 7, Client: "alice", HotelPrice: 10, AirlinePrice: 20})
	require.NoError(t, err)
	require.True(t, ok)

	require.Equal(t, []string{
		"hotel prepare 7",
		"airline prepare 7",
		"bank prepare 7",
		"hotel commit 7",
		"airline commit 7",
		"bank commit 7",
	}, p.log.all())

	require.Equal(t, []uint32{7}, p.results.succeeded)
	require.Empty(t, p.results.failed)
	require.Equal(t, []protocol.EventKind{
		protocol.EventTxSuccess, protocol.EventTxSuccess, protocol.EventTxSuccess, protocol.EventPaymentSuccess,
	}, p.stats.kinds())
}

func TestProcessor_Rejections(t *testing.T) {
	var tt = []struct {
		name          string
		rejectedBy    string
		expectedCalls []string
		failedEntity  uint8
	}{
		{
			name:          "hotel rejects",
			rejectedBy:    "hotel",
			expectedCalls: []string{"hotel prepare 9"},
			failedEntity:  protocol.EntityHotel,
		},
		{
			name:       "airline rejects",
			rejectedBy: "airline",
			expectedCalls: []string{
				"hotel prepare 9",
				"airline prepare 9",
				"hotel abort 9",
			},
			failedEntity: protocol.EntityAirline,
		},
		{
			name:       "bank rejects",
			rejectedBy: "bank",
			expectedCalls: []string{
				"hotel prepare 9",
				"airline prepare 9",
				"bank prepare 9",
				"hotel abort 9",
				"airline abort 9",
			},
			failedEntity: protocol.EntityBank,
		},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			var p = setupProcessor()
			map[string]*fakeParticipant{
				"hotel": p.hotel, "airline": p.airline, "bank": p.bank,
			}[tc.rejectedBy].reject[9] = true

			ok, err := p.Process(alglobo.Transaction{ID: 9, Client: "bob"})
			require.NoError(t, err)
			require.False(t, ok)

			require.Equal(t, tc.expectedCalls, p.log.all())
			require.Equal(t, []uint32{9}, p.results.failed)
			require.Empty(t, p.results.succeeded)

			var last = p.stats.events[len(p.stats.events)-1]
			require.Equal(t, protocol.EventPaymentFailed, last.Kind)
			require.Contains(t, last.Reason, tc.rejectedBy)

			var failure = p.stats.events[len(p.stats.events)-2]
			require.Equal(t, protocol.EventTxFailure, failure.Kind)
			require.Equal(t, tc.failedEntity, failure.Entity)
		})
	}
}

func TestProcessor_ResultSinkError(t *testing.T) {
	var p = setupProcessor()
	p.results.err = errors.New("disk full")

	_, err := p.Process(alglobo.Transaction{ID: 1})
	require.ErrorContains(t, err, "disk full")
}

func TestProcessor_RunDrainsQueue(t *testing.T) {
	var (
		p     = setupProcessor()
		queue = &sliceQueue{txs: []alglobo.Transaction{{ID: 1}, {ID: 2}, {ID: 3}}}
	)
	p.airline.reject[2] = true

	drained, err := p.Run(context.Background(), queue, &fixedLeadership{answers: []bool{true}})
	require.NoError(t, err)
	require.True(t, drained)

	require.Equal(t, []uint32{1, 3}, p.results.succeeded)
	require.Equal(t, []uint32{2}, p.results.failed)
}

func TestProcessor_RunStopsWhenLeadershipLost(t *testing.T) {
	var (
		p     = setupProcessor()
		queue = &sliceQueue{txs: []alglobo.Transaction{{ID: 1}, {ID: 2}, {ID: 3}}}
	)

	drained, err := p.Run(context.Background(), queue, &fixedLeadership{answers: []bool{true, false}})
	require.NoError(t, err)
	require.False(t, drained)

	require.Equal(t, []uint32{1}, p.results.succeeded)
	require.Len(t, queue.txs, 2)
}

func TestProcessor_RunPropagatesErrors(t *testing.T) {
	var (
		p       = setupProcessor()
		queue   = &sliceQueue{txs: []alglobo.Transaction{{ID: 1}}}
		stopped = errors.New("stopped")
	)

	_, err := p.Run(context.Background(), queue, &fixedLeadership{err: stopped})
	require.ErrorIs(t, err, stopped)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = p.Run(ctx, queue, &fixedLeadership{answers: []bool{true}})
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, queue.txs, 1)
}
