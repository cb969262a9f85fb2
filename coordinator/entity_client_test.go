package coordinator

import (
	"net"
	"testing"
	"time"

	"github.com/Konstantsiy/alglobo"
	"github.com/Konstantsiy/alglobo/participant"
	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"
)

func startParticipant(t *testing.T, addr string, entity participant.Entity) *participant.Server {
	sm, err := participant.NewStateMachine(entity, participant.NewMemoryStore(), hclog.NewNullLogger())
	require.NoError(t, err)
	sm.Start()

	server, err := participant.NewServer(addr, sm, hclog.NewNullLogger())
	require.NoError(t, err)
	go func() { _ = server.Serve() }()

	t.Cleanup(func() {
		server.Shutdown()
		sm.Shutdown()
	})

	return server
}

func TestEntityClient_TwoPhases(t *testing.T) {
	var (
		bank   = participant.NewBank(participant.BankFailClient, hclog.NewNullLogger())
		server = startParticipant(t, "127.0.0.1:0", bank)
	)

	client, err := DialEntity("bank", server.Addr().String(), time.Second, hclog.NewNullLogger())
	require.NoError(t, err)
	defer client.Close()

	require.True(t, client.CreateTransaction(alglobo.Transaction{ID: 1, Client: "alice", HotelPrice: 3, AirlinePrice: 4}))
	require.False(t, client.CreateTransaction(alglobo.Transaction{ID: 2, Client: participant.BankFailClient}))
	require.True(t, client.CreateTransaction(alglobo.Transaction{ID: 3, Client: "bob", HotelPrice: 100}))

	client.Commit(1)
	client.Abort(3)
	client.Commit(3)

	hotel, airline := bank.Balances()
	require.Equal(t, uint64(3), hotel)
	require.Equal(t, uint64(4), airline)
}

func TestEntityClient_DialFailure(t *testing.T) {
	var addr = unusedAddr(t)

	_, err := DialEntity("hotel", addr, 100*time.Millisecond, hclog.NewNullLogger())
	require.Error(t, err)
}

func TestEntityClient_ConnectionFailureIsRejection(t *testing.T) {
	var (
		addr   = unusedAddr(t)
		hotel  = participant.NewHotel(participant.HotelFailClient, hclog.NewNullLogger())
		server = startParticipant(t, addr, hotel)
	)

	client, err := DialEntity("hotel", addr, time.Second, hclog.NewNullLogger())
	require.NoError(t, err)
	defer client.Close()

	require.True(t, client.CreateTransaction(alglobo.Transaction{ID: 1, Client: "alice"}))

	// participant goes away: the call fails closed and the reconnect fails too
	server.Shutdown()
	require.False(t, client.CreateTransaction(alglobo.Transaction{ID: 2, Client: "alice"}))
	require.False(t, client.CreateTransaction(alglobo.Transaction{ID: 2, Client: "alice"}))

	// participant is back on the same address: the failed call reconnects,
	// the next one goes through
	startParticipant(t, addr, hotel)
	require.False(t, client.CreateTransaction(alglobo.Transaction{ID: 2, Client: "alice"}))
	require.True(t, client.CreateTransaction(alglobo.Transaction{ID: 2, Client: "alice"}))

	client.Commit(2)
	require.Equal(t, uint32(1), hotel.Reservations())
}

// unusedAddr returns a loopback address nobody listens on right now.
func unusedAddr(t *testing.T) string {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var addr = listener.Addr().String()
	require.NoError(t, listener.Close())
	return addr
}
