package participant

import (
	"sync"
	"testing"

	"github.com/Konstantsiy/alglobo"
	"github.com/Konstantsiy/alglobo/protocol"
	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"
)

func TestBoltStore_PersistAndRestore(t *testing.T) {
	var testDir = t.TempDir()

	store1, err := OpenBoltStore(testDir, "bank")
	require.NoError(t, err)

	var bank1 = NewBank(BankFailClient, hclog.NewNullLogger())
	sm1, err := NewStateMachine(bank1, store1, hclog.NewNullLogger())
	require.NoError(t, err)
	sm1.Start()

	var tx = alglobo.Transaction{ID: 42, Client: "alice", HotelPrice: 10, AirlinePrice: 30}
	require.True(t, handle(t, sm1, protocol.NewPrepare(tx)))
	require.True(t, handle(t, sm1, protocol.NewCommit(42)))
	require.True(t, handle(t, sm1, protocol.NewPrepare(alglobo.Transaction{ID: 43, Client: "bob", HotelPrice: 1})))
	require.True(t, handle(t, sm1, protocol.NewAbort(44)))

	sm1.Shutdown()
	sm1.Wait()
	require.NoError(t, store1.Close())

	// restore the log in a new process
	store2, err := OpenBoltStore(testDir, "bank")
	require.NoError(t, err)
	defer store2.Close()

	entry, found, err := store2.Get(42)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, Entry{Status: StatusCommit, Tx: tx}, entry)

	entry, found, err = store2.Get(43)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, StatusAccepted, entry.Status)

	entry, found, err = store2.Get(44)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, StatusAbort, entry.Status)

	_, found, err = store2.Get(45)
	require.NoError(t, err)
	require.False(t, found)

	// committed effects are replayed, and a repeated commit does not re-apply them
	var bank2 = NewBank(BankFailClient, hclog.NewNullLogger())
	sm2 := setupStateMachine(t, bank2, store2)

	hotel, airline := bank2.Balances()
	require.Equal(t, uint64(10), hotel)
	require.Equal(t, uint64(30), airline)

	require.True(t, handle(t, sm2, protocol.NewCommit(42)))
	require.True(t, handle(t, sm2, protocol.NewPrepare(tx)))

	hotel, airline = bank2.Balances()
	require.Equal(t, uint64(10), hotel)
	require.Equal(t, uint64(30), airline)
}

func TestBoltStore_ConcurrentAccess(t *testing.T) {
	store, err := OpenBoltStore(t.TempDir(), "hotel")
	require.NoError(t, err)
	defer store.Close()

	var (
		wg   sync.WaitGroup
		errs = make(chan error, 8)
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				var id = uint32(w*100 + i)
				if err := store.Put(id, Entry{Status: StatusAccepted, Tx: alglobo.Transaction{ID: id, Client: "alice", HotelPrice: uint32(i)}}); err != nil {
					errs <- err
					return
				}
				if _, _, err := store.Get(id); err != nil {
					errs <- err
					return
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	entry, found, err := store.Get(703)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, Entry{Status: StatusAccepted, Tx: alglobo.Transaction{ID: 703, Client: "alice", HotelPrice: 3}}, entry)

	var count int
	require.NoError(t, store.ForEach(func(id uint32, entry Entry) error {
		require.Equal(t, id, entry.Tx.ID)
		count++
		return nil
	}))
	require.Equal(t, 8*25, count)
}

func TestDecodeEntry_Errors(t *testing.T) {
	_, err := decodeEntry(1, []byte{1, 2})
	require.Error(t, err)

	_, err = decodeEntry(1, []byte{9, 0, 0, 0, 0, 0, 0, 0, 0})
	require.Error(t, err)
}
