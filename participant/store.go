package participant

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/Konstantsiy/alglobo"
)

type Status uint8

const (
	// StatusAccepted - prepared and waiting for the coordinator decision
	StatusAccepted Status = iota + 1

	// StatusCommit - finalized, the entity effect was applied
	StatusCommit

	// StatusAbort - finalized without effect
	StatusAbort
)

func (s Status) String() string {
	switch s {
	case StatusAccepted:
		return "Accepted"
	case StatusCommit:
		return "Commit"
	case StatusAbort:
		return "Abort"
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

// Entry is the participant log record of one transaction id.
type Entry struct {
	Status Status
	Tx     alglobo.Transaction // zero for an Abort that was never prepared
}

// Store keeps the participant transaction log. It is only accessed from the
// state machine goroutine, implementations need not serialize callers.
type Store interface {
	Get(id uint32) (Entry, bool, error)
	Put(id uint32, entry Entry) error
	// ForEach visits every entry, used to rebuild entity state on start.
	ForEach(fn func(id uint32, entry Entry) error) error
	Close() error
}

// MemoryStore is a Store that lives as long as the process.
type MemoryStore struct {
	mx      sync.RWMutex
	entries map[uint32]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[uint32]Entry)}
}

func (s *MemoryStore) Get(id uint32) (Entry, bool, error) {
	s.mx.RLock()
	defer s.mx.RUnlock()

	var entry, ok = s.entries[id]
	return entry, ok, nil
}

func (s *MemoryStore) Put(id uint32, entry Entry) error {
	s.mx.Lock()
	defer s.mx.Unlock()

	s.entries[id] = entry
	return nil
}

func (s *MemoryStore) ForEach(fn func(id uint32, entry Entry) error) error {
	s.mx.RLock()
	defer s.mx.RUnlock()

	for id, entry := range s.entries {
		if err := fn(id, entry); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemoryStore) Len() int {
	s.mx.RLock()
	defer s.mx.RUnlock()
	return len(s.entries)
}

func (s *MemoryStore) Close() error { return nil }

// encodeEntry encodes an entry for durable storage
/*
	[0]      - status
	[1..5]   - hotel price, uint32
	[5..9]   - airline price, uint32
	[9..]    - client
*/
func encodeEntry(entry Entry) []byte {
	var buf = make([]byte, 9+len(entry.Tx.Client))
	buf[0] = byte(entry.Status)
	binary.BigEndian.PutUint32(buf[1:5], entry.Tx.HotelPrice)
	binary.BigEndian.PutUint32(buf[5:9], entry.Tx.AirlinePrice)
	copy(buf[9:], entry.Tx.Client)
	return buf
}

func decodeEntry(id uint32, data []byte) (Entry, error) {
	var entry Entry

	if len(data) < 9 {
		return entry, fmt.Errorf("entry %d too short: %d bytes", id, len(data))
	}

	entry.Status = Status(data[0])
	switch entry.Status {
	case StatusAccepted, StatusCommit, StatusAbort:
	default:
		return entry, fmt.Errorf("entry %d has invalid status %d", id, data[0])
	}

	entry.Tx = alglobo.Transaction{
		ID:           id,
		HotelPrice:   binary.BigEndian.Uint32(data[1:5]),
		AirlinePrice: binary.BigEndian.Uint32(data[5:9]),
		Client:       string(data[9:]),
	}

	return entry, nil
}
