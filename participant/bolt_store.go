package participant

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var transactionsBucket = []byte("transactions")

// BoltStore is a Store persisted in a bolt database, one file per entity.
type BoltStore struct {
	db *bolt.DB
}

func OpenBoltStore(dataDir, entity string) (*BoltStore, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("cannot create data directory: %w", err)
	}

	var path = filepath.Join(dataDir, fmt.Sprintf("%s.db", entity))
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("cannot open %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(transactionsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("cannot create transactions bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func idKey(id uint32) []byte {
	var key = make([]byte, 4)
	binary.BigEndian.PutUint32(key, id)
	return key
}

func (s *BoltStore) Get(id uint32) (Entry, bool, error) {
	var (
		entry Entry
		found bool
	)

	err := s.db.View(func(tx *bolt.Tx) error {
		var data = tx.Bucket(transactionsBucket).Get(idKey(id))
		if data == nil {
			return nil
		}

		var err error
		entry, err = decodeEntry(id, data)
		found = err == nil
		return err
	})

	return entry, found, err
}

func (s *BoltStore) Put(id uint32, entry Entry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(transactionsBucket).Put(idKey(id), encodeEntry(entry))
	})
}

func (s *BoltStore) ForEach(fn func(id uint32, entry Entry) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(transactionsBucket).ForEach(func(k, v []byte) error {
			if len(k) != 4 {
				return fmt.Errorf("invalid key length: %d", len(k))
			}

			var id = binary.BigEndian.Uint32(k)
			entry, err := decodeEntry(id, v)
			if err != nil {
				return err
			}
			return fn(id, entry)
		})
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
