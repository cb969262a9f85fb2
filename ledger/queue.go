package ledger

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/Konstantsiy/alglobo"
)

// PendingQueue holds the payments that still need a decision, in file order.
type PendingQueue struct {
	mx  sync.Mutex
	txs []alglobo.Transaction
}

// LoadPendingQueue reads the pending payments CSV at path, skipping every id
// present in processed.
func LoadPendingQueue(path string, processed map[uint32]struct{}) (*PendingQueue, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open pending payments: %w", err)
	}
	defer f.Close()

	reader, err := newCSVReader(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	var q = &PendingQueue{}
	for {
		tx, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}

		if _, ok := processed[tx.ID]; ok {
			continue
		}
		q.txs = append(q.txs, tx)
	}

	return q, nil
}

func NewPendingQueue(txs ...alglobo.Transaction) *PendingQueue {
	return &PendingQueue{txs: txs}
}

func (q *PendingQueue) Pop() (alglobo.Transaction, bool) {
	q.mx.Lock()
	defer q.mx.Unlock()

	if len(q.txs) == 0 {
		return alglobo.Transaction{}, false
	}

	var tx = q.txs[0]
	q.txs = q.txs[1:]
	return tx, true
}

func (q *PendingQueue) Len() int {
	q.mx.Lock()
	defer q.mx.Unlock()
	return len(q.txs)
}
