package ledger

import (
	"errors"
	"fmt"

	"github.com/Konstantsiy/alglobo"
	"github.com/Konstantsiy/alglobo/config"
)

// ErrAlreadyRecorded is returned when an outcome is logged twice for one id.
var ErrAlreadyRecorded = errors.New("outcome already recorded")

// Ledger records the final outcome of every payment. A payment is logged
// once, either as processed or as failed.
type Ledger interface {
	LogSuccess(tx alglobo.Transaction) error
	LogFailure(tx alglobo.Transaction) error
	// ProcessedIDs returns every id with a recorded outcome.
	ProcessedIDs() (map[uint32]struct{}, error)
	Close() error
}

func Open(cfg config.LedgerConfig) (Ledger, error) {
	switch cfg.Driver {
	case "csv":
		return OpenCSVLedger(cfg.Processed, cfg.Failed)
	case "sqlite":
		return OpenSQLiteLedger(cfg.SQLitePath)
	}
	return nil, fmt.Errorf("unknown ledger driver %q", cfg.Driver)
}
