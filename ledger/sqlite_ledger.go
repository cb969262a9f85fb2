package ledger

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/Konstantsiy/alglobo"
	"github.com/mattn/go-sqlite3"
)

const (
	outcomeProcessed = "processed"
	outcomeFailed    = "failed"
)

// SQLiteLedger keeps outcomes in one table keyed by transaction id.
type SQLiteLedger struct {
	db *sql.DB
}

func OpenSQLiteLedger(path string) (*SQLiteLedger, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite ledger: %w", err)
	}
	// sqlite allows a single writer
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS results (
		id INTEGER PRIMARY KEY,
		client TEXT NOT NULL,
		hotel_price INTEGER NOT NULL,
		airline_price INTEGER NOT NULL,
		outcome TEXT NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create results table: %w", err)
	}

	return &SQLiteLedger{db: db}, nil
}

func (l *SQLiteLedger) LogSuccess(tx alglobo.Transaction) error {
	return l.record(tx, outcomeProcessed)
}

func (l *SQLiteLedger) LogFailure(tx alglobo.Transaction) error {
	return l.record(tx, outcomeFailed)
}

func (l *SQLiteLedger) record(tx alglobo.Transaction, outcome string) error {
	_, err := l.db.Exec(`INSERT INTO results(id, client, hotel_price, airline_price, outcome) VALUES(?, ?, ?, ?, ?)`,
		tx.ID, tx.Client, tx.HotelPrice, tx.AirlinePrice, outcome)

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		return fmt.Errorf("transaction %d: %w", tx.ID, ErrAlreadyRecorded)
	}
	if err != nil {
		return fmt.Errorf("failed to record %s transaction %d: %w", outcome, tx.ID, err)
	}
	return nil
}

func (l *SQLiteLedger) ProcessedIDs() (map[uint32]struct{}, error) {
	rows, err := l.db.Query(`SELECT id FROM results`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids = make(map[uint32]struct{})
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[uint32(id)] = struct{}{}
	}
	return ids, rows.Err()
}

// Outcome returns "processed" or "failed", ok is false for unknown ids.
func (l *SQLiteLedger) Outcome(id uint32) (string, bool, error) {
	var outcome string
	err := l.db.QueryRow(`SELECT outcome FROM results WHERE id = ?`, id).Scan(&outcome)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return outcome, true, nil
}

func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}
