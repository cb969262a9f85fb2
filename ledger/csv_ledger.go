package ledger

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/Konstantsiy/alglobo"
)

// CSVLedger appends outcomes to two CSV files with the pending file layout.
// Existing files are kept, so a restarted coordinator resumes where the
// previous leader stopped.
type CSVLedger struct {
	mx sync.Mutex

	processedPath string
	failedPath    string

	processed *csvAppender
	failed    *csvAppender

	recorded map[uint32]struct{}
}

type csvAppender struct {
	f *os.File
	w *csv.Writer
}

func openAppender(path string) (*csvAppender, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	var a = &csvAppender{f: f, w: csv.NewWriter(f)}
	if info.Size() == 0 {
		if err := a.write(header); err != nil {
			f.Close()
			return nil, err
		}
	}

	return a, nil
}

func (a *csvAppender) write(record []string) error {
	if err := a.w.Write(record); err != nil {
		return err
	}
	a.w.Flush()
	return a.w.Error()
}

func OpenCSVLedger(processedPath, failedPath string) (*CSVLedger, error) {
	var recorded = make(map[uint32]struct{})
	for _, path := range []string{processedPath, failedPath} {
		if err := collectIDs(path, recorded); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}

	processed, err := openAppender(processedPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open processed file: %w", err)
	}

	failed, err := openAppender(failedPath)
	if err != nil {
		processed.f.Close()
		return nil, fmt.Errorf("failed to open failed file: %w", err)
	}

	return &CSVLedger{
		processedPath: processedPath,
		failedPath:    failedPath,
		processed:     processed,
		failed:        failed,
		recorded:      recorded,
	}, nil
}

func (l *CSVLedger) LogSuccess(tx alglobo.Transaction) error {
	return l.record(l.processed, tx)
}

func (l *CSVLedger) LogFailure(tx alglobo.Transaction) error {
	return l.record(l.failed, tx)
}

func (l *CSVLedger) record(to *csvAppender, tx alglobo.Transaction) error {
	l.mx.Lock()
	defer l.mx.Unlock()

	if _, ok := l.recorded[tx.ID]; ok {
		return fmt.Errorf("transaction %d: %w", tx.ID, ErrAlreadyRecorded)
	}

	if err := to.write(encodeRecord(tx)); err != nil {
		return err
	}
	l.recorded[tx.ID] = struct{}{}
	return nil
}

func (l *CSVLedger) ProcessedIDs() (map[uint32]struct{}, error) {
	l.mx.Lock()
	defer l.mx.Unlock()

	var ids = make(map[uint32]struct{})
	for _, path := range []string{l.processedPath, l.failedPath} {
		if err := collectIDs(path, ids); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	return ids, nil
}

func collectIDs(path string, ids map[uint32]struct{}) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	reader, err := newCSVReader(f)
	if err != nil {
		return err
	}

	for {
		tx, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		ids[tx.ID] = struct{}{}
	}
}

func (l *CSVLedger) Close() error {
	l.mx.Lock()
	defer l.mx.Unlock()
	return errors.Join(l.processed.f.Close(), l.failed.f.Close())
}
