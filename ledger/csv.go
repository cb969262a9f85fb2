package ledger

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/Konstantsiy/alglobo"
)

var header = []string{"id", "client", "hotel_price", "airline_price"}

var ErrBadRecord = errors.New("bad payment record")

// csvReader decodes payment records by header name, so columns may come in
// any order and extra columns are ignored.
type csvReader struct {
	r       *csv.Reader
	columns [4]int // positions of header fields
	line    int
}

func newCSVReader(r io.Reader) (*csvReader, error) {
	var reader = csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	names, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("missing header: %w", ErrBadRecord)
		}
		return nil, err
	}

	var res = &csvReader{r: reader, line: 1}
	for i, want := range header {
		res.columns[i] = -1
		for pos, name := range names {
			if name == want {
				res.columns[i] = pos
				break
			}
		}
		if res.columns[i] < 0 {
			return nil, fmt.Errorf("header has no %q column: %w", want, ErrBadRecord)
		}
	}

	return res, nil
}

// Read returns io.EOF once every record has been consumed.
func (c *csvReader) Read() (alglobo.Transaction, error) {
	record, err := c.r.Read()
	if err != nil {
		return alglobo.Transaction{}, err
	}
	c.line++

	for _, pos := range c.columns {
		if pos >= len(record) {
			return alglobo.Transaction{}, fmt.Errorf("line %d: %d fields: %w", c.line, len(record), ErrBadRecord)
		}
	}

	id, err := c.uint32Field(record, 0)
	if err != nil {
		return alglobo.Transaction{}, err
	}
	hotel, err := c.uint32Field(record, 2)
	if err != nil {
		return alglobo.Transaction{}, err
	}
	airline, err := c.uint32Field(record, 3)
	if err != nil {
		return alglobo.Transaction{}, err
	}

	return alglobo.Transaction{
		ID:           id,
		Client:       record[c.columns[1]],
		HotelPrice:   hotel,
		AirlinePrice: airline,
	}, nil
}

func (c *csvReader) uint32Field(record []string, field int) (uint32, error) {
	var raw = record[c.columns[field]]
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("line %d: %s=%q: %w", c.line, header[field], raw, ErrBadRecord)
	}
	return uint32(v), nil
}

func encodeRecord(tx alglobo.Transaction) []string {
	return []string{
		strconv.FormatUint(uint64(tx.ID), 10),
		tx.Client,
		strconv.FormatUint(uint64(tx.HotelPrice), 10),
		strconv.FormatUint(uint64(tx.AirlinePrice), 10),
	}
}
