package aggregate

import (
	"encoding/csv"
	"fmt"
	"io"

	"reservoir-data/lib/textutil"
)

// Row maps column names to the values of one CSV record.
type Row map[string]string

// FieldCountError is returned by Reader.Next for a record whose number of
// fields differs from the header.
type FieldCountError struct {
	Line   int
	Fields int
	Header int
}

func (e *FieldCountError) Error() string {
	return fmt.Sprintf("line %d: %d fields, header has %d", e.Line, e.Fields, e.Header)
}

// Reader reads Rows from a CSV stream whose first record is the header.
type Reader struct {
	csv    *csv.Reader
	header []string
}

func NewReader(r io.Reader) (*Reader, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	if len(header) > 0 {
		header[0] = textutil.StripBOM(header[0])
	}

	return &Reader{csv: reader, header: header}, nil
}

// Next returns the next row, or io.EOF at the end of the stream.
func (r *Reader) Next() (Row, error) {
	record, err := r.csv.Read()
	if err != nil {
		return nil, err
	}
	if len(record) != len(r.header) {
		line, _ := r.csv.FieldPos(0)
		return nil, &FieldCountError{Line: line, Fields: len(record), Header: len(r.header)}
	}

	row := make(Row, len(r.header))
	for i, column := range r.header {
		row[column] = record[i]
	}
	return row, nil
}
