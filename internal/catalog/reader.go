package catalog

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Column names recognised in the input. Anything else is ignored.
const (
	ColumnSKU         = "sku"
	ColumnName        = "name"
	ColumnDescription = "description"
)

// Row maps a normalised column name to its raw value.
type Row map[string]string

// Get returns the value for column, or "" when the column is absent.
func (r Row) Get(column string) string {
	return r[column]
}

// Chunk is an ordered batch of rows read from one file.
type Chunk struct {
	Columns []string
	Rows    []Row
}

// HasColumn reports whether the chunk was read with the given normalised column.
func (c Chunk) HasColumn(name string) bool {
	for _, col := range c.Columns {
		if col == name {
			return true
		}
	}
	return false
}

// NormalizeColumn folds a header cell into the form used for matching.
func NormalizeColumn(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// ChunkReader streams a CSV file in fixed-size chunks so memory stays flat
// regardless of file size.
type ChunkReader struct {
	csv     *csv.Reader
	columns []string
	size    int
}

// NewChunkReader decodes src with the named encoding and consumes the header row.
func NewChunkReader(src io.Reader, size int, encodingName string) (*ChunkReader, error) {
	if size <= 0 {
		size = 1000
	}
	dec, err := decoderFor(encodingName)
	if err != nil {
		return nil, err
	}
	r := csv.NewReader(transform.NewReader(src, dec))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, &ValidationError{Field: "header", Message: "CSV file is empty; a header row is required"}
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	columns := make([]string, len(header))
	for i, h := range header {
		columns[i] = NormalizeColumn(h)
	}
	return &ChunkReader{csv: r, columns: columns, size: size}, nil
}

// Columns returns the normalised header.
func (cr *ChunkReader) Columns() []string {
	return cr.columns
}

// Next returns the next chunk. It returns io.EOF once the file is exhausted;
// a short final chunk is returned with a nil error.
func (cr *ChunkReader) Next() (Chunk, error) {
	chunk := Chunk{Columns: cr.columns, Rows: make([]Row, 0, cr.size)}
	for len(chunk.Rows) < cr.size {
		record, err := cr.csv.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Chunk{}, fmt.Errorf("read csv: %w", err)
		}
		row := make(Row, len(cr.columns))
		for i, col := range cr.columns {
			if _, seen := row[col]; seen {
				continue
			}
			if i < len(record) {
				row[col] = record[i]
			} else {
				row[col] = ""
			}
		}
		chunk.Rows = append(chunk.Rows, row)
	}
	if len(chunk.Rows) == 0 {
		return Chunk{}, io.EOF
	}
	return chunk, nil
}

// CountRows returns the number of data rows in src by counting line breaks,
// minus one for the header. Quoted fields containing newlines are over-counted;
// progress is capped at 100 so this only makes early percentages conservative.
func CountRows(src io.Reader) (int, error) {
	buf := make([]byte, 64*1024)
	lines := 0
	var last byte
	var size int64
	for {
		n, err := src.Read(buf)
		if n > 0 {
			lines += bytes.Count(buf[:n], []byte{'\n'})
			last = buf[n-1]
			size += int64(n)
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("count rows: %w", err)
		}
	}
	if size > 0 && last != '\n' {
		lines++
	}
	if lines <= 1 {
		return 0, nil
	}
	return lines - 1, nil
}

// decoderFor resolves a WHATWG encoding label. UTF-8 input has any leading BOM
// stripped, which spreadsheet exports commonly add and which would otherwise
// hide the sku column.
func decoderFor(name string) (transform.Transformer, error) {
	label := strings.ToLower(strings.TrimSpace(name))
	if label == "" || label == "utf-8" || label == "utf8" {
		return unicode.BOMOverride(unicode.UTF8.NewDecoder()), nil
	}
	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, fmt.Errorf("unsupported import encoding %q: %w", name, err)
	}
	canonical, _ := htmlindex.Name(enc)
	if strings.HasPrefix(canonical, "utf-16") {
		return nil, fmt.Errorf("unsupported import encoding %q: only ASCII-compatible encodings are supported", name)
	}
	return enc.NewDecoder(), nil
}
