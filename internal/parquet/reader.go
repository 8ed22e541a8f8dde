// Package parquet reads trip rows out of downloaded parquet artifacts into
// schema-ordered records.
package parquet

import (
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/source"

	"github.com/citydata/tripline/internal/pipeline"
	"github.com/citydata/tripline/internal/trips"
)

// Reader streams records from one parquet file. Not safe for concurrent
// use; each worker opens its own reader.
type Reader struct {
	fr     source.ParquetFile
	pr     *reader.ParquetReader
	schema trips.Schema
	left   int64
}

func Open(path string, schema trips.Schema) (*Reader, error) {
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, pipeline.LoaderError(err, "open parquet file %s", path)
	}

	pr, err := reader.NewParquetReader(fr, nil, 4)
	if err != nil {
		fr.Close()
		return nil, pipeline.LoaderError(err, "read parquet footer of %s", path)
	}

	return &Reader{
		fr:     fr,
		pr:     pr,
		schema: schema,
		left:   pr.GetNumRows(),
	}, nil
}

// NumRows reports the total row count from the file footer.
func (r *Reader) NumRows() int64 {
	return r.pr.GetNumRows()
}

// Read returns up to n records, or io.EOF once the file is exhausted.
func (r *Reader) Read(n int) ([]*trips.Record, error) {
	if r.left <= 0 {
		return nil, io.EOF
	}
	if int64(n) > r.left {
		n = int(r.left)
	}

	raw, err := r.pr.ReadByNumber(n)
	if err != nil {
		return nil, pipeline.LoaderError(err, "read parquet rows")
	}
	r.left -= int64(len(raw))

	// The reader yields generated structs; a JSON round-trip is the
	// supported way to get at the values generically.
	bs, err := json.Marshal(raw)
	if err != nil {
		return nil, pipeline.LoaderError(err, "decode parquet rows")
	}
	var rows []map[string]any
	if err := json.Unmarshal(bs, &rows); err != nil {
		return nil, pipeline.LoaderError(err, "decode parquet rows")
	}

	records := make([]*trips.Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, r.toRecord(row))
	}
	return records, nil
}

func (r *Reader) Close() error {
	r.pr.ReadStop()
	return r.fr.Close()
}

// toRecord maps a decoded row onto the category schema's column order.
// Parquet field names vary in case between files; matching is
// case-insensitive.
func (r *Reader) toRecord(row map[string]any) *trips.Record {
	lowered := make(map[string]any, len(row))
	for k, v := range row {
		lowered[strings.ToLower(k)] = v
	}

	fields := r.schema.ColumnNames()
	values := make([]any, len(fields))
	for i, col := range r.schema.Columns {
		values[i] = convert(lowered[col.Name], col.Type)
	}
	return trips.NewRecord(fields, values)
}

func convert(v any, columnType string) any {
	if v == nil {
		return nil
	}
	switch {
	case columnType == "TIMESTAMP":
		// Timestamps decode as microseconds since epoch.
		if f, ok := v.(float64); ok {
			return time.UnixMicro(int64(f)).UTC()
		}
		return v
	case columnType == "INTEGER":
		if f, ok := v.(float64); ok {
			return int64(f)
		}
		return v
	case strings.HasPrefix(columnType, "VARCHAR"):
		if s, ok := v.(string); ok {
			return s
		}
		return v
	default:
		return v
	}
}
