package loader

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/citydata/tripline/internal/pipeline"
	"github.com/citydata/tripline/internal/trips"
)

// writeStagedCSV renders records plus lineage columns to a headered CSV
// file, the format the warehouse-side bulk copy consumes.
func writeStagedCSV(path string, columns []string, records []*trips.Record, filename string, loadTS time.Time) error {
	f, err := os.Create(path)
	if err != nil {
		return pipeline.StageError(err, "create staged csv %s", path)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(columns); err != nil {
		return pipeline.StageError(err, "write staged csv header")
	}

	row := make([]string, len(columns))
	for _, r := range records {
		values := lineageRow(r, filename, loadTS)
		for i, v := range values {
			row[i] = csvValue(v)
		}
		if err := w.Write(row); err != nil {
			return pipeline.StageError(err, "write staged csv row")
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return pipeline.StageError(err, "flush staged csv")
	}
	return nil
}

// csvValue renders a field for the copy path. Empty cells read back as
// NULL on the warehouse side.
func csvValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'g', -1, 32)
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}
