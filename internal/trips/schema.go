package trips

import (
	"fmt"
	"strings"

	"github.com/citydata/tripline/internal/pipeline"
)

// Categories of trip data with a known column layout.
const (
	CategoryYellow = "yellow_tripdata"
	CategoryGreen  = "green_tripdata"
)

// Lineage columns appended to every loaded row.
const (
	ColumnFileName      = "_file_name"
	ColumnLoadTimestamp = "_load_timestamp"
	ColumnRecordHash    = "_record_hash"
)

// Column is one entry of a category's ordered schema descriptor. The same
// descriptor drives table creation, parquet decoding and quality validation.
type Column struct {
	Name string
	Type string
}

type Schema struct {
	Category string
	Columns  []Column

	// Critical columns checked by the quality gate.
	PickupColumn  string
	DropoffColumn string
	AmountColumn  string
}

func (s Schema) ColumnNames() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

func (s Schema) CriticalColumns() []string {
	return []string{s.PickupColumn, s.DropoffColumn, s.AmountColumn}
}

// DDL renders the column definitions, including the lineage columns, for a
// CREATE TABLE statement.
func (s Schema) DDL() string {
	parts := make([]string, 0, len(s.Columns)+3)
	for _, c := range s.Columns {
		parts = append(parts, fmt.Sprintf("%s %s", c.Name, c.Type))
	}
	parts = append(parts,
		fmt.Sprintf("%s VARCHAR(255)", ColumnFileName),
		fmt.Sprintf("%s TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP", ColumnLoadTimestamp),
		fmt.Sprintf("%s VARCHAR(64)", ColumnRecordHash),
	)
	return strings.Join(parts, ",\n    ")
}

var yellowSchema = Schema{
	Category: CategoryYellow,
	Columns: []Column{
		{Name: "vendorid", Type: "INTEGER"},
		{Name: "tpep_pickup_datetime", Type: "TIMESTAMP"},
		{Name: "tpep_dropoff_datetime", Type: "TIMESTAMP"},
		{Name: "passenger_count", Type: "DOUBLE PRECISION"},
		{Name: "trip_distance", Type: "DOUBLE PRECISION"},
		{Name: "ratecodeid", Type: "DOUBLE PRECISION"},
		{Name: "store_and_fwd_flag", Type: "VARCHAR(1)"},
		{Name: "pulocationid", Type: "INTEGER"},
		{Name: "dolocationid", Type: "INTEGER"},
		{Name: "payment_type", Type: "INTEGER"},
		{Name: "fare_amount", Type: "DOUBLE PRECISION"},
		{Name: "extra", Type: "DOUBLE PRECISION"},
		{Name: "mta_tax", Type: "DOUBLE PRECISION"},
		{Name: "tip_amount", Type: "DOUBLE PRECISION"},
		{Name: "tolls_amount", Type: "DOUBLE PRECISION"},
		{Name: "improvement_surcharge", Type: "DOUBLE PRECISION"},
		{Name: "total_amount", Type: "DOUBLE PRECISION"},
		{Name: "congestion_surcharge", Type: "DOUBLE PRECISION"},
	},
	PickupColumn:  "tpep_pickup_datetime",
	DropoffColumn: "tpep_dropoff_datetime",
	AmountColumn:  "total_amount",
}

var greenSchema = Schema{
	Category: CategoryGreen,
	Columns: []Column{
		{Name: "vendorid", Type: "INTEGER"},
		{Name: "lpep_pickup_datetime", Type: "TIMESTAMP"},
		{Name: "lpep_dropoff_datetime", Type: "TIMESTAMP"},
		{Name: "store_and_fwd_flag", Type: "VARCHAR(1)"},
		{Name: "ratecodeid", Type: "DOUBLE PRECISION"},
		{Name: "pulocationid", Type: "INTEGER"},
		{Name: "dolocationid", Type: "INTEGER"},
		{Name: "passenger_count", Type: "DOUBLE PRECISION"},
		{Name: "trip_distance", Type: "DOUBLE PRECISION"},
		{Name: "fare_amount", Type: "DOUBLE PRECISION"},
		{Name: "extra", Type: "DOUBLE PRECISION"},
		{Name: "mta_tax", Type: "DOUBLE PRECISION"},
		{Name: "tip_amount", Type: "DOUBLE PRECISION"},
		{Name: "tolls_amount", Type: "DOUBLE PRECISION"},
		{Name: "ehail_fee", Type: "DOUBLE PRECISION"},
		{Name: "improvement_surcharge", Type: "DOUBLE PRECISION"},
		{Name: "total_amount", Type: "DOUBLE PRECISION"},
		{Name: "payment_type", Type: "INTEGER"},
		{Name: "trip_type", Type: "INTEGER"},
		{Name: "congestion_surcharge", Type: "DOUBLE PRECISION"},
	},
	PickupColumn:  "lpep_pickup_datetime",
	DropoffColumn: "lpep_dropoff_datetime",
	AmountColumn:  "total_amount",
}

var schemas = map[string]Schema{
	CategoryYellow: yellowSchema,
	CategoryGreen:  greenSchema,
}

// SchemaFor returns the schema descriptor for a category.
func SchemaFor(category string) (Schema, error) {
	s, ok := schemas[category]
	if !ok {
		return Schema{}, pipeline.DataSourceError("unsupported trip category: %q", category)
	}
	return s, nil
}
