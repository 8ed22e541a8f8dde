package trips

import (
	"fmt"
	"time"
)

// extremeAmountThreshold flags implausibly large trip totals.
const extremeAmountThreshold = 1000.0

// QualityReport is the outcome of the pre-load quality gate. Warnings never
// invalidate a batch; only error conditions do.
type QualityReport struct {
	Valid        bool
	Score        int
	Errors       []string
	Warnings     []string
	TotalRecords int
}

// ValidateQuality scores a batch of rows against the category schema before
// anything is written. Scoring:
//   - critical column null-ratio > 10%: error, -20
//   - critical column null-ratio in (5%, 10%]: warning, -5
//   - any negative total amount: warning, -2
//   - extreme totals (> 1000) in more than 1% of rows: warning, -3
//   - pickup later than dropoff: warning, -5
//
// The score is floored at 0.
func ValidateQuality(records []*Record, schema Schema) QualityReport {
	report := QualityReport{
		Valid:        true,
		Score:        100,
		TotalRecords: len(records),
	}
	if len(records) == 0 {
		return report
	}

	total := float64(len(records))

	for _, col := range schema.CriticalColumns() {
		if _, present := records[0].Value(col); !present {
			continue
		}
		nulls := 0
		for _, r := range records {
			if v, _ := r.Value(col); v == nil {
				nulls++
			}
		}
		pct := float64(nulls) / total * 100
		switch {
		case pct > 10:
			report.Errors = append(report.Errors,
				fmt.Sprintf("column %s has %.1f%% null values", col, pct))
			report.Score -= 20
		case pct > 5:
			report.Warnings = append(report.Warnings,
				fmt.Sprintf("column %s has %.1f%% null values", col, pct))
			report.Score -= 5
		}
	}

	negative := 0
	extreme := 0
	for _, r := range records {
		v, ok := r.Value(schema.AmountColumn)
		if !ok || v == nil {
			continue
		}
		amount, ok := asFloat(v)
		if !ok {
			continue
		}
		if amount < 0 {
			negative++
		}
		if amount > extremeAmountThreshold {
			extreme++
		}
	}
	if negative > 0 {
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("%d records have negative total amount", negative))
		report.Score -= 2
	}
	if float64(extreme) > total*0.01 {
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("%d records have extreme total amount (>%d)", extreme, int(extremeAmountThreshold)))
		report.Score -= 3
	}

	inverted := 0
	for _, r := range records {
		pickup, pok := timeValue(r, schema.PickupColumn)
		dropoff, dok := timeValue(r, schema.DropoffColumn)
		if pok && dok && pickup.After(dropoff) {
			inverted++
		}
	}
	if inverted > 0 {
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("%d trips have pickup after dropoff", inverted))
		report.Score -= 5
	}

	if report.Score < 0 {
		report.Score = 0
	}
	report.Valid = len(report.Errors) == 0
	return report
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	default:
		return 0, false
	}
}

func timeValue(r *Record, col string) (time.Time, bool) {
	v, ok := r.Value(col)
	if !ok || v == nil {
		return time.Time{}, false
	}
	t, ok := v.(time.Time)
	return t, ok
}
