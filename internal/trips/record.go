package trips

// Record is one trip row: a set of fields and their corresponding values.
// Field order is critical for batched inserts, so fields and values are kept
// in parallel slices rather than a map.
type Record struct {
	fields []string
	values []any
	index  map[string]int
}

func NewRecord(fields []string, values []any) *Record {
	index := make(map[string]int, len(fields))
	for i, f := range fields {
		index[f] = i
	}
	return &Record{
		fields: fields,
		values: values,
		index:  index,
	}
}

func (r *Record) Len() int {
	return len(r.fields)
}

func (r *Record) Fields() []string {
	return r.fields
}

func (r *Record) Values() []any {
	return r.values
}

// Value returns the value of a named field; the second return reports
// whether the field exists. A present field may still hold a nil value.
func (r *Record) Value(field string) (any, bool) {
	i, ok := r.index[field]
	if !ok {
		return nil, false
	}
	return r.values[i], true
}

// Append returns a new record with an extra field. The receiver is unchanged.
func (r *Record) Append(field string, value any) *Record {
	fields := make([]string, 0, len(r.fields)+1)
	values := make([]any, 0, len(r.values)+1)
	fields = append(fields, r.fields...)
	values = append(values, r.values...)
	fields = append(fields, field)
	values = append(values, value)
	return NewRecord(fields, values)
}

func (r *Record) Map() map[string]any {
	m := make(map[string]any, len(r.fields))
	for i, field := range r.fields {
		m[field] = r.values[i]
	}
	return m
}
