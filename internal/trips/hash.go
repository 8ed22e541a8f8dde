package trips

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ContentHash computes a stable digest of a record's canonicalized fields.
// Fields are serialized in sorted order, so two records with the same field
// set and values hash identically regardless of field order. The hash is a
// lineage column for downstream duplicate identification; it is never
// consulted at load time.
func ContentHash(r *Record) string {
	keys := make([]string, 0, r.Len())
	for _, f := range r.Fields() {
		keys = append(keys, f)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		v, _ := r.Value(k)
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(canonicalValue(v))
	}

	sum := md5.Sum([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func canonicalValue(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case float32:
		return fmt.Sprintf("%g", t)
	case float64:
		return fmt.Sprintf("%g", t)
	default:
		return fmt.Sprintf("%v", t)
	}
}
