package docstore

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"
)

// cloneFields deep-copies the maps and slices of a field map so callers never
// share mutable state with the store.
func cloneFields(in map[string]any) map[string]any {
	if in == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneFields(t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	case []map[string]any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneFields(t[i])
		}
		return out
	}
	return v
}

func fieldValue(d Document, field string) any {
	if field == IDField {
		return d.ID
	}
	return d.Fields[field]
}

// Matches reports whether d satisfies every filter.
func Matches(d Document, filters []Filter) bool {
	for _, f := range filters {
		if compareValues(fieldValue(d, f.Field), f.Value) != 0 {
			return false
		}
	}
	return true
}

// SortDocuments orders docs by o, breaking ties by id in the same direction.
// Documents without the order field come last in either direction, as with
// "nulls last" in SQL.
func SortDocuments(docs []Document, o Order) {
	sort.SliceStable(docs, func(i, j int) bool {
		c := 0
		if o.Field != "" {
			vi, vj := fieldValue(docs[i], o.Field), fieldValue(docs[j], o.Field)
			if (vi == nil) != (vj == nil) {
				return vj == nil
			}
			c = compareValues(vi, vj)
		}
		if c == 0 {
			c = strings.Compare(docs[i].ID, docs[j].ID)
		}
		if o.Desc {
			return c > 0
		}
		return c < 0
	})
}

// compareValues orders scalars found in documents. A missing value is less
// than any present one; values of different types fall back to their printed
// form.
func compareValues(a, b any) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			}
			return 0
		}
	}
	switch av := a.(type) {
	case string:
		if bv, ok := b.(string); ok {
			return strings.Compare(av, bv)
		}
	case time.Time:
		if bv, ok := b.(time.Time); ok {
			return av.Compare(bv)
		}
	case bool:
		if bv, ok := b.(bool); ok {
			switch {
			case av == bv:
				return 0
			case !av:
				return -1
			}
			return 1
		}
	}
	if reflect.DeepEqual(a, b) {
		return 0
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
