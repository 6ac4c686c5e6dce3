package subscription

import (
	"reflect"
	"sort"

	"carestream.org/internal/records"
)

// Snapshot is one materialisation of a live collection.
type Snapshot struct {
	// Seq counts snapshots delivered on the subscription, starting at 1.
	Seq     uint64
	Kind    records.Kind
	Records []records.Record
	// Diff describes what changed since the previous snapshot. It exists for
	// change highlighting only; Records is always the complete collection.
	Diff Diff
	// Err is set on the final snapshot of a subscription the store refused.
	Err error
}

// Diff lists record ids by change type.
type Diff struct {
	Added   []string `json:"added,omitempty"`
	Removed []string `json:"removed,omitempty"`
	Changed []string `json:"changed,omitempty"`
}

// Empty reports whether nothing changed.
func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// Items returns the records of s that are of type T.
func Items[T records.Record](s Snapshot) []T {
	out := make([]T, 0, len(s.Records))
	for _, r := range s.Records {
		if v, ok := r.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

func diff(prev map[string]records.Record, cur []records.Record) Diff {
	var d Diff
	seen := make(map[string]struct{}, len(cur))
	for _, r := range cur {
		id := r.RecordID()
		seen[id] = struct{}{}
		old, ok := prev[id]
		switch {
		case !ok:
			d.Added = append(d.Added, id)
		case !reflect.DeepEqual(old, r):
			d.Changed = append(d.Changed, id)
		}
	}
	for id := range prev {
		if _, ok := seen[id]; !ok {
			d.Removed = append(d.Removed, id)
		}
	}
	sort.Strings(d.Removed)
	return d
}
