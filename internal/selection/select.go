package selection

import (
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
)

// Options narrows a selection. The zero value selects everything.
type Options struct {
	// IDs, when non-nil, is used verbatim.
	IDs []string
	// Limit, when positive, keeps the first Limit ids in ascending order.
	Limit int
}

// Select resolves the ids in scope for a run.
//
// Explicit ids take priority and are returned as given (no dedup, no
// existence check; unknown ids fail later, per entity). Otherwise every known
// id is sorted ascending and, if a limit is set, truncated. Sorting keeps
// repeated runs with the same limit on the same subset.
func Select(known []string, opts Options) []string {
	if opts.IDs != nil {
		out := make([]string, len(opts.IDs))
		copy(out, opts.IDs)
		return out
	}

	ids := make([]string, len(known))
	copy(ids, known)
	sort.Strings(ids)

	if opts.Limit > 0 && opts.Limit < len(ids) {
		ids = ids[:opts.Limit]
	}
	return ids
}

// SelectFromIndex applies Select to the key set of an authored index.
func SelectFromIndex(idx AuthoredIndex, opts Options) []string {
	return Select(idx.IDs(), opts)
}

// Unavailable returns the ids of selected that are absent from available,
// in selection order and without duplicates.
func Unavailable(selected, available []string) []string {
	have := mapset.NewThreadUnsafeSet(available...)
	seen := mapset.NewThreadUnsafeSet[string]()
	var out []string
	for _, id := range selected {
		if have.Contains(id) || !seen.Add(id) {
			continue
		}
		out = append(out, id)
	}
	return out
}
