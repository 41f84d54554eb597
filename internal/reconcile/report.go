package reconcile

import (
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
	"golang.org/x/text/unicode/norm"
)

// Report partitions the expected and found ids. The three lists are sorted
// and pairwise disjoint.
type Report struct {
	Domain     string   `json:"domain"`
	Expected   int      `json:"expected"`
	Found      int      `json:"found"`
	Confirmed  []string `json:"confirmed"`
	Unexpected []string `json:"unexpected"`
	Missing    []string `json:"missing"`
}

// Complete reports whether every expected id was found.
func (r *Report) Complete() bool {
	return len(r.Missing) == 0
}

// Diff computes the report for expected against the ids found remotely.
// Ids on both sides are compared in NFC form. Duplicates on either side count
// once.
func Diff(expected, found []string) *Report {
	expected, found = normalize(expected), normalize(found)
	want := mapset.NewThreadUnsafeSet(expected...)
	got := mapset.NewThreadUnsafeSet(found...)

	remaining := want.Clone()
	unexpected := mapset.NewThreadUnsafeSet[string]()
	for _, id := range found {
		if remaining.Contains(id) {
			remaining.Remove(id)
		} else if !want.Contains(id) {
			unexpected.Add(id)
		}
	}

	return &Report{
		Expected:   want.Cardinality(),
		Found:      got.Cardinality(),
		Confirmed:  sorted(want.Difference(remaining)),
		Unexpected: sorted(unexpected),
		Missing:    sorted(remaining),
	}
}

func sorted(s mapset.Set[string]) []string {
	out := s.ToSlice()
	sort.Strings(out)
	if out == nil {
		out = []string{}
	}
	return out
}

func normalize(ids []string) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = norm.NFC.String(id)
	}
	return out
}
