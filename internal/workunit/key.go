package workunit

// Key is the sort record that drives dispatch order: a triple of
// (dependent-count, performance-sample, handle). Ordering is
// lexicographic, descending on DependentCount first, then descending on
// PerfSample, with Handle as a stable ascending tiebreak. "More depended-on"
// and "longer-running" sort earlier.
type Key struct {
	DependentCount int
	PerfSample     int64
	Handle         Handle
}

// Less reports whether a should sort strictly before b under the dispatch
// ordering. It is exposed as a free function (rather than a method taking a
// pointer receiver) so sort.Slice/sort.SliceStable callers can use it
// directly without an intermediate wrapper type.
func Less(a, b Key) bool {
	if a.DependentCount != b.DependentCount {
		return a.DependentCount > b.DependentCount
	}
	if a.PerfSample != b.PerfSample {
		return a.PerfSample > b.PerfSample
	}
	return a.Handle < b.Handle
}
