package election

import (
	"container/heap"
	"sort"

	"cosmossdk.io/math"

	"taskmarket/internal/domain"
)

type entry struct {
	candidate string
	weight    math.Int
}

// entries is a min-heap by weight; ties put the larger address at the root so
// eviction order is deterministic.
type entries []entry

func (h entries) less(i, j int) bool {
	if !h[i].weight.Equal(h[j].weight) {
		return h[i].weight.LT(h[j].weight)
	}
	return h[i].candidate > h[j].candidate
}

// TopK keeps the K heaviest candidates seen so far in a bounded min-heap,
// with an index map for in-place updates and arbitrary removal.
type TopK struct {
	k     int
	items entries
	index map[string]int
}

func (t *TopK) Len() int           { return len(t.items) }
func (t *TopK) Less(i, j int) bool { return t.items.less(i, j) }

func (t *TopK) Swap(i, j int) {
	t.items[i], t.items[j] = t.items[j], t.items[i]
	t.index[t.items[i].candidate] = i
	t.index[t.items[j].candidate] = j
}

func (t *TopK) Push(x any) {
	e := x.(entry)
	t.index[e.candidate] = len(t.items)
	t.items = append(t.items, e)
}

func (t *TopK) Pop() any {
	old := t.items
	n := len(old)
	e := old[n-1]
	t.items = old[:n-1]
	delete(t.index, e.candidate)
	return e
}

// NewTopK returns an empty heap holding at most k entries.
func NewTopK(k int) *TopK {
	if k < 0 {
		k = 0
	}
	return &TopK{k: k, index: map[string]int{}}
}

// LoadTopK rebuilds a heap from a persisted array. Entries beyond k or with
// zero weight are dropped.
func LoadTopK(k int, stored []domain.Candidate) *TopK {
	t := NewTopK(k)
	for _, c := range stored {
		if !c.Weight.IsPositive() {
			continue
		}
		if _, dup := t.index[c.Address]; dup {
			continue
		}
		t.Push(entry{candidate: c.Address, weight: c.Weight})
	}
	heap.Init(t)
	for t.Len() > t.k {
		heap.Pop(t)
	}
	return t
}

// Cap is the maximum number of entries.
func (t *TopK) Cap() int { return t.k }

func (t *TopK) Contains(candidate string) bool {
	_, ok := t.index[candidate]
	return ok
}

// Min returns the root entry, the first to be evicted.
func (t *TopK) Min() (domain.Candidate, bool) {
	if len(t.items) == 0 {
		return domain.Candidate{}, false
	}
	return domain.Candidate{Address: t.items[0].candidate, Weight: t.items[0].weight}, true
}

// Update records the candidate's new total weight. A zero weight removes the
// candidate. An absent candidate enters when the heap has room or it beats the
// current minimum's weight, which is then evicted. It reports the evicted candidate, if any.
func (t *TopK) Update(candidate string, weight math.Int) (evicted string) {
	if !weight.IsPositive() {
		t.Remove(candidate)
		return ""
	}
	if i, ok := t.index[candidate]; ok {
		t.items[i].weight = weight
		heap.Fix(t, i)
		return ""
	}
	if t.k == 0 {
		return ""
	}
	e := entry{candidate: candidate, weight: weight}
	if len(t.items) < t.k {
		heap.Push(t, e)
		return ""
	}
	root := t.items[0]
	if !root.weight.LT(weight) {
		return ""
	}
	delete(t.index, root.candidate)
	t.items[0] = e
	t.index[candidate] = 0
	heap.Fix(t, 0)
	return root.candidate
}

// Remove drops the candidate if present.
func (t *TopK) Remove(candidate string) bool {
	i, ok := t.index[candidate]
	if !ok {
		return false
	}
	heap.Remove(t, i)
	return true
}

// Resize changes the bound, evicting the smallest entries when shrinking.
func (t *TopK) Resize(k int) []string {
	if k < 0 {
		k = 0
	}
	t.k = k
	var evicted []string
	for len(t.items) > t.k {
		e := heap.Pop(t).(entry)
		evicted = append(evicted, e.candidate)
	}
	return evicted
}

// Clear empties the heap but keeps its bound.
func (t *TopK) Clear() {
	t.items = nil
	t.index = map[string]int{}
}

// Members returns entries sorted by weight descending, ties by address.
func (t *TopK) Members() []domain.Candidate {
	out := make([]domain.Candidate, 0, len(t.items))
	for _, e := range t.items {
		out = append(out, domain.Candidate{Address: e.candidate, Weight: e.weight})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Weight.Equal(out[j].Weight) {
			return out[i].Weight.GT(out[j].Weight)
		}
		return out[i].Address < out[j].Address
	})
	return out
}

// Entries returns the raw heap array for persistence.
func (t *TopK) Entries() []domain.Candidate {
	out := make([]domain.Candidate, len(t.items))
	for i, e := range t.items {
		out[i] = domain.Candidate{Address: e.candidate, Weight: e.weight}
	}
	return out
}
