package election_test

import (
	"fmt"
	"sort"
	"testing"

	"cosmossdk.io/math"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"taskmarket/internal/domain"
	"taskmarket/internal/election"
)

func TestTopKEvictsMinimum(t *testing.T) {
	h := election.NewTopK(2)
	require.Equal(t, "", h.Update("a", math.NewInt(50)))
	require.Equal(t, "", h.Update("b", math.NewInt(30)))
	require.Equal(t, "", h.Update("c", math.NewInt(20)))
	require.False(t, h.Contains("c"))

	require.Equal(t, "b", h.Update("c", math.NewInt(40)))
	members := h.Members()
	require.Len(t, members, 2)
	require.Equal(t, "a", members[0].Address)
	require.Equal(t, "c", members[1].Address)

	h.Update("a", math.ZeroInt())
	require.False(t, h.Contains("a"))
	require.Equal(t, 1, h.Len())
}

func TestTopKTieKeepsIncumbent(t *testing.T) {
	h := election.NewTopK(1)
	require.Equal(t, "", h.Update("0xB", math.NewInt(10)))
	require.Equal(t, "", h.Update("0xA", math.NewInt(10)))
	require.True(t, h.Contains("0xB"))
	require.False(t, h.Contains("0xA"))

	require.Equal(t, "0xB", h.Update("0xA", math.NewInt(11)))
	require.Equal(t, "0xA", h.Members()[0].Address)
}

func TestTopKResize(t *testing.T) {
	h := election.NewTopK(3)
	h.Update("a", math.NewInt(3))
	h.Update("b", math.NewInt(1))
	h.Update("c", math.NewInt(2))

	evicted := h.Resize(1)
	require.Equal(t, []string{"b", "c"}, evicted)
	require.Equal(t, []domain.Candidate{{Address: "a", Weight: math.NewInt(3)}}, h.Members())

	require.Equal(t, []string{"a"}, h.Resize(0))
	require.Equal(t, 0, h.Len())
	h.Update("d", math.NewInt(9))
	require.Equal(t, 0, h.Len())
}

func TestTopKLoadRoundTrip(t *testing.T) {
	h := election.NewTopK(3)
	for i, w := range []int64{5, 9, 1, 7} {
		h.Update(fmt.Sprintf("c%d", i), math.NewInt(w))
	}
	again := election.LoadTopK(3, h.Entries())
	require.Equal(t, h.Members(), again.Members())

	smaller := election.LoadTopK(1, h.Entries())
	require.Equal(t, "c1", smaller.Members()[0].Address)
}

type topKModel struct {
	weights map[string]int64
}

func checkHeap(t *rapid.T, h *election.TopK) {
	if h.Len() > h.Cap() {
		t.Fatalf("heap holds %d entries, bound %d", h.Len(), h.Cap())
	}
	members := h.Members()
	for i, m := range members {
		if !m.Weight.IsPositive() {
			t.Fatalf("member %s has weight %s", m.Address, m.Weight)
		}
		if i > 0 && members[i-1].Weight.LT(m.Weight) {
			t.Fatalf("members not sorted descending: %v", members)
		}
	}
	if root, ok := h.Min(); ok {
		for _, m := range members {
			if m.Weight.LT(root.Weight) {
				t.Fatalf("root %s is not the minimum", root.Address)
			}
		}
	}
}

func TestTopKInvariants(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		k := rapid.IntRange(0, 5).Draw(t, "k")
		h := election.NewTopK(k)
		m := topKModel{weights: map[string]int64{}}
		names := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
		steps := rapid.IntRange(1, 60).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			cand := rapid.SampledFrom(names).Draw(t, "candidate")
			switch rapid.IntRange(0, 2).Draw(t, "op") {
			case 0:
				w := m.weights[cand] + rapid.Int64Range(1, 100).Draw(t, "delta")
				m.weights[cand] = w
				h.Update(cand, math.NewInt(w))
			case 1:
				w := m.weights[cand] - rapid.Int64Range(0, m.weights[cand]).Draw(t, "delta")
				m.weights[cand] = w
				h.Update(cand, math.NewInt(w))
				if w == 0 && h.Contains(cand) {
					t.Fatalf("zero-weight candidate %s still present", cand)
				}
			case 2:
				h.Resize(rapid.IntRange(0, 5).Draw(t, "resize"))
			}
			checkHeap(t, h)
			for _, mem := range h.Members() {
				if mem.Weight.Int64() != m.weights[mem.Address] {
					t.Fatalf("member %s weight %s, want %d", mem.Address, mem.Weight, m.weights[mem.Address])
				}
			}
		}
	})
}

func TestTopKMatchesSortUnderIncreases(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		k := rapid.IntRange(1, 4).Draw(t, "k")
		h := election.NewTopK(k)
		weights := map[string]int64{}
		names := []string{"a", "b", "c", "d", "e", "f"}
		steps := rapid.IntRange(1, 40).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			cand := rapid.SampledFrom(names).Draw(t, "candidate")
			weights[cand] += rapid.Int64Range(1, 20).Draw(t, "delta")
			h.Update(cand, math.NewInt(weights[cand]))
		}
		var all []domain.Candidate
		for c, w := range weights {
			all = append(all, domain.Candidate{Address: c, Weight: math.NewInt(w)})
		}
		sort.Slice(all, func(i, j int) bool {
			if all[i].Weight.Equal(all[j].Weight) {
				return all[i].Address < all[j].Address
			}
			return all[i].Weight.GT(all[j].Weight)
		})
		if len(all) > k {
			all = all[:k]
		}
		got := h.Members()
		if len(got) != len(all) {
			t.Fatalf("got %d members, want %d", len(got), len(all))
		}
		// Ties at the boundary keep the incumbent, so only weights are compared.
		for i := range all {
			if !got[i].Weight.Equal(all[i].Weight) || got[i].Weight.Int64() != weights[got[i].Address] {
				t.Fatalf("member %d = %v, want weight %s", i, got[i], all[i].Weight)
			}
		}
	})
}
