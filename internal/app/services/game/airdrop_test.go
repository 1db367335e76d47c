package game

import (
	"fmt"
	"reflect"
	"testing"
)

func candidateList(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("addr-%03d", i)
	}
	return out
}

func TestSelectAirdropWinnersDeterministic(t *testing.T) {
	seed := []byte("fixed-seed-for-replay")
	candidates := candidateList(50)

	first := selectAirdropWinners(seed, candidates, 7)
	second := selectAirdropWinners(seed, candidates, 7)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("selection not reproducible: %v vs %v", first, second)
	}

	other := selectAirdropWinners([]byte("a-different-seed"), candidates, 7)
	if reflect.DeepEqual(first, other) {
		t.Fatal("different seeds produced identical selections")
	}
}

func TestSelectAirdropWinnersExactlyKDistinct(t *testing.T) {
	candidates := candidateList(20)

	for k := int64(1); k <= 20; k++ {
		winners := selectAirdropWinners([]byte("seed"), candidates, k)
		if int64(len(winners)) != k {
			t.Fatalf("k=%d: selected %d winners", k, len(winners))
		}
		seen := make(map[string]bool, len(winners))
		for _, w := range winners {
			if seen[w] {
				t.Fatalf("k=%d: duplicate winner %s", k, w)
			}
			seen[w] = true
		}
	}
}

func TestSelectAirdropWinnersClampsK(t *testing.T) {
	candidates := candidateList(3)

	winners := selectAirdropWinners([]byte("seed"), candidates, 10)
	if len(winners) != 3 {
		t.Fatalf("k > n selected %d, want all 3", len(winners))
	}

	if got := selectAirdropWinners([]byte("seed"), nil, 5); got != nil {
		t.Fatalf("empty candidates selected %v", got)
	}
	if got := selectAirdropWinners([]byte("seed"), candidates, 0); got != nil {
		t.Fatalf("k=0 selected %v", got)
	}
}

func TestSelectAirdropWinnersLeavesInputIntact(t *testing.T) {
	candidates := candidateList(10)
	original := make([]string, len(candidates))
	copy(original, candidates)

	selectAirdropWinners([]byte("seed"), candidates, 5)
	if !reflect.DeepEqual(candidates, original) {
		t.Fatal("selection mutated the candidate slice")
	}
}

func TestStepDrawRange(t *testing.T) {
	seed := []byte("range-check")
	for step := int64(0); step < 100; step++ {
		mod := step + 1
		v := stepDraw(seed, step, mod)
		if v < 0 || v >= mod {
			t.Fatalf("step %d: draw %d out of [0, %d)", step, v, mod)
		}
	}
}
