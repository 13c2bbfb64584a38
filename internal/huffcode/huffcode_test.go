package huffcode

import "testing"

func TestBuildRejectsOversubscribed(t *testing.T) {
	// Three symbols claiming the only two 1-bit codes.
	if _, err := Build([]int{1, 1, 1}, 7, 16); err == nil {
		t.Fatal("expected an oversubscribed tree to be rejected")
	}
}

func TestBuildRejectsUndersubscribed(t *testing.T) {
	if _, err := Build([]int{2, 2}, 7, 16); err == nil {
		t.Fatal("expected an undersubscribed tree to be rejected")
	}
}

func TestBuildAcceptsDegenerateSingleSymbol(t *testing.T) {
	tbl, err := Build([]int{0, 1, 0}, 7, 16)
	if err != nil {
		t.Fatalf("degenerate single-symbol tree should be accepted: %v", err)
	}
	sym, n, ok := tbl.Decode(0)
	if !ok || sym != 1 || n != 1 {
		t.Fatalf("decode of degenerate tree: sym=%d n=%d ok=%v", sym, n, ok)
	}
}

func TestBuildEmptyTree(t *testing.T) {
	tbl, err := Build([]int{0, 0, 0}, 7, 16)
	if err != nil {
		t.Fatalf("empty tree should be accepted: %v", err)
	}
	if !tbl.Empty() {
		t.Fatal("expected Empty() on an all-zero length vector")
	}
}

// A canonical fixed DEFLATE-style literal/length code at small scale:
// lengths 2,2,2,3,3 for symbols 0..4 is a valid complete 5-symbol code.
func TestRoundTripSmallAlphabet(t *testing.T) {
	lengths := []int{2, 2, 2, 3, 3}
	tbl, err := Build(lengths, 6, 16)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	// Rebuild the canonical codes by hand to drive the decoder.
	codes, bitlens := canonicalCodes(lengths)
	for sym := range lengths {
		peek := reverseBits(codes[sym], bitlens[sym])
		gotSym, gotLen, ok := tbl.Decode(uint32(peek))
		if !ok {
			t.Fatalf("symbol %d: decode failed", sym)
		}
		if gotSym != sym || gotLen != bitlens[sym] {
			t.Fatalf("symbol %d: got sym=%d len=%d want len=%d", sym, gotSym, gotLen, bitlens[sym])
		}
	}
}

func canonicalCodes(lengths []int) (codes []int, lens []int) {
	var count [32]int
	max := 0
	for _, n := range lengths {
		count[n]++
		if n > max {
			max = n
		}
	}
	var next [32]int
	code := 0
	for i := 1; i <= max; i++ {
		code <<= 1
		next[i] = code
		code += count[i]
	}
	codes = make([]int, len(lengths))
	lens = make([]int, len(lengths))
	for i, n := range lengths {
		codes[i] = next[n]
		next[n]++
		lens[i] = n
	}
	return
}

func reverseBits(v, n int) int {
	r := 0
	for range n {
		r = (r << 1) | (v & 1)
		v >>= 1
	}
	return r
}
