// Package huffcode builds canonical Huffman decode tables shared by the
// Huffman-coded codecs in this module (MSZIP/DEFLATE and LZX both describe
// their alphabets as an array of code lengths; Quantum's range coder does
// not use it). The table layout follows zlib's
// two-level scheme, as also used by the Go standard library's compress/flate:
// a fast table of 2^tableBits entries for short codes, with an overflow
// region forming an implicit binary tree for anything longer.
package huffcode

import (
	"errors"
	"math/bits"
)

// ErrBadTree is returned when the code-length vector is neither a complete
// prefix code nor the degenerate single-symbol case.
var ErrBadTree = errors.New("huffcode: code lengths do not form a complete tree")

const (
	chunkCountMask  = 0x1f // up to MaxBits=17 needs 5 bits for the length field
	chunkValueShift = 5
)

// Table is a fast two-level canonical Huffman decode table.
type Table struct {
	tableBits int
	maxBits   int
	min       int
	chunks    []uint32 // index: bits peeked, reversed; low 5 bits = length (or tableBits+1 for "see link"), rest = symbol or link index
	links     [][]uint32
	linkMask  uint32
}

// Build constructs a Table from a length-per-symbol array. lengths[i] == 0
// means symbol i is unused. tableBits controls the size of the fast table
// (MSZIP uses 9 for its literal/distance tables and 7 for the code-length
// table; LZX uses 9 for the main tree, 8 for the length tree, 6 for the
// pretree and 3 for the aligned tree). maxBits is the codec's declared
// maximum code length (15 for MSZIP, 16 for LZX except 7 for its aligned
// tree; 17 used nowhere in this family but accepted for generality).
//
// An empty tree (every length zero) is permitted and simply never decodes
// anything; the degenerate single-symbol tree (exactly one non-zero length)
// is also permitted, matching real-world encoders.
func Build(lengths []int, tableBits, maxBits int) (*Table, error) {
	var count [32]int
	min, max := 0, 0
	for _, n := range lengths {
		if n == 0 {
			continue
		}
		if n < 0 || n > maxBits {
			return nil, ErrBadTree
		}
		if min == 0 || n < min {
			min = n
		}
		if n > max {
			max = n
		}
		count[n]++
	}

	t := &Table{tableBits: tableBits, maxBits: maxBits, min: min}
	if max == 0 {
		return t, nil // empty tree
	}

	code := 0
	var nextCode [32]int
	for i := min; i <= max; i++ {
		code <<= 1
		nextCode[i] = code
		code += count[i]
	}

	degenerate := code == 1
	if code != 1<<uint(max) && !degenerate {
		return nil, ErrBadTree
	}

	numChunks := 1 << tableBits
	t.chunks = make([]uint32, numChunks)

	if max > tableBits {
		numLinks := 1 << uint(max-tableBits)
		t.linkMask = uint32(numLinks - 1)
		link := nextCode[tableBits+1] >> 1
		t.links = make([][]uint32, numChunks-link)
		for j := link; j < numChunks; j++ {
			reverse := int(bits.Reverse16(uint16(j))) >> (16 - tableBits)
			off := j - link
			t.chunks[reverse] = uint32(off<<chunkValueShift) | uint32(tableBits+1)
			t.links[off] = make([]uint32, numLinks)
		}
	}

	for sym, n := range lengths {
		if n == 0 {
			continue
		}
		c := nextCode[n]
		nextCode[n]++
		chunk := uint32(sym<<chunkValueShift) | uint32(n)
		reverse := int(bits.Reverse16(uint16(c))) >> (16 - n)
		if n <= tableBits {
			for off := reverse; off < len(t.chunks); off += 1 << uint(n) {
				t.chunks[off] = chunk
			}
		} else {
			j := reverse & (numChunks - 1)
			value := t.chunks[j] >> chunkValueShift
			linktab := t.links[value]
			reverse >>= tableBits
			for off := reverse; off < len(linktab); off += 1 << uint(n-tableBits) {
				linktab[off] = chunk
			}
		}
	}

	return t, nil
}

// MinCodeLen reports the shortest code length in the tree, the minimum
// number of bits a caller must have buffered before calling Decode.
func (t *Table) MinCodeLen() int { return t.min }

// Empty reports whether the tree has no symbols at all.
func (t *Table) Empty() bool { return len(t.chunks) == 0 }

// Decode looks up the symbol encoded by the low bits of peeked (which must
// contain at least t.tableBits valid bits, or all remaining bits if fewer
// than that are left in the stream). It returns the symbol and the number
// of bits it consumed. ok is false if the bits do not resolve to a valid
// leaf within the supplied window, which signals the caller to buffer more
// bits (if available) or fail with a corrupt-bitstream error (at true EOF).
func (t *Table) Decode(peeked uint32) (sym int, length int, ok bool) {
	if len(t.chunks) == 0 {
		return 0, 0, false
	}
	chunk := t.chunks[peeked&uint32(len(t.chunks)-1)]
	n := int(chunk & chunkCountMask)
	if n > t.tableBits {
		link := t.links[chunk>>chunkValueShift]
		chunk = link[(peeked>>uint(t.tableBits))&t.linkMask]
		n = int(chunk & chunkCountMask)
	}
	if n == 0 {
		return 0, 0, false
	}
	return int(chunk >> chunkValueShift), n, true
}

// TableBits reports the configured fast-table width.
func (t *Table) TableBits() int { return t.tableBits }
