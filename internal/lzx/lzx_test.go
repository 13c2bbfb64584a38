package lzx

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/msuncap/msuncap/internal/bitio"
)

func TestPositionSlotTableMatchesKnownValues(t *testing.T) {
	// Spot-check a few well-known (slot, base, extra) triples from the
	// documented LZX position-slot table.
	cases := []struct {
		slot, base, extra int
	}{
		{0, 0, 0},
		{3, 3, 0},
		{4, 4, 1},
		{7, 12, 2},
		{17, 384, 7},
	}
	for _, c := range cases {
		if positionBase[c.slot] != c.base || positionExtraBits[c.slot] != c.extra {
			t.Fatalf("slot %d: got base=%d extra=%d want base=%d extra=%d",
				c.slot, positionBase[c.slot], positionExtraBits[c.slot], c.base, c.extra)
		}
	}
}

func TestNewDecoderRejectsUnsupportedWindow(t *testing.T) {
	if _, err := NewDecoder(bytes.NewReader(nil), 30); err != ErrUnsupportedWindow {
		t.Fatalf("got %v, want ErrUnsupportedWindow", err)
	}
}

type wordByteWriter struct{ buf *bytes.Buffer }

func (w wordByteWriter) WriteByte(c byte) error { return w.buf.WriteByte(c) }

func TestUncompressedBlockRoundTrip(t *testing.T) {
	payload := []byte("the quick brown fox jumps over")
	blockLen := len(payload)
	if blockLen%2 == 1 {
		payload = append(payload, 0) // pad so the hand-built stream stays word aligned
	}

	var buf bytes.Buffer
	ww := bitio.NewWordWriter(wordByteWriter{&buf})
	mustWrite(t, ww, 0, 1) // E8 translation header: off
	mustWrite(t, ww, uint16(blockUncompressed), 3)
	mustWrite(t, ww, uint16(blockLen>>16), 8)
	mustWrite(t, ww, uint16(blockLen>>8)&0xFF, 8)
	mustWrite(t, ww, uint16(blockLen&0xFF), 8)
	if err := ww.Flush(); err != nil {
		t.Fatal(err)
	}

	var r0r1r2 [12]byte
	binary.LittleEndian.PutUint32(r0r1r2[0:4], 5)
	binary.LittleEndian.PutUint32(r0r1r2[4:8], 6)
	binary.LittleEndian.PutUint32(r0r1r2[8:12], 7)
	buf.Write(r0r1r2[:])
	buf.Write(payload)

	dec, err := NewDecoder(bytes.NewReader(buf.Bytes()), 15)
	if err != nil {
		t.Fatal(err)
	}
	got, err := dec.DecodeFrame(blockLen)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if !bytes.Equal(got, payload[:blockLen]) {
		t.Fatalf("got %q want %q", got, payload[:blockLen])
	}
	if dec.r0 != 5 || dec.r1 != 6 || dec.r2 != 7 {
		t.Fatalf("repeated offsets not loaded: r0=%d r1=%d r2=%d", dec.r0, dec.r1, dec.r2)
	}
}

func mustWrite(t *testing.T, w *bitio.WordWriter, v uint16, n uint) {
	t.Helper()
	if err := w.WriteBits(v, n); err != nil {
		t.Fatalf("WriteBits: %v", err)
	}
}

// writePreTreeCode emits the 2-bit code of one pretree symbol (0, 16, 17 or
// 18), assuming the four-symbol {0,16,17,18}-at-length-2 pretree written by
// writeTestPreTreeHeader.
func writePreTreeCode(t *testing.T, w *bitio.WordWriter, sym int) {
	t.Helper()
	code, ok := map[int]uint16{0: 0b00, 16: 0b01, 17: 0b10, 18: 0b11}[sym]
	if !ok {
		t.Fatalf("unsupported test pretree symbol %d", sym)
	}
	mustWrite(t, w, code, 2)
}

// writeTestPreTreeHeader writes the 20 raw 4-bit pretree lengths matching
// the {0,16,17,18}-at-length-2 scheme writePreTreeCode assumes.
func writeTestPreTreeHeader(t *testing.T, w *bitio.WordWriter) {
	t.Helper()
	for sym := 0; sym < preTreeElements; sym++ {
		length := 0
		switch sym {
		case 0, 16, 17, 18:
			length = 2
		}
		mustWrite(t, w, uint16(length), 4)
	}
}

// TestVerbatimBlockLiteralsOnly builds one VERBATIM block, by hand, whose
// main tree has exactly one non-zero-length symbol (the literal 'A', index
// 65), and checks that the block's only output is a run of that literal.
func TestVerbatimBlockLiteralsOnly(t *testing.T) {
	const windowBits = 15
	slots := numPositionSlots[windowBits]
	mainLen := numChars + slots*primaryLengths

	var buf bytes.Buffer
	ww := bitio.NewWordWriter(wordByteWriter{&buf})

	litCount := 4
	blockLen := litCount
	mustWrite(t, ww, 0, 1) // E8 translation header: off
	mustWrite(t, ww, uint16(blockVerbatim), 3)
	mustWrite(t, ww, uint16(blockLen>>16), 8)
	mustWrite(t, ww, uint16(blockLen>>8)&0xFF, 8)
	mustWrite(t, ww, uint16(blockLen&0xFF), 8)

	// First main-tree segment: literals 0..255, only 'A' (65) non-zero.
	writeTestPreTreeHeader(t, ww)
	writePreTreeCode(t, ww, 18)
	mustWrite(t, ww, 31, 5) // n=31 -> run of 51 zeros: indices 0..50
	writePreTreeCode(t, ww, 17)
	mustWrite(t, ww, 10, 4)     // n=10 -> run of 14 zeros: indices 51..64
	writePreTreeCode(t, ww, 16) // direct code -> delta 1 at index 65 ('A')
	for _, n := range []uint16{31, 31, 31, 17} { // 51+51+51+37 = 190 zeros: indices 66..255
		writePreTreeCode(t, ww, 18)
		mustWrite(t, ww, n, 5)
	}

	// Second main-tree segment: all zero.
	writeTestPreTreeHeader(t, ww)
	remaining := mainLen - numChars
	for remaining > 0 {
		run := remaining
		if run > 51 {
			run = 51
		}
		writePreTreeCode(t, ww, 18)
		mustWrite(t, ww, uint16(run-20), 5)
		remaining -= run
	}

	// Length tree: all zero (no match ever decoded in this test).
	writeTestPreTreeHeader(t, ww)
	remainingLen := secondaryLengths
	for remainingLen > 0 {
		run := remainingLen
		if run > 51 {
			run = 51
		}
		writePreTreeCode(t, ww, 18)
		mustWrite(t, ww, uint16(run-20), 5)
		remainingLen -= run
	}

	// Four literals of symbol 65 ('A'), 1 bit each (the degenerate tree).
	for i := 0; i < litCount; i++ {
		mustWrite(t, ww, 0, 1)
	}
	if err := ww.Flush(); err != nil {
		t.Fatal(err)
	}

	dec, err := NewDecoder(bytes.NewReader(buf.Bytes()), windowBits)
	if err != nil {
		t.Fatal(err)
	}
	got, err := dec.DecodeFrame(blockLen)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	want := bytes.Repeat([]byte{'A'}, litCount)
	if !bytes.Equal(got, want) {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestTranslateE8RewritesInRangeDisplacement(t *testing.T) {
	data := make([]byte, 32)
	data[5] = 0xE8
	binary.LittleEndian.PutUint32(data[6:10], 100)
	TranslateE8(data, 1000)
	got := int32(binary.LittleEndian.Uint32(data[6:10]))
	if got != 100-5 {
		t.Fatalf("got displacement %d, want %d", got, 100-5)
	}
}

func TestTranslateE8LeavesOutOfRangeDisplacementAlone(t *testing.T) {
	data := make([]byte, 32)
	data[5] = 0xE8
	binary.LittleEndian.PutUint32(data[6:10], 5000)
	TranslateE8(data, 1000)
	got := int32(binary.LittleEndian.Uint32(data[6:10]))
	if got != 5000 {
		t.Fatalf("out-of-range displacement was modified: got %d", got)
	}
}
