package mszip

import (
	"bytes"
	"testing"

	"github.com/msuncap/msuncap/internal/bitio"
)

// fixedCanonicalCode returns the canonical code (MSB-first value) and its
// bit length for symbol sym in a fixed-Huffman alphabet described by
// lengths, mirroring RFC 1951 §3.2.2's code assignment.
func fixedCanonicalCode(lengths []int, sym int) (code, n int) {
	var count [16]int
	max := 0
	for _, l := range lengths {
		count[l]++
		if l > max {
			max = l
		}
	}
	var next [16]int
	c := 0
	for i := 1; i <= max; i++ {
		c <<= 1
		next[i] = c
		c += count[i]
	}
	for s, l := range lengths {
		here := next[l]
		next[l]++
		if s == sym {
			return here, l
		}
	}
	panic("symbol not found")
}

func reverseBits(v, n int) int {
	r := 0
	for range n {
		r = (r << 1) | (v & 1)
		v >>= 1
	}
	return r
}

func fixedLitLengths() []int {
	var lit [288]int
	for i := 0; i < 144; i++ {
		lit[i] = 8
	}
	for i := 144; i < 256; i++ {
		lit[i] = 9
	}
	for i := 256; i < 280; i++ {
		lit[i] = 7
	}
	for i := 280; i < 288; i++ {
		lit[i] = 8
	}
	return lit[:]
}

func fixedDistLengths() []int {
	d := make([]int, 30)
	for i := range d {
		d[i] = 5
	}
	return d
}

func writeSym(t *testing.T, bw *bitio.LSBWriter, lengths []int, sym int) {
	t.Helper()
	code, n := fixedCanonicalCode(lengths, sym)
	rev := reverseBits(code, n)
	if err := bw.WriteBits(uint16(rev), uint(n)); err != nil {
		t.Fatalf("WriteBits: %v", err)
	}
}

func storedBlock(t *testing.T, final bool, payload []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	bw := bitio.NewLSBWriter(&byteWriterForTest{&buf})
	var finalBit uint16
	if final {
		finalBit = 1
	}
	if err := bw.WriteBits(finalBit, 1); err != nil {
		t.Fatal(err)
	}
	if err := bw.WriteBits(0, 2); err != nil { // BTYPE=0 stored
		t.Fatal(err)
	}
	if err := bw.Flush(); err != nil {
		t.Fatal(err)
	}
	n := len(payload)
	buf.WriteByte(byte(n))
	buf.WriteByte(byte(n >> 8))
	buf.WriteByte(byte(^uint16(n)))
	buf.WriteByte(byte(^uint16(n) >> 8))
	buf.Write(payload)
	return buf.Bytes()
}

type byteWriterForTest struct{ buf *bytes.Buffer }

func (b *byteWriterForTest) WriteByte(c byte) error {
	return b.buf.WriteByte(c)
}

func TestDecodeStoredBlockWithCKSignature(t *testing.T) {
	payload := []byte("ABCDEFGHIJ")
	var stream bytes.Buffer
	stream.WriteString("CK")
	stream.Write(storedBlock(t, true, payload))

	dec := NewDecoder(bytes.NewReader(stream.Bytes()))
	got, err := dec.DecodeBlock()
	if err != nil {
		t.Fatalf("DecodeBlock: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("got %q want %q", got, payload)
	}
}

func TestDecodeRejectsMissingSignature(t *testing.T) {
	var stream bytes.Buffer
	stream.WriteString("XX")
	stream.Write(storedBlock(t, true, []byte("hi")))
	dec := NewDecoder(bytes.NewReader(stream.Bytes()))
	if _, err := dec.DecodeBlock(); err != ErrBadSignature {
		t.Fatalf("got %v, want ErrBadSignature", err)
	}
}

// TestSharedWindowAcrossBlocks reproduces the block-boundary scenario: the
// first CAB block stores ten literal bytes; the second is a fixed-Huffman
// block containing nothing but a single length/distance match reaching
// back into the first block's output, which only resolves correctly if the
// window (here, the whole accumulated output) survives across the
// DecodeBlock call boundary.
func TestSharedWindowAcrossBlocks(t *testing.T) {
	payload := []byte("ABCDEFGHIJ") // 10 bytes

	var stream bytes.Buffer
	stream.WriteString("CK")
	stream.Write(storedBlock(t, true, payload))

	var block2 bytes.Buffer
	bw := bitio.NewLSBWriter(&byteWriterForTest{&block2})
	if err := bw.WriteBits(1, 1); err != nil { // final
		t.Fatal(err)
	}
	if err := bw.WriteBits(1, 2); err != nil { // BTYPE=1 fixed huffman
		t.Fatal(err)
	}
	lit := fixedLitLengths()
	dist := fixedDistLengths()

	// length 10 -> lengthBase index 7 (value 10, 0 extra bits), symbol 257+7=264
	writeSym(t, bw, lit, 264)
	// distance 10 -> distBase index 6 (value 9, 2 extra bits), extra value 1
	writeSym(t, bw, dist, 6)
	if err := bw.WriteBits(1, 2); err != nil {
		t.Fatal(err)
	}
	writeSym(t, bw, lit, endBlockMarker)
	if err := bw.Flush(); err != nil {
		t.Fatal(err)
	}

	stream.WriteString("CK")
	stream.Write(block2.Bytes())

	dec := NewDecoder(bytes.NewReader(stream.Bytes()))
	first, err := dec.DecodeBlock()
	if err != nil {
		t.Fatalf("DecodeBlock 1: %v", err)
	}
	if !bytes.Equal(first, payload) {
		t.Fatalf("block 1: got %q want %q", first, payload)
	}

	second, err := dec.DecodeBlock()
	if err != nil {
		t.Fatalf("DecodeBlock 2: %v", err)
	}
	if !bytes.Equal(second, payload) {
		t.Fatalf("block 2 (carried window match): got %q want %q", second, payload)
	}
	if !bytes.Equal(dec.Output(), append(append([]byte{}, payload...), payload...)) {
		t.Fatalf("accumulated output mismatch")
	}
}

func TestDecodeRejectsReservedBlockType(t *testing.T) {
	var stream bytes.Buffer
	stream.WriteString("CK")
	var buf bytes.Buffer
	bw := bitio.NewLSBWriter(&byteWriterForTest{&buf})
	if err := bw.WriteBits(1, 1); err != nil {
		t.Fatal(err)
	}
	if err := bw.WriteBits(3, 2); err != nil { // BTYPE=3, reserved
		t.Fatal(err)
	}
	if err := bw.Flush(); err != nil {
		t.Fatal(err)
	}
	stream.Write(buf.Bytes())

	dec := NewDecoder(bytes.NewReader(stream.Bytes()))
	if _, err := dec.DecodeBlock(); err != ErrReservedBlockType {
		t.Fatalf("got %v, want ErrReservedBlockType", err)
	}
}
