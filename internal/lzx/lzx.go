// Package lzx implements the LZX codec (§4.4.3): an LZ77/Huffman hybrid
// with three block types (verbatim, aligned-offset, uncompressed), three
// repeated-offset slots, and a 16-bit word-oriented bitstream that
// realigns at 32 KiB output-frame boundaries.
package lzx

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/msuncap/msuncap/internal/bitio"
	"github.com/msuncap/msuncap/internal/huffcode"
)

const (
	MinMatch   = 2
	MaxMatch   = 257
	numChars   = 256
	frameBytes = 32768

	blockVerbatim     = 1
	blockAligned      = 2
	blockUncompressed = 3

	preTreeElements   = 20
	alignedElements   = 8
	primaryLengths    = 8
	secondaryLengths  = 249
	preTreeTableBits  = 6
	mainTreeTableBits = 9
	lenTreeTableBits  = 8
)

var ErrCorrupt = errors.New("lzx: corrupt bitstream")
var ErrUnsupportedWindow = errors.New("lzx: window_bits out of supported range (15..21)")
var ErrBadBlockType = errors.New("lzx: unknown block type")

// numPositionSlots is the official LZX table (the Microsoft LZX spec),
// reproduced rather than derived because the slot count does not follow
// the extra-bits recurrence exactly above window_bits=19.
var numPositionSlots = map[int]int{
	15: 30, 16: 32, 17: 34, 18: 36, 19: 38, 20: 42, 21: 50,
}

var positionExtraBits [51]int
var positionBase [51]int

func init() {
	positionBase[0], positionBase[1], positionBase[2], positionBase[3] = 0, 1, 2, 3
	for s := 4; s < len(positionExtraBits); s++ {
		positionExtraBits[s] = (s - 2) >> 1
	}
	for s := 1; s < len(positionBase); s++ {
		positionBase[s] = positionBase[s-1] + (1 << uint(positionExtraBits[s-1]))
	}
}

// Decoder decodes a stream of LZX blocks sharing one window and one
// repeated-offset/Huffman-tree state, as a CAB folder or a CHM LZX section
// requires. Construct one per folder/section; call Reset to implement a
// CHM reset interval without discarding the underlying bit reader.
type Decoder struct {
	wr         *bitio.WordReader
	windowBits int
	numSlots   int

	mainLens   []int
	lenLens    []int
	mainTree   *huffcode.Table
	lenTree    *huffcode.Table
	alignTree  *huffcode.Table

	r0, r1, r2 int
	out        []byte // accumulated output; also the match window
	sinceAlign int     // output bytes produced since the last frame alignment

	headerPending bool // true until the next block read consumes the E8 header
	intelE8       bool
	intelFilesize int
	e8Applied     bool // the first-32KiB E8 untranslation runs at most once per decoder
}

// NewDecoder constructs a decoder for a window of 2^windowBits bytes.
// windowBits must be in 15..21, the range the format spec defines.
func NewDecoder(r io.ByteReader, windowBits int) (*Decoder, error) {
	slots, ok := numPositionSlots[windowBits]
	if !ok {
		return nil, ErrUnsupportedWindow
	}
	d := &Decoder{
		wr:         bitio.NewWordReader(r),
		windowBits: windowBits,
		numSlots:   slots,
	}
	d.Reset()
	return d, nil
}

// Reset restores the repeated-offset slots and discards the main/length
// Huffman trees, as CHM's reset-interval table requires at each reset
// point. The window (d.out) and bit-reader position are untouched: a
// reset only affects Huffman/offset state, never decompressed history.
func (d *Decoder) Reset() {
	d.r0, d.r1, d.r2 = 1, 1, 1
	d.mainLens = make([]int, numChars+d.numSlots*primaryLengths)
	d.lenLens = make([]int, secondaryLengths)
	d.mainTree = nil
	d.lenTree = nil
	d.headerPending = true
}

// Output returns the full accumulated decompressed stream so far.
func (d *Decoder) Output() []byte { return d.out }

// DecodeFrame decodes blocks until exactly frameLen bytes of additional
// output have been produced (32768 for every frame but possibly the last
// one in a folder), then realigns the bitstream to the next 16-bit word as
// the format requires at every frame boundary.
func (d *Decoder) DecodeFrame(frameLen int) ([]byte, error) {
	start := len(d.out)
	target := start + frameLen
	for len(d.out) < target {
		if err := d.decodeBlock(target); err != nil {
			return nil, err
		}
	}
	d.wr.AlignOddByte()
	d.sinceAlign = 0
	d.applyE8(frameLen)
	return d.out[start:], nil
}

// applyE8 untranslates x86 CALL addresses (§4.4.3) across the first 32 KiB
// of the decoder's cumulative output, exactly once, as soon as that much
// output exists or the stream ends shorter than one frame. frameLen < the
// full 32768 signals the final (possibly short) frame, since every caller
// passes frameBytes for every frame but the last.
func (d *Decoder) applyE8(frameLen int) {
	if d.e8Applied || !d.intelE8 {
		return
	}
	if len(d.out) < frameBytes && frameLen == frameBytes {
		return
	}
	n := len(d.out)
	if n > frameBytes {
		n = frameBytes
	}
	TranslateE8(d.out[:n], d.intelFilesize)
	d.e8Applied = true
}

func (d *Decoder) readBits(n uint) (uint16, error) {
	return d.wr.ReadBits(n)
}

func (d *Decoder) decodeBlock(target int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ErrCorrupt
		}
	}()

	if d.headerPending {
		flag, e := d.readBits(1)
		if e != nil {
			return e
		}
		d.intelE8 = flag != 0
		if d.intelE8 {
			hi, e := d.readBits(16)
			if e != nil {
				return e
			}
			lo, e := d.readBits(16)
			if e != nil {
				return e
			}
			d.intelFilesize = int(uint32(hi)<<16 | uint32(lo))
		}
		d.headerPending = false
	}

	btype, e := d.readBits(3)
	if e != nil {
		return e
	}
	b0, e := d.readBits(8)
	if e != nil {
		return e
	}
	b1, e := d.readBits(8)
	if e != nil {
		return e
	}
	b2, e := d.readBits(8)
	if e != nil {
		return e
	}
	blockLen := int(b0)<<16 | int(b1)<<8 | int(b2)
	end := len(d.out) + blockLen

	switch btype {
	case blockUncompressed:
		return d.uncompressedBlock(end)
	case blockVerbatim:
		if err := d.readMainAndLenTrees(); err != nil {
			return err
		}
		d.alignTree = nil
		return d.huffmanBlock(end, false)
	case blockAligned:
		if err := d.readAlignedTree(); err != nil {
			return err
		}
		if err := d.readMainAndLenTrees(); err != nil {
			return err
		}
		return d.huffmanBlock(end, true)
	default:
		return ErrBadBlockType
	}
}

func (d *Decoder) uncompressedBlock(end int) error {
	d.wr.AlignToWord()
	var raw [12]byte
	for i := 0; i < 12; i += 2 {
		v, err := d.wr.ReadUint16Aligned()
		if err != nil {
			return err
		}
		raw[i], raw[i+1] = byte(v), byte(v>>8)
	}
	d.r0 = int(binary.LittleEndian.Uint32(raw[0:4]))
	d.r1 = int(binary.LittleEndian.Uint32(raw[4:8]))
	d.r2 = int(binary.LittleEndian.Uint32(raw[8:12]))

	for len(d.out) < end {
		v, err := d.wr.ReadUint16Aligned()
		if err != nil {
			return err
		}
		lo, hi := byte(v), byte(v>>8)
		d.out = append(d.out, lo)
		if len(d.out) < end {
			d.out = append(d.out, hi)
		}
	}
	return nil
}

func (d *Decoder) readAlignedTree() error {
	var lens [alignedElements]int
	for i := range lens {
		v, err := d.readBits(3)
		if err != nil {
			return err
		}
		lens[i] = int(v)
	}
	t, err := huffcode.Build(lens[:], 3, 7)
	if err != nil {
		return ErrCorrupt
	}
	d.alignTree = t
	return nil
}

func (d *Decoder) readMainAndLenTrees() error {
	if err := d.readTreeLengths(d.mainLens[:numChars]); err != nil {
		return err
	}
	if err := d.readTreeLengths(d.mainLens[numChars:]); err != nil {
		return err
	}
	mt, err := huffcode.Build(d.mainLens, mainTreeTableBits, 16)
	if err != nil {
		return ErrCorrupt
	}
	d.mainTree = mt

	if err := d.readTreeLengths(d.lenLens); err != nil {
		return err
	}
	lt, err := huffcode.Build(d.lenLens, lenTreeTableBits, 16)
	if err != nil {
		return ErrCorrupt
	}
	d.lenTree = lt
	return nil
}

// readTreeLengths decodes one pretree-coded run of code lengths into dst,
// updating it in place (lengths persist across blocks until changed or a
// Reset, matching how encoders send only deltas from the previous tree).
func (d *Decoder) readTreeLengths(dst []int) error {
	var preLens [preTreeElements]int
	for i := range preLens {
		v, err := d.readBits(4)
		if err != nil {
			return err
		}
		preLens[i] = int(v)
	}
	preTree, err := huffcode.Build(preLens[:], preTreeTableBits, 16)
	if err != nil {
		return ErrCorrupt
	}

	for i := 0; i < len(dst); {
		sym, err := d.decodeSymbol(preTree)
		if err != nil {
			return err
		}
		switch {
		case sym == 17:
			n, err := d.readBits(4)
			if err != nil {
				return err
			}
			for c := int(n) + 4; c > 0 && i < len(dst); c-- {
				dst[i] = 0
				i++
			}
		case sym == 18:
			n, err := d.readBits(5)
			if err != nil {
				return err
			}
			for c := int(n) + 20; c > 0 && i < len(dst); c-- {
				dst[i] = 0
				i++
			}
		case sym == 19:
			n, err := d.readBits(1)
			if err != nil {
				return err
			}
			sym2, err := d.decodeSymbol(preTree)
			if err != nil {
				return err
			}
			delta := (17 + dst[i] - sym2) % 17
			for c := int(n) + 4; c > 0 && i < len(dst); c-- {
				dst[i] = delta
				i++
			}
		default:
			dst[i] = (17 + dst[i] - sym) % 17
			i++
		}
	}
	return nil
}

func (d *Decoder) huffmanBlock(end int, aligned bool) error {
	for len(d.out) < end {
		sym, err := d.decodeSymbol(d.mainTree)
		if err != nil {
			return err
		}
		if sym < numChars {
			d.out = append(d.out, byte(sym))
			continue
		}
		sym -= numChars
		lengthHeader := sym % primaryLengths
		slot := sym / primaryLengths

		length := lengthHeader + MinMatch
		if lengthHeader == primaryLengths-1 {
			lsym, err := d.decodeSymbol(d.lenTree)
			if err != nil {
				return err
			}
			length = lsym + primaryLengths - 1 + MinMatch
		}

		var offset int
		switch slot {
		case 0:
			offset = d.r0
		case 1:
			offset, d.r0, d.r1 = d.r1, d.r1, d.r0
		case 2:
			offset, d.r0, d.r2 = d.r2, d.r2, d.r0
		default:
			extra := positionExtraBits[slot]
			var verbatim int
			if aligned && extra >= 3 {
				v, err := d.readBits(uint(extra - 3))
				if err != nil {
					return err
				}
				a, err := d.decodeSymbol(d.alignTree)
				if err != nil {
					return err
				}
				verbatim = int(v)<<3 | a
			} else {
				v, err := d.readBits(uint(extra))
				if err != nil {
					return err
				}
				verbatim = int(v)
			}
			offset = positionBase[slot] + verbatim - 2
			d.r2, d.r1, d.r0 = d.r1, d.r0, offset
		}

		if offset <= 0 || offset > len(d.out) {
			return ErrCorrupt
		}
		src := len(d.out) - offset
		for range length {
			d.out = append(d.out, d.out[src])
			src++
		}
	}
	return nil
}

func (d *Decoder) decodeSymbol(t *huffcode.Table) (int, error) {
	if t == nil || t.Empty() {
		return 0, ErrCorrupt
	}
	need := t.TableBits()
	peek, err := d.wr.PeekBits(uint(need))
	truncated := errors.Is(err, bitio.ErrTruncated)
	if err != nil && !truncated {
		return 0, err
	}
	sym, n, ok := t.Decode(bitReverse16(peek, uint(need)))
	if !ok {
		if truncated {
			return 0, err
		}
		return 0, ErrCorrupt
	}
	d.wr.RemoveBits(uint(n))
	return sym, nil
}

// bitReverse16 mirrors the low n bits of v, matching huffcode.Table's
// expectation that the peeked window has its bits addressed LSB-first
// (the convention shared with the DEFLATE-derived table layout), while
// WordReader delivers bits MSB-first.
func bitReverse16(v uint16, n uint) uint32 {
	var r uint16
	for range n {
		r = r<<1 | v&1
		v >>= 1
	}
	return uint32(r)
}

// TranslateE8 reverses the x86 CALL-instruction address translation LZX
// applies to executable folders: for every 0xE8 byte at position i followed
// by a 4-byte little-endian value v with -i <= v < translationSize, a
// non-negative v is rewritten to v-i and a negative v to v+translationSize.
// 0xE8 bytes among the final 9 bytes of data are not examined.
//
// TODO: cross-check the displacement bias against a real E8-translated
// CAB sample; the bias used here follows the commonly documented
// algorithm but has not been verified against reference output.
func TranslateE8(data []byte, translationSize int) {
	if translationSize <= 0 || len(data) < 10 {
		return
	}
	limit := len(data) - 10
	for i := 0; i <= limit; i++ {
		if data[i] != 0xE8 {
			continue
		}
		rel := int32(binary.LittleEndian.Uint32(data[i+1 : i+5]))
		if rel >= -int32(i) && rel < int32(translationSize) {
			var abs int32
			if rel >= 0 {
				abs = rel - int32(i)
			} else {
				abs = rel + int32(translationSize)
			}
			binary.LittleEndian.PutUint32(data[i+1:i+5], uint32(abs))
		}
		i += 4
	}
}
