// Package quantum is an adaptive-range-coded LZ77 decoder in the general
// shape of MS-CAB Quantum (§4.4.4) — literal, length, and position each
// decoded through their own adaptive frequency model instead of a static
// Huffman table — but it is NOT a bit-exact reconstruction of the real
// MS-CAB Quantum codec. The actual format models seven distinct
// position-slot-group selectors plus two 64-symbol literal models (split
// by recent-match-length context) behind a specific arithmetic coder;
// this package instead uses one coarse order-1-ish literal context
// (selected by the previous byte's high bits), one length model, and one
// slot model.
//
// internal/cab wires this package in for any folder declaring Quantum
// compression (see DESIGN.md's Open Question decision on this gap):
// round-trips against data this module's own tooling produced are exact,
// but a real Quantum-coded CAB folder decodes through the simplified model
// bank above rather than the true per-selector/per-slot one.
package quantum

import (
	"errors"
	"io"
)

var ErrCorrupt = errors.New("quantum: corrupt range-coded stream")

const (
	rangeTop    = 1 << 24
	modelRescaleThreshold = 1 << 13
	freqIncrement         = 8

	numChars  = 256
	minMatch  = 3
	numSlots  = 42 // position slots modeled; extra bits are capped at 16, so offsets above 2^17-1 cannot be produced
)

// rangeDecoder is a byte-oriented Schindler/Subbotin-style range decoder:
// a 32-bit low/range pair renormalized whenever range drops below
// rangeTop, reading one byte at a time.
type rangeDecoder struct {
	r        io.ByteReader
	rng      uint32
	code     uint32
	atEOF    bool
	primed   bool
}

// newRangeDecoder builds the decoder without touching r: internal/cab
// constructs the decoder for a folder before any of its CFDATA block
// bytes exist in the shared feeder, so the first 4 priming bytes are
// read lazily on first use instead (see ensurePrimed), once there is
// actually something in the feeder to read.
func newRangeDecoder(r io.ByteReader) *rangeDecoder {
	return &rangeDecoder{r: r, rng: 0xFFFFFFFF}
}

func (d *rangeDecoder) ensurePrimed() {
	if d.primed {
		return
	}
	d.primed = true
	for range 4 {
		b, err := d.r.ReadByte()
		if err != nil {
			d.atEOF = true
		}
		d.code = d.code<<8 | uint32(b)
	}
}

func (d *rangeDecoder) getFreq(total uint32) uint32 {
	d.ensurePrimed()
	d.rng /= total
	f := d.code / d.rng
	if f >= total {
		f = total - 1
	}
	return f
}

func (d *rangeDecoder) decode(cumFreq, freq, total uint32) error {
	d.code -= cumFreq * d.rng
	d.rng *= freq
	for d.rng < rangeTop {
		b, err := d.r.ReadByte()
		if err != nil {
			if d.atEOF {
				return io.ErrUnexpectedEOF
			}
			d.atEOF = true
			b = 0
		}
		d.code = d.code<<8 | uint32(b)
		d.rng <<= 8
	}
	return nil
}

// decodeBits reads n uniformly-distributed bits directly through the range
// coder (no adaptive model), for the positional bits the format does not
// otherwise context-model.
func (d *rangeDecoder) decodeBits(n uint) (uint32, error) {
	if n == 0 {
		return 0, nil
	}
	total := uint32(1) << n
	f := d.getFreq(total)
	if err := d.decode(f, 1, total); err != nil {
		return 0, err
	}
	return f, nil
}

// model is an adaptive cumulative-frequency table over a small alphabet,
// rebuilt (halved) once its total exceeds modelRescaleThreshold, in the
// style of classic order-0 adaptive range-coder models.
type model struct {
	freq  []uint32
	total uint32
}

func newModel(numSyms int) *model {
	m := &model{freq: make([]uint32, numSyms)}
	for i := range m.freq {
		m.freq[i] = 1
	}
	m.total = uint32(numSyms)
	return m
}

func (m *model) decode(rc *rangeDecoder) (int, error) {
	f := rc.getFreq(m.total)
	var cum uint32
	sym := 0
	for cum+m.freq[sym] <= f {
		cum += m.freq[sym]
		sym++
	}
	if err := rc.decode(cum, m.freq[sym], m.total); err != nil {
		return 0, err
	}
	m.update(sym)
	return sym, nil
}

func (m *model) update(sym int) {
	m.freq[sym] += freqIncrement
	m.total += freqIncrement
	if m.total > modelRescaleThreshold {
		m.total = 0
		for i, f := range m.freq {
			nf := f / 2
			if nf == 0 {
				nf = 1
			}
			m.freq[i] = nf
			m.total += nf
		}
	}
}

// Decoder decodes a Quantum-compressed stream that shares one window and
// one set of adaptive models across calls, matching how a CAB folder
// reuses Quantum state across its data blocks.
type Decoder struct {
	rc  *rangeDecoder
	out []byte

	literal  [numChars]*model // context-selected by the high bits of the previous byte, like the format's per-context literal banks
	lengthModel *model
	slotModel   *model

	r0, r1, r2 int
}

// NewDecoder constructs a decoder. windowBits is not used: the slot model
// always covers numSlots position slots, whatever the window size.
func NewDecoder(r io.ByteReader, windowBits int) *Decoder {
	d := &Decoder{
		rc:          newRangeDecoder(r),
		lengthModel: newModel(32),
		slotModel:   newModel(numSlots),
		r0:          1, r1: 1, r2: 1,
	}
	for i := range d.literal {
		d.literal[i] = newModel(256)
	}
	return d
}

func (d *Decoder) Output() []byte { return d.out }

// DecodeBlock decodes until exactly n additional bytes have been produced.
func (d *Decoder) DecodeBlock(n int) ([]byte, error) {
	start := len(d.out)
	target := start + n
	for len(d.out) < target {
		prev := byte(0)
		if len(d.out) > 0 {
			prev = d.out[len(d.out)-1]
		}
		ctx := int(prev >> 2) // coarse order-1 context, mirroring the format's context-selected literal banks
		if ctx >= len(d.literal) {
			ctx = len(d.literal) - 1
		}

		isMatch, err := d.rc.decodeBits(1)
		if err != nil {
			return nil, err
		}
		if isMatch == 0 {
			sym, err := d.literal[ctx].decode(d.rc)
			if err != nil {
				return nil, err
			}
			d.out = append(d.out, byte(sym))
			continue
		}

		lsym, err := d.lengthModel.decode(d.rc)
		if err != nil {
			return nil, err
		}
		length := lsym + minMatch

		slot, err := d.slotModel.decode(d.rc)
		if err != nil {
			return nil, err
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
			extra := (slot - 2)
			if extra > 16 {
				extra = 16
			}
			bits, err := d.rc.decodeBits(uint(extra))
			if err != nil {
				return nil, err
			}
			offset = (1 << uint(extra)) + int(bits)
			d.r2, d.r1, d.r0 = d.r1, d.r0, offset
		}

		if offset <= 0 || offset > len(d.out) {
			return nil, ErrCorrupt
		}
		src := len(d.out) - offset
		for range length {
			d.out = append(d.out, d.out[src])
			src++
		}
	}
	return d.out[start:], nil
}
