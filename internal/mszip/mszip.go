// Package mszip implements the MSZIP codec (§4.4.2): DEFLATE (RFC 1951)
// framed into CAB data blocks, each prefixed with the two-byte signature
// "CK", where consecutive blocks within one folder share a 32 KiB history
// window. Block size is capped at 32 KiB of output; a folder that produces
// more than that is simply split across several MSZIP blocks by the
// encoder, which this decoder does not need to know about: it just keeps
// appending to one growing output buffer that doubles as the window.
package mszip

import (
	"errors"
	"io"

	"github.com/msuncap/msuncap/internal/bitio"
	"github.com/msuncap/msuncap/internal/huffcode"
)

const (
	maxCodeLen     = 15
	maxNumLit      = 286
	maxNumDist     = 30
	numCodeLens    = 19
	maxMatchOffset = 1 << 15
	endBlockMarker = 256
	historyWindow  = 32768
)

var ErrBadSignature = errors.New("mszip: missing CK block signature")
var ErrCorrupt = errors.New("mszip: corrupt deflate stream")
var ErrReservedBlockType = errors.New("mszip: reserved block type 3")

var codeOrder = [...]int{16, 17, 18, 0, 8, 7, 9, 6, 10, 5, 11, 4, 12, 3, 13, 2, 14, 1, 15}

var fixedLit, fixedDist *huffcode.Table

func init() {
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
	var err error
	fixedLit, err = huffcode.Build(lit[:], 9, maxCodeLen)
	if err != nil {
		panic(err)
	}
	// 32 codes, not 30: codes 30-31 never occur in valid data but complete
	// the fixed 5-bit code (RFC 1951 §3.2.6).
	dist := make([]int, 32)
	for i := range dist {
		dist[i] = 5
	}
	fixedDist, err = huffcode.Build(dist, 9, maxCodeLen)
	if err != nil {
		panic(err)
	}
}

// Decoder decodes a sequence of MSZIP blocks that share one history window,
// as CAB folders require. Construct one per folder.
type Decoder struct {
	br  *bitio.LSBReader
	out []byte // whole folder's decompressed output so far; also the window
}

// NewDecoder wraps r, which must yield the concatenated raw bytes of every
// CFDATA block payload in a folder, in order.
func NewDecoder(r io.ByteReader) *Decoder {
	return &Decoder{br: bitio.NewLSBReader(r)}
}

// DecodeBlock consumes one "CK"-prefixed MSZIP block and returns the bytes
// it produced (a view into the decoder's accumulated output, valid until
// the next call).
func (d *Decoder) DecodeBlock() ([]byte, error) {
	sig, err := d.br.ReadRawBytes(2)
	if err != nil {
		return nil, err
	}
	if string(sig) != "CK" {
		return nil, ErrBadSignature
	}

	start := len(d.out)
	for {
		final, err := d.nextDeflateBlock()
		if err != nil {
			return nil, err
		}
		if final {
			break
		}
	}
	return d.out[start:], nil
}

// Output returns the full accumulated decompressed stream for the folder.
func (d *Decoder) Output() []byte { return d.out }

func (d *Decoder) nextDeflateBlock() (final bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ErrCorrupt
		}
	}()

	finalBit, e := d.br.ReadBits(1)
	if e != nil {
		return false, e
	}
	typ, e := d.br.ReadBits(2)
	if e != nil {
		return false, e
	}

	switch typ {
	case 0:
		if e := d.storedBlock(); e != nil {
			return false, e
		}
	case 1:
		if e := d.huffmanBlock(fixedLit, fixedDist); e != nil {
			return false, e
		}
	case 2:
		lit, dist, e := d.readDynamicTables()
		if e != nil {
			return false, e
		}
		if e := d.huffmanBlock(lit, dist); e != nil {
			return false, e
		}
	default:
		return false, ErrReservedBlockType
	}
	return finalBit == 1, nil
}

func (d *Decoder) storedBlock() error {
	d.br.AlignToByte()
	raw, err := d.br.ReadRawBytes(4)
	if err != nil {
		return err
	}
	n := int(raw[0]) | int(raw[1])<<8
	nn := int(raw[2]) | int(raw[3])<<8
	if uint16(nn) != uint16(^uint16(n)) {
		return ErrCorrupt
	}
	data, err := d.br.ReadRawBytes(n)
	if err != nil {
		return err
	}
	d.out = append(d.out, data...)
	return nil
}

func (d *Decoder) readDynamicTables() (lit, dist *huffcode.Table, err error) {
	nlit64, err := d.br.ReadBits(5)
	if err != nil {
		return nil, nil, err
	}
	nlit := int(nlit64) + 257
	if nlit > maxNumLit {
		return nil, nil, ErrCorrupt
	}
	ndist64, err := d.br.ReadBits(5)
	if err != nil {
		return nil, nil, err
	}
	ndist := int(ndist64) + 1
	if ndist > maxNumDist {
		return nil, nil, ErrCorrupt
	}
	nclen64, err := d.br.ReadBits(4)
	if err != nil {
		return nil, nil, err
	}
	nclen := int(nclen64) + 4

	var codeBits [numCodeLens]int
	for i := 0; i < nclen; i++ {
		v, err := d.br.ReadBits(3)
		if err != nil {
			return nil, nil, err
		}
		codeBits[codeOrder[i]] = int(v)
	}
	clTable, err := huffcode.Build(codeBits[:], 7, maxCodeLen)
	if err != nil {
		return nil, nil, ErrCorrupt
	}

	lens := make([]int, nlit+ndist)
	for i := 0; i < len(lens); {
		sym, err := d.decodeSymbol(clTable)
		if err != nil {
			return nil, nil, err
		}
		switch {
		case sym < 16:
			lens[i] = sym
			i++
		case sym == 16:
			if i == 0 {
				return nil, nil, ErrCorrupt
			}
			rep, err := d.br.ReadBits(2)
			if err != nil {
				return nil, nil, err
			}
			prev := lens[i-1]
			for n := int(rep) + 3; n > 0 && i < len(lens); n-- {
				lens[i] = prev
				i++
			}
		case sym == 17:
			rep, err := d.br.ReadBits(3)
			if err != nil {
				return nil, nil, err
			}
			for n := int(rep) + 3; n > 0 && i < len(lens); n-- {
				lens[i] = 0
				i++
			}
		case sym == 18:
			rep, err := d.br.ReadBits(7)
			if err != nil {
				return nil, nil, err
			}
			for n := int(rep) + 11; n > 0 && i < len(lens); n-- {
				lens[i] = 0
				i++
			}
		default:
			return nil, nil, ErrCorrupt
		}
	}

	lit, err = huffcode.Build(lens[:nlit], 9, maxCodeLen)
	if err != nil {
		return nil, nil, ErrCorrupt
	}
	dist, err = huffcode.Build(lens[nlit:], 9, maxCodeLen)
	if err != nil {
		return nil, nil, ErrCorrupt
	}
	return lit, dist, nil
}

var lengthBase = [...]int{3, 4, 5, 6, 7, 8, 9, 10, 11, 13, 15, 17, 19, 23, 27, 31, 35, 43, 51, 59, 67, 83, 99, 115, 131, 163, 195, 227, 258}
var lengthExtra = [...]uint{0, 0, 0, 0, 0, 0, 0, 0, 1, 1, 1, 1, 2, 2, 2, 2, 3, 3, 3, 3, 4, 4, 4, 4, 5, 5, 5, 5, 0}
var distBase = [...]int{1, 2, 3, 4, 5, 7, 9, 13, 17, 25, 33, 49, 65, 97, 129, 193, 257, 385, 513, 769, 1025, 1537, 2049, 3073, 4097, 6145, 8193, 12289, 16385, 24577}
var distExtra = [...]uint{0, 0, 0, 0, 1, 1, 2, 2, 3, 3, 4, 4, 5, 5, 6, 6, 7, 7, 8, 8, 9, 9, 10, 10, 11, 11, 12, 12, 13, 13}

func (d *Decoder) huffmanBlock(lit, dist *huffcode.Table) error {
	for {
		sym, err := d.decodeSymbol(lit)
		if err != nil {
			return err
		}
		if sym < 256 {
			d.out = append(d.out, byte(sym))
			continue
		}
		if sym == endBlockMarker {
			return nil
		}
		if sym >= maxNumLit {
			return ErrCorrupt
		}
		li := sym - 257
		length := lengthBase[li]
		if n := lengthExtra[li]; n > 0 {
			extra, err := d.br.ReadBits(n)
			if err != nil {
				return err
			}
			length += int(extra)
		}

		dsym, err := d.decodeSymbol(dist)
		if err != nil {
			return err
		}
		if dsym >= maxNumDist {
			return ErrCorrupt
		}
		distance := distBase[dsym]
		if n := distExtra[dsym]; n > 0 {
			extra, err := d.br.ReadBits(n)
			if err != nil {
				return err
			}
			distance += int(extra)
		}
		if distance > len(d.out) || distance > maxMatchOffset {
			return ErrCorrupt
		}

		src := len(d.out) - distance
		for range length {
			d.out = append(d.out, d.out[src])
			src++
		}
	}
}

func (d *Decoder) decodeSymbol(t *huffcode.Table) (int, error) {
	if t.Empty() {
		return 0, ErrCorrupt
	}
	need := t.TableBits()
	peek, err := d.br.PeekBits(uint(need))
	truncated := errors.Is(err, bitio.ErrTruncated)
	if err != nil && !truncated {
		return 0, err
	}
	sym, n, ok := t.Decode(uint32(peek))
	if !ok {
		if truncated {
			return 0, err
		}
		return 0, ErrCorrupt
	}
	d.br.Advance(uint(n))
	return sym, nil
}
