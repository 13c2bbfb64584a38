// Package lzss implements the LZSS codec shared by SZDD and KWAJ-SZDD
// (§4.4.1): a 4096-byte window seeded with spaces, 8 tokens per flag byte,
// and 16-bit back-references encoding a 12-bit offset and a 4-bit length.
package lzss

import (
	"errors"
	"io"

	"github.com/msuncap/msuncap/internal/bitio"
)

const (
	WindowSize = 4096
	minMatch   = 3
)

// Dialect selects the initial window cursor, the only way the two known
// encoders differ.
type Dialect int

const (
	// Normal is the MS-DOS EXPAND.EXE convention: the cursor starts near
	// the end of the window so early back-references can reach "into"
	// the space-filled region.
	Normal Dialect = iota
	// QBasic starts the cursor at zero.
	QBasic
)

// ErrCorrupt reports a corrupt back-reference. Decompress never returns it:
// every 12-bit offset addresses a valid window position, and a read failure
// simply ends the stream without error.
var ErrCorrupt = errors.New("lzss: corrupt back-reference")

// Decompress reads an LZSS stream from r until EOF and writes the
// decompressed bytes to w. EOF, not a length field, ends the stream size
// is spec-determined by the calling container format.
func Decompress(r io.ByteReader, w io.Writer, dialect Dialect) error {
	window := make([]byte, WindowSize)
	for i := range window {
		window[i] = 0x20
	}
	cursor := WindowSize - 16
	if dialect == QBasic {
		cursor = 0
	}

	br := bitio.NewLSBReader(r)
	put := func(b byte) error {
		if _, err := w.Write([]byte{b}); err != nil {
			return err
		}
		window[cursor] = b
		cursor = (cursor + 1) % WindowSize
		return nil
	}

	for {
		flags, err := br.ReadBits(8)
		if err != nil {
			return nil // clean EOF between token groups
		}
		for bit := range 8 {
			isLiteral := flags&(1<<bit) != 0
			if isLiteral {
				lit, err := br.ReadBits(8)
				if err != nil {
					return nil
				}
				if err := put(byte(lit)); err != nil {
					return err
				}
				continue
			}

			lo, err := br.ReadBits(8)
			if err != nil {
				return nil
			}
			hi, err := br.ReadBits(8)
			if err != nil {
				return nil
			}
			offset := int(lo) | int(hi&0xF0)<<4
			length := int(hi&0x0F) + minMatch

			for range length {
				if err := put(window[offset]); err != nil {
					return err
				}
				offset = (offset + 1) % WindowSize
			}
		}
	}
}

// Compress is a plain greedy LZSS encoder used by round-trip tests and by
// the thin writer paths for SZDD-family containers. It favours simplicity
// and round-trip correctness over ratio.
func Compress(data []byte, w io.Writer, dialect Dialect) error {
	window := make([]byte, WindowSize)
	for i := range window {
		window[i] = 0x20
	}
	cursor := WindowSize - 16
	if dialect == QBasic {
		cursor = 0
	}

	bw := bitio.NewLSBWriter(byteWriter{w})

	pos := 0
	for pos < len(data) {
		var flags uint16
		tokens := make([][2]int, 0, 8) // {literal, 0} or {offset, length}
		isLit := make([]bool, 0, 8)

		for t := 0; t < 8 && pos < len(data); t++ {
			bestLen, bestOff := 0, 0
			maxLen := min(18, len(data)-pos)
			if maxLen >= minMatch {
				for back := 1; back <= WindowSize && back <= pos+WindowSize; back++ {
					off := (cursor - back + 2*WindowSize) % WindowSize
					l := 0
					for l < maxLen {
						var wb byte
						if l < back {
							wb = window[(off+l)%WindowSize]
						} else {
							// matched byte came from data already emitted this call
							wb = data[pos+l-back]
						}
						if wb != data[pos+l] {
							break
						}
						l++
					}
					if l > bestLen {
						bestLen, bestOff = l, off
					}
				}
			}

			if bestLen >= minMatch {
				tokens = append(tokens, [2]int{bestOff, bestLen})
				isLit = append(isLit, false)
				for i := 0; i < bestLen; i++ {
					window[cursor] = data[pos+i]
					cursor = (cursor + 1) % WindowSize
				}
				pos += bestLen
			} else {
				tokens = append(tokens, [2]int{int(data[pos]), 0})
				isLit = append(isLit, true)
				window[cursor] = data[pos]
				cursor = (cursor + 1) % WindowSize
				pos++
			}
		}

		for i, lit := range isLit {
			if lit {
				flags |= 1 << i
			}
		}
		if err := bw.WriteBits(flags, 8); err != nil {
			return err
		}
		for i, tok := range tokens {
			if isLit[i] {
				if err := bw.WriteBits(uint16(tok[0]), 8); err != nil {
					return err
				}
				continue
			}
			offset, length := tok[0], tok[1]
			lo := offset & 0xFF
			hi := ((offset >> 4) & 0xF0) | (length - minMatch)
			if err := bw.WriteBits(uint16(lo), 8); err != nil {
				return err
			}
			if err := bw.WriteBits(uint16(hi), 8); err != nil {
				return err
			}
		}
	}
	return bw.Flush()
}

type byteWriter struct{ w io.Writer }

func (b byteWriter) WriteByte(c byte) error {
	_, err := b.w.Write([]byte{c})
	return err
}
