// Package zeck implements the WinHelp LZ77 variant (§4.4.5): an
// LZSS-shaped compressor over a 4096-byte window, plus an optional
// phrase-replacement pass applied to the decompressed text using the
// |Phrases/|PhrIndex dictionary a WinHelp file carries.
package zeck

import (
	"bytes"
	"errors"
	"io"

	"github.com/msuncap/msuncap/internal/bitio"
)

const WindowSize = 4096

var ErrCorrupt = errors.New("zeck: corrupt back-reference")

// Decompress mirrors lzss.Decompress's token shape (an 8-bit flag byte
// gating 8 literal-or-match tokens) but with a zero-filled window and a
// cursor that starts at zero, the convention WinHelp's compressor uses.
func Decompress(r io.ByteReader, w io.Writer) error {
	window := make([]byte, WindowSize)
	cursor := 0

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
			return nil
		}
		for bit := range 8 {
			if flags&(1<<bit) != 0 {
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
			token := int(hi)<<8 | int(lo)
			offset := token >> 4
			length := token&0x0F + 3
			if token&0x0F == 15 {
				extra, err := br.ReadBits(8)
				if err != nil {
					return nil
				}
				length = int(extra) + 19
			}

			for range length {
				if err := put(window[offset%WindowSize]); err != nil {
					return err
				}
				offset++
			}
		}
	}
}

// phraseEscape1 introduces a one-byte phrase index; phraseEscape2
// introduces a little-endian two-byte phrase index. Any other byte passes
// through unchanged. This mirrors the documented |Phrases marker scheme
// reverse-engineered from WinHelp topic text.
const (
	phraseEscape1 = 0x00
	phraseEscape2 = 0x01
)

// ExpandPhrases substitutes phrase-table references embedded in decompressed
// WinHelp topic text with the corresponding entries from phrases (indexed by
// |PhrIndex order), returning the fully expanded text.
func ExpandPhrases(data []byte, phrases [][]byte) ([]byte, error) {
	var out bytes.Buffer
	for i := 0; i < len(data); {
		b := data[i]
		switch b {
		case phraseEscape1:
			if i+1 >= len(data) {
				return nil, ErrCorrupt
			}
			idx := int(data[i+1])
			if idx >= len(phrases) {
				return nil, ErrCorrupt
			}
			out.Write(phrases[idx])
			i += 2
		case phraseEscape2:
			if i+2 >= len(data) {
				return nil, ErrCorrupt
			}
			idx := int(data[i+1]) | int(data[i+2])<<8
			if idx >= len(phrases) {
				return nil, ErrCorrupt
			}
			out.Write(phrases[idx])
			i += 3
		default:
			out.WriteByte(b)
			i++
		}
	}
	return out.Bytes(), nil
}
