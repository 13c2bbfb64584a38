// Package szdd implements the SZDD container (§4.5.3): the single-file
// MS-DOS EXPAND.EXE format, an 8-byte signature plus a small header
// wrapping one LZSS stream.
package szdd

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/msuncap/msuncap/internal/lzss"
)

var Signature = [8]byte{'S', 'Z', 'D', 'D', 0x88, 0xF0, 0x27, 0x33}

var (
	ErrBadSignature = errors.New("szdd: bad signature")
	ErrUnsupportedCompression = errors.New("szdd: unsupported compression mode")
)

// compressionModeA is the only mode EXPAND.EXE ever produced: LZSS with
// the Normal dialect window cursor.
const compressionModeA = 'A'

// Header is the fixed 14-byte SZDD header.
type Header struct {
	CompressionMode byte
	MissingChar     byte // the filename's final character, replaced by '_' in the compressed name on disk
	UncompressedSize uint32
}

// ReadHeader parses and validates the signature and fixed header fields.
func ReadHeader(r io.Reader) (Header, error) {
	var buf [14]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Header{}, err
	}
	if [8]byte(buf[:8]) != Signature {
		return Header{}, ErrBadSignature
	}
	h := Header{
		CompressionMode: buf[8],
		MissingChar:     buf[9],
		UncompressedSize: binary.LittleEndian.Uint32(buf[10:14]),
	}
	if h.CompressionMode != compressionModeA {
		return Header{}, ErrUnsupportedCompression
	}
	return h, nil
}

// Extract reads a full SZDD stream from r and writes the decompressed
// content to w.
func Extract(r io.Reader, w io.Writer) (Header, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return Header{}, err
	}
	br, ok := r.(io.ByteReader)
	if !ok {
		br = bufByteReader{r}
	}
	if err := lzss.Decompress(br, w, lzss.Normal); err != nil {
		return Header{}, err
	}
	return h, nil
}

type bufByteReader struct{ r io.Reader }

func (b bufByteReader) ReadByte() (byte, error) {
	var buf [1]byte
	if _, err := io.ReadFull(b.r, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}
