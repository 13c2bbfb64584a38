// Package kwaj implements the KWAJ container (§4.5.3): the Microsoft
// Compress.exe sibling of SZDD, with a variable-length optional-header
// section described by a flag bitmask.
package kwaj

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/msuncap/msuncap/internal/lzss"
)

var Signature = [8]byte{'K', 'W', 'A', 'J', 0x88, 0xF0, 0x27, 0xD1}

// Compression modes, as carried in the header's CompressionType field.
const (
	CompressNone = 0
	CompressXOR  = 1
	CompressSZDD = 2 // LZSS, QBasic-style cursor
	CompressLZH  = 3
	CompressMSZIP = 4
)

const (
	flagHasLength      = 0x0001
	flagHasUnknown1    = 0x0002
	flagHasUnknown2    = 0x0004
	flagHasNameNoExt   = 0x0008
	flagHasExt         = 0x0010
	flagHasArbitrary   = 0x0020
)

var (
	ErrBadSignature       = errors.New("kwaj: bad signature")
	ErrUnsupportedCompression = errors.New("kwaj: unsupported compression mode")
)

// Header is the fixed 14-byte KWAJ header; the optional section that
// follows is parsed separately by ReadOptionalHeaders.
type Header struct {
	CompressionType uint16
	DataOffset      uint16
	HeaderFlags     uint16
}

// Optional carries whichever of the variable-length optional fields the
// header's flag bitmask announced.
type Optional struct {
	UncompressedLength uint32
	NameNoExt          string
	Ext                string
	ArbitraryData      []byte
}

func ReadHeader(r io.Reader) (Header, error) {
	var sig [8]byte
	if _, err := io.ReadFull(r, sig[:]); err != nil {
		return Header{}, err
	}
	if sig != Signature {
		return Header{}, ErrBadSignature
	}
	var rest [6]byte
	if _, err := io.ReadFull(r, rest[:]); err != nil {
		return Header{}, err
	}
	return Header{
		CompressionType: binary.LittleEndian.Uint16(rest[0:2]),
		DataOffset:      binary.LittleEndian.Uint16(rest[2:4]),
		HeaderFlags:     binary.LittleEndian.Uint16(rest[4:6]),
	}, nil
}

// ReadOptionalHeaders parses the variable-length section per h.HeaderFlags,
// in the fixed field order the format specifies.
func ReadOptionalHeaders(r io.Reader, h Header) (Optional, error) {
	var opt Optional
	if h.HeaderFlags&flagHasLength != 0 {
		var buf [4]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return opt, err
		}
		opt.UncompressedLength = binary.LittleEndian.Uint32(buf[:])
	}
	if h.HeaderFlags&flagHasUnknown1 != 0 {
		if _, err := io.CopyN(io.Discard, r, 2); err != nil {
			return opt, err
		}
	}
	if h.HeaderFlags&flagHasUnknown2 != 0 {
		if _, err := io.CopyN(io.Discard, r, 2); err != nil {
			return opt, err
		}
	}
	if h.HeaderFlags&flagHasNameNoExt != 0 {
		s, err := readCString(r)
		if err != nil {
			return opt, err
		}
		opt.NameNoExt = s
	}
	if h.HeaderFlags&flagHasExt != 0 {
		s, err := readCString(r)
		if err != nil {
			return opt, err
		}
		opt.Ext = s
	}
	if h.HeaderFlags&flagHasArbitrary != 0 {
		var lenBuf [2]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return opt, err
		}
		n := binary.LittleEndian.Uint16(lenBuf[:])
		data := make([]byte, n)
		if _, err := io.ReadFull(r, data); err != nil {
			return opt, err
		}
		opt.ArbitraryData = data
	}
	return opt, nil
}

func readCString(r io.Reader) (string, error) {
	var out []byte
	var b [1]byte
	for {
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return "", err
		}
		if b[0] == 0 {
			return string(out), nil
		}
		out = append(out, b[0])
	}
}

// Extract decompresses the data section per h.CompressionType. r must
// already be positioned at h.DataOffset.
func Extract(r io.ByteReader, w io.Writer, h Header) error {
	switch h.CompressionType {
	case CompressNone:
		return copyAll(r, w)
	case CompressSZDD:
		return lzss.Decompress(r, w, lzss.QBasic)
	default:
		return ErrUnsupportedCompression
	}
}

func copyAll(r io.ByteReader, w io.Writer) error {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil
		}
		if _, err := w.Write([]byte{b}); err != nil {
			return err
		}
	}
}
