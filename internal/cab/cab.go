// Package cab implements the CAB container (§4.5.1): the folder/file
// directory Microsoft Cabinet files use, the CFDATA block stream and its
// checksum, and decode dispatch for every codec a folder may declare
// (none, MSZIP, LZX, Quantum).
package cab

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/msuncap/msuncap/internal/lzx"
	"github.com/msuncap/msuncap/internal/mszip"
	"github.com/msuncap/msuncap/internal/quantum"
)

var Signature = [4]byte{'M', 'S', 'C', 'F'}

var (
	ErrBadSignature           = errors.New("cab: bad signature")
	ErrChecksum               = errors.New("cab: CFDATA checksum mismatch")
	ErrUnsupportedCompression = errors.New("cab: unsupported folder compression type")
)

const (
	flagPrevCabinet   = 0x0001
	flagNextCabinet   = 0x0002
	flagReservePresent = 0x0004
)

const (
	compMask    = 0x000F
	compNone    = 0x0000
	compMSZIP   = 0x0001
	compQuantum = 0x0002
	compLZX     = 0x0003
)

// Header is CFHEADER, the 36-byte (or longer, with reserve fields) fixed
// record at offset 0.
type Header struct {
	CbCabinet    uint32
	CoffFiles    uint32
	VersionMinor uint8
	VersionMajor uint8
	NumFolders   uint16
	NumFiles     uint16
	Flags        uint16
	SetID        uint16
	ICabinet     uint16
}

// Folder is CFFOLDER: where a folder's CFDATA blocks start and what codec
// decodes them.
type Folder struct {
	FirstDataOffset uint32
	NumDataBlocks   uint16
	CompressionType uint16
	WindowBits      int // LZX/Quantum only; decoded from the high byte of CompressionType
	DataReserve     int // cbCFData: per-CFDATA-block reserved bytes to skip (0 if none declared)
}

// File is CFFILE: one archived file's placement within a folder's
// decompressed byte stream.
type File struct {
	UncompressedSize uint32
	FolderOffset     uint32
	FolderIndex      uint16
	Date, Time       uint16
	Attribs          uint16
	Name             string
}

const (
	AttribReadOnly = 1 << iota
	AttribHidden
	AttribSystem
	_
	_
	AttribArchive
	AttribExec
	AttribNameIsUTF8
)

// Cabinet is a parsed single cabinet file (multi-part cabinet chaining is
// left to the caller: Header.Flags reports whether a predecessor/successor
// exists).
type Cabinet struct {
	Header  Header
	Folders []Folder
	Files   []File
}

// Parse reads and validates a cabinet's directory structures (CFHEADER,
// every CFFOLDER, every CFFILE) from r, which must support random access
// since CFFILE lives at a header-specified offset, separate from the
// folder/data section that follows the header contiguously.
func Parse(r io.ReadSeeker) (*Cabinet, error) {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	var raw [36]byte
	if _, err := io.ReadFull(r, raw[:]); err != nil {
		return nil, err
	}
	if [4]byte(raw[:4]) != Signature {
		return nil, ErrBadSignature
	}
	h := Header{
		CbCabinet:    binary.LittleEndian.Uint32(raw[8:12]),
		CoffFiles:    binary.LittleEndian.Uint32(raw[16:20]),
		VersionMinor: raw[24],
		VersionMajor: raw[25],
		NumFolders:   binary.LittleEndian.Uint16(raw[26:28]),
		NumFiles:     binary.LittleEndian.Uint16(raw[28:30]),
		Flags:        binary.LittleEndian.Uint16(raw[30:32]),
		SetID:        binary.LittleEndian.Uint16(raw[32:34]),
		ICabinet:     binary.LittleEndian.Uint16(raw[34:36]),
	}

	var cbCFFolder, cbCFData int
	if h.Flags&flagReservePresent != 0 {
		var reserveSizes [4]byte
		if _, err := io.ReadFull(r, reserveSizes[:]); err != nil {
			return nil, err
		}
		cfHeaderRes := binary.LittleEndian.Uint16(reserveSizes[0:2])
		cbCFFolder = int(reserveSizes[2])
		cbCFData = int(reserveSizes[3])
		if _, err := io.CopyN(io.Discard, r, int64(cfHeaderRes)); err != nil {
			return nil, err
		}
	}

	folders := make([]Folder, h.NumFolders)
	for i := range folders {
		var fb [8]byte
		if _, err := io.ReadFull(r, fb[:]); err != nil {
			return nil, err
		}
		ctype := binary.LittleEndian.Uint16(fb[6:8])
		f := Folder{
			FirstDataOffset: binary.LittleEndian.Uint32(fb[0:4]),
			NumDataBlocks:   binary.LittleEndian.Uint16(fb[4:6]),
			CompressionType: ctype,
			DataReserve:     cbCFData,
		}
		if m := ctype & compMask; m == compLZX || m == compQuantum {
			f.WindowBits = int(ctype>>8) & 0x1F
		}
		switch ctype & compMask {
		case compNone, compMSZIP, compQuantum, compLZX:
		default:
			return nil, ErrUnsupportedCompression
		}
		if cbCFFolder > 0 {
			if _, err := io.CopyN(io.Discard, r, int64(cbCFFolder)); err != nil {
				return nil, err
			}
		}
		folders[i] = f
	}

	if _, err := r.Seek(int64(h.CoffFiles), io.SeekStart); err != nil {
		return nil, err
	}
	files := make([]File, h.NumFiles)
	for i := range files {
		var fb [16]byte
		if _, err := io.ReadFull(r, fb[:]); err != nil {
			return nil, err
		}
		name, err := readCString(r)
		if err != nil {
			return nil, err
		}
		files[i] = File{
			UncompressedSize: binary.LittleEndian.Uint32(fb[0:4]),
			FolderOffset:     binary.LittleEndian.Uint32(fb[4:8]),
			FolderIndex:      binary.LittleEndian.Uint16(fb[8:10]),
			Date:             binary.LittleEndian.Uint16(fb[10:12]),
			Time:             binary.LittleEndian.Uint16(fb[12:14]),
			Attribs:          binary.LittleEndian.Uint16(fb[14:16]),
			Name:             name,
		}
	}

	return &Cabinet{Header: h, Folders: folders, Files: files}, nil
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

// checksum implements the MS-CAB CFDATA checksum: 32-bit little-endian
// words XORed together, seeded with the checksum of the four
// CBData/CBUncomp header bytes that follow the checksum field itself, with
// any 1-3 trailing bytes (a payload length not a multiple of 4) folded in
// big-endian order instead (matching libmspack byte-for-byte: the first
// leftover byte lands in bits 16-23, the next in bits 8-15, the last in
// bits 0-7).
func checksum(data []byte, seed uint32) uint32 {
	csum := seed
	n := len(data)
	i := 0
	for ; i+4 <= n; i += 4 {
		csum ^= binary.LittleEndian.Uint32(data[i : i+4])
	}
	var tail uint32
	switch n - i {
	case 3:
		tail |= uint32(data[i]) << 16
		tail |= uint32(data[i+1]) << 8
		tail |= uint32(data[i+2])
	case 2:
		tail |= uint32(data[i]) << 8
		tail |= uint32(data[i+1])
	case 1:
		tail |= uint32(data[i])
	}
	csum ^= tail
	return csum
}

// folderDecoder is satisfied by every codec's streaming decoder: each
// keeps its own accumulated output/window across DecodeBlock calls, which
// is exactly what a CFDATA block sequence needs.
type folderDecoder interface {
	decodeNext(compressed []byte, uncompressedLen int) ([]byte, error)
}

type passthroughDecoder struct{}

func (passthroughDecoder) decodeNext(compressed []byte, _ int) ([]byte, error) {
	return compressed, nil
}

type mszipDecoderAdapter struct{ d *mszip.Decoder }

func (a mszipDecoderAdapter) decodeNext(compressed []byte, _ int) ([]byte, error) {
	return a.d.DecodeBlock()
}

type lzxDecoderAdapter struct{ d *lzx.Decoder }

func (a lzxDecoderAdapter) decodeNext(_ []byte, uncompressedLen int) ([]byte, error) {
	return a.d.DecodeFrame(uncompressedLen)
}

type quantumDecoderAdapter struct{ d *quantum.Decoder }

func (a quantumDecoderAdapter) decodeNext(_ []byte, uncompressedLen int) ([]byte, error) {
	return a.d.DecodeBlock(uncompressedLen)
}

// byteSliceFeeder lets the word/byte oriented codec bitstreams pull bytes
// one at a time from a sequence of CFDATA block payloads that Decompress
// reads from r up front into a single buffer.
type byteSliceFeeder struct {
	data []byte
	pos  int
}

func (f *byteSliceFeeder) ReadByte() (byte, error) {
	if f.pos >= len(f.data) {
		return 0, io.EOF
	}
	b := f.data[f.pos]
	f.pos++
	return b, nil
}

// Decompress reads every CFDATA block of fld from r (positioned by the
// caller at fld.FirstDataOffset) and returns the folder's full
// decompressed byte stream. checksums, when non-zero, are verified.
func Decompress(r io.Reader, fld Folder) ([]byte, error) {
	feeder := &byteSliceFeeder{}
	var decoder folderDecoder
	switch fld.CompressionType & compMask {
	case compNone:
		decoder = passthroughDecoder{}
	case compMSZIP:
		decoder = mszipDecoderAdapter{mszip.NewDecoder(feeder)}
	case compLZX:
		windowBits := fld.WindowBits
		if windowBits == 0 {
			windowBits = 15
		}
		d, err := lzx.NewDecoder(feeder, windowBits)
		if err != nil {
			return nil, err
		}
		decoder = lzxDecoderAdapter{d}
	case compQuantum:
		windowBits := fld.WindowBits
		if windowBits == 0 {
			windowBits = 15
		}
		decoder = quantumDecoderAdapter{quantum.NewDecoder(feeder, windowBits)}
	default:
		return nil, ErrUnsupportedCompression
	}

	var out []byte
	for i := 0; i < int(fld.NumDataBlocks); i++ {
		var hb [8]byte
		if _, err := io.ReadFull(r, hb[:]); err != nil {
			return nil, err
		}
		wantSum := binary.LittleEndian.Uint32(hb[0:4])
		cbData := binary.LittleEndian.Uint16(hb[4:6])
		cbUncomp := binary.LittleEndian.Uint16(hb[6:8])

		if fld.DataReserve > 0 {
			if _, err := io.CopyN(io.Discard, r, int64(fld.DataReserve)); err != nil {
				return nil, err
			}
		}

		block := make([]byte, cbData)
		if _, err := io.ReadFull(r, block); err != nil {
			return nil, err
		}

		if wantSum != 0 {
			got := checksum(block, checksum(hb[4:8], 0))
			if got != wantSum {
				return nil, fmt.Errorf("%w: block %d", ErrChecksum, i)
			}
		}

		feeder.data = append(feeder.data, block...)
		decoded, err := decoder.decodeNext(block, int(cbUncomp))
		if err != nil {
			return nil, err
		}
		out = append(out, decoded...)
	}
	return out, nil
}

// FileContent extracts one CFFILE's bytes out of its folder's fully
// decompressed stream.
func FileContent(folderData []byte, f File) ([]byte, error) {
	start := int(f.FolderOffset)
	end := start + int(f.UncompressedSize)
	if start < 0 || end > len(folderData) || start > end {
		return nil, fmt.Errorf("cab: file %q offset range [%d:%d) outside folder data of length %d", f.Name, start, end, len(folderData))
	}
	return folderData[start:end], nil
}
