// Package chm implements the CHM container (§4.5.2): the ITSF header, the
// ITSP chunked directory (PMGL leaf chunks), and extraction of LZX-compressed
// section 1 content using the reset table to support random access.
//
// Directory layout is grounded on spec.md's own description rather than a
// byte-for-byte reference implementation (none of this repo's retrieval
// pack carries a complete CHM reader): chunk entry counts are read from the
// last two bytes of each chunk and the entry block grows from a fixed
// 20-byte header forward, exactly as spec.md §4.5.2 states.
package chm

import (
	"encoding/binary"
	"errors"
	"io"
	"math/bits"
	"strings"

	"github.com/msuncap/msuncap/internal/lzx"
)

var Signature = [4]byte{'I', 'T', 'S', 'F'}
var itspSignature = [4]byte{'I', 'T', 'S', 'P'}
var pmglSignature = [4]byte{'P', 'M', 'G', 'L'}

var (
	ErrBadSignature = errors.New("chm: bad signature")
	ErrFormat       = errors.New("chm: malformed directory")
)

// Header is the fixed ITSF header. Only the fields extraction needs are
// kept: where the ITSP directory section starts and how long it is, and
// where the content section (section 0 and section 1's raw bytes) begins.
type Header struct {
	Version   uint32
	DirOffset int64
	DirLength int64
	DataOffset int64 // offset of the content section, section indices are relative to this
}

// ReadHeader reads the 96-byte (v3) ITSF header at the start of r.
func ReadHeader(r io.ReadSeeker) (Header, error) {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return Header{}, err
	}
	var raw [96]byte
	if _, err := io.ReadFull(r, raw[:]); err != nil {
		return Header{}, err
	}
	if [4]byte(raw[:4]) != Signature {
		return Header{}, ErrBadSignature
	}
	h := Header{
		Version: binary.LittleEndian.Uint32(raw[4:8]),
	}
	// Header section table: two (offset uint64, length uint64) pairs
	// starting at byte 56; entry 0 is unused in v3, entry 1 locates the
	// ITSP directory blob.
	h.DirOffset = int64(binary.LittleEndian.Uint64(raw[72:80]))
	h.DirLength = int64(binary.LittleEndian.Uint64(raw[80:88]))
	h.DataOffset = int64(binary.LittleEndian.Uint64(raw[88:96]))
	return h, nil
}

// DirEntry is one named file in the directory: which section its bytes
// live in (0 = uncompressed content, 1 = LZX-compressed content) and the
// byte range within that section.
type DirEntry struct {
	Name    string
	Section int
	Offset  int64
	Length  int64
}

// readEncInt reads one CHM ENCINT: big-endian base-128, 7 data bits per
// byte, continuation signalled by the high bit.
func readEncInt(r io.ByteReader) (uint64, error) {
	var v uint64
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		v = v<<7 | uint64(b&0x7F)
		if b&0x80 == 0 {
			return v, nil
		}
	}
}

type byteReaderFromBytes struct {
	data []byte
	pos  int
}

func (b *byteReaderFromBytes) ReadByte() (byte, error) {
	if b.pos >= len(b.data) {
		return 0, io.EOF
	}
	v := b.data[b.pos]
	b.pos++
	return v, nil
}

// ReadDirectory reads the ITSP header at h.DirOffset, then walks the PMGL
// leaf-chunk chain (following each chunk's "next" pointer) collecting
// every named entry. Index (PMGI) chunks are not consulted: this reader
// only needs full enumeration, never keyed lookup.
func ReadDirectory(r io.ReadSeeker, h Header) ([]DirEntry, error) {
	if _, err := r.Seek(h.DirOffset, io.SeekStart); err != nil {
		return nil, err
	}
	var itsp [84]byte
	if _, err := io.ReadFull(r, itsp[:]); err != nil {
		return nil, err
	}
	if [4]byte(itsp[:4]) != itspSignature {
		return nil, ErrFormat
	}
	blockSize := int64(binary.LittleEndian.Uint32(itsp[24:28]))
	firstPMGL := int64(binary.LittleEndian.Uint32(itsp[32:36]))
	if blockSize <= 20 {
		return nil, ErrFormat
	}

	var entries []DirEntry
	chunkIdx := firstPMGL
	for chunkIdx >= 0 {
		chunk := make([]byte, blockSize)
		off := h.DirOffset + int64(itspHeaderLen(itsp[:])) + chunkIdx*blockSize
		if _, err := r.Seek(off, io.SeekStart); err != nil {
			return nil, err
		}
		if _, err := io.ReadFull(r, chunk); err != nil {
			return nil, err
		}
		if [4]byte(chunk[:4]) != pmglSignature {
			return nil, ErrFormat
		}
		next := int32(binary.LittleEndian.Uint32(chunk[12:16]))

		count := binary.LittleEndian.Uint16(chunk[blockSize-2:])
		br := &byteReaderFromBytes{data: chunk[20 : blockSize-2]}
		for i := uint16(0); i < count; i++ {
			nameLen, err := readEncInt(br)
			if err != nil {
				return nil, ErrFormat
			}
			name := make([]byte, nameLen)
			for j := range name {
				b, err := br.ReadByte()
				if err != nil {
					return nil, ErrFormat
				}
				name[j] = b
			}
			section, err := readEncInt(br)
			if err != nil {
				return nil, ErrFormat
			}
			offset, err := readEncInt(br)
			if err != nil {
				return nil, ErrFormat
			}
			length, err := readEncInt(br)
			if err != nil {
				return nil, ErrFormat
			}
			entries = append(entries, DirEntry{
				Name:    string(name),
				Section: int(section),
				Offset:  int64(offset),
				Length:  int64(length),
			})
		}

		if next < 0 {
			break
		}
		chunkIdx = int64(next)
	}
	return entries, nil
}

// itspHeaderLen is the fixed ITSP header size (0x54 bytes) preceding the
// first directory chunk.
func itspHeaderLen(_ []byte) int64 { return 0x54 }

// findEntry returns the directory entry whose name has suffix, used to
// locate the three named system files that are not addressed by a fixed
// offset.
func findEntry(entries []DirEntry, suffix string) (DirEntry, bool) {
	for _, e := range entries {
		if strings.HasSuffix(e.Name, suffix) {
			return e, true
		}
	}
	return DirEntry{}, false
}

// ControlData carries section 1's LZX parameters, read from the
// "ControlData" system file.
type ControlData struct {
	ResetIntervalFrames int
	WindowBits          int
}

// ReadControlData parses the LZXC control-data blob: entry count, "LZXC"
// tag, version, reset interval (in frames), window size (bytes), cache
// size, and a reserved field.
func ReadControlData(data []byte) (ControlData, error) {
	if len(data) < 24 {
		return ControlData{}, ErrFormat
	}
	resetInterval := binary.LittleEndian.Uint32(data[8:12])
	windowSize := binary.LittleEndian.Uint32(data[12:16])
	if windowSize == 0 {
		return ControlData{}, ErrFormat
	}
	return ControlData{
		ResetIntervalFrames: int(resetInterval),
		WindowBits:          bits.Len32(windowSize - 1),
	}, nil
}

// ResetTable is the "ResetTable" system file: one compressed-byte offset
// (relative to the start of section 1's raw bytes) per reset point.
type ResetTable struct {
	BlockSize        int64
	UncompressedSize int64
	Offsets          []int64
}

func ReadResetTable(data []byte) (ResetTable, error) {
	if len(data) < 0x28 {
		return ResetTable{}, ErrFormat
	}
	count := binary.LittleEndian.Uint32(data[4:8])
	entrySize := binary.LittleEndian.Uint32(data[8:12])
	headerLen := binary.LittleEndian.Uint32(data[12:16])
	uncompLen := binary.LittleEndian.Uint64(data[16:24])
	blockSize := binary.LittleEndian.Uint64(data[24:32])
	if entrySize != 8 {
		return ResetTable{}, ErrFormat
	}
	rt := ResetTable{BlockSize: int64(blockSize), UncompressedSize: int64(uncompLen)}
	start := int(headerLen)
	for i := uint32(0); i < count; i++ {
		o := start + int(i)*8
		if o+8 > len(data) {
			return ResetTable{}, ErrFormat
		}
		rt.Offsets = append(rt.Offsets, int64(binary.LittleEndian.Uint64(data[o:o+8])))
	}
	return rt, nil
}

// Section1Params bundles the three system files' decoded contents needed
// to extract from the LZX-compressed section.
type Section1Params struct {
	Control ControlData
	Reset   ResetTable
}

// ReadSection1Params locates and parses ControlData/ResetTable among the
// already-read directory entries, reading their bytes out of section 0
// (content[entry.Offset : entry.Offset+entry.Length], section0 being
// uncompressed).
func ReadSection1Params(section0 []byte, entries []DirEntry) (Section1Params, error) {
	cdEntry, ok := findEntry(entries, "ControlData")
	if !ok {
		return Section1Params{}, ErrFormat
	}
	rtEntry, ok := findEntry(entries, "ResetTable")
	if !ok {
		return Section1Params{}, ErrFormat
	}
	cd, err := ReadControlData(sliceEntry(section0, cdEntry))
	if err != nil {
		return Section1Params{}, err
	}
	rt, err := ReadResetTable(sliceEntry(section0, rtEntry))
	if err != nil {
		return Section1Params{}, err
	}
	return Section1Params{Control: cd, Reset: rt}, nil
}

func sliceEntry(section0 []byte, e DirEntry) []byte {
	start := e.Offset
	end := start + e.Length
	if start < 0 || end > int64(len(section0)) {
		return nil
	}
	return section0[start:end]
}

// frameBytes is the LZX output-frame size section 1 is chunked into, the
// same constant CAB LZX folders use.
const frameBytes = 32768

// ExtractSection1 decodes exactly e.Length bytes starting at e.Offset out
// of section 1, reading compressed bytes from sectionOneReader (an
// io.ReaderAt over the whole content section, with contentOffset the byte
// offset of section 1's first compressed byte within it).
//
// It finds the reset point at or before e.Offset, seeks the compressed
// reader there, reinitialises an LZX decoder, skips forward by decoding
// and discarding whole frames until the target offset is reached, then
// returns the requested Length bytes.
func ExtractSection1(sectionOneReader io.ReaderAt, contentOffset int64, params Section1Params, e DirEntry) ([]byte, error) {
	framesPerReset := params.Control.ResetIntervalFrames
	if framesPerReset <= 0 {
		framesPerReset = 1
	}
	resetSpan := int64(framesPerReset) * frameBytes
	resetIdx := 0
	if resetSpan > 0 {
		resetIdx = int(e.Offset / resetSpan)
	}
	if resetIdx >= len(params.Reset.Offsets) {
		resetIdx = len(params.Reset.Offsets) - 1
	}
	if resetIdx < 0 {
		return nil, ErrFormat
	}

	compOffset := params.Reset.Offsets[resetIdx]
	feeder := &readerAtByteFeeder{r: sectionOneReader, pos: contentOffset + compOffset}

	d, err := lzx.NewDecoder(feeder, params.Control.WindowBits)
	if err != nil {
		return nil, err
	}

	// Decoding from the reset point reproduces section 1's byte stream
	// starting at uncompressedAtReset; skip-forward is simply decoding
	// frames (accumulated in d.Output()) until the target range is
	// covered, then slicing out the requested window.
	uncompressedAtReset := int64(resetIdx) * resetSpan
	want := e.Offset + e.Length
	for int64(len(d.Output())) < want-uncompressedAtReset {
		if n := int64(len(d.Output())); n > 0 && n%resetSpan == 0 {
			d.Reset()
		}
		if _, err := d.DecodeFrame(frameBytes); err != nil {
			return nil, err
		}
	}
	full := d.Output()
	start := e.Offset - uncompressedAtReset
	end := want - uncompressedAtReset
	if start < 0 || end > int64(len(full)) {
		return nil, ErrFormat
	}
	return full[start:end], nil
}

// readerAtByteFeeder adapts an io.ReaderAt plus a running position into
// the io.ByteReader the LZX decoder's word reader consumes.
type readerAtByteFeeder struct {
	r   io.ReaderAt
	pos int64
}

func (f *readerAtByteFeeder) ReadByte() (byte, error) {
	var b [1]byte
	n, err := f.r.ReadAt(b[:], f.pos)
	if n == 1 {
		f.pos++
		return b[0], nil
	}
	return 0, err
}
