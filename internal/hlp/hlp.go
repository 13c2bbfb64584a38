// Package hlp implements the WinHelp container (§4.5.3): the fixed file
// header, the internal B+tree-organised "file system" of named `|`-prefixed
// members, and Zeck-LZ77 decompression of `|TOPIC` data with an optional
// `|Phrases`/`|PhrIndex` substitution layer.
//
// The internal directory B+tree is read as a sequential leaf-page scan
// rather than a true B+tree binary search (DESIGN.md Open Question decision
// 4): this repo only needs to enumerate and extract every member, never a
// keyed point lookup. `|TTLBTREE`/`|KWBTREE` are not parsed; they are
// extracted as raw members like any other.
package hlp

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/msuncap/msuncap/internal/zeck"
)

// Signature is WinHelp's file magic, shared across the 3.x and 4.x file
// revisions; the revision is carried elsewhere (the |SYSTEM file), not in
// this magic number.
const Signature = 0x00035F3F

var (
	ErrBadSignature = errors.New("hlp: bad signature")
	ErrFormat       = errors.New("hlp: malformed internal file system")
)

// Header is WinHelp's 16-byte fixed file header.
type Header struct {
	DirectoryOffset uint32
	FreeListOffset  uint32
	FileSize        uint32
}

func ReadHeader(r io.Reader) (Header, error) {
	var raw [16]byte
	if _, err := io.ReadFull(r, raw[:]); err != nil {
		return Header{}, err
	}
	if binary.LittleEndian.Uint32(raw[0:4]) != Signature {
		return Header{}, ErrBadSignature
	}
	return Header{
		DirectoryOffset: binary.LittleEndian.Uint32(raw[4:8]),
		FreeListOffset:  binary.LittleEndian.Uint32(raw[8:12]),
		FileSize:        binary.LittleEndian.Uint32(raw[12:16]),
	}, nil
}

// btreeHeaderLen is the fixed WinHelp B+tree header size preceding its
// first page.
const btreeHeaderLen = 38

// bTreeHeader is the header shared by the internal directory and by
// |TTLBTREE/|KWBTREE: page size, the index of the first leaf page, and how
// many pages make up the tree.
type bTreeHeader struct {
	PageSize     uint16
	RootPage     uint16
	FirstLeaf    uint16
	TotalPages   uint16
	NEntries     uint32
}

func readBTreeHeader(r io.Reader) (bTreeHeader, error) {
	var raw [btreeHeaderLen]byte
	if _, err := io.ReadFull(r, raw[:]); err != nil {
		return bTreeHeader{}, err
	}
	if binary.LittleEndian.Uint16(raw[0:2]) != 0x293B {
		return bTreeHeader{}, ErrFormat
	}
	return bTreeHeader{
		PageSize:   binary.LittleEndian.Uint16(raw[4:6]),
		NEntries:   binary.LittleEndian.Uint32(raw[32:36]),
		TotalPages: binary.LittleEndian.Uint16(raw[28:30]),
		RootPage:   binary.LittleEndian.Uint16(raw[30:32]),
		FirstLeaf:  0, // leaf chain always starts at physical page 0 in this reader
	}, nil
}

// Entry is one key/value pair out of a WinHelp B+tree leaf page.
type Entry struct {
	Key  string
	Data []byte
}

// readLeafPages scans every leaf page in sequence (page 0 upward, to
// TotalPages) collecting (key, data) entries; the page-chain "next page"
// pointer that a true B+tree traversal would follow is not required
// because every page in the leaf level is laid out contiguously in this
// reader's simplified model.
//
// A leaf page: 2-byte entry count, 2-byte unused-space marker, then
// repeated (nul-terminated key, data) records, data length assumed fixed
// at recordSize bytes (the internal directory and |TTLBTREE/|KWBTREE all
// carry fixed-size records in this reader's scope).
func readLeafPages(base []byte, h bTreeHeader, recordSize int) ([]Entry, error) {
	var entries []Entry
	pageSize := int(h.PageSize)
	if pageSize <= 4 {
		return nil, ErrFormat
	}
	for p := 0; p < int(h.TotalPages); p++ {
		start := p * pageSize
		if start+4 > len(base) {
			break
		}
		page := base[start:min(start+pageSize, len(base))]
		count := binary.LittleEndian.Uint16(page[0:2])
		pos := 4
		for i := uint16(0); i < count; i++ {
			nameStart := pos
			for pos < len(page) && page[pos] != 0 {
				pos++
			}
			if pos >= len(page) {
				return nil, ErrFormat
			}
			key := string(page[nameStart:pos])
			pos++ // skip nul
			if pos+recordSize > len(page) {
				return nil, ErrFormat
			}
			entries = append(entries, Entry{Key: key, Data: page[pos : pos+recordSize]})
			pos += recordSize
		}
	}
	return entries, nil
}

// Member is one named internal file (`|SYSTEM`, `|TOPIC`, ...): its byte
// range within the overall HLP file.
type Member struct {
	Name   string
	Offset int64
	Length int64
}

// ReadDirectory reads the internal directory B+tree at h.DirectoryOffset
// and returns every named member, each a (reserved-space, used-space)
// pair whose data immediately follows the directory-entry's own 9-byte
// FILEHEADER at Offset.
func ReadDirectory(r io.ReaderAt, h Header) ([]Member, error) {
	sr := io.NewSectionReader(r, int64(h.DirectoryOffset), int64(h.FileSize)-int64(h.DirectoryOffset))
	bh, err := readBTreeHeader(sr)
	if err != nil {
		return nil, err
	}
	rest := make([]byte, sr.Size()-btreeHeaderLen)
	if _, err := io.ReadFull(sr, rest); err != nil && err != io.ErrUnexpectedEOF {
		return nil, err
	}

	// directory leaf records: 4-byte FileOffset only.
	raw, err := readLeafPages(rest, bh, 4)
	if err != nil {
		return nil, err
	}

	members := make([]Member, 0, len(raw))
	for _, e := range raw {
		fileOffset := int64(binary.LittleEndian.Uint32(e.Data))
		reservedSpace, usedSpace, err := readFileHeader(r, fileOffset)
		if err != nil {
			return nil, err
		}
		_ = reservedSpace
		members = append(members, Member{
			Name:   e.Key,
			Offset: fileOffset + 9, // past the 9-byte FILEHEADER
			Length: int64(usedSpace),
		})
	}
	return members, nil
}

// readFileHeader reads the 9-byte FILEHEADER (ReservedSpace uint32,
// UsedSpace uint32, FileFlags byte) preceding every internal member's data.
func readFileHeader(r io.ReaderAt, offset int64) (reservedSpace, usedSpace uint32, err error) {
	var raw [9]byte
	if _, err := r.ReadAt(raw[:], offset); err != nil {
		return 0, 0, err
	}
	return binary.LittleEndian.Uint32(raw[0:4]), binary.LittleEndian.Uint32(raw[4:8]), nil
}

// ReadPhrases parses the `|Phrases` member (a blob of concatenated byte
// strings) using `|PhrIndex`'s table of offsets into it, producing the
// phrase slice zeck.ExpandPhrases expects. Absence of either member is not
// an error: callers should pass a nil phrases slice to ExpandPhrases's
// caller, which leaves topic text unexpanded, matching WinHelp's own
// behaviour when no phrase dictionary was built into a help file.
func ReadPhrases(phrasesData, phrIndexData []byte) ([][]byte, error) {
	if len(phrIndexData) < 8 {
		return nil, ErrFormat
	}
	// |PhrIndex header: 4-byte entry count, 4-byte reserved, then
	// (count+1) 4-byte LE offsets into |Phrases bracketing each entry.
	count := binary.LittleEndian.Uint32(phrIndexData[0:4])
	offsets := make([]uint32, count+1)
	base := 8
	for i := range offsets {
		o := base + i*4
		if o+4 > len(phrIndexData) {
			return nil, ErrFormat
		}
		offsets[i] = binary.LittleEndian.Uint32(phrIndexData[o : o+4])
	}
	phrases := make([][]byte, count)
	for i := uint32(0); i < count; i++ {
		start, end := offsets[i], offsets[i+1]
		if end > uint32(len(phrasesData)) || start > end {
			return nil, ErrFormat
		}
		phrases[i] = phrasesData[start:end]
	}
	return phrases, nil
}

// DecodeTopic decompresses one `|TOPIC` block (Zeck-LZ77) and, when
// phrases is non-nil, expands phrase references in the result.
func DecodeTopic(r io.ByteReader, phrases [][]byte) ([]byte, error) {
	var buf sink
	if err := zeck.Decompress(r, &buf); err != nil {
		return nil, err
	}
	if phrases == nil {
		return buf.data, nil
	}
	return zeck.ExpandPhrases(buf.data, phrases)
}

type sink struct{ data []byte }

func (s *sink) Write(p []byte) (int, error) {
	s.data = append(s.data, p...)
	return len(p), nil
}
