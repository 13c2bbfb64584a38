package msuncap

import (
	"bytes"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/msuncap/msuncap/internal/cab"
	"github.com/msuncap/msuncap/internal/cache"
	"github.com/msuncap/msuncap/internal/chm"
	"github.com/msuncap/msuncap/internal/hlp"
	"github.com/msuncap/msuncap/internal/kwaj"
	"github.com/msuncap/msuncap/internal/lit"
	"github.com/msuncap/msuncap/internal/oab"
	"github.com/msuncap/msuncap/internal/szdd"
)

// backend is satisfied by each format's loader: the per-format directory
// parse has already happened by the time Open returns one, so Entries is
// never itself fallible.
type backend interface {
	entries() []Entry
	extract(e Entry) ([]byte, error)
	info() Info
}

// ArchiveHandle is the external surface (§6): format-detected, directory
// already parsed, ready to enumerate and extract.
type ArchiveHandle struct {
	format Format
	impl   backend
	closer io.Closer
}

// Open opens the file at path, detects the container format from its
// leading bytes and parses its directory. The caller is responsible for eventually calling Close.
func Open(path string) (*ArchiveHandle, error) {
	return OpenWithCache(path, nil)
}

// OpenWithCache is Open, but folder/section decode results are memoized in
// c (shared across every ArchiveHandle the caller opens with it): repeated
// extraction of entries from the same folder, or re-opening the same
// archive across process runs against a persistent c, skips re-running the
// codec. Pass a nil c to decode every folder fresh, as Open does.
func OpenWithCache(path string, c *cache.Cache) (*ArchiveHandle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, NewError(KindIO, "msuncap.Open", err)
	}
	var header [8]byte
	n, _ := f.Read(header[:])
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, NewError(KindIO, "msuncap.Open", err)
	}

	format := detectFormat(header[:n])
	if format == FormatUnknown {
		f.Close()
		return nil, NewError(KindSignature, "msuncap.Open", nil)
	}

	var archiveID uint64
	if c != nil {
		var size int64
		if info, err := f.Stat(); err == nil {
			size = info.Size()
		}
		archiveID = cache.ArchiveID(size, header[:n])
	}

	impl, err := openBackend(format, f, c, archiveID)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &ArchiveHandle{format: format, impl: impl, closer: f}, nil
}

func (h *ArchiveHandle) Close() error {
	if h.closer == nil {
		return nil
	}
	return h.closer.Close()
}

func (h *ArchiveHandle) Format() Format { return h.format }

// Entries returns every member of the archive, in directory order except
// for CHM and LIT, whose entries are sorted by offset.
func (h *ArchiveHandle) Entries() []Entry { return h.impl.entries() }

// Entries matching pattern (a doublestar glob, "*" spanning one path
// component, "**" spanning any number).
func (h *ArchiveHandle) EntriesMatching(pattern string) ([]Entry, error) {
	all := h.impl.entries()
	out := make([]Entry, 0, len(all))
	for _, e := range all {
		ok, err := globMatch(pattern, e.Name)
		if err != nil {
			return nil, NewError(KindPolicy, "msuncap.EntriesMatching", err)
		}
		if ok {
			out = append(out, e)
		}
	}
	return out, nil
}

// Extract writes entry e's decoded bytes to w (§6: exactly e.Length bytes
// on success).
func (h *ArchiveHandle) Extract(e Entry, w io.Writer) error {
	data, err := h.impl.extract(e)
	if err != nil {
		return err
	}
	if int64(len(data)) != e.Length {
		return NewError(KindTruncatedInput, "msuncap.Extract", nil)
	}
	_, err = w.Write(data)
	if err != nil {
		return NewError(KindIO, "msuncap.Extract", err)
	}
	return nil
}

func (h *ArchiveHandle) Info() Info { return h.impl.info() }

func openBackend(format Format, f *os.File, c *cache.Cache, archiveID uint64) (backend, error) {
	switch format {
	case FormatCAB:
		return openCAB(f, c, archiveID)
	case FormatSZDD:
		return openSZDD(f)
	case FormatKWAJ:
		return openKWAJ(f)
	case FormatOAB:
		return openOAB(f)
	case FormatCHM:
		return openCHM(f, c, archiveID)
	case FormatLIT:
		return openLIT(f, c, archiveID)
	case FormatHLP:
		return openHLP(f)
	default:
		return nil, NewError(KindSignature, "msuncap.Open", nil)
	}
}

// --- CAB ---

type cabBackend struct {
	f         *os.File
	cabinet   *cab.Cabinet
	folders   map[int][]byte // decoded bytes, memoized per folder index for this handle's lifetime
	compSize  int64
	diskCache *cache.Cache
	archiveID uint64
}

func openCAB(f *os.File, c *cache.Cache, archiveID uint64) (backend, error) {
	cabinet, err := cab.Parse(f)
	if err != nil {
		return nil, NewError(KindFormat, "cab.Parse", err)
	}
	info, _ := f.Stat()
	var compSize int64
	if info != nil {
		compSize = info.Size()
	}
	return &cabBackend{f: f, cabinet: cabinet, folders: map[int][]byte{}, compSize: compSize, diskCache: c, archiveID: archiveID}, nil
}

func (b *cabBackend) folderData(idx int) ([]byte, error) {
	if d, ok := b.folders[idx]; ok {
		return d, nil
	}
	decode := func() ([]byte, error) {
		fld := b.cabinet.Folders[idx]
		if _, err := b.f.Seek(int64(fld.FirstDataOffset), io.SeekStart); err != nil {
			return nil, err
		}
		return cab.Decompress(b.f, fld)
	}

	var data []byte
	var err error
	if b.diskCache != nil {
		data, err = b.diskCache.GetOrDecode(cache.Key{ArchiveID: b.archiveID, FolderID: int64(idx)}, decode)
	} else {
		data, err = decode()
	}
	if err != nil {
		return nil, NewError(KindCorruptBitstream, "cab.Decompress", err)
	}
	b.folders[idx] = data
	return data, nil
}

func (b *cabBackend) entries() []Entry {
	out := make([]Entry, len(b.cabinet.Files))
	for i, cf := range b.cabinet.Files {
		out[i] = Entry{
			Name:    strings.ReplaceAll(cf.Name, `\`, "/"),
			Length:  int64(cf.UncompressedSize),
			Attribs: cf.Attribs,
			groupID: int64(cf.FolderIndex),
			offset:  int64(cf.FolderOffset),
		}
	}
	return out
}

func (b *cabBackend) extract(e Entry) ([]byte, error) {
	data, err := b.folderData(int(e.groupID))
	if err != nil {
		return nil, err
	}
	start, end := e.offset, e.offset+e.Length
	if start < 0 || end > int64(len(data)) {
		return nil, NewError(KindTruncatedInput, "cab.extract", nil)
	}
	return data[start:end], nil
}

func (b *cabBackend) info() Info {
	var total int64
	for _, cf := range b.cabinet.Files {
		total += int64(cf.UncompressedSize)
	}
	return Info{Format: FormatCAB, FileCount: len(b.cabinet.Files), TotalUncompressed: total, CompressedSize: b.compSize}
}

// --- SZDD ---

type singleFileBackend struct {
	name string
	data []byte
	size int64
}

func (b *singleFileBackend) entries() []Entry {
	return []Entry{{Name: b.name, Length: int64(len(b.data))}}
}

func (b *singleFileBackend) extract(Entry) ([]byte, error) { return b.data, nil }

func (b *singleFileBackend) info() Info {
	return Info{Format: FormatSZDD, FileCount: 1, TotalUncompressed: int64(len(b.data)), CompressedSize: b.size}
}

func openSZDD(f *os.File) (backend, error) {
	info, _ := f.Stat()
	var out bytes.Buffer
	h, err := szdd.Extract(f, &out)
	if err != nil {
		return nil, NewError(KindFormat, "szdd.Extract", err)
	}
	name := baseNameFromFile(f.Name())
	if len(name) > 0 && h.MissingChar != 0 && strings.HasSuffix(name, "_") {
		name = name[:len(name)-1] + string(h.MissingChar)
	}
	var size int64
	if info != nil {
		size = info.Size()
	}
	return &singleFileBackend{name: name, data: out.Bytes(), size: size}, nil
}

func baseNameFromFile(path string) string {
	path = strings.ReplaceAll(path, `\`, "/")
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}

// --- KWAJ ---

func openKWAJ(f *os.File) (backend, error) {
	info, _ := f.Stat()
	h, err := kwaj.ReadHeader(f)
	if err != nil {
		return nil, NewError(KindFormat, "kwaj.ReadHeader", err)
	}
	opt, err := kwaj.ReadOptionalHeaders(f, h)
	if err != nil {
		return nil, NewError(KindFormat, "kwaj.ReadOptionalHeaders", err)
	}
	if _, err := f.Seek(int64(h.DataOffset), io.SeekStart); err != nil {
		return nil, NewError(KindIO, "kwaj.Open", err)
	}
	var out bytes.Buffer
	byteR := &fileByteReader{r: f}
	if err := kwaj.Extract(byteR, &out, h); err != nil {
		if h.CompressionType == kwaj.CompressLZH {
			return nil, NewError(KindUnsupportedFeature, "kwaj.Extract", ErrKWAJLZH)
		}
		return nil, NewError(KindUnsupportedFeature, "kwaj.Extract", err)
	}
	name := opt.NameNoExt
	if opt.Ext != "" {
		name += "." + opt.Ext
	}
	if name == "" {
		name = baseNameFromFile(f.Name())
	}
	var size int64
	if info != nil {
		size = info.Size()
	}
	return &singleFileBackend{name: name, data: out.Bytes(), size: size}, nil
}

type fileByteReader struct{ r io.Reader }

func (b *fileByteReader) ReadByte() (byte, error) {
	var buf [1]byte
	if _, err := io.ReadFull(b.r, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

// --- OAB ---

type oabBackend struct {
	data []byte
	size int64
}

func (b *oabBackend) entries() []Entry {
	return []Entry{{Name: "oab.dat", Length: int64(len(b.data))}}
}
func (b *oabBackend) extract(Entry) ([]byte, error) { return b.data, nil }
func (b *oabBackend) info() Info {
	return Info{Format: FormatOAB, FileCount: 1, TotalUncompressed: int64(len(b.data)), CompressedSize: b.size}
}

func openOAB(f *os.File) (backend, error) {
	info, _ := f.Stat()
	if _, err := oab.ReadHeader(f); err != nil {
		return nil, NewError(KindFormat, "oab.ReadHeader", err)
	}
	blocks, err := oab.ReadAllBlocks(f)
	if err != nil {
		return nil, NewError(KindChecksumMismatch, "oab.ReadAllBlocks", err)
	}
	var out bytes.Buffer
	for _, blk := range blocks {
		out.Write(blk.Data)
	}
	var size int64
	if info != nil {
		size = info.Size()
	}
	return &oabBackend{data: out.Bytes(), size: size}, nil
}

// --- CHM / LIT (share an ITSP directory shape, see internal/chm) ---

type chmLikeBackend struct {
	format       Format
	entryList    []Entry
	f            *os.File
	dataOff      int64
	section1Base int64 // absolute file offset of section 1's first compressed byte
	params       chm.Section1Params
	protected    func(name string) bool
	compSize     int64
	diskCache    *cache.Cache
	archiveID    uint64
}

func (b *chmLikeBackend) entries() []Entry { return b.entryList }

func (b *chmLikeBackend) extract(e Entry) ([]byte, error) {
	if b.protected != nil && b.protected(e.Name) {
		return nil, NewError(KindUnsupportedFeature, "chm.extract", ErrEncryptedLIT)
	}
	if e.groupID == 0 {
		data := make([]byte, e.Length)
		if _, err := b.f.ReadAt(data, b.dataOff+e.offset); err != nil {
			return nil, NewError(KindIO, "chm.extract", err)
		}
		return data, nil
	}

	decode := func() ([]byte, error) {
		return chm.ExtractSection1(b.f, b.section1Base, b.params, chm.DirEntry{Name: e.Name, Section: 1, Offset: e.offset, Length: e.Length})
	}
	var out []byte
	var err error
	if b.diskCache != nil {
		out, err = b.diskCache.GetOrDecode(cache.Key{ArchiveID: b.archiveID, FolderID: e.groupID, Offset: e.offset}, decode)
	} else {
		out, err = decode()
	}
	if err != nil {
		return nil, NewError(KindCorruptBitstream, "chm.ExtractSection1", err)
	}
	return out, nil
}

func (b *chmLikeBackend) info() Info {
	var total int64
	for _, e := range b.entryList {
		total += e.Length
	}
	return Info{Format: b.format, FileCount: len(b.entryList), TotalUncompressed: total, CompressedSize: b.compSize}
}

func openCHM(f *os.File, c *cache.Cache, archiveID uint64) (backend, error) {
	h, err := chm.ReadHeader(f)
	if err != nil {
		return nil, NewError(KindSignature, "chm.ReadHeader", err)
	}
	return buildCHMLikeBackend(FormatCHM, f, h, nil, c, archiveID)
}

func openLIT(f *os.File, c *cache.Cache, archiveID uint64) (backend, error) {
	h, err := lit.ReadHeader(f)
	if err != nil {
		return nil, NewError(KindSignature, "lit.ReadHeader", err)
	}
	return buildCHMLikeBackend(FormatLIT, f, chm.Header{DirOffset: h.DirOffset, DirLength: h.DirLength, DataOffset: h.DataOffset}, lit.IsProtected, c, archiveID)
}

func buildCHMLikeBackend(format Format, f *os.File, h chm.Header, protected func(string) bool, c *cache.Cache, archiveID uint64) (backend, error) {
	dirEntries, err := chm.ReadDirectory(f, h)
	if err != nil {
		return nil, NewError(KindFormat, "chm.ReadDirectory", err)
	}

	var contentEntry *chm.DirEntry
	for i := range dirEntries {
		if strings.HasSuffix(dirEntries[i].Name, "/Content") {
			contentEntry = &dirEntries[i]
			break
		}
	}

	b := &chmLikeBackend{format: format, f: f, dataOff: h.DataOffset, protected: protected, diskCache: c, archiveID: archiveID}
	if info, err := f.Stat(); err == nil {
		b.compSize = info.Size()
	}

	if contentEntry != nil {
		b.section1Base = h.DataOffset + contentEntry.Offset
		cdEntry, ok1 := findEntryExported(dirEntries, "ControlData")
		rtEntry, ok2 := findEntryExported(dirEntries, "ResetTable")
		if ok1 && ok2 {
			cdRaw := make([]byte, cdEntry.Length)
			f.ReadAt(cdRaw, h.DataOffset+cdEntry.Offset)
			rtRaw := make([]byte, rtEntry.Length)
			f.ReadAt(rtRaw, h.DataOffset+rtEntry.Offset)
			cd, err1 := chm.ReadControlData(cdRaw)
			rt, err2 := chm.ReadResetTable(rtRaw)
			if err1 == nil && err2 == nil {
				b.params = chm.Section1Params{Control: cd, Reset: rt}
			}
		}
	}

	for _, e := range dirEntries {
		if strings.HasPrefix(e.Name, "::") || strings.HasPrefix(e.Name, "/::") {
			continue // internal system streams, not user-visible entries
		}
		b.entryList = append(b.entryList, Entry{
			Name:    strings.TrimPrefix(e.Name, "/"),
			Length:  e.Length,
			groupID: int64(e.Section),
			offset:  e.Offset,
		})
	}
	sort.Slice(b.entryList, func(i, j int) bool { return b.entryList[i].offset < b.entryList[j].offset })
	return b, nil
}

// findEntryExported mirrors internal/chm's own unexported findEntry
// (suffix match), duplicated here because the root package only sees
// chm's exported DirEntry slice, not its internal helper.
func findEntryExported(entries []chm.DirEntry, suffix string) (chm.DirEntry, bool) {
	for _, e := range entries {
		if strings.HasSuffix(e.Name, suffix) {
			return e, true
		}
	}
	return chm.DirEntry{}, false
}

// --- HLP ---

type hlpBackend struct {
	f       *os.File
	members []hlp.Member
	phrases [][]byte
	size    int64
}

func (b *hlpBackend) entries() []Entry {
	out := make([]Entry, len(b.members))
	for i, m := range b.members {
		out[i] = Entry{Name: strings.TrimPrefix(m.Name, "|"), Length: m.Length, offset: m.Offset}
	}
	return out
}

func (b *hlpBackend) extract(e Entry) ([]byte, error) {
	data := make([]byte, e.Length)
	if _, err := b.f.ReadAt(data, e.offset); err != nil {
		return nil, NewError(KindIO, "hlp.extract", err)
	}
	if e.Name == "TOPIC" {
		out, err := hlp.DecodeTopic(bytes.NewReader(data), b.phrases)
		if err != nil {
			return nil, NewError(KindCorruptBitstream, "hlp.DecodeTopic", err)
		}
		return out, nil
	}
	return data, nil
}

func (b *hlpBackend) info() Info {
	var total int64
	for _, m := range b.members {
		total += m.Length
	}
	return Info{Format: FormatHLP, FileCount: len(b.members), TotalUncompressed: total, CompressedSize: b.size}
}

func openHLP(f *os.File) (backend, error) {
	h, err := hlp.ReadHeader(f)
	if err != nil {
		return nil, NewError(KindSignature, "hlp.ReadHeader", err)
	}
	members, err := hlp.ReadDirectory(f, h)
	if err != nil {
		return nil, NewError(KindFormat, "hlp.ReadDirectory", err)
	}

	var phrases, phrIndex []byte
	for _, m := range members {
		switch m.Name {
		case "|Phrases":
			phrases = make([]byte, m.Length)
			f.ReadAt(phrases, m.Offset)
		case "|PhrIndex":
			phrIndex = make([]byte, m.Length)
			f.ReadAt(phrIndex, m.Offset)
		}
	}
	var phraseTable [][]byte
	if phrases != nil && phrIndex != nil {
		// Absence is not an error (§9); a parse failure on a present pair
		// is treated the same way: topic text simply stays unexpanded.
		if pt, err := hlp.ReadPhrases(phrases, phrIndex); err == nil {
			phraseTable = pt
		}
	}

	var size int64
	if info, err := f.Stat(); err == nil {
		size = info.Size()
	}
	return &hlpBackend{f: f, members: members, phrases: phraseTable, size: size}, nil
}
